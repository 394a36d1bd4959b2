package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aditya-todi/crustdata-browser-operator/internal/observe"
)

const systemPrompt = `You are an expert automation assistant specialized in breaking down user tasks into precise steps and generating corresponding browser action code. Your role is to analyze the current workflow context and determine the single most appropriate next step, then provide both a clear step description and the exact action code to execute it.`

const humanPromptTemplate = `# Task: Generate Resilient Browser Action Step

Generate a single, robust browser action step in JavaScript that:
- Adapts to the current workflow context
- Learns from previous execution errors
- Returns a description and completion status

## Input Context Structure
<context>
    <user_command>%s</user_command>
    <previous_steps>%s</previous_steps>
    <elements>%s</elements>
    <variables>%s</variables>
    <previous_attempt>%s</previous_attempt>
    <traceback>%s</traceback>
</context>

## Execution Environment
Your code body is compiled in an isolated JavaScript VM with exactly two
bound objects available: "page" and "variables". Nothing else exists in
the namespace. The VM looks up a function named "run" and invokes it as
run(page, variables); any thrown error or missing function is reported
back to you as a failed attempt.

## Function Signature and Return Value
- Define exactly: function run(page, variables) { ... }
- Return an object: { success: <boolean>, message: <string>, done: <boolean> }
  - success: true if this step succeeded, false otherwise
  - message: description of the result or error details
  - done: true only if this step completes the user's command

## Page API (all methods throw on failure)
- page.goto(url)                     navigate to a URL
- page.click(selector)               click the first visible match
- page.fill(selector, text)          clear and type into an input
- page.press(selector, key)          send a key (e.g. "Enter")
- page.hover(selector)               hover the first visible match
- page.selectOption(selector, value) choose a <select> option
- page.text(selector)                returns inner text ("" selector = whole body)
- page.waitFor(selector, timeoutMs)  wait until the selector is visible
- page.url()                         current URL
- page.title()                       current page title
- page.sleep(ms)                     pause (use sparingly, max 3000)

## Code Structure and Style Guidelines
- Access secret values with variables['VARIABLE_NAME']; never invent names
  that are not listed in <variables>
- Wrap risky actions in try/catch and return a failure object with the
  caught message instead of letting the error propagate blindly
- Keep timeouts short (max 3000ms) to fail fast and move to alternatives
- Prioritize selectors: id > class names > role > type > text content
- For elements with multiple classes, join with dots: '.class1.class2'
- Use console.log for debugging observations

## Learning from Previous Failures
When <previous_attempt> and <traceback> are provided:
1. Analyze the root cause of the error
2. Develop a new approach that differs from the failed attempt
3. Add specific error handling targeting the previous failure point
4. Increase timeouts or add waits if timing-related
5. Try completely different selectors if element selection failed

## Step Generation Logic
- Generate ONE step that represents the next logical action
- Combine related actions on the same page when appropriate
- Review previous steps to maintain workflow progression
- Analyze available elements to identify interaction targets
- If elements are empty, this is likely the first navigation step
- Check if the step completes the user's command (done)

## Output Format
Respond with a SINGLE JSON object and NOTHING else:
{"step": "<one sentence describing the action>", "code_body": "<the JavaScript code>"}`

// buildPrompt renders the human message for one synthesis call. Only
// variable names ever reach the payload; values stay on the Go side.
func buildPrompt(in Input) (string, error) {
	var steps strings.Builder
	for i, s := range in.Steps {
		fmt.Fprintf(&steps, "%d. %s\n", i+1, s)
	}

	elements := in.Elements
	if elements == nil {
		elements = []observe.Element{}
	}
	elems, err := json.Marshal(elements)
	if err != nil {
		return "", fmt.Errorf("marshal elements: %w", err)
	}
	elemBlock := fmt.Sprintf("\n```json\n%s\n```", string(elems))

	return fmt.Sprintf(humanPromptTemplate,
		in.Command,
		steps.String(),
		elemBlock,
		strings.Join(in.VariableNames, ", "),
		in.PriorCode,
		in.PriorError,
	), nil
}
