// Package synth turns the current session context into the next
// candidate step: a one-sentence description plus an executable action
// code body, obtained from a single model completion.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aditya-todi/crustdata-browser-operator/internal/llm"
	"github.com/aditya-todi/crustdata-browser-operator/internal/observe"
)

// Error wraps any failure to obtain a usable step from the model:
// provider errors and output that does not fit the two-field schema.
// The session loop treats it like a failed attempt, never a crash.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesize step: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("synthesize step: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Input is everything one synthesis call may see. Steps holds the
// descriptions of committed steps only; PriorCode/PriorError are set
// only on retry attempts.
type Input struct {
	Command       string
	Steps         []string
	VariableNames []string
	Elements      []observe.Element
	PriorCode     string
	PriorError    string
}

// Proposal is a candidate step before execution. Prompt is retained so
// the committed step can carry the exact planning payload it came from.
type Proposal struct {
	Prompt   string
	Step     string
	CodeBody string
}

type Synthesizer struct {
	llm    llm.Client
	logger zerolog.Logger
}

func New(client llm.Client, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{llm: client, logger: logger}
}

// Next produces the next candidate step for the given context.
func (s *Synthesizer) Next(ctx context.Context, in Input) (Proposal, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return Proposal{}, &Error{Reason: "build prompt", Err: err}
	}

	s.logger.Debug().
		Int("history", len(in.Steps)).
		Int("elements", len(in.Elements)).
		Bool("retry", in.PriorError != "").
		Msg("generating next step")

	resp, err := s.llm.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        prompt,
		Temperature: 0,
	})
	if err != nil {
		return Proposal{}, &Error{Reason: "model call", Err: err}
	}

	jsonStr, err := extractJSON(resp.Text)
	if err != nil {
		return Proposal{}, &Error{Reason: fmt.Sprintf("no JSON in output: raw=%q", clip(resp.Text, 200)), Err: err}
	}
	var parsed struct {
		Step     string `json:"step"`
		CodeBody string `json:"code_body"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return Proposal{}, &Error{Reason: "parse output", Err: err}
	}

	step := strings.TrimSpace(parsed.Step)
	code := stripFences(parsed.CodeBody)
	if step == "" {
		return Proposal{}, &Error{Reason: "empty step description"}
	}
	if code == "" {
		return Proposal{}, &Error{Reason: "empty code body"}
	}

	s.logger.Info().Str("step", step).Msg("step generated")
	return Proposal{Prompt: prompt, Step: step, CodeBody: code}, nil
}

// extractJSON locates the first balanced top-level JSON object in text,
// skipping braces inside string literals.
func extractJSON(text string) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("json not found")
}

// stripFences removes a surrounding markdown code fence the model may
// have added around the code body.
func stripFences(code string) string {
	for _, marker := range []string{"```javascript", "```js"} {
		if idx := strings.Index(code, marker); idx != -1 {
			rest := code[idx+len(marker):]
			if end := strings.Index(rest, "```"); end != -1 {
				return strings.TrimSpace(rest[:end])
			}
		}
	}
	if idx := strings.Index(code, "```"); idx != -1 {
		rest := code[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return strings.TrimSpace(code)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
