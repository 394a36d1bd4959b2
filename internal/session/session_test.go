package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya-todi/crustdata-browser-operator/internal/browser"
	"github.com/aditya-todi/crustdata-browser-operator/internal/observe"
	"github.com/aditya-todi/crustdata-browser-operator/internal/sandbox"
	"github.com/aditya-todi/crustdata-browser-operator/internal/session"
	"github.com/aditya-todi/crustdata-browser-operator/internal/synth"
)

// stubPage satisfies browser.Page; the fakes below never touch it.
type stubPage struct{}

func (stubPage) Goto(string) error                 { return nil }
func (stubPage) Click(string) error                { return nil }
func (stubPage) Fill(string, string) error         { return nil }
func (stubPage) Text(string) (string, error)       { return "", nil }
func (stubPage) WaitFor(string, int) error         { return nil }
func (stubPage) Press(string, string) error        { return nil }
func (stubPage) Hover(string) error                { return nil }
func (stubPage) SelectOption(string, string) error { return nil }
func (stubPage) URL() string                       { return "about:blank" }
func (stubPage) Title() (string, error)            { return "", nil }
func (stubPage) Sleep(int)                         {}
func (stubPage) Raw() playwright.Page              { return nil }

// fakeSynth records every input and answers with generated proposals.
type fakeSynth struct {
	inputs []synth.Input
	errs   map[int]error // call ordinal (1-based) -> error
}

func (f *fakeSynth) Next(_ context.Context, in synth.Input) (synth.Proposal, error) {
	f.inputs = append(f.inputs, in)
	call := len(f.inputs)
	if err, ok := f.errs[call]; ok {
		return synth.Proposal{}, err
	}
	return synth.Proposal{
		Prompt:   fmt.Sprintf("prompt-%d", call),
		Step:     fmt.Sprintf("step %d", call),
		CodeBody: fmt.Sprintf("function run(page, variables) { /* %d */ }", call),
	}, nil
}

// fakeExec pops scripted outcomes in order; when exhausted it succeeds.
type fakeExec struct {
	outcomes []sandbox.Outcome
	calls    int
}

func (f *fakeExec) Execute(_ context.Context, _ sandbox.Page, _ string, _ map[string]string) sandbox.Outcome {
	f.calls++
	if len(f.outcomes) > 0 {
		out := f.outcomes[0]
		f.outcomes = f.outcomes[1:]
		return out
	}
	return sandbox.Outcome{Success: true, Message: "ok"}
}

// fakeObserver returns a fixed snapshot and counts observations.
type fakeObserver struct {
	elements []observe.Element
	calls    int
}

func (f *fakeObserver) Observe(_ context.Context, _ browser.Page) ([]observe.Element, error) {
	f.calls++
	return f.elements, nil
}

func ok(msg string) sandbox.Outcome   { return sandbox.Outcome{Success: true, Message: msg} }
func fail(msg string) sandbox.Outcome { return sandbox.Outcome{Success: false, Message: msg} }
func terminal(msg string) sandbox.Outcome {
	return sandbox.Outcome{Success: true, Message: msg, Done: true}
}

func testConfig() session.Config {
	return session.Config{
		MaxIterations: 20,
		MaxRetries:    2,
		PacingAfter:   1000,
		PacingDelay:   time.Millisecond,
	}
}

func newRunner(cfg session.Config, s *fakeSynth, e *fakeExec, o *fakeObserver) *session.Runner {
	return session.NewRunner(cfg, s, e, o, zerolog.Nop())
}

func TestRun_EmptyCommandRejectedBeforePlanning(t *testing.T) {
	s := &fakeSynth{}
	r := newRunner(testConfig(), s, &fakeExec{}, &fakeObserver{})

	record, err := r.Run(context.Background(), stubPage{}, "", nil)

	require.ErrorIs(t, err, session.ErrEmptyCommand)
	assert.Empty(t, record.Steps)
	assert.Empty(t, s.inputs, "no planning call may happen for an empty command")
}

func TestRun_TerminalFlagStopsLoop(t *testing.T) {
	s := &fakeSynth{}
	e := &fakeExec{outcomes: []sandbox.Outcome{ok("navigated"), terminal("logged in")}}
	r := newRunner(testConfig(), s, e, &fakeObserver{})

	record, err := r.Run(context.Background(), stubPage{}, "log in", nil)

	require.NoError(t, err)
	require.Len(t, record.Steps, 2)
	assert.Equal(t, "step 1", record.Steps[0].Description)
	assert.Equal(t, "step 2", record.Steps[1].Description)
	assert.NotEqual(t, record.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, "log in", record.UserCommand)
}

func TestRun_EmptyElementsOnlyOnFirstPlanningCall(t *testing.T) {
	s := &fakeSynth{}
	obs := &fakeObserver{elements: []observe.Element{{TagName: "button", Text: "Next"}}}
	e := &fakeExec{outcomes: []sandbox.Outcome{ok(""), ok(""), terminal("")}}
	r := newRunner(testConfig(), s, e, obs)

	_, err := r.Run(context.Background(), stubPage{}, "do things", nil)

	require.NoError(t, err)
	require.Len(t, s.inputs, 3)
	assert.Empty(t, s.inputs[0].Elements, "first plan sees the pre-navigation page")
	for _, in := range s.inputs[1:] {
		assert.NotEmpty(t, in.Elements, "later plans see the post-action snapshot")
	}
}

func TestRun_CommittedStepCarriesPostActionSnapshot(t *testing.T) {
	obs := &fakeObserver{elements: []observe.Element{{TagName: "a", Text: "Dashboard"}}}
	e := &fakeExec{outcomes: []sandbox.Outcome{terminal("done")}}
	r := newRunner(testConfig(), &fakeSynth{}, e, obs)

	record, err := r.Run(context.Background(), stubPage{}, "go", nil)

	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	require.Len(t, record.Steps[0].Elements, 1)
	assert.Equal(t, "Dashboard", record.Steps[0].Elements[0].Text)
}

// Scenario: two sandbox failures then a success within one iteration.
func TestRun_RetryWithinIterationCommitsOnce(t *testing.T) {
	s := &fakeSynth{}
	e := &fakeExec{outcomes: []sandbox.Outcome{
		fail("element not found: #a"),
		fail("timeout waiting for #b"),
		terminal("clicked"),
	}}
	r := newRunner(testConfig(), s, e, &fakeObserver{})

	record, err := r.Run(context.Background(), stubPage{}, "click the thing", nil)

	require.NoError(t, err)
	require.Len(t, record.Steps, 1, "only the successful attempt is committed")
	require.Len(t, s.inputs, 3, "one initial plan plus two retries")

	assert.Empty(t, s.inputs[0].PriorError)
	assert.Empty(t, s.inputs[0].PriorCode)
	assert.Equal(t, "element not found: #a", s.inputs[1].PriorError)
	assert.Equal(t, "function run(page, variables) { /* 1 */ }", s.inputs[1].PriorCode)
	assert.Equal(t, "timeout waiting for #b", s.inputs[2].PriorError)
	assert.Equal(t, "function run(page, variables) { /* 2 */ }", s.inputs[2].PriorCode)

	// The committed step is attempt three, not the failed ones.
	assert.Equal(t, "step 3", record.Steps[0].Description)
}

func TestRun_RetryBudgetExhaustedKeepsCommittedPrefix(t *testing.T) {
	s := &fakeSynth{}
	e := &fakeExec{outcomes: []sandbox.Outcome{
		ok("step one fine"),
		fail("boom 1"), fail("boom 2"), fail("boom 3"),
	}}
	r := newRunner(testConfig(), s, e, &fakeObserver{})

	record, err := r.Run(context.Background(), stubPage{}, "two step task", nil)

	require.NoError(t, err, "retry exhaustion is a documented terminal state, not an error")
	require.Len(t, record.Steps, 1)
	assert.Equal(t, "step 1", record.Steps[0].Description)
	// 1 plan for the committed step + 3 attempts for the failed one.
	assert.Len(t, s.inputs, 4)
}

func TestRun_HistoryContainsOnlyCommittedDescriptions(t *testing.T) {
	s := &fakeSynth{}
	e := &fakeExec{outcomes: []sandbox.Outcome{
		ok(""),
		fail("first try failed"), ok(""),
		terminal(""),
	}}
	r := newRunner(testConfig(), s, e, &fakeObserver{})

	record, err := r.Run(context.Background(), stubPage{}, "task", nil)

	require.NoError(t, err)
	require.Len(t, record.Steps, 3)
	// The last planning call saw exactly the committed descriptions,
	// with the failed attempt of iteration two absent.
	last := s.inputs[len(s.inputs)-1]
	assert.Equal(t, []string{"step 1", "step 3"}, last.Steps)
}

// Scenario: nothing ever reports done; the loop stops at the budget.
func TestRun_IterationBudgetExhausted(t *testing.T) {
	s := &fakeSynth{}
	e := &fakeExec{} // always succeeds, never terminal
	r := newRunner(testConfig(), s, e, &fakeObserver{})

	record, err := r.Run(context.Background(), stubPage{}, "never ending", nil)

	require.NoError(t, err)
	assert.Len(t, record.Steps, 20)
	assert.Equal(t, 20, e.calls)
}

func TestRun_SynthesisErrorBurnsARetryAttempt(t *testing.T) {
	s := &fakeSynth{errs: map[int]error{1: &synth.Error{Reason: "model call"}}}
	e := &fakeExec{outcomes: []sandbox.Outcome{terminal("recovered")}}
	r := newRunner(testConfig(), s, e, &fakeObserver{})

	record, err := r.Run(context.Background(), stubPage{}, "task", nil)

	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	require.Len(t, s.inputs, 2)
	assert.Contains(t, s.inputs[1].PriorError, "model call")
	assert.Empty(t, s.inputs[1].PriorCode, "a failed synthesis has no code to carry forward")
	assert.Equal(t, 1, e.calls, "nothing executes when synthesis fails")
}

func TestRun_VariableNamesForwardedValuesAreNot(t *testing.T) {
	s := &fakeSynth{}
	e := &fakeExec{outcomes: []sandbox.Outcome{terminal("")}}
	r := newRunner(testConfig(), s, e, &fakeObserver{})

	vars := map[string]string{"USERNAME": "alice@example.com", "PASSWORD": "hunter2"}
	_, err := r.Run(context.Background(), stubPage{}, "log in with provided credentials", vars)

	require.NoError(t, err)
	require.Len(t, s.inputs, 1)
	assert.ElementsMatch(t, []string{"USERNAME", "PASSWORD"}, s.inputs[0].VariableNames)
}

func TestRun_CancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRunner(testConfig(), &fakeSynth{}, &fakeExec{}, &fakeObserver{})

	_, err := r.Run(ctx, stubPage{}, "task", nil)

	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_PacingDelayIsApplied(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 3
	cfg.PacingAfter = 1
	cfg.PacingDelay = 30 * time.Millisecond
	r := newRunner(cfg, &fakeSynth{}, &fakeExec{}, &fakeObserver{})

	start := time.Now()
	record, err := r.Run(context.Background(), stubPage{}, "slow task", nil)

	require.NoError(t, err)
	assert.Len(t, record.Steps, 3)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
