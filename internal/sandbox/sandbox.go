// Package sandbox compiles and runs model-generated action code against
// a live page. The code is untrusted: it executes in a fresh JavaScript
// VM with nothing in scope beyond the page binding and the variable bag,
// under a wall-clock timeout, and every failure mode degrades to a
// reported outcome instead of an escaped error.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// DefaultTimeout caps one execution when the caller's context carries
// no deadline of its own.
const DefaultTimeout = 30 * time.Second

// entryName is the callable every code body must define.
const entryName = "run"

// Page is the driver surface exposed to generated code. browser.Page
// satisfies it; tests substitute fakes.
type Page interface {
	Goto(url string) error
	Click(selector string) error
	Fill(selector, text string) error
	Text(selector string) (string, error)
	WaitFor(selector string, timeoutMs int) error
	Press(selector, key string) error
	Hover(selector string) error
	SelectOption(selector, value string) error
	URL() string
	Title() (string, error)
	Sleep(ms int)
}

// Outcome is the structured result of one execution attempt.
type Outcome struct {
	Success bool
	Message string
	Done    bool
}

type Sandbox struct {
	timeout time.Duration
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Sandbox {
	return &Sandbox{timeout: DefaultTimeout, logger: logger}
}

// Execute runs codeBody in an isolated VM and invokes its entry
// callable as run(page, variables). It never returns an error: compile
// failures, thrown exceptions, interrupts, bad return shapes and Go
// panics all come back as a failed, non-terminal Outcome.
func (s *Sandbox) Execute(ctx context.Context, page Page, codeBody string, variables map[string]string) (out Outcome) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out = failure(fmt.Sprintf("panic during action execution: %v", r))
		}
	}()

	// Fresh VM per execution keeps attempts hermetic: no state leaks
	// between retries and no ambient host access.
	vm := goja.New()

	watchdog := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-watchdog:
		}
	}()
	defer func() {
		close(watchdog)
		vm.ClearInterrupt()
	}()

	if err := s.bind(vm, page, variables); err != nil {
		return failure(fmt.Sprintf("bind sandbox globals: %v", err))
	}

	prog, err := goja.Compile("action.js", codeBody, false)
	if err != nil {
		return failure(fmt.Sprintf("compile action code: %v", err))
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return failure(execDiagnostic(ctx, err))
	}

	fn, ok := goja.AssertFunction(vm.Get(entryName))
	if !ok {
		return failure(fmt.Sprintf("action code does not define a %q function", entryName))
	}

	result, err := fn(goja.Undefined(), vm.Get("page"), vm.Get("variables"))
	if err != nil {
		return failure(execDiagnostic(ctx, err))
	}
	return toOutcome(result)
}

// bind installs the only globals visible to the action code.
func (s *Sandbox) bind(vm *goja.Runtime, page Page, variables map[string]string) error {
	pageObj := vm.NewObject()
	type binding struct {
		name string
		fn   any
	}
	for _, b := range []binding{
		{"goto", page.Goto},
		{"click", page.Click},
		{"fill", page.Fill},
		{"text", page.Text},
		{"waitFor", page.WaitFor},
		{"press", page.Press},
		{"hover", page.Hover},
		{"selectOption", page.SelectOption},
		{"url", page.URL},
		{"title", page.Title},
		{"sleep", page.Sleep},
	} {
		if err := pageObj.Set(b.name, b.fn); err != nil {
			return err
		}
	}
	if err := vm.Set("page", pageObj); err != nil {
		return err
	}

	// Copy the bag so generated code cannot mutate the caller's map.
	bag := make(map[string]string, len(variables))
	for k, v := range variables {
		bag[k] = v
	}
	if err := vm.Set("variables", bag); err != nil {
		return err
	}

	consoleObj := vm.NewObject()
	logFn := func(args ...any) {
		s.logger.Debug().Interface("args", args).Msg("action console")
	}
	if err := consoleObj.Set("log", logFn); err != nil {
		return err
	}
	if err := consoleObj.Set("error", logFn); err != nil {
		return err
	}
	return vm.Set("console", consoleObj)
}

// execDiagnostic renders a run-time failure, preferring the JS stack
// when one exists and the context error on interrupts.
func execDiagnostic(ctx context.Context, err error) string {
	if _, ok := err.(*goja.InterruptedError); ok {
		return fmt.Sprintf("action interrupted: %v", ctx.Err())
	}
	if ex, ok := err.(*goja.Exception); ok {
		return fmt.Sprintf("action exception: %s", ex.String())
	}
	return fmt.Sprintf("action error: %v", err)
}

// toOutcome accepts either {success, message, done} or the positional
// [success, message, done] form.
func toOutcome(v goja.Value) Outcome {
	switch exported := v.Export().(type) {
	case map[string]interface{}:
		return Outcome{
			Success: asBool(exported["success"]),
			Message: asString(exported["message"]),
			Done:    asBool(exported["done"]),
		}
	case []interface{}:
		if len(exported) != 3 {
			return failure(fmt.Sprintf("action returned %d values, want [success, message, done]", len(exported)))
		}
		return Outcome{
			Success: asBool(exported[0]),
			Message: asString(exported[1]),
			Done:    asBool(exported[2]),
		}
	default:
		return failure(fmt.Sprintf("action returned %T, want {success, message, done}", exported))
	}
}

func failure(message string) Outcome {
	return Outcome{Success: false, Message: message, Done: false}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
