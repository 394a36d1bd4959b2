// Package session drives one plan-act-observe-retry loop to its
// terminal outcome. The loop plans a candidate step, executes it in the
// sandbox, retries with failure context inside a bounded sub-loop, and
// commits only successful steps to the session record.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aditya-todi/crustdata-browser-operator/internal/browser"
	"github.com/aditya-todi/crustdata-browser-operator/internal/observe"
	"github.com/aditya-todi/crustdata-browser-operator/internal/sandbox"
	"github.com/aditya-todi/crustdata-browser-operator/internal/synth"
)

// ErrEmptyCommand rejects a session before any planning happens.
var ErrEmptyCommand = errors.New("provide a valid command to execute")

// Step is one committed, successfully executed action. Elements holds
// the snapshot observed after the step ran, not at plan time.
type Step struct {
	Prompt      string            `json:"prompt"`
	Description string            `json:"step"`
	CodeBody    string            `json:"codeBody"`
	Elements    []observe.Element `json:"-"`
}

// Record is the final artifact of a session. Steps are append-only and
// ordered; failed attempts never appear.
type Record struct {
	ID          uuid.UUID `json:"id"`
	UserCommand string    `json:"userCommand"`
	Steps       []Step    `json:"steps"`
}

// Config bounds one session. Zero values take the documented defaults.
type Config struct {
	// MaxIterations caps top-level steps per session.
	MaxIterations int
	// MaxRetries is the number of additional attempts after a failed
	// one within a single iteration.
	MaxRetries int
	// PacingAfter inserts PacingDelay before each iteration past this
	// ordinal, throttling long sessions against the page and provider.
	PacingAfter int
	PacingDelay time.Duration
}

const (
	defaultMaxIterations = 20
	defaultMaxRetries    = 2
	defaultPacingAfter   = 10
	defaultPacingDelay   = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.PacingAfter <= 0 {
		c.PacingAfter = defaultPacingAfter
	}
	if c.PacingDelay <= 0 {
		c.PacingDelay = defaultPacingDelay
	}
	return c
}

// Synthesizer plans the next candidate step from session context.
type Synthesizer interface {
	Next(ctx context.Context, in synth.Input) (synth.Proposal, error)
}

// Executor runs a candidate's code body against the live page.
type Executor interface {
	Execute(ctx context.Context, page sandbox.Page, codeBody string, variables map[string]string) sandbox.Outcome
}

// Decorator optionally marks up the page after a committed step.
type Decorator func(ctx context.Context, page browser.Page, elements []observe.Element) error

type Runner struct {
	cfg      Config
	synth    Synthesizer
	exec     Executor
	observer observe.Observer
	decorate Decorator
	logger   zerolog.Logger
}

func NewRunner(cfg Config, s Synthesizer, e Executor, o observe.Observer, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:      cfg.withDefaults(),
		synth:    s,
		exec:     e,
		observer: o,
		logger:   logger,
	}
}

// WithDecorator installs a post-commit page decorator (element overlay).
func (r *Runner) WithDecorator(d Decorator) *Runner {
	r.decorate = d
	return r
}

// Run executes one session to a terminal outcome. Budget exhaustion on
// either axis is not an error: the record holds whatever was committed.
// Only context cancellation and the empty-command precondition propagate.
func (r *Runner) Run(ctx context.Context, page browser.Page, command string, variables map[string]string) (Record, error) {
	record := Record{ID: uuid.New(), UserCommand: command, Steps: []Step{}}
	if command == "" {
		return record, ErrEmptyCommand
	}

	names := variableNames(variables)
	// Empty on the first iteration: the synthesizer reads that as "the
	// first action is likely navigation".
	var elements []observe.Element

	for i := 1; i <= r.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return record, err
		}
		r.logger.Info().Int("iteration", i).Int("committed", len(record.Steps)).Msg("executing step")

		step, outcome, ok, err := r.attemptStep(ctx, page, command, names, variables, elements, record.Steps)
		if err != nil {
			return record, err
		}
		if !ok {
			// Retry budget exhausted: keep the committed prefix.
			r.logger.Warn().
				Int("iteration", i).
				Int("attempts", r.cfg.MaxRetries+1).
				Str("last_error", outcome.Message).
				Msg("step failed after all attempts, aborting session")
			return record, nil
		}

		// Post-action snapshot becomes both the committed step's context
		// and the planning input for the next iteration.
		after, err := r.observer.Observe(ctx, page)
		if err != nil {
			r.logger.Debug().Err(err).Msg("post-action observation failed")
			after = nil
		}
		if r.decorate != nil {
			if err := r.decorate(ctx, page, after); err != nil {
				r.logger.Debug().Err(err).Msg("decorate failed")
			}
		}
		step.Elements = after
		elements = after
		record.Steps = append(record.Steps, step)

		if outcome.Done {
			r.logger.Info().Int("iteration", i).Msg("terminal step reached")
			return record, nil
		}

		if i >= r.cfg.PacingAfter {
			select {
			case <-ctx.Done():
				return record, ctx.Err()
			case <-time.After(r.cfg.PacingDelay):
			}
		}
	}

	r.logger.Info().Int("steps", len(record.Steps)).Msg("iteration budget exhausted")
	return record, nil
}

// attemptStep runs the plan/act/retry sub-loop for one iteration. It
// returns the successful step and outcome, or ok=false once the retry
// budget is spent. History is never touched here.
func (r *Runner) attemptStep(
	ctx context.Context,
	page browser.Page,
	command string,
	names []string,
	variables map[string]string,
	elements []observe.Element,
	committed []Step,
) (Step, sandbox.Outcome, bool, error) {
	descriptions := make([]string, 0, len(committed))
	for _, s := range committed {
		descriptions = append(descriptions, s.Description)
	}

	snapshot := elements
	priorCode := ""
	priorError := ""

	for attempt := 1; attempt <= 1+r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Step{}, sandbox.Outcome{}, false, err
		}

		proposal, err := r.synth.Next(ctx, synth.Input{
			Command:       command,
			Steps:         descriptions,
			VariableNames: names,
			Elements:      snapshot,
			PriorCode:     priorCode,
			PriorError:    priorError,
		})

		var outcome sandbox.Outcome
		if err != nil {
			// Synthesis failures burn a retry attempt exactly like
			// execution failures; there is no code to carry forward.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Step{}, sandbox.Outcome{}, false, ctxErr
			}
			outcome = sandbox.Outcome{Success: false, Message: err.Error()}
			proposal = synth.Proposal{}
		} else {
			outcome = r.exec.Execute(ctx, page, proposal.CodeBody, variables)
		}

		r.logger.Info().
			Int("attempt", attempt).
			Bool("success", outcome.Success).
			Str("result", clip(outcome.Message, 160)).
			Msg("attempt result")

		if outcome.Success {
			return Step{
				Prompt:      proposal.Prompt,
				Description: proposal.Step,
				CodeBody:    proposal.CodeBody,
			}, outcome, true, nil
		}

		if attempt == 1+r.cfg.MaxRetries {
			return Step{}, outcome, false, nil
		}

		// Feed exactly this attempt's failure into the next plan and
		// re-observe so the retry sees the page as it now stands.
		priorCode = proposal.CodeBody
		priorError = outcome.Message
		fresh, obsErr := r.observer.Observe(ctx, page)
		if obsErr != nil {
			r.logger.Debug().Err(obsErr).Msg("re-observation before retry failed")
		} else {
			snapshot = fresh
		}
	}

	return Step{}, sandbox.Outcome{}, false, nil
}

func variableNames(variables map[string]string) []string {
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	return names
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
