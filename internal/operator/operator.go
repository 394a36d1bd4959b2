// Package operator assembles one session's collaborators: a provider
// client for the requested model, a fresh browser handle, the
// synthesizer, the sandbox and the session runner.
package operator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aditya-todi/crustdata-browser-operator/internal/browser"
	"github.com/aditya-todi/crustdata-browser-operator/internal/llm"
	"github.com/aditya-todi/crustdata-browser-operator/internal/observe"
	"github.com/aditya-todi/crustdata-browser-operator/internal/sandbox"
	"github.com/aditya-todi/crustdata-browser-operator/internal/session"
	"github.com/aditya-todi/crustdata-browser-operator/internal/synth"
)

// HandleProvider supplies a fresh isolated page handle per session.
// *browser.Launcher is the production implementation.
type HandleProvider interface {
	NewSession(ctx context.Context) (*browser.Handle, error)
}

type Operator struct {
	launcher HandleProvider
	cfg      session.Config
	logger   zerolog.Logger
}

func New(launcher HandleProvider, cfg session.Config, logger zerolog.Logger) *Operator {
	return &Operator{launcher: launcher, cfg: cfg, logger: logger}
}

// StartSession runs one full session against a fresh browsing context.
// The handle is released on every exit path. Sessions share nothing
// mutable, so concurrent calls need no coordination here.
func (o *Operator) StartSession(ctx context.Context, command string, variables map[string]string, model string) (session.Record, error) {
	if command == "" {
		return session.Record{}, session.ErrEmptyCommand
	}

	client, err := llm.New(model, o.logger.With().Str("comp", "llm").Logger())
	if err != nil {
		return session.Record{}, err
	}
	o.logger.Info().Str("model", client.Name()).Int("variables", len(variables)).Msg("starting session")

	handle, err := o.launcher.NewSession(ctx)
	if err != nil {
		return session.Record{}, err
	}
	defer handle.Release()

	runner := session.NewRunner(
		o.cfg,
		synth.New(client, o.logger.With().Str("comp", "synth").Logger()),
		sandbox.New(o.logger.With().Str("comp", "sandbox").Logger()),
		observe.NewObserver(),
		o.logger.With().Str("comp", "session").Logger(),
	).WithDecorator(observe.Highlight)

	return runner.Run(ctx, handle.Page(), command, variables)
}
