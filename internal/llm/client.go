package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Client is a single-method completion capability. Implementations are
// safe for concurrent use by independent sessions.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

type Response struct {
	Text string
}

// New selects a provider client by name. Anything other than "openai"
// (including empty or unrecognized values) falls back to Anthropic.
func New(selector string, logger zerolog.Logger) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(selector)) {
	case "openai":
		return NewOpenAI(logger)
	default:
		return NewAnthropic(logger)
	}
}
