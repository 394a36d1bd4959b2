package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aditya-todi/crustdata-browser-operator/internal/api"
	"github.com/aditya-todi/crustdata-browser-operator/internal/browser"
	"github.com/aditya-todi/crustdata-browser-operator/internal/operator"
	"github.com/aditya-todi/crustdata-browser-operator/internal/session"
)

type cliOptions struct {
	addr     string
	command  string
	model    string
	maxSteps int
	retries  int
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	launcher, err := browser.NewLauncher(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer launcher.Close()

	cfg := session.Config{
		MaxIterations: opts.maxSteps,
		MaxRetries:    opts.retries,
	}
	op := operator.New(launcher, cfg, log.With().Str("comp", "operator").Logger())

	if opts.command != "" {
		runOnce(ctx, op, opts)
		return
	}
	serve(ctx, op, opts.addr)
}

func runOnce(ctx context.Context, op *operator.Operator, opts cliOptions) {
	record, err := op.StartSession(ctx, opts.command, parseVariables(), opts.model)
	if err != nil {
		log.Fatal().Err(err).Msg("session failed")
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("marshal record")
	}
	fmt.Println(string(data))
}

func serve(ctx context.Context, op *operator.Operator, addr string) {
	handler := api.NewHandler(op, log.With().Str("comp", "api").Logger())
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
	}
}

func parseFlags() cliOptions {
	addr := flag.String("addr", ":8000", "HTTP listen address")
	command := flag.String("command", "", "Run one session with this command and exit")
	model := flag.String("model", "", "Model provider for one-shot mode (anthropic|openai)")
	maxSteps := flag.Int("max-steps", 0, "Max top-level steps per session (default 20)")
	retries := flag.Int("retries", 0, "Extra attempts per step after a failure (default 2)")
	flag.Parse()
	return cliOptions{
		addr:     strings.TrimSpace(*addr),
		command:  strings.TrimSpace(*command),
		model:    strings.TrimSpace(*model),
		maxSteps: *maxSteps,
		retries:  *retries,
	}
}

// parseVariables reads OPERATOR_VARS ("KEY=value,KEY2=value2") for
// one-shot mode. The HTTP surface takes variables in the request body.
func parseVariables() map[string]string {
	vars := map[string]string{}
	raw := strings.TrimSpace(os.Getenv("OPERATOR_VARS"))
	if raw == "" {
		return vars
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = value
	}
	return vars
}
