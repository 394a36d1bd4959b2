// Package api is the thin HTTP surface over the session loop. One
// request runs one session to completion and returns its record.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aditya-todi/crustdata-browser-operator/internal/browser"
	"github.com/aditya-todi/crustdata-browser-operator/internal/session"
)

// SessionStarter runs one end-to-end session.
type SessionStarter interface {
	StartSession(ctx context.Context, command string, variables map[string]string, model string) (session.Record, error)
}

type startSessionRequest struct {
	Command   string            `json:"command"`
	Variables map[string]string `json:"variables"`
	Model     string            `json:"model"`
}

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	op     SessionStarter
	logger zerolog.Logger
}

func NewHandler(op SessionStarter, logger zerolog.Logger) *Handler {
	return &Handler{op: op, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/interact/start", h.startSession)
	return r
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Variables == nil {
		req.Variables = map[string]string{}
	}

	record, err := h.op.StartSession(r.Context(), req.Command, req.Variables, req.Model)
	if err != nil {
		h.logger.Error().Err(err).Str("command", req.Command).Msg("session failed")
		var acquireErr *browser.AcquireError
		switch {
		case errors.Is(err, session.ErrEmptyCommand):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &acquireErr):
			h.writeError(w, http.StatusBadGateway, "could not acquire a browser session")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.writeError(w, http.StatusGatewayTimeout, "session cancelled")
		default:
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, envelope{Message: "Ok", Data: record})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, envelope{Message: "Error", Data: map[string]string{"error": msg}})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("write response")
	}
}
