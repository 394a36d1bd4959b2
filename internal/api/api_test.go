package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya-todi/crustdata-browser-operator/internal/api"
	"github.com/aditya-todi/crustdata-browser-operator/internal/browser"
	"github.com/aditya-todi/crustdata-browser-operator/internal/session"
)

type fakeStarter struct {
	record    session.Record
	err       error
	command   string
	variables map[string]string
	model     string
}

func (f *fakeStarter) StartSession(_ context.Context, command string, variables map[string]string, model string) (session.Record, error) {
	f.command = command
	f.variables = variables
	f.model = model
	if f.err != nil {
		return session.Record{}, f.err
	}
	return f.record, nil
}

func postStart(t *testing.T, starter api.SessionStarter, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := api.NewHandler(starter, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/interact/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)
	return rec
}

func TestStartSession_ReturnsRecord(t *testing.T) {
	starter := &fakeStarter{record: session.Record{
		ID:          uuid.New(),
		UserCommand: "log in",
		Steps: []session.Step{
			{Prompt: "the prompt", Description: "Open login page", CodeBody: "function run() {}"},
		},
	}}

	rec := postStart(t, starter, `{"command": "log in", "variables": {"USERNAME": "alice"}, "model": "openai"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "log in", starter.command)
	assert.Equal(t, map[string]string{"USERNAME": "alice"}, starter.variables)
	assert.Equal(t, "openai", starter.model)

	var resp struct {
		Message string `json:"message"`
		Data    struct {
			ID          string `json:"id"`
			UserCommand string `json:"userCommand"`
			Steps       []struct {
				Prompt   string `json:"prompt"`
				Step     string `json:"step"`
				CodeBody string `json:"codeBody"`
			} `json:"steps"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Ok", resp.Message)
	assert.Equal(t, starter.record.ID.String(), resp.Data.ID)
	assert.Equal(t, "log in", resp.Data.UserCommand)
	require.Len(t, resp.Data.Steps, 1)
	assert.Equal(t, "Open login page", resp.Data.Steps[0].Step)
	assert.Equal(t, "function run() {}", resp.Data.Steps[0].CodeBody)
}

func TestStartSession_EmptyCommandIsBadRequest(t *testing.T) {
	starter := &fakeStarter{err: session.ErrEmptyCommand}

	rec := postStart(t, starter, `{"command": ""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error")
}

func TestStartSession_MalformedBodyIsBadRequest(t *testing.T) {
	starter := &fakeStarter{}

	rec := postStart(t, starter, `{"command": `)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, starter.command, "operator must not be called on a bad body")
}

func TestStartSession_AcquireFailureIsBadGateway(t *testing.T) {
	starter := &fakeStarter{err: &browser.AcquireError{Reason: "new context", Err: errors.New("browser gone")}}

	rec := postStart(t, starter, `{"command": "log in"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStartSession_DefaultsVariablesToEmptyBag(t *testing.T) {
	starter := &fakeStarter{}

	rec := postStart(t, starter, `{"command": "browse"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, starter.variables)
	assert.Empty(t, starter.variables)
}

func TestStartSession_UnknownFailureIsInternalError(t *testing.T) {
	starter := &fakeStarter{err: errors.New("unexpected")}

	rec := postStart(t, starter, `{"command": "log in"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
