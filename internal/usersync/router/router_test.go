package router

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usersync/internal/usersync/handler"
	"usersync/internal/usersync/metrics"
	"usersync/internal/usersync/model"
)

func setupServer(t *testing.T) (*echo.Echo, *handler.StatusStore, *metrics.Recorder) {
	t.Helper()
	store := handler.NewStatusStore()
	recorder := metrics.NewRecorder()
	e := NewEcho(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterRoutes(e, handler.NewStatusHandler(store), recorder.Registry())
	return e, store, recorder
}

func performRequest(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, _, _ := setupServer(t)

	rec := performRequest(e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestStatus(t *testing.T) {
	t.Run("no pass yet returns 404", func(t *testing.T) {
		e, _, _ := setupServer(t)

		rec := performRequest(e, http.MethodGet, "/status")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body model.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_found", body.Error.Code)
		assert.NotEmpty(t, body.Error.RequestID)
	})

	t.Run("reports the last pass", func(t *testing.T) {
		e, store, _ := setupServer(t)
		start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

		first := model.NewSyncResult("p1", start)
		first.State = model.PassFailed
		store.Record(first)

		second := model.NewSyncResult("p2", start)
		second.State = model.PassDone
		second.Fetched = 2
		second.Upserted = 1
		second.RecordFailure("u2", model.FailureKindStorage, errors.New("timeout"))
		store.Record(second)

		rec := performRequest(e, http.MethodGet, "/status")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body model.StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Passes)
		require.NotNil(t, body.LastPass)
		assert.Equal(t, "p2", body.LastPass.PassID)
		assert.Equal(t, model.PassDone, body.LastPass.State)
		assert.Equal(t, 1, body.LastPass.Failed)
		assert.Equal(t, "u2", body.LastPass.Failures[0].UserID)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	e, _, recorder := setupServer(t)
	recorder.ObserveFetchAttempt("success")

	rec := performRequest(e, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `usersync_fetch_attempts_total{outcome="success"} 1`))
}

func TestMetricsEndpointDisabledWithoutRegistry(t *testing.T) {
	e := NewEcho(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterRoutes(e, handler.NewStatusHandler(handler.NewStatusStore()), nil)

	rec := performRequest(e, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
