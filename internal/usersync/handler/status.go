package handler

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"usersync/internal/usersync/model"
)

// StatusStore holds the most recent pass result. The sync loop writes it and
// HTTP handlers read it, so access is guarded.
type StatusStore struct {
	mu     sync.RWMutex
	last   *model.SyncResult
	passes int
}

func NewStatusStore() *StatusStore {
	return &StatusStore{}
}

func (s *StatusStore) Record(result *model.SyncResult) {
	if result == nil {
		return
	}
	snapshot := *result
	snapshot.Failures = append([]model.RecordFailure(nil), result.Failures...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &snapshot
	s.passes++
}

func (s *StatusStore) Last() (*model.SyncResult, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.passes
}

type StatusHandler struct {
	Store *StatusStore
}

func NewStatusHandler(store *StatusStore) *StatusHandler {
	return &StatusHandler{Store: store}
}

// HealthCheck handles GET /health
func HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /status
func (h *StatusHandler) GetStatus(c echo.Context) error {
	last, passes := h.Store.Last()
	if last == nil {
		return c.JSON(http.StatusNotFound, model.ErrorResponse{
			Error: model.ErrorDetail{
				Code:      "not_found",
				Message:   "No sync pass has completed yet",
				RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
			},
		})
	}
	return c.JSON(http.StatusOK, model.StatusResponse{Passes: passes, LastPass: last})
}
