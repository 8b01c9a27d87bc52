package handlers

import (
	"log/slog"
	"net/http"

	"userphone/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	calls *services.CallService
	log   *slog.Logger
}

func NewAdminHandler(calls *services.CallService, log *slog.Logger) *AdminHandler {
	return &AdminHandler{calls: calls, log: log}
}

// GetCalls - live sessions plus both waiting queues
func (h *AdminHandler) GetCalls(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Superuser access required", nil)
	}

	sessions, err := h.calls.Sessions(e.Request.Context())
	if err != nil {
		h.log.Error("list sessions failed", "error", err)
		return apis.NewBadRequestError("Failed to list calls", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
		"queues":   h.calls.Waiting(),
	})
}
