package handlers

import (
	"net/http"

	"userphone/internal/services"
	"userphone/models"

	"github.com/go-playground/validator/v10"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// CallHandler exposes the command surface over HTTP. Replies carry the same
// text the slash commands show.
type CallHandler struct {
	commands *services.CommandService
	validate *validator.Validate
}

func NewCallHandler(commands *services.CommandService) *CallHandler {
	return &CallHandler{
		commands: commands,
		validate: validator.New(),
	}
}

// PlaceCall - queue an endpoint or connect it to a waiting partner
func (h *CallHandler) PlaceCall(e *core.RequestEvent) error {
	var req models.CallRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return apis.NewBadRequestError("endpoint_id, user_id and origin_id are required", err)
	}

	reply := h.commands.PlaceCall(e.Request.Context(), req)
	return e.JSON(http.StatusOK, map[string]any{"message": reply})
}

// Hangup - end the endpoint's call or leave the queue
func (h *CallHandler) Hangup(e *core.RequestEvent) error {
	var req models.HangupRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return apis.NewBadRequestError("endpoint_id, user_id and origin_id are required", err)
	}

	reply := h.commands.Hangup(e.Request.Context(), req.EndpointID, req.UserID)
	return e.JSON(http.StatusOK, map[string]any{"message": reply})
}

func (h *CallHandler) CallDuration(e *core.RequestEvent) error {
	endpoint := e.Request.PathValue("endpoint")
	if endpoint == "" {
		return apis.NewBadRequestError("Endpoint required", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": h.commands.CallDuration(e.Request.Context(), endpoint)})
}

func (h *CallHandler) QueueStatus(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, map[string]any{"message": h.commands.QueueStatus(e.Request.Context())})
}

func (h *CallHandler) ActiveCalls(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, map[string]any{"message": h.commands.ActiveCallCount(e.Request.Context())})
}

// SetProfile - partial update; omitted fields are left as they are
func (h *CallHandler) SetProfile(e *core.RequestEvent) error {
	userID := e.Request.PathValue("user")
	if userID == "" {
		return apis.NewBadRequestError("User required", nil)
	}

	var upd models.ProfileUpdate
	if err := e.BindBody(&upd); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	reply := h.commands.SetProfile(e.Request.Context(), userID, upd.Alias, upd.AvatarURL)
	if reply == services.MsgBadAvatar {
		return apis.NewBadRequestError(reply, nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": reply})
}
