package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"userphone/internal/services"
	"userphone/internal/services/profile"
	"userphone/internal/services/session"
	"userphone/mocks"
	"userphone/models"
	"userphone/security"

	"github.com/bwmarrin/discordgo"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testApp struct {
	commands *services.CommandService
	calls    *services.CallService
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	ctrl := gomock.NewController(t)
	p := mocks.NewMockPlatform(ctrl)
	p.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("m1", nil).AnyTimes()
	p.EXPECT().Edit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	p.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	store := session.NewMemoryStore(nil)
	log := slog.Default()
	calls := services.NewCallService(
		store,
		services.NewMatchmaker(store, true, nil),
		security.NewWindowGuard(50, time.Hour, nil),
		p, nil, nil, nil, log,
	)
	files, err := profile.NewFileStore(filepath.Join(t.TempDir(), "profiles.json"))
	require.NoError(t, err)
	profiles := services.NewProfileService(files, log)
	return testApp{
		commands: services.NewCommandService(calls, profiles, nil, log),
		calls:    calls,
	}
}

func newEvent(method, target, body string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *router.ApiError
	require.True(t, errors.As(err, &apiErr), "want *router.ApiError, got %v", err)
	return apiErr.Status
}

func TestCallHandler_PlaceAndHangup(t *testing.T) {
	app := newTestApp(t)
	h := NewCallHandler(app.commands)

	e, rec := newEvent(http.MethodPost, "/api/userphone/calls", `{"endpoint_id":"E1","user_id":"u1","origin_id":"g1"}`)
	require.NoError(t, h.PlaceCall(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#1")

	e, rec = newEvent(http.MethodPost, "/api/userphone/calls", `{"endpoint_id":"E2","user_id":"u2","origin_id":"g2"}`)
	require.NoError(t, h.PlaceCall(e))
	assert.Contains(t, rec.Body.String(), "Connected")

	e, rec = newEvent(http.MethodGet, "/api/userphone/calls/E1/duration", "")
	e.Request.SetPathValue("endpoint", "E1")
	require.NoError(t, h.CallDuration(e))
	assert.Contains(t, rec.Body.String(), "minute(s) connected")

	e, rec = newEvent(http.MethodGet, "/api/userphone/calls/active", "")
	require.NoError(t, h.ActiveCalls(e))
	assert.Contains(t, rec.Body.String(), "Active calls: 1")

	e, rec = newEvent(http.MethodPost, "/api/userphone/calls/hangup", `{"endpoint_id":"E1","user_id":"u1"}`)
	require.NoError(t, h.Hangup(e))
	assert.Contains(t, rec.Body.String(), services.MsgCallEnded)
}

func TestCallHandler_Validation(t *testing.T) {
	app := newTestApp(t)
	h := NewCallHandler(app.commands)

	tests := []struct {
		name   string
		call   func(*core.RequestEvent) error
		body   string
		status int
	}{
		{"call without user", h.PlaceCall, `{"endpoint_id":"E1"}`, http.StatusBadRequest},
		{"call without origin", h.PlaceCall, `{"endpoint_id":"E1","user_id":"u1"}`, http.StatusBadRequest},
		{"call malformed", h.PlaceCall, `{"endpoint_id":`, http.StatusBadRequest},
		{"hangup without endpoint", h.Hangup, `{"user_id":"u1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEvent(http.MethodPost, "/", tt.body)
			assert.Equal(t, tt.status, apiStatus(t, tt.call(e)))
		})
	}
}

func TestCallHandler_SetProfile(t *testing.T) {
	app := newTestApp(t)
	h := NewCallHandler(app.commands)

	e, rec := newEvent(http.MethodPut, "/api/userphone/profiles/u1", `{"alias":"Trinity"}`)
	e.Request.SetPathValue("user", "u1")
	require.NoError(t, h.SetProfile(e))
	assert.Contains(t, rec.Body.String(), services.MsgSettingsSaved)

	e, _ = newEvent(http.MethodPut, "/api/userphone/profiles/u1", `{"avatar_url":"javascript:alert(1)"}`)
	e.Request.SetPathValue("user", "u1")
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, h.SetProfile(e)))
}

func TestAdminHandler_RequiresSuperuser(t *testing.T) {
	app := newTestApp(t)
	h := NewAdminHandler(app.calls, slog.Default())

	e, _ := newEvent(http.MethodGet, "/api/userphone/admin/calls", "")
	assert.Equal(t, http.StatusUnauthorized, apiStatus(t, h.GetCalls(e)))
}

func TestAdminHandler_ListsCalls(t *testing.T) {
	app := newTestApp(t)
	h := NewAdminHandler(app.calls, slog.Default())
	ctx := context.Background()

	app.commands.PlaceCall(ctx, models.CallRequest{EndpointID: "b", UserID: "u1", OriginID: "g1"})
	app.commands.PlaceCall(ctx, models.CallRequest{EndpointID: "a", UserID: "u2", OriginID: "g2"})
	app.commands.PlaceCall(ctx, models.CallRequest{EndpointID: "c", UserID: "u3", OriginID: "g3", Anonymous: true})

	e, rec := newEvent(http.MethodGet, "/api/userphone/admin/calls", "")
	e.Auth = core.NewRecord(core.NewAuthCollection(core.CollectionNameSuperusers))
	require.NoError(t, h.GetCalls(e))

	body := rec.Body.String()
	assert.Contains(t, body, `"endpoint_a":"a"`)
	assert.Contains(t, body, `"endpoint_b":"b"`)
	assert.Contains(t, body, `"endpoint_id":"c"`)
}

func TestDispatch(t *testing.T) {
	app := newTestApp(t)
	h := &DiscordHandler{commands: app.commands, log: slog.Default()}
	ctx := context.Background()

	inv := invocation{Endpoint: "E1", Origin: "g1", User: "u1"}
	assert.Contains(t, h.dispatch(ctx, "call", inv), "#1")
	assert.Equal(t, services.MsgLeftQueue, h.dispatch(ctx, "hangup", inv))
	assert.Equal(t, services.MsgNotInCall, h.dispatch(ctx, "duration", inv))
	assert.Contains(t, h.dispatch(ctx, "anoncall", inv), "#1")
	assert.Contains(t, h.dispatch(ctx, "queue", inv), "Anonymous queue: 1")
	assert.Regexp(t, `^🪙 (Heads|Tails)$`, h.dispatch(ctx, "flip", inv))
	assert.Regexp(t, `out of 6$`, h.dispatch(ctx, "roll", inv))
	assert.Equal(t, services.MsgUnexpected, h.dispatch(ctx, "nope", inv))

	inv.Options = optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "sides", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(20)},
	})
	assert.Regexp(t, `out of 20$`, h.dispatch(ctx, "roll", inv))
}

func TestDispatch_DirectMessage(t *testing.T) {
	app := newTestApp(t)
	h := &DiscordHandler{commands: app.commands, log: slog.Default()}
	ctx := context.Background()

	dm := invocation{Endpoint: "dm1", User: "u1"}
	for _, name := range []string{"call", "anoncall", "hangup", "duration"} {
		assert.Equal(t, services.MsgWrongContext, h.dispatch(ctx, name, dm), name)
	}
	assert.Empty(t, app.calls.Waiting()[models.QueueRegular])
	assert.Empty(t, app.calls.Waiting()[models.QueueAnonymous])

	// guild-free commands still answer
	assert.Regexp(t, `^🪙 (Heads|Tails)$`, h.dispatch(ctx, "flip", dm))
	assert.Contains(t, h.dispatch(ctx, "queue", dm), "Regular queue: 0")
}

func TestStringOption(t *testing.T) {
	opts := optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "avatar", Type: discordgo.ApplicationCommandOptionString, Value: ""},
	})

	assert.Nil(t, stringOption(opts, "alias"))
	require.NotNil(t, stringOption(opts, "avatar"))
	assert.Empty(t, *stringOption(opts, "avatar"))
}

func TestToMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "hi",
		Timestamp: at,
		Author:    &discordgo.User{ID: "u1", Username: "neo", GlobalName: "Neo"},
		Member:    &discordgo.Member{Nick: "The One"},
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "a.png", URL: "https://cdn.example/a.png", ContentType: "image/png"},
		},
		StickerItems: []*discordgo.StickerItem{
			{ID: "s1", Name: "wave", FormatType: discordgo.StickerFormatTypeGIF},
			{ID: "s2", Name: "dance", FormatType: discordgo.StickerFormatTypeLottie},
			{ID: "s3", Name: "cat", FormatType: discordgo.StickerFormatTypeAPNG},
		},
	}

	msg := toMessage(m)

	assert.Equal(t, "c1", msg.EndpointID)
	assert.Equal(t, "g1", msg.OriginID)
	assert.Equal(t, "The One", msg.Author.DisplayName)
	assert.Equal(t, at, msg.CreatedAt)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "a.png", msg.Attachments[0].Filename)

	require.Len(t, msg.Stickers, 3)
	assert.Equal(t, models.StickerFormatGIF, msg.Stickers[0].Format)
	assert.Equal(t, "https://media.discordapp.net/stickers/s1.gif", msg.Stickers[0].URL)
	assert.Equal(t, "https://media.discordapp.net/stickers/s2.json", msg.Stickers[1].URL)
	assert.Equal(t, "https://media.discordapp.net/stickers/s3.png", msg.Stickers[2].URL)
}

func TestToUser_FallsBackToUsername(t *testing.T) {
	u := toUser(&discordgo.User{ID: "u1", Username: "neo"})
	assert.Equal(t, "neo", u.DisplayName)
}
