package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"userphone/internal/status"
	"userphone/models"
	"userphone/utils"
)

const (
	MsgUnexpected     = "⚠️ Unexpected error – please try again shortly."
	MsgAlreadyInCall  = "This channel is already in a live call."
	MsgAlreadyWaiting = "You're already waiting here."
	MsgPendingElse    = "You have another pending call elsewhere."
	MsgEndpointTaken  = "This channel is already used by another caller. Please run `/call` in a different channel."
	MsgCallEnded      = "Call ended."
	MsgLeftQueue      = "Left queue."
	MsgIdle           = "You're not in a call or queue."
	MsgNotInCall      = "This channel isn't in a call."
	MsgSettingsSaved  = "⚙️ Settings saved."
	MsgBadAvatar      = "That avatar URL doesn't look right. Use an http(s) image link."
	MsgWrongContext   = "Use this in a text channel."
)

var eightBallAnswers = []string{
	"Yes", "No", "Maybe", "Ask again later", "Definitely", "Absolutely not",
	"It is certain", "Reply hazy, try again", "Don't count on it", "Yes definitely",
	"My sources say no", "Outlook not so good", "Better not tell you now",
}

// CommandService is what slash commands and the HTTP API call. Every method
// returns a message ready for display and never fails.
type CommandService struct {
	calls    *CallService
	profiles *ProfileService
	servers  func() int
	log      *slog.Logger
}

func NewCommandService(calls *CallService, profiles *ProfileService, servers func() int, log *slog.Logger) *CommandService {
	if servers == nil {
		servers = func() int { return 0 }
	}
	return &CommandService{calls: calls, profiles: profiles, servers: servers, log: log}
}

func (c *CommandService) catch(op string, reply *string) {
	if r := recover(); r != nil {
		c.log.Error("command panicked", "operation", op, "panic", r, "stack", string(debug.Stack()))
		*reply = MsgUnexpected
	}
}

func (c *CommandService) PlaceCall(ctx context.Context, req models.CallRequest) (reply string) {
	defer c.catch("place_call", &reply)

	if req.OriginID == "" {
		return MsgWrongContext
	}

	outcome, err := c.calls.PlaceCall(ctx, req)
	switch {
	case err == nil && outcome.Matched:
		return StatusConnected
	case err == nil:
		return statusQueued(outcome.Position)
	case errors.Is(err, status.ErrAlreadyInCall):
		return MsgAlreadyInCall
	case errors.Is(err, status.ErrAlreadyWaiting):
		return MsgAlreadyWaiting
	case errors.Is(err, status.ErrPendingElsewhere):
		return MsgPendingElse
	case errors.Is(err, status.ErrEndpointTaken):
		return MsgEndpointTaken
	case errors.Is(err, status.ErrRateLimited):
		return fmt.Sprintf("🚦 This server hit the %d/%s limit.", c.calls.GuardLimit(), windowLabel(c.calls.GuardPeriod()))
	}

	c.log.Error("place call failed", "endpoint", req.EndpointID, "user_id", req.UserID, "error", err)
	return MsgUnexpected
}

// windowLabel renders a rate window the way the limit reply shows it: "h", "6h", "30m".
func windowLabel(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "h"
	case d > 0 && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}

func (c *CommandService) Hangup(ctx context.Context, endpoint, userID string) (reply string) {
	defer c.catch("hangup", &reply)

	outcome, err := c.calls.Hangup(ctx, endpoint, userID)
	if err != nil {
		c.log.Error("hangup failed", "endpoint", endpoint, "user_id", userID, "error", err)
		return MsgUnexpected
	}
	switch outcome {
	case HangupEnded:
		return MsgCallEnded
	case HangupLeftQueue:
		return MsgLeftQueue
	}
	return MsgIdle
}

func (c *CommandService) CallDuration(ctx context.Context, endpoint string) (reply string) {
	defer c.catch("duration", &reply)

	minutes, ok, err := c.calls.CallDuration(ctx, endpoint)
	if err != nil {
		c.log.Error("call duration failed", "endpoint", endpoint, "error", err)
		return MsgUnexpected
	}
	if !ok {
		return MsgNotInCall
	}
	return fmt.Sprintf("⏱️ %d minute(s) connected.", minutes)
}

func (c *CommandService) QueueStatus(ctx context.Context) (reply string) {
	defer c.catch("queue_status", &reply)

	qs, err := c.calls.QueueStatus(ctx)
	if err != nil {
		c.log.Error("queue status failed", "error", err)
		return MsgUnexpected
	}
	return fmt.Sprintf("📊 **Queue Status**\nRegular queue: %d\nAnonymous queue: %d\nActive calls: %d",
		qs.Regular, qs.Anonymous, qs.ActiveCalls)
}

func (c *CommandService) ActiveCallCount(ctx context.Context) (reply string) {
	defer c.catch("active_calls", &reply)

	n, err := c.calls.ActiveCallCount(ctx)
	if err != nil {
		c.log.Error("active call count failed", "error", err)
		return MsgUnexpected
	}
	return fmt.Sprintf("🔗 Active calls: %d", n)
}

func (c *CommandService) Stats(ctx context.Context) (reply string) {
	defer c.catch("stats", &reply)

	qs, err := c.calls.QueueStatus(ctx)
	if err != nil {
		c.log.Error("stats failed", "error", err)
		return MsgUnexpected
	}
	return fmt.Sprintf("📈 **UserPhone Statistics**\n📞 Regular queue: %d waiting\n👤 Anonymous queue: %d waiting\n🔗 Active calls: %d\n🌐 Total servers: %d",
		qs.Regular, qs.Anonymous, qs.ActiveCalls, c.servers())
}

func (c *CommandService) SetProfile(ctx context.Context, userID string, alias, avatarURL *string) (reply string) {
	defer c.catch("settings", &reply)

	if err := c.profiles.SetProfile(ctx, userID, alias, avatarURL); err != nil {
		if errors.Is(err, status.ErrInvalidProfile) {
			return MsgBadAvatar
		}
		c.log.Error("save profile failed", "user_id", userID, "error", err)
		return MsgUnexpected
	}
	return MsgSettingsSaved
}

func (c *CommandService) EightBall() string {
	answer, err := utils.Choice(eightBallAnswers)
	if err != nil {
		return MsgUnexpected
	}
	return "🎱 " + answer
}

func (c *CommandService) Flip() string {
	side, err := utils.Choice([]string{"Heads", "Tails"})
	if err != nil {
		return MsgUnexpected
	}
	return "🪙 " + side
}

func (c *CommandService) Roll(sides int) string {
	sides = max(sides, 2)
	n, err := utils.RandomInt(sides)
	if err != nil {
		return MsgUnexpected
	}
	return fmt.Sprintf("🎲 Rolled %d out of %d", n+1, sides)
}
