package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"userphone/internal/platform"
	"userphone/internal/services/session"
	"userphone/internal/status"
	"userphone/models"
	"userphone/monitoring"
	"userphone/security"
)

type CallOutcome struct {
	Matched  bool
	Partner  string
	Position int
}

type HangupOutcome int

const (
	HangupIdle HangupOutcome = iota
	HangupEnded
	HangupLeftQueue
)

// LinkPruner drops relay state that belongs to ended calls.
type LinkPruner interface {
	Forget(endpoints ...string)
}

// CallService drives an endpoint through IDLE -> QUEUED -> CONNECTED -> IDLE.
// State changes are committed before anyone is told about them.
type CallService struct {
	sessions     session.Store
	matchmaker   *Matchmaker
	guard        security.Guard
	platform     platform.Platform
	placeholders *placeholderBoard
	links        LinkPruner
	notifier     Notifier
	monitor      *monitoring.Monitor
	log          *slog.Logger

	// serializes placement and teardown so a match and its StartCall are
	// never interleaved with another request for the same endpoints
	mu sync.Mutex
}

func NewCallService(
	sessions session.Store,
	matchmaker *Matchmaker,
	guard security.Guard,
	p platform.Platform,
	links LinkPruner,
	notifier Notifier,
	monitor *monitoring.Monitor,
	log *slog.Logger,
) *CallService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &CallService{
		sessions:     sessions,
		matchmaker:   matchmaker,
		guard:        guard,
		platform:     p,
		placeholders: newPlaceholderBoard(p, log),
		links:        links,
		notifier:     notifier,
		monitor:      monitor,
		log:          log,
	}
}

func (s *CallService) PlaceCall(ctx context.Context, req models.CallRequest) (CallOutcome, error) {
	s.mu.Lock()

	match, err := s.matchmaker.Request(ctx, req, func(ctx context.Context) error {
		return s.guard.Allow(ctx, req.OriginID)
	})
	if err != nil {
		s.mu.Unlock()
		s.monitor.TrackCall("place", outcomeLabel(err))
		return CallOutcome{}, err
	}

	if !match.Matched {
		// reserved under the lock so a partner arriving next finds the handle
		ph := s.placeholders.reserve(req.EndpointID)
		s.mu.Unlock()

		s.placeholders.post(ctx, req.EndpointID, ph, statusQueued(match.Position))
		s.monitor.TrackCall("place", "queued")
		s.notifier.Notify(ctx, req.EndpointID, EventQueued, map[string]any{"position": match.Position})
		return CallOutcome{Position: match.Position}, nil
	}

	partner := match.Partner.EndpointID
	if err := s.sessions.StartCall(ctx, req.EndpointID, partner, req.Anonymous); err != nil {
		s.matchmaker.Requeue(match.Partner)
		s.mu.Unlock()

		s.monitor.TrackCall("place", "error")
		return CallOutcome{}, fmt.Errorf("start call %s<->%s: %w", req.EndpointID, partner, err)
	}
	partnerPH := s.placeholders.take(partner)
	s.mu.Unlock()

	own := &placeholder{}
	s.placeholders.post(ctx, req.EndpointID, own, StatusConnecting)
	s.placeholders.edit(ctx, req.EndpointID, own, StatusConnected)
	s.placeholders.edit(ctx, partner, partnerPH, StatusConnected)

	s.log.Info("call connected", "endpoint", req.EndpointID, "partner", partner, "anonymous", req.Anonymous)
	s.monitor.TrackCall("place", "connected")
	s.notifier.Notify(ctx, req.EndpointID, EventConnected, map[string]any{"partner": partner})
	s.notifier.Notify(ctx, partner, EventConnected, map[string]any{"partner": req.EndpointID})

	return CallOutcome{Matched: true, Partner: partner}, nil
}

func (s *CallService) Hangup(ctx context.Context, endpoint, userID string) (HangupOutcome, error) {
	s.mu.Lock()

	minutes, timed, err := s.sessions.CallDuration(ctx, endpoint)
	if err != nil {
		s.log.Warn("call duration unavailable", "endpoint", endpoint, "error", err)
	}
	partner, ended, err := s.sessions.EndCall(ctx, endpoint)
	if err != nil {
		s.mu.Unlock()
		s.monitor.TrackCall("hangup", "error")
		return HangupIdle, fmt.Errorf("end call %s: %w", endpoint, err)
	}

	// handles are taken under the lock so a later /call on the same endpoint
	// keeps its own placeholder
	var queued string
	var wasQueued bool
	var own, remote *placeholder
	if ended {
		own = s.placeholders.take(endpoint)
		remote = s.placeholders.take(partner)
	} else {
		queued, wasQueued = s.matchmaker.Cancel(userID)
		if wasQueued {
			own = s.placeholders.take(queued)
		}
	}
	s.mu.Unlock()

	switch {
	case ended:
		s.teardown(ctx, endpoint, partner, own, remote)
		if timed {
			s.monitor.TrackCallEnded(time.Duration(minutes) * time.Minute)
		}
		s.monitor.TrackCall("hangup", "ended")
		return HangupEnded, nil

	case wasQueued:
		s.placeholders.edit(ctx, queued, own, StatusCancelled)
		s.monitor.TrackCall("hangup", "cancelled")
		s.notifier.Notify(ctx, queued, EventCancelled, nil)
		return HangupLeftQueue, nil
	}

	s.monitor.TrackCall("hangup", "idle")
	return HangupIdle, nil
}

// teardown runs after the session is gone; every failure here is logged only.
func (s *CallService) teardown(ctx context.Context, endpoint, partner string, own, remote *placeholder) {
	s.placeholders.edit(ctx, endpoint, own, StatusEnded)
	s.placeholders.edit(ctx, partner, remote, StatusEndedRemote)

	if _, err := s.platform.Send(ctx, partner, PartnerHungUp, nil); err != nil {
		s.log.Warn("partner hangup notice failed", "endpoint", partner, "error", err)
	}

	for _, id := range []string{endpoint, partner} {
		if err := s.platform.Release(ctx, id); err != nil {
			s.log.Warn("release integration failed", "endpoint", id, "error", err)
		}
	}
	if s.links != nil {
		s.links.Forget(endpoint, partner)
	}

	s.log.Info("call ended", "endpoint", endpoint, "partner", partner)
	s.notifier.Notify(ctx, endpoint, EventEnded, map[string]any{"by": "self"})
	s.notifier.Notify(ctx, partner, EventEnded, map[string]any{"by": "partner"})
}

func (s *CallService) CallDuration(ctx context.Context, endpoint string) (int, bool, error) {
	return s.sessions.CallDuration(ctx, endpoint)
}

func (s *CallService) ActiveCallCount(ctx context.Context) (int, error) {
	return s.sessions.ActiveCallCount(ctx)
}

func (s *CallService) ActiveCalls(ctx context.Context) (map[string]string, error) {
	return s.sessions.ActiveCalls(ctx)
}

// Sessions lists each live call once, ordered by its lower endpoint id.
func (s *CallService) Sessions(ctx context.Context) ([]models.CallSession, error) {
	pairs, err := s.sessions.ActiveCalls(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.CallSession, 0, len(pairs)/2)
	for a, b := range pairs {
		if a > b {
			continue
		}
		anonymous, err := s.sessions.IsAnonymous(ctx, a)
		if err != nil {
			return nil, err
		}
		minutes, _, err := s.sessions.CallDuration(ctx, a)
		if err != nil {
			return nil, err
		}
		out = append(out, models.CallSession{EndpointA: a, EndpointB: b, Anonymous: anonymous, Minutes: minutes})
	}
	slices.SortFunc(out, func(x, y models.CallSession) int { return strings.Compare(x.EndpointA, y.EndpointA) })
	return out, nil
}

// Waiting snapshots both queues in order.
func (s *CallService) Waiting() map[models.QueueKind][]models.WaitingEntry {
	return map[models.QueueKind][]models.WaitingEntry{
		models.QueueRegular:   s.matchmaker.Snapshot(models.QueueRegular),
		models.QueueAnonymous: s.matchmaker.Snapshot(models.QueueAnonymous),
	}
}

func (s *CallService) QueueStatus(ctx context.Context) (models.QueueStatus, error) {
	regular, anonymous := s.matchmaker.Lengths()
	active, err := s.sessions.ActiveCallCount(ctx)
	if err != nil {
		return models.QueueStatus{}, err
	}
	return models.QueueStatus{Regular: regular, Anonymous: anonymous, ActiveCalls: active}, nil
}

func (s *CallService) GuardLimit() int {
	return s.guard.Limit()
}

func (s *CallService) GuardPeriod() time.Duration {
	return s.guard.Period()
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, status.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, status.ErrAlreadyInCall),
		errors.Is(err, status.ErrAlreadyWaiting),
		errors.Is(err, status.ErrPendingElsewhere),
		errors.Is(err, status.ErrEndpointTaken):
		return "rejected"
	}
	return "error"
}
