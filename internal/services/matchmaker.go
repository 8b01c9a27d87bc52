package services

import (
	"context"
	"sync"
	"time"

	"userphone/internal/services/session"
	"userphone/internal/status"
	"userphone/models"
)

// Match is the result of a call request: either a partner endpoint or the
// requester's 1-based position in its queue.
type Match struct {
	Partner  models.WaitingEntry
	Matched  bool
	Position int
}

// Admission runs after the eligibility checks and before any queue mutation.
// Returning an error aborts the request with nothing changed.
type Admission func(ctx context.Context) error

type Matchmaker struct {
	sessions    session.Store
	crossOrigin bool
	nowFn       func() time.Time

	mu      sync.Mutex
	queues  map[models.QueueKind][]string
	entries map[string]models.WaitingEntry // endpoint -> entry
	owners  map[string]string              // user -> endpoint
}

func NewMatchmaker(sessions session.Store, crossOrigin bool, nowFn func() time.Time) *Matchmaker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Matchmaker{
		sessions:    sessions,
		crossOrigin: crossOrigin,
		nowFn:       nowFn,
		queues: map[models.QueueKind][]string{
			models.QueueRegular:   nil,
			models.QueueAnonymous: nil,
		},
		entries: make(map[string]models.WaitingEntry),
		owners:  make(map[string]string),
	}
}

func (m *Matchmaker) Request(ctx context.Context, req models.CallRequest, admit Admission) (Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inCall, err := m.sessions.IsInCall(ctx, req.EndpointID)
	if err != nil {
		return Match{}, err
	}
	if inCall {
		return Match{}, status.ErrAlreadyInCall
	}
	if entry, ok := m.entries[req.EndpointID]; ok && entry.OwnerID != req.UserID {
		return Match{}, status.ErrEndpointTaken
	}
	if endpoint, ok := m.owners[req.UserID]; ok {
		if endpoint == req.EndpointID {
			return Match{}, status.ErrAlreadyWaiting
		}
		return Match{}, status.ErrPendingElsewhere
	}

	if admit != nil {
		if err := admit(ctx); err != nil {
			return Match{}, err
		}
	}

	entry := models.WaitingEntry{
		EndpointID: req.EndpointID,
		OwnerID:    req.UserID,
		OriginID:   req.OriginID,
		Anonymous:  req.Anonymous,
		QueuedAt:   m.nowFn(),
	}
	m.owners[req.UserID] = req.EndpointID

	kind := req.Queue()
	queue := m.queues[kind]

	// each entry is visited at most once; ineligible ones rotate to the tail
	for i, n := 0, len(queue); i < n; i++ {
		candidate := queue[0]
		queue = append(queue[1:], candidate)

		if !m.eligible(candidate, entry) {
			continue
		}

		queue = queue[:len(queue)-1]
		m.queues[kind] = queue

		partner := m.entries[candidate]
		delete(m.entries, candidate)
		delete(m.owners, partner.OwnerID)
		delete(m.owners, req.UserID)
		return Match{Partner: partner, Matched: true}, nil
	}

	queue = append(queue, req.EndpointID)
	m.queues[kind] = queue
	m.entries[req.EndpointID] = entry
	return Match{Position: len(queue)}, nil
}

func (m *Matchmaker) eligible(candidate string, requester models.WaitingEntry) bool {
	entry, ok := m.entries[candidate]
	if !ok || m.owners[entry.OwnerID] != candidate {
		return false
	}
	if entry.OwnerID == requester.OwnerID {
		return false
	}
	if m.crossOrigin && entry.OriginID == requester.OriginID {
		return false
	}
	return true
}

// Cancel removes the user's pending entry, if any, and returns its endpoint.
func (m *Matchmaker) Cancel(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	endpoint, ok := m.owners[userID]
	if !ok {
		return "", false
	}
	delete(m.owners, userID)

	if entry, ok := m.entries[endpoint]; ok {
		delete(m.entries, endpoint)
		m.queues[entry.Queue()] = without(m.queues[entry.Queue()], endpoint)
	}
	return endpoint, true
}

// Requeue puts a popped entry back at the head of its queue. Used to undo a
// match whose session could not be committed.
func (m *Matchmaker) Requeue(entry models.WaitingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.owners[entry.OwnerID]; taken {
		return
	}
	if _, queued := m.entries[entry.EndpointID]; queued {
		return
	}
	kind := entry.Queue()
	m.queues[kind] = append([]string{entry.EndpointID}, m.queues[kind]...)
	m.entries[entry.EndpointID] = entry
	m.owners[entry.OwnerID] = entry.EndpointID
}

func (m *Matchmaker) Lengths() (regular, anonymous int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[models.QueueRegular]), len(m.queues[models.QueueAnonymous])
}

func (m *Matchmaker) IsQueued(endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[endpoint]
	return ok
}

// Pending returns the endpoint the user is currently waiting on.
func (m *Matchmaker) Pending(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoint, ok := m.owners[userID]
	return endpoint, ok
}

// Snapshot returns a copy of one queue in order.
func (m *Matchmaker) Snapshot(kind models.QueueKind) []models.WaitingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.WaitingEntry, 0, len(m.queues[kind]))
	for _, endpoint := range m.queues[kind] {
		out = append(out, m.entries[endpoint])
	}
	return out
}

func without(queue []string, endpoint string) []string {
	out := queue[:0]
	for _, id := range queue {
		if id != endpoint {
			out = append(out, id)
		}
	}
	return out
}
