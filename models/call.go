package models

import "time"

type QueueKind string

const (
	QueueRegular   QueueKind = "regular"
	QueueAnonymous QueueKind = "anonymous"
)

// CallRequest is one endpoint asking to be paired.
type CallRequest struct {
	EndpointID string `json:"endpoint_id" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`
	OriginID   string `json:"origin_id" validate:"required"`
	Anonymous  bool   `json:"anonymous"`
}

func (r CallRequest) Queue() QueueKind {
	if r.Anonymous {
		return QueueAnonymous
	}
	return QueueRegular
}

type WaitingEntry struct {
	EndpointID string    `json:"endpoint_id"`
	OwnerID    string    `json:"owner_id"`
	OriginID   string    `json:"origin_id"`
	Anonymous  bool      `json:"anonymous"`
	QueuedAt   time.Time `json:"queued_at"`
}

func (e WaitingEntry) Queue() QueueKind {
	if e.Anonymous {
		return QueueAnonymous
	}
	return QueueRegular
}

// CallSession is the admin view of one live pairing.
type CallSession struct {
	EndpointA string `json:"endpoint_a"`
	EndpointB string `json:"endpoint_b"`
	Anonymous bool   `json:"anonymous"`
	Minutes   int    `json:"minutes"`
}

// RateWindow is a fixed quota window that resets lazily.
type RateWindow struct {
	Used    int       `json:"used"`
	ResetAt time.Time `json:"reset_at"`
}

type QueueStatus struct {
	Regular     int `json:"regular"`
	Anonymous   int `json:"anonymous"`
	ActiveCalls int `json:"active_calls"`
}

type HangupRequest struct {
	EndpointID string `json:"endpoint_id" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`
}
