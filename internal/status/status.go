package status

import "errors"

var (
	ErrAlreadyInCall    = errors.New("call: endpoint already in a live call")
	ErrAlreadyWaiting   = errors.New("call: user already waiting on this endpoint")
	ErrPendingElsewhere = errors.New("call: user has another pending call")
	ErrEndpointTaken    = errors.New("call: endpoint used by another caller")
	ErrRateLimited      = errors.New("call: origin rate limit reached")
)

var (
	ErrNoIntegration   = errors.New("platform: identity integration unavailable")
	ErrMessageNotFound = errors.New("platform: message not found")
	ErrUnknownEndpoint = errors.New("platform: unknown endpoint")
)

var (
	ErrInvalidProfile = errors.New("profile: invalid profile update")
	ErrBreakerOpen    = errors.New("breaker: circuit breaker is open")
	ErrBreakerBusy    = errors.New("breaker: too many requests while half open")
)
