// Package platform is the narrow view of the chat platform the call services
// depend on.
package platform

//go:generate mockgen -source=platform.go -destination=../../mocks/mock_platform.go -package=mocks

import (
	"context"

	"userphone/models"
)

// IntegrationName is the webhook name used for identity-substituted sends.
const IntegrationName = "userphone"

type Platform interface {
	// Send posts a plain message and returns its id.
	Send(ctx context.Context, endpoint, content string, files []models.File) (string, error)
	// SendAs posts under an arbitrary name and avatar. It returns
	// status.ErrNoIntegration when the endpoint cannot host one.
	SendAs(ctx context.Context, endpoint string, identity models.Identity, content string, files []models.File) (string, error)
	Edit(ctx context.Context, endpoint, messageID, content string) error
	FetchContent(ctx context.Context, endpoint, messageID string) (string, error)
	// Release drops any per-endpoint integration handle.
	Release(ctx context.Context, endpoint string) error
}
