// Package profile persists per-user alias and avatar overrides.
package profile

import (
	"context"

	"userphone/models"
)

// Store backends: a JSON file, a Redis hash per user, or a PocketBase collection.
type Store interface {
	// Get returns the zero Profile for unknown users.
	Get(ctx context.Context, userID string) (models.Profile, error)
	// Update writes only the non-nil fields of upd.
	Update(ctx context.Context, userID string, upd models.ProfileUpdate) error
}

func apply(p models.Profile, upd models.ProfileUpdate) models.Profile {
	if upd.Alias != nil {
		p.Alias = *upd.Alias
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	return p
}
