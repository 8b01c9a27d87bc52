package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"userphone/internal/services/profile"
	"userphone/internal/status"
	"userphone/models"

	"github.com/go-playground/validator/v10"
)

const (
	AnonymousAvatar = "https://i.imgur.com/0h6wYht.png"
	maxAliasLength  = 32
)

// ProfileService resolves the identity a user is relayed under.
type ProfileService struct {
	store    profile.Store
	validate *validator.Validate
	log      *slog.Logger
}

func NewProfileService(store profile.Store, log *slog.Logger) *ProfileService {
	return &ProfileService{store: store, validate: validator.New(), log: log}
}

func anonymousAlias(userID string) string {
	if len(userID) > 4 {
		userID = userID[len(userID)-4:]
	}
	return "Stranger " + userID
}

func (s *ProfileService) Identity(ctx context.Context, user models.User, anonymous bool) models.Identity {
	if anonymous {
		return models.Identity{Name: anonymousAlias(user.ID), AvatarURL: AnonymousAvatar}
	}

	id := models.Identity{Name: user.DisplayName, AvatarURL: user.AvatarURL}
	p, err := s.store.Get(ctx, user.ID)
	if err != nil {
		s.log.Warn("profile lookup failed, using platform identity", "user_id", user.ID, "error", err)
		return id
	}
	if p.Alias != "" {
		id.Name = p.Alias
	}
	if p.AvatarURL != "" {
		id.AvatarURL = p.AvatarURL
	}
	return id
}

func (s *ProfileService) Alias(ctx context.Context, user models.User, anonymous bool) string {
	return s.Identity(ctx, user, anonymous).Name
}

func (s *ProfileService) Avatar(ctx context.Context, user models.User, anonymous bool) string {
	return s.Identity(ctx, user, anonymous).AvatarURL
}

// SetProfile trims both fields and cuts the alias to 32 characters. An empty
// avatar clears the override.
func (s *ProfileService) SetProfile(ctx context.Context, userID string, alias, avatarURL *string) error {
	var upd models.ProfileUpdate
	if alias != nil {
		a := truncateRunes(strings.TrimSpace(*alias), maxAliasLength)
		upd.Alias = &a
	}
	if avatarURL != nil {
		u := strings.TrimSpace(*avatarURL)
		upd.AvatarURL = &u
		if u != "" {
			if err := s.validate.Struct(upd); err != nil {
				return fmt.Errorf("%w: %v", status.ErrInvalidProfile, err)
			}
		}
	}
	if upd.Alias == nil && upd.AvatarURL == nil {
		return nil
	}
	return s.store.Update(ctx, userID, upd)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
