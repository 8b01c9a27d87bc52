package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"userphone/internal/status"
	"userphone/models"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfileStore struct {
	profiles map[string]models.Profile
	updates  []models.ProfileUpdate
	err      error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]models.Profile)}
}

func (f *fakeProfileStore) Get(_ context.Context, userID string) (models.Profile, error) {
	if f.err != nil {
		return models.Profile{}, f.err
	}
	return f.profiles[userID], nil
}

func (f *fakeProfileStore) Update(_ context.Context, userID string, upd models.ProfileUpdate) error {
	f.updates = append(f.updates, upd)
	p := f.profiles[userID]
	if upd.Alias != nil {
		p.Alias = *upd.Alias
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	f.profiles[userID] = p
	return nil
}

var neo = models.User{ID: "123456789", DisplayName: "neo", AvatarURL: "https://cdn.example/neo.png"}

func TestProfileService_Identity(t *testing.T) {
	store := newFakeProfileStore()
	svc := NewProfileService(store, slog.Default())
	ctx := context.Background()

	assert.Equal(t, models.Identity{Name: "neo", AvatarURL: "https://cdn.example/neo.png"}, svc.Identity(ctx, neo, false))

	store.profiles[neo.ID] = models.Profile{Alias: "The One"}
	assert.Equal(t, "The One", svc.Alias(ctx, neo, false))
	assert.Equal(t, "https://cdn.example/neo.png", svc.Avatar(ctx, neo, false))

	// anonymity always wins over stored overrides
	assert.Equal(t, "Stranger 6789", svc.Alias(ctx, neo, true))
	assert.Equal(t, AnonymousAvatar, svc.Avatar(ctx, neo, true))
}

func TestProfileService_StoreFailureFallsBack(t *testing.T) {
	store := newFakeProfileStore()
	store.err = errors.New("redis down")
	svc := NewProfileService(store, slog.Default())

	assert.Equal(t, "neo", svc.Alias(context.Background(), neo, false))
}

func TestProfileService_SetProfile(t *testing.T) {
	store := newFakeProfileStore()
	svc := NewProfileService(store, slog.Default())
	ctx := context.Background()

	long := "  " + strings.Repeat("é", 40) + "  "
	require.NoError(t, svc.SetProfile(ctx, neo.ID, &long, nil))
	assert.Equal(t, strings.Repeat("é", 32), store.profiles[neo.ID].Alias)

	require.NoError(t, svc.SetProfile(ctx, neo.ID, nil, lo.ToPtr(" https://img.example/a.png ")))
	assert.Equal(t, "https://img.example/a.png", store.profiles[neo.ID].AvatarURL)

	err := svc.SetProfile(ctx, neo.ID, nil, lo.ToPtr("not a url"))
	assert.ErrorIs(t, err, status.ErrInvalidProfile)
	assert.Equal(t, "https://img.example/a.png", store.profiles[neo.ID].AvatarURL)

	require.NoError(t, svc.SetProfile(ctx, neo.ID, nil, lo.ToPtr("")))
	assert.Empty(t, store.profiles[neo.ID].AvatarURL)

	updates := len(store.updates)
	require.NoError(t, svc.SetProfile(ctx, neo.ID, nil, nil))
	assert.Len(t, store.updates, updates)
}

func TestAnonymousAlias_ShortIDs(t *testing.T) {
	assert.Equal(t, "Stranger 42", anonymousAlias("42"))
	assert.Equal(t, "Stranger 1234", anonymousAlias("1234"))
}
