package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"userphone/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// CollectionName is created by the profiles migration.
const CollectionName = "profiles"

// RecordStore keeps profiles as records of the PocketBase "profiles" collection.
type RecordStore struct {
	app core.App
}

func NewRecordStore(app core.App) *RecordStore {
	return &RecordStore{app: app}
}

func (s *RecordStore) Get(ctx context.Context, userID string) (models.Profile, error) {
	var row struct {
		Alias     string `db:"alias"`
		AvatarURL string `db:"avatar_url"`
	}

	err := s.app.DB().
		NewQuery("SELECT alias, avatar_url FROM profiles WHERE user_id = {:user} LIMIT 1").
		Bind(dbx.Params{"user": userID}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, nil
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return models.Profile{Alias: row.Alias, AvatarURL: row.AvatarURL}, nil
}

func (s *RecordStore) Update(ctx context.Context, userID string, upd models.ProfileUpdate) error {
	record, err := s.app.FindFirstRecordByData(CollectionName, "user_id", userID)
	if errors.Is(err, sql.ErrNoRows) {
		collection, cerr := s.app.FindCollectionByNameOrId(CollectionName)
		if cerr != nil {
			return fmt.Errorf("profiles collection: %w", cerr)
		}
		record = core.NewRecord(collection)
		record.Set("user_id", userID)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("find profile %s: %w", userID, err)
	}

	if upd.Alias != nil {
		record.Set("alias", *upd.Alias)
	}
	if upd.AvatarURL != nil {
		record.Set("avatar_url", *upd.AvatarURL)
	}
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save profile %s: %w", userID, err)
	}
	return nil
}
