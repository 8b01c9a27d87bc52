package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("profiles")

		collection.Fields.Add(
			&core.TextField{
				Name:     "user_id",
				Required: true,
				Max:      32,
			},
			&core.TextField{
				Name: "alias",
				Max:  32,
			},
			&core.URLField{
				Name: "avatar_url",
			},
			&core.AutodateField{
				Name:     "created",
				OnCreate: true,
			},
			&core.AutodateField{
				Name:     "updated",
				OnCreate: true,
				OnUpdate: true,
			},
		)
		collection.AddIndex("idx_profiles_user_id", true, "user_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("profiles")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
