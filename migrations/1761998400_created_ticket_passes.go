package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"ticket-pass/internal/services"
)

func init() {
	m.Register(func(app core.App) error {
		return app.Save(services.NewPassesCollection())
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId(services.PassesCollection)
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
