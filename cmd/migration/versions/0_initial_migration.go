package versions

import (
	"log/slog"
	"slices"

	"label_pizza/workspace/schema"

	"gorm.io/gorm"
)

/*
 * The initial schema is created from the gorm models. Later migrations must
 * describe their changes with local copies of the structs they touch so that
 * they keep working after the models in workspace/schema move on.
 */
func Migration_0_initial_migration(txn *gorm.DB) error {
	slog.Info("creating initial workspace schema")

	if err := txn.Migrator().AutoMigrate(schema.AllModels()...); err != nil {
		return err
	}

	slog.Info("initial workspace schema complete")
	return nil
}

// Rollback_0_initial_migration drops every workspace table, dependents first.
func Rollback_0_initial_migration(txn *gorm.DB) error {
	models := slices.Clone(schema.AllModels())
	slices.Reverse(models)
	return txn.Migrator().DropTable(models...)
}
