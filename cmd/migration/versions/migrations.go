// Package versions holds the versioned migrations of the workspace store.
package versions

import (
	"fmt"
	"log/slog"
	"slices"

	"label_pizza/workspace/schema"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

const (
	migrationsTable = "migrations"
	// Recorded by gormigrate when a clean store is initialized from InitSchema.
	schemaInitId = "SCHEMA_INIT"
)

// migrationRecord is the row gormigrate writes for every applied migration.
type migrationRecord struct {
	Id string `gorm:"primaryKey;size:255"`
}

func (migrationRecord) TableName() string {
	return migrationsTable
}

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID:       "0",
			Migrate:  Migration_0_initial_migration,
			Rollback: Rollback_0_initial_migration,
		},
	}
}

func newMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	opts := *gormigrate.DefaultOptions
	opts.TableName = migrationsTable

	migration := gormigrate.New(db, &opts, migrations())

	migration.InitSchema(func(txn *gorm.DB) error {
		slog.Info("clean database detected, running full schema initialization")
		return txn.AutoMigrate(schema.AllModels()...)
	})

	return migration
}

// Migrate brings the store up to the latest schema version.
func Migrate(db *gorm.DB) error {
	if err := newMigrator(db).Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("migration completed successfully")
	return nil
}

// Reset drops every workspace table, including the migration history, and
// migrates the empty store again.
func Reset(db *gorm.DB) error {
	tables := slices.Clone(schema.AllModels())
	slices.Reverse(tables)
	tables = append(tables, &migrationRecord{})

	if err := db.Migrator().DropTable(tables...); err != nil {
		return fmt.Errorf("error dropping workspace tables: %w", err)
	}
	slog.Warn("workspace store reset, all tables dropped")

	return Migrate(db)
}

// Applied returns the ids of the migrations recorded in the store.
func Applied(db *gorm.DB) ([]string, error) {
	if !db.Migrator().HasTable(migrationsTable) {
		return nil, nil
	}
	var ids []string
	if err := db.Table(migrationsTable).Where("id <> ?", schemaInitId).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("error listing applied migrations: %w", err)
	}
	return ids, nil
}
