package storedb

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrSchemaTooNew indicates the file records a schema migration this build
// does not recognize: the file was written by newer code.
var ErrSchemaTooNew = errors.New("storedb: schema is newer than this build understands")

// Migration is one named, idempotent schema change. Migrations are applied
// in the order returned by KnownMigrations and never reordered or removed
// once released, since their names are the file's schema version.
type Migration struct {
	Name  string
	Apply func(*gorm.DB) error
}

const migrationCreateFullTextIndex = "0001_create_entry_full_text"

// KnownMigrations returns every migration this build understands, in the
// order they must be applied.
func KnownMigrations() []Migration {
	return []Migration{
		{Name: migrationCreateFullTextIndex, Apply: createEntryFullTextIndex},
	}
}

// Migrate runs AutoMigrate for the relational models and then applies any
// known migration not yet recorded as applied, in order.
func Migrate(db *gorm.DB, clockSeconds func() int64) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("storedb: automigrate failed: %w", err)
	}

	for _, migration := range KnownMigrations() {
		var record MigrationRecord
		err := db.Where("name = ?", migration.Name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("storedb: checking migration %s: %w", migration.Name, err)
		}
		if err := migration.Apply(db); err != nil {
			return fmt.Errorf("storedb: applying migration %s: %w", migration.Name, err)
		}
		applied := MigrationRecord{Name: migration.Name, AppliedAtSeconds: clockSeconds()}
		if err := db.Create(&applied).Error; err != nil {
			return fmt.Errorf("storedb: recording migration %s: %w", migration.Name, err)
		}
	}

	return CheckNoUnknownMigrations(db)
}

// CheckNoUnknownMigrations fails with ErrSchemaTooNew if the file records a
// migration name this build does not know about.
func CheckNoUnknownMigrations(db *gorm.DB) error {
	known := make(map[string]struct{})
	for _, migration := range KnownMigrations() {
		known[migration.Name] = struct{}{}
	}

	var records []MigrationRecord
	if err := db.Find(&records).Error; err != nil {
		return fmt.Errorf("storedb: listing applied migrations: %w", err)
	}
	for _, record := range records {
		if _, ok := known[record.Name]; !ok {
			return fmt.Errorf("%w: unrecognized migration %q", ErrSchemaTooNew, record.Name)
		}
	}
	return nil
}
