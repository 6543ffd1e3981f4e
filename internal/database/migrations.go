package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

// Migration is a named, run-once schema or data repair step.
type Migration struct {
	Name  string
	Apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, migrations []Migration, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.Name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.Apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.Name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.Name))
		}
	}
	return nil
}

// BackfillEventPersonKeys recomputes the normalized person key columns on
// events written before normalization moved server-side. Registered by the
// agent under a fixed migration name so it runs once per replica.
func BackfillEventPersonKeys() Migration {
	return Migration{
		Name: "2026-07-14_backfill_event_person_keys",
		Apply: func(db *gorm.DB) error {
			return db.Exec(
				"UPDATE events SET person_name_norm = lower(trim(person_name)), record_number_norm = lower(trim(record_number)) WHERE person_name_norm = '' AND person_name <> ''",
			).Error
		},
	}
}
