package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
)

// migration upgrades the history database by one schema version in place,
// keeping every recorded session and frame.
type migration struct {
	to   int
	name string
	sql  string
}

// migrations are applied oldest first. Each entry must move the version up
// by exactly one.
var migrations = []migration{
	{
		to:   2,
		name: "session_end_time",
		sql:  `ALTER TABLE sessions ADD COLUMN ended_at TEXT`,
	},
}

// Migrate brings the history database to SchemaVersion. A new database gets
// the current schema; an older one is backed up to backupDir and upgraded
// step by step. A database written by a newer build is left untouched.
func Migrate(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	switch {
	case version == 0:
		return InitSchema(db, log)
	case version == SchemaVersion:
		log.Debug().Int("version", version).Msg("Schema version is current")
		return nil
	}

	steps, ok := upgradePath(version)
	if !ok {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Found     int
			Supported int
		}{
			Found:     version,
			Supported: SchemaVersion,
		})
	}

	if _, err := backupDatabase(db, backupDir, version); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	for _, m := range steps {
		if err := applyMigration(db, m); err != nil {
			return err
		}
		log.Info().
			Int("version", m.to).
			Str("migration", m.name).
			Msg("Telemetry history schema upgraded")
	}

	return nil
}

// upgradePath returns the steps from version from to SchemaVersion, and
// false when there is no unbroken chain.
func upgradePath(from int) ([]migration, bool) {
	if from > SchemaVersion {
		return nil, false
	}

	var steps []migration
	next := from + 1
	for _, m := range migrations {
		if m.to <= from {
			continue
		}
		if m.to != next {
			return nil, false
		}
		steps = append(steps, m)
		next++
	}

	return steps, next == SchemaVersion+1
}

func applyMigration(db *sql.DB, m migration) (err error) {
	errFactory := errors.New()
	fail := func(phase string, cause error) error {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Migration string
			Phase     string
			Error     string
		}{
			Migration: m.name,
			Phase:     phase,
			Error:     cause.Error(),
		})
	}

	tx, err := db.Begin()
	if err != nil {
		return fail("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.sql); err != nil {
		return fail("apply", err)
	}
	if _, err = tx.Exec(insertVersionSQL, m.to); err != nil {
		return fail("record_version", err)
	}
	if err = tx.Commit(); err != nil {
		return fail("commit", err)
	}

	return nil
}

// backupDatabase copies the database to
// backupDir/telemetry_v<version>_<utc time>.db.
func backupDatabase(db *sql.DB, backupDir string, version int) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  backupDir,
			Error: err.Error(),
		})
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	path := filepath.Join(backupDir, fmt.Sprintf("telemetry_v%d_%s.db", version, stamp))

	// VACUUM INTO requires no active transaction
	if _, err := db.Exec(`VACUUM INTO ?`, path); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  path,
			Error: err.Error(),
		})
	}

	return path, nil
}
