package metrics

import (
	"database/sql"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
)

const (
	SchemaVersion = 2

	// SQL statements derived from schema
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS sessions (
	       id          TEXT PRIMARY KEY,
	       started_at  TEXT NOT NULL,
	       ended_at    TEXT
	   );
	   CREATE TABLE IF NOT EXISTS frames (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       session_id      TEXT NOT NULL REFERENCES sessions(id),
	       timestamp       REAL NOT NULL,
	       speed           REAL NOT NULL,
	       sensor_left     INTEGER CHECK (sensor_left IS NULL OR typeof(sensor_left) = 'integer'),
	       sensor_center   INTEGER CHECK (sensor_center IS NULL OR typeof(sensor_center) = 'integer'),
	       sensor_right    INTEGER CHECK (sensor_right IS NULL OR typeof(sensor_right) = 'integer'),
	       cpu_temperature REAL,
	       cpu_usage       REAL,
	       ram_percent     REAL,
	       disk_percent    REAL
	   );
	   CREATE INDEX IF NOT EXISTS frames_session_time ON frames (session_id, timestamp);`

	insertVersionSQL = `
    INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`

	endSessionSQL = `
    UPDATE sessions SET ended_at = datetime('now') WHERE id = ?`

	insertSessionSQL = `
    INSERT INTO sessions (id, started_at) VALUES (?, datetime('now'))`

	insertFrameSQL = `
    INSERT INTO frames (
        session_id, timestamp, speed,
        sensor_left, sensor_center, sensor_right,
        cpu_temperature, cpu_usage, ram_percent, disk_percent
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating telemetry history database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				// Only log if it's not the "already committed" error
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	// Execute schema creation
	log.Debug().Str("sql", createTablesSQL).Msg("Executing SQL statement")
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	log.Debug().Msg("Recording schema version...")
	// Record schema version
	if _, err := tx.Exec(insertVersionSQL, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	log.Debug().Msg("Committing transaction...")
	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}

// GetInsertFrameSQL returns the SQL to insert a telemetry frame
func GetInsertFrameSQL() string {
	return insertFrameSQL
}
