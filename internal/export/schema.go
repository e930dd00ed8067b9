package export

import (
	"database/sql"
	"fmt"
	"time"

	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS records (
	       id            INTEGER PRIMARY KEY AUTOINCREMENT,
	       seq           INTEGER NOT NULL CHECK (seq >= 0),
	       timestamp     TEXT NOT NULL,
	       relative_time REAL NOT NULL,
	       kind          TEXT NOT NULL CHECK (kind IN ('PDO', 'RDO', 'MEASUREMENT')),
	       summary       TEXT NOT NULL,
	       rdo_raw       TEXT,
	       rdo_position  TEXT,
	       voltage       REAL,
	       current       REAL,
	       power         REAL
	   );
	   CREATE TABLE IF NOT EXISTS pdo_entries (
	       record_id  INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	       position   INTEGER NOT NULL,
	       summary    TEXT NOT NULL,
	       raw_hex    TEXT NOT NULL,
	       PRIMARY KEY (record_id, position)
	   );`

	insertRecordSQL = `
    INSERT INTO records (
        seq, timestamp, relative_time, kind, summary,
        rdo_raw, rdo_position,
        voltage, current, power
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertPDOSQL = `
    INSERT INTO pdo_entries (record_id, position, summary, raw_hex)
    VALUES (?, ?, ?, ?)`
)

var snapshotTables = []string{"pdo_entries", "records", "schema_versions"}

// initSchema creates the tables and records the schema version
func initSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Debug().Int("version", SchemaVersion).Msg("Snapshot schema initialized")

	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name='schema_versions'
        )
    `).Scan(&exists)
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
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

// prepareSchema makes db hold an empty current schema. A snapshot written
// with another schema version is backed up next to the file first.
func prepareSchema(db *sql.DB, path string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := schemaVersion(db)
	if err != nil {
		return err
	}

	if version != 0 && version != SchemaVersion {
		backup := fmt.Sprintf("%s.v%d.%s.bak", path, version, time.Now().UTC().Format("20060102T150405Z"))
		if _, err := db.Exec("VACUUM INTO ?", backup); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Path  string
				Error string
			}{
				Phase: "backup",
				Path:  backup,
				Error: err.Error(),
			})
		}
		log.Info().Str("path", backup).Int("version", version).Msg("Previous snapshot backed up")
	}

	for _, table := range snapshotTables {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "drop_table",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	return initSchema(db, log)
}
