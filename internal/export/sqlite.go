package export

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/pd"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const defaultDirPerm = 0o755

func openDB(path string) (*sql.DB, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  path,
			Error: err.Error(),
		})
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_foreign_keys=1")
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	return db, nil
}

func closeDB(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

// WriteSQLite replaces the snapshot at path with the given records.
func WriteSQLite(path string, protocol, measurement []store.Record) (err error) {
	errFactory := errors.New()
	log := logger.Default()

	if len(protocol) == 0 && len(measurement) == 0 {
		return errFactory.New(ErrNothingToExport)
	}

	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeDB(db, log); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := prepareSchema(db, path, log); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	recStmt, err := tx.Prepare(insertRecordSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer recStmt.Close()

	pdoStmt, err := tx.Prepare(insertPDOSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer pdoStmt.Close()

	for _, r := range append(append([]store.Record(nil), protocol...), measurement...) {
		var rdoRaw, rdoPos, voltage, current, power any
		if r.RDO != nil {
			rdoRaw = nullString(r.RDO.RawHex)
			rdoPos = nullString(r.RDO.ObjectPosition)
		}
		if r.Sample != nil {
			voltage = nullFloat(r.Sample.Voltage)
			current = nullFloat(r.Sample.Current)
			power = nullFloat(r.Sample.Power)
		}

		res, err := recStmt.Exec(
			int64(r.Index), r.Timestamp, r.RelativeTime, r.Kind.String(), r.Summary,
			rdoRaw, rdoPos,
			voltage, current, power,
		)
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}

		if len(r.PDOs) == 0 {
			continue
		}

		id, err := res.LastInsertId()
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}

		for _, e := range r.PDOs {
			if _, err := pdoStmt.Exec(id, e.Position, e.Summary, e.RawHex); err != nil {
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	log.Info().
		Str("path", path).
		Int("protocol", len(protocol)).
		Int("measurement", len(measurement)).
		Msg("SQLite snapshot written")

	return nil
}

// ReadSQLite loads a snapshot written by WriteSQLite
func ReadSQLite(path string) (result ImportResult, err error) {
	errFactory := errors.New()
	log := logger.Default()

	if _, err := os.Stat(path); err != nil {
		return ImportResult{}, errFactory.Wrap(ErrImportFailed, err)
	}

	db, err := openDB(path)
	if err != nil {
		return ImportResult{}, err
	}
	defer func() {
		if cerr := closeDB(db, log); cerr != nil && err == nil {
			err = cerr
		}
	}()

	version, err := schemaVersion(db)
	if err != nil {
		return ImportResult{}, err
	}
	if version != SchemaVersion {
		return ImportResult{}, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Found    int
			Expected int
		}{
			Found:    version,
			Expected: SchemaVersion,
		})
	}

	pdos, err := readPDOs(db)
	if err != nil {
		return ImportResult{}, err
	}

	rows, err := db.Query(`
        SELECT id, seq, timestamp, relative_time, kind, summary,
               rdo_raw, rdo_position, voltage, current, power
        FROM records
        ORDER BY id`)
	if err != nil {
		return ImportResult{}, errFactory.Wrap(ErrImportFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, seq                 int64
			rec                     store.Record
			kind                    string
			rdoRaw, rdoPos          sql.NullString
			voltage, current, power sql.NullFloat64
		)

		if err := rows.Scan(&id, &seq, &rec.Timestamp, &rec.RelativeTime, &kind, &rec.Summary,
			&rdoRaw, &rdoPos, &voltage, &current, &power); err != nil {
			return ImportResult{}, errFactory.Wrap(ErrImportFailed, err)
		}

		k, err := store.ParseKind(kind)
		if err != nil {
			result.Skipped++
			log.Warn().Str("error_code", string(ErrRowInvalid)).Int64("id", id).Err(err).Msg("Skipping invalid row")
			continue
		}

		rec.Index = uint64(seq)
		rec.Kind = k

		switch k {
		case store.KindPDO:
			rec.PDOs = pdos[id]
		case store.KindRDO:
			rec.RDO = &pd.RDOInfo{Summary: rec.Summary, RawHex: rdoRaw.String, ObjectPosition: rdoPos.String}
		case store.KindMeasurement:
			rec.Sample = &telemetry.Sample{
				Voltage: floatPtr(voltage),
				Current: floatPtr(current),
				Power:   floatPtr(power),
			}
		}

		result.Records = append(result.Records, rec)
		result.Imported++
	}

	if err := rows.Err(); err != nil {
		return ImportResult{}, errFactory.Wrap(ErrImportFailed, err)
	}

	return result, nil
}

func readPDOs(db *sql.DB) (map[int64][]pd.PDOEntry, error) {
	rows, err := db.Query(`
        SELECT record_id, position, summary, raw_hex
        FROM pdo_entries
        ORDER BY record_id, position`)
	if err != nil {
		return nil, errors.New().Wrap(ErrImportFailed, err)
	}
	defer rows.Close()

	out := make(map[int64][]pd.PDOEntry)
	for rows.Next() {
		var id int64
		var e pd.PDOEntry
		if err := rows.Scan(&id, &e.Position, &e.Summary, &e.RawHex); err != nil {
			return nil, errors.New().Wrap(ErrImportFailed, err)
		}
		out[id] = append(out[id], e)
	}

	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return telemetry.Float(v.Float64)
}
