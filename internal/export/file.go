package export

import (
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/store"
)

// Format is a snapshot file format, chosen by file extension
type Format string

const (
	FormatCSV    Format = "csv"
	FormatSQLite Format = "sqlite"
)

// FormatFor maps .csv to CSV and .db/.sqlite/.sqlite3 to SQLite.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite, nil
	default:
		return "", errors.New().WithData(ErrUnsupportedFormat, path)
	}
}

// ExportFile writes a snapshot to path in the format its extension names.
func ExportFile(path string, protocol, measurement []store.Record) (err error) {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	if format == FormatSQLite {
		return WriteSQLite(path, protocol, measurement)
	}

	if len(protocol) == 0 && len(measurement) == 0 {
		return errors.New().New(ErrNothingToExport)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.New().Wrap(ErrExportFailed, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.New().Wrap(ErrExportFailed, cerr)
		}
	}()

	return WriteCSV(f, protocol, measurement)
}

// ImportFile reads a snapshot from path
func ImportFile(path string) (ImportResult, error) {
	format, err := FormatFor(path)
	if err != nil {
		return ImportResult{}, err
	}

	if format == FormatSQLite {
		return ReadSQLite(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, errors.New().Wrap(ErrImportFailed, err)
	}
	defer f.Close()

	return ReadCSV(f)
}
