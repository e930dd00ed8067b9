package export

import "codeberg.org/mutker/pdctl/internal/errors"

const (
	ErrNothingToExport = errors.ErrNothingToExport
	ErrExportFailed    = errors.ErrExportFailed
	ErrImportFailed    = errors.ErrImportFailed
	ErrRowInvalid      = errors.ErrImportRowInvalid

	ErrUnsupportedFormat      = errors.ErrorCode("export_unsupported_format")
	ErrSchemaInitFailed       = errors.ErrorCode("export_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("export_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("export_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("export_transaction_failed")
	ErrStorageInit            = errors.ErrInitFailed
	ErrStorageClose           = errors.ErrShutdownFailed
)
