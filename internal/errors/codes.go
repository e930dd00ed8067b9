package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig          ErrorCode = "invalid_configuration"
	ErrBindFlags              ErrorCode = "bind_flags_failed"
	ErrReadConfig             ErrorCode = "read_config_failed"
	ErrConfigValidationFailed ErrorCode = "config_validation_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Device errors
	ErrDeviceOpenFailed     ErrorCode = "device_open_failed"
	ErrDeviceDisconnected   ErrorCode = "device_disconnected"
	ErrTransientReadError   ErrorCode = "transient_read_error"
	ErrFieldDecodeFailure   ErrorCode = "field_decode_failure"
	ErrQueueOverflow        ErrorCode = "queue_overflow"
	ErrNotConnected         ErrorCode = "not_connected"
	ErrAlreadyConnected     ErrorCode = "already_connected"
	ErrWorkerStopTimeout    ErrorCode = "worker_stop_timeout"
	ErrSessionClosed        ErrorCode = "session_closed"
	ErrInvalidCaptureAction ErrorCode = "invalid_capture_action"

	// Export errors
	ErrImportRowInvalid ErrorCode = "import_row_invalid"
	ErrImportFailed     ErrorCode = "import_failed"
	ErrExportFailed     ErrorCode = "export_failed"
	ErrNothingToExport  ErrorCode = "nothing_to_export"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:               "Internal error occurred",
	ErrInvalidArgument:        "Invalid argument provided",
	ErrNotImplemented:         "Operation not implemented",
	ErrUnavailable:            "Service unavailable",
	ErrAlreadyRunning:         "Another instance is already running",
	ErrInvalidConfig:          "Invalid configuration",
	ErrBindFlags:              "Failed to bind flags",
	ErrReadConfig:             "Failed to read config file",
	ErrConfigValidationFailed: "Configuration value out of range",
	ErrInvalidLogLevel:        "Invalid log level",
	ErrInitFailed:             "Initialization failed",
	ErrShutdownFailed:         "Shutdown failed",
	ErrDeviceOpenFailed:       "Failed to open device",
	ErrDeviceDisconnected:     "Device disconnected",
	ErrTransientReadError:     "Transient device read error",
	ErrFieldDecodeFailure:     "Failed to decode field",
	ErrQueueOverflow:          "Transport queue full",
	ErrNotConnected:           "No device connected",
	ErrAlreadyConnected:       "Device already connected",
	ErrWorkerStopTimeout:      "Ingestion worker did not stop in time",
	ErrSessionClosed:          "Capture session closed",
	ErrInvalidCaptureAction:   "Capture action not allowed in current state",
	ErrImportRowInvalid:       "Invalid import row",
	ErrImportFailed:           "Import failed",
	ErrExportFailed:           "Export failed",
	ErrNothingToExport:        "No records to export",
	ErrOperationFailed:        "Operation failed",
	ErrTimeout:                "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
