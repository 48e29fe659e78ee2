package errors

// Common error codes
const (
	// System errors
	ErrInternal ErrorCode = "internal_error"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidWindow   ErrorCode = "invalid_avg_window"
	ErrInvalidColor    ErrorCode = "invalid_color"
	ErrInvalidMaxCount ErrorCode = "invalid_max_count"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Instance errors
	ErrAlreadyRunning ErrorCode = "already_running"

	// Pipeline errors
	ErrSpawnFailed        ErrorCode = "spawn_failed"
	ErrMalformedRecord    ErrorCode = "malformed_record"
	ErrRecoverableFailure ErrorCode = "recoverable_failure"
	ErrFatalFailure       ErrorCode = "fatal_failure"
	ErrShutdownFailed     ErrorCode = "shutdown_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidConfig:      "Invalid configuration",
	ErrReadConfig:         "Failed to read configuration",
	ErrInvalidInterval:    "Invalid interval value",
	ErrInvalidWindow:      "Invalid averaging window",
	ErrInvalidColor:       "Invalid color value",
	ErrInvalidMaxCount:    "Invalid max count",
	ErrInvalidLogLevel:    "Invalid log level",
	ErrAlreadyRunning:     "Another instance is already running",
	ErrSpawnFailed:        "Failed to spawn sampling process",
	ErrMalformedRecord:    "Malformed record",
	ErrRecoverableFailure: "Sampling process exited unexpectedly",
	ErrFatalFailure:       "Sampling pipeline failed",
	ErrShutdownFailed:     "Shutdown failed",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
