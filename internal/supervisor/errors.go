package supervisor

import "codeberg.org/mutker/socmon/internal/errors"

const (
	ErrSpawnFailed        = errors.ErrSpawnFailed
	ErrRecoverableFailure = errors.ErrRecoverableFailure
	ErrFatalFailure       = errors.ErrFatalFailure
	ErrShutdownFailed     = errors.ErrShutdownFailed
	ErrClosed             = errors.ErrorCode("supervisor_closed")
	ErrNotReclaimed       = errors.ErrorCode("child_not_reclaimed")
	ErrRetriesExhausted   = errors.ErrorCode("retries_exhausted")
)

// IsSpawnError reports whether err is a failed launch of the child.
func IsSpawnError(err error) bool {
	return errors.HasCode(err, ErrSpawnFailed)
}

// IsFatal reports whether err ends the session.
func IsFatal(err error) bool {
	return errors.HasCode(err, ErrFatalFailure)
}
