package powermetrics

import "codeberg.org/mutker/socmon/internal/errors"

const (
	ErrMalformedRecord = errors.ErrMalformedRecord
	ErrMissingKey      = errors.ErrorCode("powermetrics_missing_key")
	ErrInvalidValue    = errors.ErrorCode("powermetrics_invalid_value")
	ErrRecordTooLarge  = errors.ErrorCode("powermetrics_record_too_large")
	ErrTruncatedRecord = errors.ErrorCode("powermetrics_truncated_record")
	ErrDecodeFailed    = errors.ErrorCode("powermetrics_decode_failed")
)

// IsMalformed reports whether err describes a record that was dropped.
func IsMalformed(err error) bool {
	return errors.HasCode(err, ErrMalformedRecord)
}

// malformed wraps a detailed cause so every dropped record carries
// ErrMalformedRecord at the top of its chain.
func malformed(code errors.ErrorCode, detail any) errors.Error {
	errFactory := errors.New()
	return errFactory.Wrap(ErrMalformedRecord, errFactory.WithData(code, detail))
}
