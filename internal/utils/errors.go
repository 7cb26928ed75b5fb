package utils

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can react without string matching.
type Kind string

const (
	KindUnknown               Kind = "Unknown"
	KindCredentialsNotFound   Kind = "CredentialsNotFound"
	KindRefreshFailed         Kind = "RefreshFailed"
	KindDecryptFailed         Kind = "DecryptFailed"
	KindEnrichmentUnavailable Kind = "EnrichmentUnavailable"
	KindStoreUnavailable      Kind = "StoreUnavailable"
	KindRuleMatchError        Kind = "RuleMatchError"
	KindInvalidArgument       Kind = "InvalidArgument"
	KindNotFound              Kind = "NotFound"
)

// AppError wraps an operation, failure kind, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E constructs an AppError of the given kind.
func E(kind Kind, op, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost AppError in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the human-facing message of an AppError, or err.Error().
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Msg != "" {
		return appErr.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
