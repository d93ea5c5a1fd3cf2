package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can pick a recovery policy.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown ErrorKind = iota
	// KindTransient covers network errors, timeouts and retryable HTTP statuses.
	KindTransient
	// KindMalformed covers upstream payloads that cannot be decoded.
	KindMalformed
	// KindEmpty means the upstream returned no usable samples for the window.
	KindEmpty
	// KindStorage covers any failure of the storage layer.
	KindStorage
	// KindInconsistent means data references something missing from the catalog.
	KindInconsistent
)

// String returns the label used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindEmpty:
		return "empty"
	case KindStorage:
		return "storage"
	case KindInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// Upstream reports whether the failure came from an external feed.
// Upstream failures are recovered by priority backoff.
func (k ErrorKind) Upstream() bool {
	return k == KindTransient || k == KindMalformed || k == KindEmpty
}

// Error is a tagged error carrying the failed operation and asset.
type Error struct {
	Kind    ErrorKind
	Op      string // operation, e.g. "fetch history"
	AssetID string // optional
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Op
	if e.AssetID != "" {
		msg += " " + e.AssetID
	}
	msg += " (" + e.Kind.String() + ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithAsset returns a copy of e annotated with the asset ID.
func (e *Error) WithAsset(assetID string) *Error {
	c := *e
	c.AssetID = assetID
	return &c
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
