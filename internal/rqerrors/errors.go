// Package rqerrors defines the error codes and error type shared across the
// RQ backend. It is a leaf package with no internal dependencies so it can be
// imported by pathutil, tree, queue, rqtree, and syncproc without creating
// import cycles.
package rqerrors

import "fmt"

// ErrorCode classifies a StoreError for callers that need to branch on kind
// rather than match error strings.
type ErrorCode int

const (
	// ErrNotFound indicates the requested path does not exist in the tree.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates a create operation targeted an existing path.
	ErrAlreadyExists

	// ErrNotEmpty indicates a directory delete targeted a non-empty directory.
	ErrNotEmpty

	// ErrIsDirectory indicates a file operation was attempted on a directory.
	ErrIsDirectory

	// ErrNotDirectory indicates a directory operation was attempted on a file.
	ErrNotDirectory

	// ErrInvalidPath indicates a path failed normalization (e.g. a ".." escape).
	ErrInvalidPath

	// ErrIOError indicates an underlying filesystem or transport failure.
	ErrIOError

	// ErrNotSupported indicates the operation is not implemented by this tree.
	ErrNotSupported

	// ErrConflict indicates the cache-protocol or safe-delete predicate
	// detected a divergence between the local copy and the remote.
	ErrConflict

	// ErrRemoteStatus indicates the remote endpoint returned a non-2xx status.
	ErrRemoteStatus

	// ErrPoisoned indicates a queue entry exhausted its retry budget.
	ErrPoisoned

	// ErrAborted indicates an in-flight sync was cancelled by a superseding
	// write. This is not a failure: the entry is neither completed nor
	// retried, it is simply re-read on the next tick.
	ErrAborted

	// ErrForbiddenName indicates a path has a segment beginning with "."
	// and may never be queued for remote sync.
	ErrForbiddenName
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotEmpty:
		return "NotEmpty"
	case ErrIsDirectory:
		return "IsDirectory"
	case ErrNotDirectory:
		return "NotDirectory"
	case ErrInvalidPath:
		return "InvalidPath"
	case ErrIOError:
		return "IOError"
	case ErrNotSupported:
		return "NotSupported"
	case ErrConflict:
		return "Conflict"
	case ErrRemoteStatus:
		return "RemoteStatus"
	case ErrPoisoned:
		return "Poisoned"
	case ErrAborted:
		return "Aborted"
	case ErrForbiddenName:
		return "ForbiddenName"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// StoreError is the error type returned by tree, queue, rqtree, and syncproc
// operations. Path is the offending path, if any; Message is a short
// human-readable description. Err, if set, wraps an underlying cause.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s (path: %s)", e.Code, msg, e.Path)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Kind is the broad classification used by the sync processor to decide
// between retry, surface-and-purge, or fatal propagation (spec.md §7).
type Kind int

const (
	// KindTransient errors are retried: I/O failure, HTTP 5xx, reset, abort.
	KindTransient Kind = iota
	// KindPermanent errors are retried until maxRetries then purged: HTTP 4xx,
	// forbidden names, corrupt work records.
	KindPermanent
	// KindConflict errors never touch the remote: the local copy wins and a
	// syncconflict event is emitted.
	KindConflict
	// KindFatal errors propagate to the protocol layer as command failures:
	// createDirectory/deleteDirectory failures.
	KindFatal
)

// ClassifyCode maps an ErrorCode to its Kind for the processor's retry logic.
func ClassifyCode(c ErrorCode) Kind {
	switch c {
	case ErrConflict:
		return KindConflict
	case ErrAborted:
		return KindTransient
	case ErrIOError, ErrRemoteStatus:
		return KindTransient
	case ErrForbiddenName, ErrPoisoned:
		return KindPermanent
	default:
		return KindPermanent
	}
}

// New builds a StoreError with the given code, message, and path.
func New(code ErrorCode, path, message string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// Wrap builds a StoreError that carries an underlying cause.
func Wrap(code ErrorCode, path, message string, err error) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path, Err: err}
}

// NewNotFound is a convenience constructor mirroring the common case.
func NewNotFound(path string) *StoreError {
	return New(ErrNotFound, path, "not found")
}

// NewAlreadyExists is a convenience constructor mirroring the common case.
func NewAlreadyExists(path string) *StoreError {
	return New(ErrAlreadyExists, path, "already exists")
}

// Is reports whether err is a *StoreError with the given code. It does not
// use errors.As directly so callers get a cheap, allocation-free check.
func Is(err error, code ErrorCode) bool {
	se, ok := err.(*StoreError)
	return ok && se.Code == code
}

// IsTransient reports whether err should be retried without counting against
// maxRetries progress in the caller's own bookkeeping (the queue itself
// always increments retries on non-success; this helper is for logging and
// metrics branches that want to distinguish kinds).
func IsTransient(err error) bool {
	se, ok := err.(*StoreError)
	return ok && ClassifyCode(se.Code) == KindTransient
}

// IsConflict reports whether err represents a detected divergence that must
// not be resolved by silently discarding local data.
func IsConflict(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Code == ErrConflict
}
