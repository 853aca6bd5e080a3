package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the caller-visible error taxonomy. Every error that crosses a
// component boundary is classified into exactly one of these kinds so that
// transport and CLI layers can map it to a status/exit code without
// inspecting message text.
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "invalid_input"
	KindInvalidQuery        ErrorKind = "invalid_query"
	KindNotFound            ErrorKind = "not_found"
	KindDuplicateContent    ErrorKind = "duplicate_content"
	KindConflict            ErrorKind = "conflict"
	KindEmbeddingUnavailable ErrorKind = "embedding_unavailable"
	KindEmbeddingQueueFull  ErrorKind = "embedding_queue_full"
	KindStorageUnavailable  ErrorKind = "storage_unavailable"
	KindBackendOverloaded   ErrorKind = "backend_overloaded"
	KindCancelled           ErrorKind = "cancelled"
	KindInternal            ErrorKind = "internal"
)

// Error is the single error type returned across component boundaries.
// It carries the operation name for logging context and wraps the
// underlying cause so callers can still errors.Is/errors.As through it.
type Error struct {
	Kind ErrorKind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (id=%s): %v", e.Op, e.Kind, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %s (id=%s)", e.Op, e.Kind, e.ID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, domain.NotFound("", "")) style kind comparisons
// by matching on Kind alone when the target carries no Err/ID.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrorKind, op string, id string, cause error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: cause}
}

func InvalidInput(op string, cause error) *Error {
	return newErr(KindInvalidInput, op, "", cause)
}

func InvalidQuery(op string, cause error) *Error {
	return newErr(KindInvalidQuery, op, "", cause)
}

func NotFound(op, id string) *Error {
	return newErr(KindNotFound, op, id, nil)
}

func DuplicateContent(op, id string) *Error {
	return newErr(KindDuplicateContent, op, id, nil)
}

func Conflict(op, id string) *Error {
	return newErr(KindConflict, op, id, nil)
}

func EmbeddingUnavailable(op string, cause error) *Error {
	return newErr(KindEmbeddingUnavailable, op, "", cause)
}

func EmbeddingQueueFull(op string) *Error {
	return newErr(KindEmbeddingQueueFull, op, "", nil)
}

func StorageUnavailable(op string, cause error) *Error {
	return newErr(KindStorageUnavailable, op, "", cause)
}

func BackendOverloaded(op string, cause error) *Error {
	return newErr(KindBackendOverloaded, op, "", cause)
}

func Cancelled(op string, cause error) *Error {
	return newErr(KindCancelled, op, "", cause)
}

func Internal(op string, cause error) *Error {
	return newErr(KindInternal, op, "", cause)
}

// KindOf extracts the ErrorKind from err, returning KindInternal if err does
// not wrap a *domain.Error (an invariant violation by a caller that forgot
// to classify it).
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err's classified kind equals kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
