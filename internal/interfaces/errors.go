package interfaces

import (
	"errors"
	"fmt"
)

// Sentinel errors for the RAG error taxonomy. Use errors.Is against these.
var (
	ErrBackendUnavailable     = errors.New("embedding backend unavailable")
	ErrInvalidBackendResponse = errors.New("invalid backend response")
	ErrDimensionMismatch      = errors.New("embedding dimension mismatch")
	ErrStoreCorruption        = errors.New("vector store corrupted")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
)

// ErrorKind is the stable, user-visible name of an error category
type ErrorKind string

const (
	KindBackendUnavailable     ErrorKind = "BackendUnavailable"
	KindInvalidBackendResponse ErrorKind = "InvalidBackendResponse"
	KindDimensionMismatch      ErrorKind = "DimensionMismatch"
	KindIndexingPartialFailure ErrorKind = "IndexingPartialFailure"
	KindStoreCorruption        ErrorKind = "StoreCorruption"
	KindNoGroundingFound       ErrorKind = "NoGroundingFound"
	KindNotFound               ErrorKind = "NotFound"
	KindInvalidInput           ErrorKind = "InvalidInput"
	KindUnauthorized           ErrorKind = "Unauthorized"
	KindInternal               ErrorKind = "Internal"
)

// RAGError carries an error kind and the operation that produced it
type RAGError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RAGError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RAGError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error kind
func (e *RAGError) Is(target error) bool {
	return sentinelFor(e.Kind) == target && target != nil
}

// NewError wraps err with a kind and operation name
func NewError(kind ErrorKind, op string, err error) *RAGError {
	return &RAGError{Kind: kind, Op: op, Err: err}
}

// BackendUnavailable wraps a transport or timeout failure
func BackendUnavailable(op string, err error) error {
	return NewError(KindBackendUnavailable, op, err)
}

// InvalidBackendResponse wraps a malformed payload failure
func InvalidBackendResponse(op string, err error) error {
	return NewError(KindInvalidBackendResponse, op, err)
}

// DimensionMismatch reports a vector whose length differs from the store dimension
func DimensionMismatch(op string, want, got int) error {
	return NewError(KindDimensionMismatch, op, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, got))
}

// StoreCorruption reports an unreadable persisted index
func StoreCorruption(op string, err error) error {
	return NewError(KindStoreCorruption, op, err)
}

// KindOf returns the error kind of err, or KindInternal for unclassified errors
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ragErr *RAGError
	if errors.As(err, &ragErr) {
		return ragErr.Kind
	}
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrInvalidBackendResponse):
		return KindInvalidBackendResponse
	case errors.Is(err, ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, ErrStoreCorruption):
		return KindStoreCorruption
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	}
	return KindInternal
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindBackendUnavailable:
		return ErrBackendUnavailable
	case KindInvalidBackendResponse:
		return ErrInvalidBackendResponse
	case KindDimensionMismatch:
		return ErrDimensionMismatch
	case KindStoreCorruption:
		return ErrStoreCorruption
	case KindNotFound:
		return ErrNotFound
	case KindInvalidInput:
		return ErrInvalidInput
	}
	return nil
}
