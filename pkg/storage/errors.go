package storage

import (
	"errors"
	"fmt"
	"net/http"

	"assetvault/pkg/types"
)

// The four error kinds a backend may return. Underlying causes stay in the
// chain, so errors.Is works for both the kind and e.g. context.Canceled.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("item not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBackendFailure     = errors.New("backend failure")
)

// InvalidInput reports a request the backend refuses to act on.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFound reports a missing metadata row.
func NotFound(id types.ItemID) error {
	return fmt.Errorf("item %s: %w", id, ErrNotFound)
}

// Unavailable reports content that cannot be reached although its row exists.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, cause)
}

// Failure reports a medium that rejected the operation. Errors that already
// carry a kind pass through untouched.
func Failure(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if Classified(cause) {
		return cause
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendFailure, cause)
}

// Classified reports whether err already carries one of the four kinds.
func Classified(err error) bool {
	return KindOf(err) != nil
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrInvalidInput, ErrNotFound, ErrStorageUnavailable, ErrBackendFailure} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName is a stable label for metrics and logs.
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	switch KindOf(err) {
	case ErrInvalidInput:
		return "invalid_input"
	case ErrNotFound:
		return "not_found"
	case ErrStorageUnavailable:
		return "storage_unavailable"
	default:
		return "backend_failure"
	}
}

// HTTPStatus maps an error to the status the HTTP layer should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
