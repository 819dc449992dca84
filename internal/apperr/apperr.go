// Package apperr classifies pipeline failures so the request boundary can map
// them to HTTP statuses without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Unknown Kind = iota
	Configuration
	EmbeddingBackend
	Retrieval
	Generation
	Validation
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case EmbeddingBackend:
		return "embedding_backend"
	case Retrieval:
		return "retrieval"
	case Generation:
		return "generation"
	case Validation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Validationf(op, format string, args ...any) error {
	return Errorf(Validation, op, format, args...)
}

func Configurationf(op, format string, args ...any) error {
	return Errorf(Configuration, op, format, args...)
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status returned by the chat endpoint.
func HTTPStatus(kind Kind) int {
	if kind == Validation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
