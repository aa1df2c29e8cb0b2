package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure well enough for handlers to pick a status code
// without inspecting error text.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindStorageIO      Kind = "storage_io"
	KindDBIO           Kind = "db_io"
	KindRuntimeMissing Kind = "runtime_missing"
	KindRuntimeTimeout Kind = "runtime_timeout"
	KindRuntimeError   Kind = "runtime_error"
	KindSchemaMismatch Kind = "schema_mismatch"
	KindDependency     Kind = "dependency_unavailable"
	KindUnsupported    Kind = "unsupported_type"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the wrap chain for an *Error and returns its kind, or ""
// when the error carries no classification.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Status maps an error kind to the HTTP status the surface exposes.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnsupported:
		return http.StatusUnsupportedMediaType
	case KindSchemaMismatch:
		return http.StatusUnprocessableEntity
	case KindRuntimeMissing:
		return http.StatusFailedDependency
	case KindRuntimeTimeout:
		return http.StatusGatewayTimeout
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
