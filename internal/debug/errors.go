package debug

import (
	"errors"
	"net/http"
)

// Kind classifies a debug operation failure so clients can tell "fix your
// rules", "fix your OML", "parse first" and "server problem" apart.
type Kind string

const (
	KindParseFailed     Kind = "parse_failed"
	KindTransformFailed Kind = "transform_failed"
	KindNoParseResult   Kind = "no_parse_result"
	KindInvalidRequest  Kind = "invalid_request"
	KindNotImplemented  Kind = "not_implemented"
	KindInternal        Kind = "internal"
)

// Sentinels for errors.Is
var (
	ErrParseFailed     = &Error{Kind: KindParseFailed}
	ErrTransformFailed = &Error{Kind: KindTransformFailed}
	ErrNoParseResult   = &Error{Kind: KindNoParseResult}
	ErrInvalidRequest  = &Error{Kind: KindInvalidRequest}
	ErrNotImplemented  = &Error{Kind: KindNotImplemented}
	ErrInternal        = &Error{Kind: KindInternal}
)

// Error is the structured failure returned by every Controller operation
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return string(e.Kind) + ": " + e.Detail
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind onto a response status code
func (k Kind) HTTPStatus() int {
	switch k {
	case KindParseFailed, KindTransformFailed, KindInvalidRequest:
		return http.StatusBadRequest
	case KindNoParseResult:
		return http.StatusConflict
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage is the detail safe to show a caller. Internal faults never
// leak their cause.
func ClientMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "internal server error"
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func newError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func invalidRequest(detail string) *Error {
	return newError(KindInvalidRequest, detail, nil)
}
