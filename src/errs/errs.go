// Package errs provides the structured error envelope shared by services and handlers.
package errs

import (
	"errors"
	"net/http"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeInvalid indicates missing or invalid client input.
	CodeInvalid Code = "invalid_request"
	// CodeResolution indicates no upstream operation matched a capability.
	CodeResolution Code = "resolution_failed"
	// CodeUpstream indicates the upstream service reported a failure.
	CodeUpstream Code = "upstream"
	// CodeUnauthorized indicates a failed authentication check.
	CodeUnauthorized Code = "unauthorized"
	// CodeMalformed indicates an unparsable payload.
	CodeMalformed Code = "malformed_payload"
	// CodeMethodNotAllowed indicates an unsupported HTTP method.
	CodeMethodNotAllowed Code = "method_not_allowed"
	// CodeUnavailable indicates a dependency is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

var defaultStatus = map[Code]int{
	CodeInvalid:          http.StatusBadRequest,
	CodeResolution:       http.StatusInternalServerError,
	CodeUpstream:         http.StatusInternalServerError,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeMalformed:        http.StatusBadRequest,
	CodeMethodNotAllowed: http.StatusMethodNotAllowed,
	CodeUnavailable:      http.StatusServiceUnavailable,
}

// E captures structured error information.
type E struct {
	Op      string
	Code    Code
	HTTP    int
	Message string
	// Details are JSON-safe values merged into the error response body.
	Details map[string]any

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:   strings.TrimSpace(op),
		Code: code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the HTTP status the error maps to.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithDetail adds one diagnostic value.
func WithDetail(key string, value any) Option {
	return func(e *E) {
		if e.Details == nil {
			e.Details = make(map[string]any)
		}
		e.Details[key] = value
	}
}

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// Error implements the error interface.
func (e *E) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches envelopes by code so errors.Is(err, errs.New("", CodeInvalid)) works.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// Status returns the HTTP status for the envelope.
func (e *E) Status() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	if e.HTTP >= 400 && e.HTTP <= 599 {
		return e.HTTP
	}
	if status, ok := defaultStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage is the message safe to return to a caller.
func (e *E) PublicMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status())
}

// StatusOf returns the HTTP status for any error, 500 when it carries no envelope.
func StatusOf(err error) int {
	var e *E
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// CodeOf returns the error code, or empty when err carries no envelope.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
