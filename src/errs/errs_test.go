package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("accounts", CodeInvalid, WithMessage("Missing userId or userSecret"))

	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if !strings.Contains(err.Error(), "Missing userId") {
		t.Errorf("expected message in error string, got %q", err.Error())
	}
	if err.Status() != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", err.Status())
	}
}

func TestStatusDefaults(t *testing.T) {
	cases := map[Code]int{
		CodeInvalid:          http.StatusBadRequest,
		CodeResolution:       http.StatusInternalServerError,
		CodeUpstream:         http.StatusInternalServerError,
		CodeUnauthorized:     http.StatusUnauthorized,
		CodeMalformed:        http.StatusBadRequest,
		CodeMethodNotAllowed: http.StatusMethodNotAllowed,
	}
	for code, want := range cases {
		if got := New("op", code).Status(); got != want {
			t.Errorf("code %s: expected %d, got %d", code, want, got)
		}
	}
}

func TestWithHTTPOverridesDefault(t *testing.T) {
	err := New("holdings", CodeUpstream, WithHTTP(http.StatusTooManyRequests))
	if err.Status() != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", err.Status())
	}

	err = New("holdings", CodeUpstream, WithHTTP(200))
	if err.Status() != http.StatusInternalServerError {
		t.Errorf("non-error status must fall back to the code default, got %d", err.Status())
	}
}

func TestStatusOfWrapped(t *testing.T) {
	inner := New("activities", CodeResolution, WithDetail("available", []string{"a"}))
	wrapped := fmt.Errorf("route: %w", inner)

	if StatusOf(wrapped) != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", StatusOf(wrapped))
	}
	if CodeOf(wrapped) != CodeResolution {
		t.Errorf("expected resolution code, got %q", CodeOf(wrapped))
	}
	if StatusOf(errors.New("plain")) != http.StatusInternalServerError {
		t.Error("plain errors map to 500")
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New("webhook", CodeMalformed, WithCause(errors.New("eof"))))
	if !errors.Is(err, New("", CodeMalformed)) {
		t.Error("expected errors.Is to match by code")
	}
	if errors.Is(err, New("", CodeInvalid)) {
		t.Error("different codes must not match")
	}
}

func TestPublicMessageFallsBackToStatusText(t *testing.T) {
	err := New("status", CodeUnavailable, WithCause(errors.New("dial tcp: refused")))
	if got := err.PublicMessage(); got != http.StatusText(http.StatusServiceUnavailable) {
		t.Errorf("unexpected public message %q", got)
	}
}
