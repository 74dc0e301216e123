package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_StatusErrors(t *testing.T) {
	for code, want := range map[int]bool{
		408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
		400: false, 401: false, 404: false, 422: false,
	} {
		err := fmt.Errorf("scryfall: %w", &StatusError{StatusCode: code})
		if got := IsTransient(err); got != want {
			t.Errorf("IsTransient(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("invalid input: missing field")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_ConnectionErrors(t *testing.T) {
	for _, errno := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if !IsTransient(fmt.Errorf("dial tcp: %w", errno)) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient_NetTimeout(t *testing.T) {
	if !IsTransient(fmt.Errorf("get: %w", timeoutErr{})) {
		t.Error("net timeout should be transient")
	}
}

func TestIsTransient_MessagePatterns(t *testing.T) {
	if !IsTransient(errors.New("read: connection reset by peer")) {
		t.Error("flattened connection reset should be transient")
	}
}

func TestStatusError_Error(t *testing.T) {
	if got := (&StatusError{StatusCode: 500}).Error(); got != "unexpected status 500" {
		t.Errorf("got %q", got)
	}
	if got := (&StatusError{StatusCode: 429, Body: "slow down"}).Error(); got != "unexpected status 429: slow down" {
		t.Errorf("got %q", got)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("wrap: %w", &StatusError{StatusCode: 404})) {
		t.Error("expected 404 to be not found")
	}
	if IsNotFound(&StatusError{StatusCode: 500}) || IsNotFound(nil) {
		t.Error("unexpected not found")
	}
}
