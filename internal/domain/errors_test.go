package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetriable(t *testing.T) {
	t.Run("network error is retriable", func(t *testing.T) {
		err := NewNetworkError("read", errors.New("boom"))
		if !IsRetriable(err) {
			t.Error("expected retriable")
		}
	})

	t.Run("fatal network error is not", func(t *testing.T) {
		err := NewFatalNetworkError("connect", errors.New("boom"))
		if IsRetriable(err) {
			t.Error("expected non-retriable")
		}
	})

	t.Run("config error is never retriable", func(t *testing.T) {
		err := &ConfigError{Field: "ws_url", Err: errors.New("empty")}
		if IsRetriable(err) {
			t.Error("expected non-retriable")
		}
	})

	t.Run("wrapped errors unwrap", func(t *testing.T) {
		inner := NewNetworkError("poll", errors.New("timeout"))
		wrapped := fmt.Errorf("watchdog: %w", inner)
		if !IsRetriable(wrapped) {
			t.Error("expected retriable through wrapping")
		}
	})

	t.Run("plain errors are not retriable", func(t *testing.T) {
		if IsRetriable(errors.New("plain")) {
			t.Error("expected non-retriable")
		}
	})
}

func TestSideOpposite(t *testing.T) {
	if SideLong.Opposite() != SideShort || SideShort.Opposite() != SideLong {
		t.Error("sides should mirror")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusWin, StatusLoss, StatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusActive, StatusPartialWin} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
