package errs

import (
	"errors"
	"testing"
)

func TestWrapReturnsNilForNilCause(t *testing.T) {
	if err := Wrap(KindTimeout, "x", nil); err != nil {
		t.Fatalf("want nil, got %v", err)
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindPeerUnreachable, "dial nodeB", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindAlreadyStarted, "trip live")
	if !Is(err, KindAlreadyStarted) {
		t.Fatalf("expected Is to match KindAlreadyStarted")
	}
	if Is(err, KindTimeout) {
		t.Fatalf("did not expect Is to match KindTimeout")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindTimeout) {
		t.Fatalf("expected Is to return false for a non-*Error")
	}
}

func TestSentinelsCarryLegacyDetail(t *testing.T) {
	if AlreadyStarted.Detail != "Already started" {
		t.Fatalf("AlreadyStarted.Detail = %q, want %q", AlreadyStarted.Detail, "Already started")
	}
	if Timeout.Kind != KindTimeout {
		t.Fatalf("Timeout.Kind = %v, want KindTimeout", Timeout.Kind)
	}
}
