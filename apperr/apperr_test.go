package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := New(KindUnauthorized, "actor %s is not a party", "0x9")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected %v to match ErrUnauthorized", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("unauthorized must not match not found")
	}

	wrapped := fmt.Errorf("agreement: record: %w", err)
	if !errors.Is(wrapped, ErrUnauthorized) {
		t.Fatalf("expected wrapped error to keep its kind")
	}
	if KindOf(wrapped) != KindUnauthorized {
		t.Fatalf("expected kind %s got %s", KindUnauthorized, KindOf(wrapped))
	}
	if MessageOf(wrapped) != "actor 0x9 is not a party" {
		t.Fatalf("unexpected message %q", MessageOf(wrapped))
	}
}

func TestKindOfUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("boom")
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal, got %s", KindOf(err))
	}
	if MessageOf(err) != ErrInternal.Message {
		t.Fatalf("expected generic message, got %q", MessageOf(err))
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(KindVerificationUnavailable, cause, "receipt lookup")
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !errors.Is(err, ErrVerificationUnavailable) {
		t.Fatalf("expected verification unavailable kind")
	}
	if Wrap(KindInternal, nil, "noop") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	op := func() (err error) {
		defer Recover(&err)
		var m map[string]int
		m["boom"]++
		return nil
	}

	err := op()
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
