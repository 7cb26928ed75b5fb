package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := E(KindRefreshFailed, "credentials.get", "refresh failed", errors.New("invalid_grant"))
	wrapped := fmt.Errorf("run analysis: %w", base)

	if got := KindOf(wrapped); got != KindRefreshFailed {
		t.Fatalf("expected %s, got %s", KindRefreshFailed, got)
	}
	if !IsKind(wrapped, KindRefreshFailed) {
		t.Fatalf("expected IsKind to match")
	}
	if Message(wrapped) != "refresh failed" {
		t.Fatalf("unexpected message %q", Message(wrapped))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindUnknown {
		t.Fatalf("expected unknown kind, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
}
