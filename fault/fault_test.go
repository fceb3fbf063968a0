package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorTaxonomy(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(KindInvalidFormat, "EQX-TEST-001", "bad input", base))

	if !IsKind(err, KindInvalidFormat) {
		t.Fatalf("expected KindInvalidFormat, got %q", KindOf(err))
	}
	if IsKind(err, KindInternal) {
		t.Fatalf("unexpected KindInternal match")
	}
	if got := RuleID(err); got != "EQX-TEST-001" {
		t.Fatalf("RuleID: got %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected cause to be reachable via errors.Is")
	}
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(KindDecryption, "EQX-TEST-002", "decryption failed", nil)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error")
	}
	if e.Cause != nil {
		t.Fatalf("expected nil cause")
	}
	if e.Error() != "decryption failed" {
		t.Fatalf("unexpected message %q", e.Error())
	}
}

func TestNonStructuredError(t *testing.T) {
	err := errors.New("plain")
	if KindOf(err) != "" || RuleID(err) != "" {
		t.Fatalf("plain errors have no kind or rule")
	}
}
