package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrDatabase, "insert pending item", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable via errors.Is")
	}
	if !HasCode(err, ErrDatabase) {
		t.Errorf("Expected DATABASE_ERROR, got %s", CodeOf(err))
	}
}

func TestCodeOfUnknownError(t *testing.T) {
	if code := CodeOf(fmt.Errorf("plain")); code != ErrInternal {
		t.Errorf("Expected INTERNAL for plain errors, got %s", code)
	}
	if code := CodeOf(nil); code != "" {
		t.Errorf("Expected empty code for nil, got %s", code)
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := New(ErrNotFound, "pending item missing")
	outer := fmt.Errorf("while deleting: %w", inner)

	if !HasCode(outer, ErrNotFound) {
		t.Error("Expected code to survive fmt.Errorf wrapping")
	}
	if HasCode(outer, ErrDatabase) {
		t.Error("Unexpected DATABASE_ERROR match")
	}
}

func TestNewfFormats(t *testing.T) {
	err := Newf(ErrInvalid, "unknown item kind %q", "voice_memo")
	if err.Error() == "" {
		t.Fatal("Expected a message")
	}
	if !HasCode(err, ErrInvalid) {
		t.Errorf("Expected INVALID, got %s", CodeOf(err))
	}
}
