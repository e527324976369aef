package platform

import (
	"errors"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{402, false}, // billing exhaustion
		{403, false},
		{404, false},
		{422, false},
	}
	for _, c := range cases {
		err := classifyStatus("test op", c.status, []byte("body"))
		if got := IsRetryable(err); got != c.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", c.status, got, c.retryable)
		}
		if got := IsFatal(err); got == c.retryable {
			t.Errorf("status %d: IsFatal = %v, classification must be exclusive", c.status, got)
		}
	}
}

func TestClassifyStatus_TruncatesBody(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	err := classifyStatus("op", 500, long)
	if len(err.Error()) > 300 {
		t.Errorf("error message too long: %d chars", len(err.Error()))
	}
}

func TestIsRetryable_WrappedErrors(t *testing.T) {
	inner := Retryablef("fetch", "timeout")
	wrapped := errors.Join(errors.New("outer"), inner)
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable must see through wrapping")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !IsFatal(Fatalf("push", "unauthorized")) {
		t.Error("Fatalf must be fatal")
	}
}
