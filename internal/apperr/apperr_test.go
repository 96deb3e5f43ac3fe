package apperr

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{"invalid", Invalid("start %d out of range", 5), ErrInvalidInput, "start 5 out of range"},
		{"not found", NotFound("video %q not found", "a.mp4"), ErrNotFound, `video "a.mp4" not found`},
		{"storage", Storage(os.ErrPermission, "write failed"), ErrStorage, "write failed"},
		{"processing", Processing(errors.New("exit 1"), "ffmpeg failed"), ErrProcessing, "ffmpeg failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if got := Message(tt.err); got != tt.msg {
				t.Errorf("Message() = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestCauseIsReachable(t *testing.T) {
	err := Storage(os.ErrPermission, "write failed")
	if !errors.Is(err, os.ErrPermission) {
		t.Error("cause should be reachable through errors.Is")
	}
	if err.Error() != "write failed: "+os.ErrPermission.Error() {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrappedStillClassifies(t *testing.T) {
	err := fmt.Errorf("cut handler: %w", Invalid("bad range"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("wrapped error should still be ErrInvalidInput")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("wrapped error should not be ErrNotFound")
	}
	if Message(err) != "bad range" {
		t.Errorf("Message() = %q, want %q", Message(err), "bad range")
	}
}

func TestMessage_PlainError(t *testing.T) {
	if got := Message(errors.New("plain")); got != "plain" {
		t.Errorf("Message() = %q, want plain", got)
	}
}
