package model

import (
	"errors"
	"testing"

	"github.com/reelforge/video-orchestrator/internal/domain"
)

func TestNewJob_ValidatesInputs(t *testing.T) {
	if _, err := NewJob("", "a sufficiently long prompt", AspectRatioLandscape); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty userID, got %v", err)
	}
	if _, err := NewJob("u1", "", AspectRatioLandscape); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty prompt, got %v", err)
	}
	if _, err := NewJob("u1", "a sufficiently long prompt", AspectRatio("square")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for invalid aspect ratio, got %v", err)
	}
}

func TestNewJob_StartsPendingWithStableID(t *testing.T) {
	j, err := NewJob("u1", "a sufficiently long prompt", AspectRatioPortrait)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != JobStatusPending {
		t.Errorf("expected new job to start pending, got %s", j.Status)
	}
	if j.ID == "" {
		t.Errorf("expected a non-empty ULID-backed id")
	}
	if j.IsTerminal() {
		t.Errorf("a freshly created job must not be terminal")
	}
}

func TestJob_IsTerminal(t *testing.T) {
	cases := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusQueued, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}
	for _, c := range cases {
		j := &Job{Status: c.status}
		if got := j.IsTerminal(); got != c.want {
			t.Errorf("IsTerminal() for status %s = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestAspectRatio_Valid(t *testing.T) {
	if !AspectRatioLandscape.Valid() || !AspectRatioPortrait.Valid() {
		t.Errorf("expected both defined aspect ratios to be valid")
	}
	if AspectRatio("square").Valid() {
		t.Errorf("expected an undefined aspect ratio to be invalid")
	}
}
