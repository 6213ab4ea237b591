package model

import (
	"errors"
	"testing"

	"github.com/reelforge/video-orchestrator/internal/domain"
)

func TestNewUser_RejectsEmptyEmail(t *testing.T) {
	if _, err := NewUser("u1", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty email, got %v", err)
	}
}

func TestNewUser_GeneratesIDWhenEmpty(t *testing.T) {
	u, err := NewUser("", "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == "" {
		t.Errorf("expected a generated id when none is supplied")
	}
}

func TestNewUser_StartsFreeRegularWithZeroedCount(t *testing.T) {
	u, err := NewUser("u1", "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != RoleRegular || u.Tier != PlanTierFree {
		t.Errorf("expected a new user to start as free-tier regular, got role=%s tier=%s", u.Role, u.Tier)
	}
	if u.DailyJobCount != 0 {
		t.Errorf("expected a zeroed daily job count, got %d", u.DailyJobCount)
	}
	if u.PlanExpiresAt != nil {
		t.Errorf("expected a free-tier user to have a nil PlanExpiresAt")
	}
}

func TestUser_IsZero(t *testing.T) {
	var nilUser *User
	if !nilUser.IsZero() {
		t.Errorf("expected a nil *User to be zero")
	}
	if !(&User{}).IsZero() {
		t.Errorf("expected a user with an empty ID to be zero")
	}
	if (&User{ID: "u1"}).IsZero() {
		t.Errorf("expected a user with a non-empty ID to not be zero")
	}
}

func TestUser_IsAdmin(t *testing.T) {
	var nilUser *User
	if nilUser.IsAdmin() {
		t.Errorf("expected a nil *User to not be admin")
	}
	if (&User{Role: RoleRegular}).IsAdmin() {
		t.Errorf("expected a regular user to not be admin")
	}
	if !(&User{Role: RoleAdmin}).IsAdmin() {
		t.Errorf("expected an admin user to be admin")
	}
}
