package model

import (
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain"

	"github.com/google/uuid"
)

// PlanTier identifies a subscription tier for bulk video generation access.
type PlanTier string

const (
	PlanTierFree   PlanTier = "free"
	PlanTierScale  PlanTier = "scale"
	PlanTierEmpire PlanTier = "empire"
)

// Role distinguishes admins, who bypass plan checks entirely.
type Role string

const (
	RoleRegular Role = "regular"
	RoleAdmin   Role = "admin"
)

// User is the account that owns jobs and accrues a daily submission count.
// PlanExpiresAt is nil iff Tier == PlanTierFree or Role == RoleAdmin.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             Role
	Tier             PlanTier
	PlanStartedAt    *time.Time
	PlanExpiresAt    *time.Time
	DailyJobCount    int
	LastCountResetOn time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewUser constructs a free-tier regular user.
func NewUser(id, email string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:               id,
		Email:            email,
		Role:             RoleRegular,
		Tier:             PlanTierFree,
		DailyJobCount:    0,
		LastCountResetOn: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
