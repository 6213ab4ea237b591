package repository

import (
	"context"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain/model"
)

// UserRepository persists accounts and their daily quota counters.
type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByEmail(ctx context.Context, tx Tx, email string) (*model.User, error)
	UpdateUserPlan(ctx context.Context, tx Tx, userID string, tier model.PlanTier, startedAt, expiresAt *time.Time) error

	// IncrementDailyCount atomically adds delta to the user's daily job
	// counter, e.g. `UPDATE users SET daily_job_count = daily_job_count + $1`.
	IncrementDailyCount(ctx context.Context, tx Tx, userID string, delta int) error

	// ResetExpiredDailyCounts sets daily_job_count = 0 for every user whose
	// last_count_reset_on predates today in the configured timezone, and
	// returns how many rows were touched.
	ResetExpiredDailyCounts(ctx context.Context, tx Tx, today string) (int, error)
}
