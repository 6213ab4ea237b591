package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (
  id, email, password_hash, role, tier, plan_started_at, plan_expires_at,
  daily_job_count, last_count_reset_on, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
ON CONFLICT (id) DO UPDATE SET
  email=$2, password_hash=$3, role=$4, tier=$5, plan_started_at=$6, plan_expires_at=$7,
  daily_job_count=$8, last_count_reset_on=$9, updated_at=now();`
	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, u.Email, u.PasswordHash, u.Role, u.Tier, u.PlanStartedAt, u.PlanExpiresAt,
		u.DailyJobCount, u.LastCountResetOn, u.CreatedAt)
	return err
}

func (r *PostgresUserRepo) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Tier, &u.PlanStartedAt, &u.PlanExpiresAt,
		&u.DailyJobCount, &u.LastCountResetOn, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	const q = `
SELECT id, email, password_hash, role, tier, plan_started_at, plan_expires_at,
       daily_job_count, last_count_reset_on, created_at, updated_at
  FROM users WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return r.scanUser(row)
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.User, error) {
	const q = `
SELECT id, email, password_hash, role, tier, plan_started_at, plan_expires_at,
       daily_job_count, last_count_reset_on, created_at, updated_at
  FROM users WHERE email=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, email)
	if err != nil {
		return nil, err
	}
	return r.scanUser(row)
}

func (r *PostgresUserRepo) UpdateUserPlan(ctx context.Context, tx repository.Tx, userID string, tier model.PlanTier, startedAt, expiresAt *time.Time) error {
	const q = `UPDATE users SET tier=$2, plan_started_at=$3, plan_expires_at=$4, updated_at=now() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, userID, tier, startedAt, expiresAt)
	return err
}

func (r *PostgresUserRepo) IncrementDailyCount(ctx context.Context, tx repository.Tx, userID string, delta int) error {
	const q = `UPDATE users SET daily_job_count = daily_job_count + $2, updated_at=now() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, userID, delta)
	return err
}

func (r *PostgresUserRepo) ResetExpiredDailyCounts(ctx context.Context, tx repository.Tx, today string) (int, error) {
	const q = `UPDATE users SET daily_job_count = 0, last_count_reset_on = $1::date WHERE last_count_reset_on < $1::date;`
	tag, err := execSQL(ctx, r.pool, tx, q, today)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
