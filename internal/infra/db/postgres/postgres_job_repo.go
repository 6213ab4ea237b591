package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*PostgresJobRepo)(nil)

type PostgresJobRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresJobRepo(pool *pgxpool.Pool) *PostgresJobRepo {
	return &PostgresJobRepo{pool: pool}
}

func (r *PostgresJobRepo) Create(ctx context.Context, tx repository.Tx, j *model.Job) error {
	const q = `
INSERT INTO jobs (
  id, user_id, prompt, aspect_ratio, status, video_url, operation_name, scene_id,
  token_used, retry_count, error_message, reference_image_url, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14);`
	_, err := execSQL(ctx, r.pool, tx, q,
		j.ID, j.UserID, j.Prompt, j.AspectRatio, j.Status, j.VideoURL, j.OperationName, j.SceneID,
		nullable(j.TokenUsed), j.RetryCount, nullable(j.ErrorMessage), nullable(j.ReferenceImageURL), j.CreatedAt, j.UpdatedAt)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *PostgresJobRepo) scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var tokenUsed, errMsg, refImg *string
	if err := row.Scan(&j.ID, &j.UserID, &j.Prompt, &j.AspectRatio, &j.Status, &j.VideoURL, &j.OperationName, &j.SceneID,
		&tokenUsed, &j.RetryCount, &errMsg, &refImg, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if tokenUsed != nil {
		j.TokenUsed = *tokenUsed
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	if refImg != nil {
		j.ReferenceImageURL = *refImg
	}
	return &j, nil
}

const jobColumns = `id, user_id, prompt, aspect_ratio, status, video_url, operation_name, scene_id,
       token_used, retry_count, error_message, reference_image_url, created_at, updated_at`

func (r *PostgresJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM jobs WHERE id=$1;`, jobColumns)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return r.scanJob(row)
}

// UpdateJobFields applies a sparse update; updatedAt is always stamped
// server-side regardless of which fields were supplied.
func (r *PostgresJobRepo) UpdateJobFields(ctx context.Context, tx repository.Tx, id, userID string, fields repository.JobFields) error {
	sets := []string{}
	args := []interface{}{id}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if fields.Status != nil {
		sets = append(sets, "status="+arg(*fields.Status))
	}
	if fields.VideoURL != nil {
		sets = append(sets, "video_url="+arg(*fields.VideoURL))
	}
	if fields.OperationName != nil {
		sets = append(sets, "operation_name="+arg(*fields.OperationName))
	}
	if fields.SceneID != nil {
		sets = append(sets, "scene_id="+arg(*fields.SceneID))
	}
	if fields.TokenUsed != nil {
		sets = append(sets, "token_used="+arg(*fields.TokenUsed))
	}
	if fields.RetryCount != nil {
		sets = append(sets, "retry_count="+arg(*fields.RetryCount))
	}
	if fields.ErrorMessage != nil {
		sets = append(sets, "error_message="+arg(*fields.ErrorMessage))
	}
	if fields.ReferenceImageURL != nil {
		sets = append(sets, "reference_image_url="+arg(*fields.ReferenceImageURL))
	}
	sets = append(sets, "updated_at=now()")

	where := "WHERE id=$1"
	if userID != "" {
		where += " AND user_id=" + arg(userID)
	}
	q := fmt.Sprintf("UPDATE jobs SET %s %s;", strings.Join(sets, ", "), where)

	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresJobRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit, offset int) ([]*model.Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM jobs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3;`, jobColumns)
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListNonTerminalStaleSince backs the startup crash-recovery scan: jobs
// stuck in pending/queued whose updatedAt predates cutoff are candidates
// for re-submission or failure, the way the teacher's reconciler rescans
// stuck payments on boot.
func (r *PostgresJobRepo) ListNonTerminalStaleSince(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM jobs WHERE status IN ('pending','queued') AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2;`, jobColumns)
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
