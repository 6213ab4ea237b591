package repository

import (
	"context"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain/model"
)

// JobFields is a sparse update: only non-nil fields are written, and the
// store must set updatedAt server-side on every call regardless of which
// fields were provided.
type JobFields struct {
	Status            *model.JobStatus
	VideoURL          *string
	OperationName     *string
	SceneID           *string
	TokenUsed         *string
	RetryCount        *int
	ErrorMessage      *string
	ReferenceImageURL *string
}

type JobRepository interface {
	Create(ctx context.Context, tx Tx, j *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// UpdateJobFields applies a sparse update. If userID is non-empty, the
	// update is additionally scoped to that owner (defense in depth for
	// caller-supplied job ids).
	UpdateJobFields(ctx context.Context, tx Tx, id, userID string, fields JobFields) error

	// ListByUser returns the user's jobs newest first, backed by the
	// (userId, createdAt desc) index.
	ListByUser(ctx context.Context, tx Tx, userID string, limit, offset int) ([]*model.Job, error)

	// ListNonTerminalStaleSince supports startup crash recovery: jobs in
	// pending/queued status whose updatedAt predates cutoff are candidates
	// for re-submission or failure.
	ListNonTerminalStaleSince(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Job, error)
}
