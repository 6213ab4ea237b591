package repository

import (
	"context"

	"github.com/reelforge/video-orchestrator/internal/domain/model"
)

// TokenRepository is the durable side of the Token Pool: CRUD plus the
// transactional, row-locked dispense algorithm from spec.md §4.2. The
// in-memory error/cooldown bookkeeping lives in tokenpool.Pool, not here.
type TokenRepository interface {
	Save(ctx context.Context, tx Tx, t *model.Token) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Token, error)

	// GetActiveTokens returns active tokens ordered by createdAt ascending.
	GetActiveTokens(ctx context.Context, tx Tx) ([]*model.Token, error)

	// ReplaceAllTokens nullifies tokenUsed on every job, deletes all existing
	// tokens, and inserts raw secrets as new tokens with auto-generated
	// labels, in a single transaction. Duplicate secrets are rejected.
	ReplaceAllTokens(ctx context.Context, rawSecrets []string) ([]*model.Token, error)

	// DispenseBatchToken runs the full algorithm of spec.md §4.2 step 1-8
	// under one transaction with a row lock on the winning token.
	// cooldownIDs is the caller's current in-memory cooldown set, since the
	// store has no authority over error/cooldown bookkeeping.
	DispenseBatchToken(ctx context.Context, cooldownIDs map[string]bool) (*model.Token, error)

	GetTokenSettings(ctx context.Context, tx Tx) (*model.TokenSettings, error)
	SaveTokenSettings(ctx context.Context, tx Tx, s *model.TokenSettings) error
}
