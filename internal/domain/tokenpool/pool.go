// Package tokenpool defines the port the rest of the orchestrator uses to
// obtain upstream video-generation credentials. The implementation lives
// beside the Postgres repositories, because dispense must run inside a
// database transaction with row-level locking; this package only states
// the contract, the way the teacher keeps AIJobRepository's shape in
// domain/ports/repository while MongoDB/Postgres owns the locking.
package tokenpool

import (
	"context"

	"github.com/reelforge/video-orchestrator/internal/domain/model"
)

// Pool dispenses tokens under batch-rotation and error-cooldown policy and
// tracks per-token error history. Cooldown/error-window bookkeeping is
// owned entirely by the implementation's in-memory state; no other
// component reads it directly.
type Pool interface {
	// DispenseBatchToken runs the full batch-rotation algorithm under one
	// transaction. Returns domain.ErrNoTokensAvailable if every active
	// token is in cooldown or none exist.
	DispenseBatchToken(ctx context.Context) (*model.Token, error)

	// GetNextRotationToken returns the least-recently-used active token
	// that is neither in cooldown nor within one error of the cooldown
	// threshold, for use outside batch semantics (status polling).
	GetNextRotationToken(ctx context.Context) (*model.Token, error)

	// RecordError appends an error timestamp for tokenID and places it in
	// cooldown if the sliding-window error count reaches the threshold.
	RecordError(tokenID string)

	// IsInCooldown reports whether tokenID is currently excluded from
	// dispense, lazily expiring stale cooldowns as a side effect.
	IsInCooldown(tokenID string) bool

	ReplaceAllTokens(ctx context.Context, rawSecrets []string) ([]*model.Token, error)
	GetActiveTokens(ctx context.Context) ([]*model.Token, error)

	// GetTokenSettings returns the round-robin/pacing singleton the
	// Submission Queue reads once at the start of each processor loop.
	GetTokenSettings(ctx context.Context) (*model.TokenSettings, error)
}
