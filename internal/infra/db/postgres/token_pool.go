package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	"github.com/reelforge/video-orchestrator/internal/domain/tokenpool"
	"github.com/reelforge/video-orchestrator/internal/infra/metrics"
)

// TokenPoolConfig carries the tunables of spec.md §4.2's error-cooldown
// policy; defaults match errorWindowMinutes=20, errorThreshold=10,
// cooldownHours=2.
type TokenPoolConfig struct {
	ErrorWindow     time.Duration
	ErrorThreshold  int
	Cooldown        time.Duration
}

func DefaultTokenPoolConfig() TokenPoolConfig {
	return TokenPoolConfig{
		ErrorWindow:    20 * time.Minute,
		ErrorThreshold: 10,
		Cooldown:       2 * time.Hour,
	}
}

var _ tokenpool.Pool = (*TokenPool)(nil)

// TokenPool is the Postgres-backed implementation of tokenpool.Pool. It
// depends on the repository.TokenRepository port rather than the concrete
// *PostgresTokenRepo, so tests exercise the cooldown/batch policy above
// against a hand-written fake instead of a live database, the same
// port-not-impl dependency the rest of this codebase follows. The
// error-timestamp and cooldown-expiry maps are process-local, mutex-guarded
// state: multiple submission and polling goroutines call RecordError and
// IsInCooldown concurrently, unlike the teacher's worker.Pool where queue
// state is touched only by the owning goroutine.
type TokenPool struct {
	repo repository.TokenRepository
	cfg  TokenPoolConfig

	mu                  sync.Mutex
	tokenErrorTimestamps map[string][]time.Time
	tokenCooldownUntil   map[string]time.Time

	// rotationLastUsed tracks the lastUsedAt-independent LRU cursor for
	// GetNextRotationToken, keyed by token id, in local process memory so
	// polling's rotation does not perturb the batch dispenser's cursor.
	rotationLastUsed map[string]time.Time
}

func NewTokenPool(repo repository.TokenRepository, cfg TokenPoolConfig) *TokenPool {
	return &TokenPool{
		repo:                 repo,
		cfg:                  cfg,
		tokenErrorTimestamps: make(map[string][]time.Time),
		tokenCooldownUntil:   make(map[string]time.Time),
		rotationLastUsed:     make(map[string]time.Time),
	}
}

// isEligible unifies the batch and rotation eligibility checks per the
// resolved near-threshold open question: batch dispense only excludes
// tokens actually in cooldown, while rotation additionally excludes
// tokens one error away from cooldown, so neither path ever hands out a
// token the other would refuse outright.
func (p *TokenPool) isEligible(tokenID string, forBatch bool) bool {
	if p.isInCooldownLocked(tokenID) {
		return false
	}
	if forBatch {
		return true
	}
	errCount := len(p.pruneLocked(tokenID))
	return errCount < p.cfg.ErrorThreshold-1
}

// pruneLocked drops error timestamps older than ErrorWindow and returns
// the surviving slice. Caller must hold p.mu.
func (p *TokenPool) pruneLocked(tokenID string) []time.Time {
	cutoff := time.Now().Add(-p.cfg.ErrorWindow)
	kept := p.tokenErrorTimestamps[tokenID][:0]
	for _, t := range p.tokenErrorTimestamps[tokenID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.tokenErrorTimestamps[tokenID] = kept
	return kept
}

func (p *TokenPool) isInCooldownLocked(tokenID string) bool {
	until, ok := p.tokenCooldownUntil[tokenID]
	if !ok {
		return false
	}
	if time.Now().Before(until) {
		return true
	}
	delete(p.tokenCooldownUntil, tokenID)
	delete(p.tokenErrorTimestamps, tokenID)
	return false
}

func (p *TokenPool) IsInCooldown(tokenID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isInCooldownLocked(tokenID)
}

// RecordError appends the current instant, prunes stale entries, and
// places the token in cooldown once the surviving count reaches the
// threshold.
func (p *TokenPool) RecordError(tokenID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrorTimestamps[tokenID] = append(p.tokenErrorTimestamps[tokenID], time.Now())
	kept := p.pruneLocked(tokenID)
	if len(kept) >= p.cfg.ErrorThreshold {
		if _, already := p.tokenCooldownUntil[tokenID]; !already {
			metrics.IncTokenCooldown(tokenID)
		}
		p.tokenCooldownUntil[tokenID] = time.Now().Add(p.cfg.Cooldown)
	}
}

func (p *TokenPool) cooldownSnapshot() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.tokenCooldownUntil))
	for id := range p.tokenCooldownUntil {
		if !p.isEligible(id, true) {
			out[id] = true
		}
	}
	return out
}

func (p *TokenPool) DispenseBatchToken(ctx context.Context) (*model.Token, error) {
	cooldownIDs := p.cooldownSnapshot()
	t, err := p.repo.DispenseBatchToken(ctx, cooldownIDs)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.rotationLastUsed[t.ID] = time.Now()
	p.mu.Unlock()
	return t, nil
}

// GetNextRotationToken implements the least-recently-used secondary
// dispense mode used by status polling, where batch semantics do not
// apply.
func (p *TokenPool) GetNextRotationToken(ctx context.Context) (*model.Token, error) {
	tokens, err := p.repo.GetActiveTokens(ctx, nil)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	var best *model.Token
	var bestUsed time.Time
	for _, t := range tokens {
		if !p.isEligible(t.ID, false) {
			continue
		}
		used := p.rotationLastUsed[t.ID]
		if best == nil || used.Before(bestUsed) {
			best, bestUsed = t, used
		}
	}
	if best != nil {
		p.rotationLastUsed[best.ID] = time.Now()
	}
	p.mu.Unlock()

	if best == nil {
		return nil, domain.ErrNoTokensAvailable
	}
	return best, nil
}

func (p *TokenPool) ReplaceAllTokens(ctx context.Context, rawSecrets []string) ([]*model.Token, error) {
	tokens, err := p.repo.ReplaceAllTokens(ctx, rawSecrets)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.tokenErrorTimestamps = make(map[string][]time.Time)
	p.tokenCooldownUntil = make(map[string]time.Time)
	p.rotationLastUsed = make(map[string]time.Time)
	p.mu.Unlock()
	return tokens, nil
}

func (p *TokenPool) GetActiveTokens(ctx context.Context) ([]*model.Token, error) {
	return p.repo.GetActiveTokens(ctx, nil)
}

func (p *TokenPool) GetTokenSettings(ctx context.Context) (*model.TokenSettings, error) {
	return p.repo.GetTokenSettings(ctx, nil)
}
