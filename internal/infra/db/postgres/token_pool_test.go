package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
)

// fakeTokenRepo is a hand-written fake of repository.TokenRepository,
// reimplementing just enough of spec.md §4.2's dispense algorithm
// in-memory to exercise TokenPool's cooldown/error-window policy without
// a live database, matching the teacher's mocks_test.go convention (no
// mocking library).
var _ repository.TokenRepository = (*fakeTokenRepo)(nil)

type fakeTokenRepo struct {
	tokens  []*model.Token
	lastIdx int
}

func newFakeTokenRepo(n int) *fakeTokenRepo {
	f := &fakeTokenRepo{}
	for i := 0; i < n; i++ {
		f.tokens = append(f.tokens, &model.Token{ID: string(rune('a' + i)), Active: true, CreatedAt: time.Now()})
	}
	return f
}

func (f *fakeTokenRepo) Save(ctx context.Context, tx repository.Tx, t *model.Token) error { return nil }
func (f *fakeTokenRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Token, error) {
	for _, t := range f.tokens {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, domain.ErrNotFound
}
func (f *fakeTokenRepo) GetActiveTokens(ctx context.Context, tx repository.Tx) ([]*model.Token, error) {
	var out []*model.Token
	for _, t := range f.tokens {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}
func (f *fakeTokenRepo) ReplaceAllTokens(ctx context.Context, rawSecrets []string) ([]*model.Token, error) {
	seen := map[string]bool{}
	f.tokens = nil
	f.lastIdx = 0
	for i, s := range rawSecrets {
		if seen[s] {
			return nil, domain.ErrDuplicateToken
		}
		seen[s] = true
		f.tokens = append(f.tokens, &model.Token{ID: string(rune('a' + i)), Secret: s, Active: true, CreatedAt: time.Now()})
	}
	return f.tokens, nil
}
func (f *fakeTokenRepo) GetTokenSettings(ctx context.Context, tx repository.Tx) (*model.TokenSettings, error) {
	return &model.TokenSettings{LastUsedTokenIndex: f.lastIdx, VideosPerBatch: 10, BatchDelaySeconds: 30}, nil
}
func (f *fakeTokenRepo) SaveTokenSettings(ctx context.Context, tx repository.Tx, s *model.TokenSettings) error {
	f.lastIdx = s.LastUsedTokenIndex
	return nil
}

// DispenseBatchToken mirrors spec.md §4.2 steps 1-8: round-robin cursor
// over the non-cooldown active set, rolling a token's batch count over to
// the next token once it reaches defaultBatchSize.
func (f *fakeTokenRepo) DispenseBatchToken(ctx context.Context, cooldownIDs map[string]bool) (*model.Token, error) {
	var available []*model.Token
	for _, t := range f.tokens {
		if t.Active && !cooldownIDs[t.ID] {
			available = append(available, t)
		}
	}
	if len(available) == 0 {
		return nil, domain.ErrNoTokensAvailable
	}
	i := f.lastIdx % len(available)
	cur := available[i]
	if cur.CurrentBatchCount >= defaultBatchSize {
		cur.CurrentBatchCount = 0
		i = (f.lastIdx + 1) % len(available)
		cur = available[i]
		f.lastIdx = i
	}
	cur.CurrentBatchCount++
	cur.TotalGenerated++
	now := time.Now()
	cur.LastUsedAt = &now
	return cur, nil
}

func TestDispenseBatchToken_RolloverAdvancesCursor(t *testing.T) {
	repo := newFakeTokenRepo(2)
	repo.tokens[0].CurrentBatchCount = defaultBatchSize - 1 // 99
	pool := NewTokenPool(repo, DefaultTokenPoolConfig())

	first, err := pool.DispenseBatchToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != repo.tokens[0].ID || first.CurrentBatchCount != defaultBatchSize {
		t.Fatalf("expected first dispense to complete token 0's batch, got id=%s count=%d", first.ID, first.CurrentBatchCount)
	}

	second, err := pool.DispenseBatchToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != repo.tokens[1].ID {
		t.Fatalf("expected rollover to advance to token 1, got %s", second.ID)
	}
	if second.CurrentBatchCount != 1 {
		t.Fatalf("expected advanced token's batch count to be 1, got %d", second.CurrentBatchCount)
	}
	if repo.tokens[0].CurrentBatchCount != 0 {
		t.Fatalf("expected rolled-over token's batch count reset to 0, got %d", repo.tokens[0].CurrentBatchCount)
	}
}

func TestTokenPool_CooldownTripsAfterTenErrorsAndExpires(t *testing.T) {
	repo := newFakeTokenRepo(1)
	cfg := TokenPoolConfig{ErrorWindow: 20 * time.Minute, ErrorThreshold: 10, Cooldown: 2 * time.Hour}
	pool := NewTokenPool(repo, cfg)
	tokenID := repo.tokens[0].ID

	for i := 0; i < 9; i++ {
		pool.RecordError(tokenID)
	}
	if pool.IsInCooldown(tokenID) {
		t.Fatalf("expected token not yet in cooldown after 9 errors")
	}

	pool.RecordError(tokenID) // 10th error trips the threshold
	if !pool.IsInCooldown(tokenID) {
		t.Fatalf("expected token in cooldown after 10th error")
	}

	_, err := pool.DispenseBatchToken(context.Background())
	if !errors.Is(err, domain.ErrNoTokensAvailable) {
		t.Fatalf("expected ErrNoTokensAvailable while the only token is in cooldown, got %v", err)
	}

	// Force the cooldown window to have elapsed and confirm the error
	// history clears and dispense succeeds again.
	pool.mu.Lock()
	pool.tokenCooldownUntil[tokenID] = time.Now().Add(-time.Second)
	pool.mu.Unlock()

	if pool.IsInCooldown(tokenID) {
		t.Fatalf("expected cooldown to have expired")
	}
	pool.mu.Lock()
	remaining := len(pool.tokenErrorTimestamps[tokenID])
	pool.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected error history cleared on cooldown expiry, got %d entries", remaining)
	}

	tok, err := pool.DispenseBatchToken(context.Background())
	if err != nil {
		t.Fatalf("expected dispense to succeed after cooldown expiry: %v", err)
	}
	if tok.ID != tokenID {
		t.Fatalf("expected the recovered token to be dispensed, got %s", tok.ID)
	}
}

func TestTokenPool_GetNextRotationTokenSkipsNearThreshold(t *testing.T) {
	repo := newFakeTokenRepo(2)
	cfg := TokenPoolConfig{ErrorWindow: 20 * time.Minute, ErrorThreshold: 10, Cooldown: 2 * time.Hour}
	pool := NewTokenPool(repo, cfg)

	tokenA, tokenB := repo.tokens[0].ID, repo.tokens[1].ID
	for i := 0; i < 9; i++ {
		pool.RecordError(tokenA) // one short of cooldown, but at ERROR_THRESHOLD-1
	}

	tok, err := pool.GetNextRotationToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.ID != tokenB {
		t.Fatalf("expected rotation to skip near-threshold token A, got %s", tok.ID)
	}

	// Push both tokens to near-threshold: rotation must report unavailable.
	for i := 0; i < 9; i++ {
		pool.RecordError(tokenB)
	}
	if _, err := pool.GetNextRotationToken(context.Background()); !errors.Is(err, domain.ErrNoTokensAvailable) {
		t.Fatalf("expected ErrNoTokensAvailable when every token is near threshold, got %v", err)
	}
}

func TestTokenPool_ReplaceAllTokensClearsCooldownState(t *testing.T) {
	repo := newFakeTokenRepo(1)
	pool := NewTokenPool(repo, DefaultTokenPoolConfig())
	tokenID := repo.tokens[0].ID
	for i := 0; i < 10; i++ {
		pool.RecordError(tokenID)
	}
	if !pool.IsInCooldown(tokenID) {
		t.Fatalf("expected token in cooldown before replace")
	}

	newTokens, err := pool.ReplaceAllTokens(context.Background(), []string{"secret-1", "secret-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(newTokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(newTokens))
	}
	if pool.IsInCooldown(tokenID) {
		t.Fatalf("expected stale cooldown state cleared after replace")
	}
}

func TestTokenPool_ReplaceAllTokensRejectsDuplicates(t *testing.T) {
	repo := newFakeTokenRepo(0)
	pool := NewTokenPool(repo, DefaultTokenPoolConfig())
	_, err := pool.ReplaceAllTokens(context.Background(), []string{"dup", "dup"})
	if !errors.Is(err, domain.ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
}
