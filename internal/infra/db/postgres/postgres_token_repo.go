package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	"github.com/reelforge/video-orchestrator/internal/infra/security"

	"github.com/google/uuid"
)

// defaultBatchSize is the number of consecutive successful dispenses one
// token services before rotation (spec.md §4.2) when the operator's
// config.yaml leaves token_pool.batch_size unset.
const defaultBatchSize = 100

var _ repository.TokenRepository = (*PostgresTokenRepo)(nil)

// PostgresTokenRepo is both the Token CRUD store and the transactional
// dispense algorithm of spec.md §4.2. It has no back-reference to
// tokenpool.Pool; the caller supplies the in-memory cooldown set, which
// keeps the dependency cycle the way spec.md §9 requires (Token Pool is a
// pure interface over the store, the store never reaches back into it).
type PostgresTokenRepo struct {
	pool      *pgxpool.Pool
	tm        repository.TransactionManager
	enc       *security.EncryptionService // optional; nil disables at-rest encryption
	batchSize int
}

func NewPostgresTokenRepo(pool *pgxpool.Pool, tm repository.TransactionManager, enc *security.EncryptionService, batchSize int) *PostgresTokenRepo {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &PostgresTokenRepo{pool: pool, tm: tm, enc: enc, batchSize: batchSize}
}

func (r *PostgresTokenRepo) encrypt(secret string) (string, error) {
	if r.enc == nil {
		return secret, nil
	}
	return r.enc.Encrypt(secret)
}

func (r *PostgresTokenRepo) decrypt(stored string) (string, error) {
	if r.enc == nil {
		return stored, nil
	}
	return r.enc.Decrypt(stored)
}

func (r *PostgresTokenRepo) Save(ctx context.Context, tx repository.Tx, t *model.Token) error {
	secret, err := r.encrypt(t.Secret)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO tokens (id, secret, label, active, current_batch_count, total_generated, batch_started_at, last_used_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  secret=$2, label=$3, active=$4, current_batch_count=$5, total_generated=$6,
  batch_started_at=$7, last_used_at=$8;`
	_, err = execSQL(ctx, r.pool, tx, q, t.ID, secret, t.Label, t.Active, t.CurrentBatchCount, t.TotalGenerated, t.BatchStartedAt, t.LastUsedAt, t.CreatedAt)
	return err
}

func (r *PostgresTokenRepo) scanToken(row pgx.Row) (*model.Token, error) {
	var t model.Token
	var secret string
	if err := row.Scan(&t.ID, &secret, &t.Label, &t.Active, &t.CurrentBatchCount, &t.TotalGenerated, &t.BatchStartedAt, &t.LastUsedAt, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	plain, err := r.decrypt(secret)
	if err != nil {
		return nil, err
	}
	t.Secret = plain
	return &t, nil
}

func (r *PostgresTokenRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Token, error) {
	const q = `SELECT id, secret, label, active, current_batch_count, total_generated, batch_started_at, last_used_at, created_at FROM tokens WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return r.scanToken(row)
}

func (r *PostgresTokenRepo) GetActiveTokens(ctx context.Context, tx repository.Tx) ([]*model.Token, error) {
	const q = `SELECT id, secret, label, active, current_batch_count, total_generated, batch_started_at, last_used_at, created_at FROM tokens WHERE active=true ORDER BY created_at ASC;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Token
	for rows.Next() {
		t, err := r.scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplaceAllTokens is idempotent: applying it twice with the same raw
// secret set yields the same resulting token set up to ids/timestamps.
// It runs in one transaction: nullify tokenUsed on all jobs, delete all
// tokens, insert the new ones with auto-labels, rejecting duplicates.
func (r *PostgresTokenRepo) ReplaceAllTokens(ctx context.Context, rawSecrets []string) ([]*model.Token, error) {
	seen := make(map[string]bool, len(rawSecrets))
	for _, s := range rawSecrets {
		if s == "" {
			continue
		}
		if seen[s] {
			return nil, domain.ErrDuplicateToken
		}
		seen[s] = true
	}

	var result []*model.Token
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := execSQL(ctx, r.pool, tx, `UPDATE jobs SET token_used = NULL;`); err != nil {
			return err
		}
		if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM tokens;`); err != nil {
			return err
		}
		now := time.Now()
		i := 0
		for _, secret := range rawSecrets {
			if secret == "" {
				continue
			}
			i++
			enc, err := r.encrypt(secret)
			if err != nil {
				return err
			}
			t := &model.Token{
				ID:        uuid.NewString(),
				Secret:    secret,
				Label:     fmt.Sprintf("token-%d", i),
				Active:    true,
				CreatedAt: now,
			}
			const ins = `INSERT INTO tokens (id, secret, label, active, current_batch_count, total_generated, created_at) VALUES ($1,$2,$3,true,0,0,$4);`
			if _, err := execSQL(ctx, r.pool, tx, ins, t.ID, enc, t.Label, t.CreatedAt); err != nil {
				return err
			}
			result = append(result, t)
		}
		const resetSettings = `UPDATE token_settings SET last_used_token_index = 0 WHERE id = 1;`
		_, err := execSQL(ctx, r.pool, tx, resetSettings)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresTokenRepo) GetTokenSettings(ctx context.Context, tx repository.Tx) (*model.TokenSettings, error) {
	const q = `SELECT last_used_token_index, videos_per_batch, batch_delay_seconds FROM token_settings WHERE id = 1;`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	var s model.TokenSettings
	if err := row.Scan(&s.LastUsedTokenIndex, &s.VideosPerBatch, &s.BatchDelaySeconds); err != nil {
		if err == pgx.ErrNoRows {
			return &model.TokenSettings{VideosPerBatch: 10, BatchDelaySeconds: 30}, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresTokenRepo) SaveTokenSettings(ctx context.Context, tx repository.Tx, s *model.TokenSettings) error {
	const q = `
INSERT INTO token_settings (id, last_used_token_index, videos_per_batch, batch_delay_seconds)
VALUES (1, $1, $2, $3)
ON CONFLICT (id) DO UPDATE SET last_used_token_index=$1, videos_per_batch=$2, batch_delay_seconds=$3;`
	_, err := execSQL(ctx, r.pool, tx, q, s.LastUsedTokenIndex, s.VideosPerBatch, s.BatchDelaySeconds)
	return err
}

// DispenseBatchToken implements spec.md §4.2 step 1-8 in one transaction.
// The token_settings singleton row is locked first: that is the natural
// serialization point for cursor recomputation, and it subsumes locking
// the individual token row the algorithm text calls out separately.
func (r *PostgresTokenRepo) DispenseBatchToken(ctx context.Context, cooldownIDs map[string]bool) (*model.Token, error) {
	var winner *model.Token
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const lockSettings = `SELECT last_used_token_index FROM token_settings WHERE id = 1 FOR UPDATE;`
		row, err := pickRow(ctx, r.pool, tx, lockSettings)
		if err != nil {
			return err
		}
		var lastIdx int
		if err := row.Scan(&lastIdx); err != nil {
			if err == pgx.ErrNoRows {
				if _, err := execSQL(ctx, r.pool, tx, `INSERT INTO token_settings (id, last_used_token_index, videos_per_batch, batch_delay_seconds) VALUES (1,0,10,30);`); err != nil {
					return err
				}
				lastIdx = 0
			} else {
				return err
			}
		}

		const listActive = `SELECT id, secret, label, active, current_batch_count, total_generated, batch_started_at, last_used_at, created_at FROM tokens WHERE active=true ORDER BY created_at ASC FOR UPDATE;`
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}
		rows, err := ex.Query(ctx, listActive)
		if err != nil {
			return err
		}
		var all []*model.Token
		for rows.Next() {
			t, err := r.scanToken(rows)
			if err != nil {
				rows.Close()
				return err
			}
			all = append(all, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var available []*model.Token
		for _, t := range all {
			if !cooldownIDs[t.ID] {
				available = append(available, t)
			}
		}
		if len(available) == 0 {
			return domain.ErrNoTokensAvailable
		}

		i := lastIdx % len(available)
		cur := available[i]
		now := time.Now()

		if cur.CurrentBatchCount >= r.batchSize {
			cur.CurrentBatchCount = 0
			if _, err := execSQL(ctx, r.pool, tx, `UPDATE tokens SET current_batch_count=0 WHERE id=$1;`, cur.ID); err != nil {
				return err
			}
			i = (lastIdx + 1) % len(available)
			cur = available[i]
			lastIdx = i
			if _, err := execSQL(ctx, r.pool, tx, `UPDATE token_settings SET last_used_token_index=$1 WHERE id=1;`, lastIdx); err != nil {
				return err
			}
		}

		cur.CurrentBatchCount++
		cur.TotalGenerated++
		if cur.BatchStartedAt == nil {
			cur.BatchStartedAt = &now
		}
		cur.LastUsedAt = &now
		const upd = `UPDATE tokens SET current_batch_count=$2, total_generated=$3, batch_started_at=$4, last_used_at=$5 WHERE id=$1;`
		if _, err := execSQL(ctx, r.pool, tx, upd, cur.ID, cur.CurrentBatchCount, cur.TotalGenerated, cur.BatchStartedAt, cur.LastUsedAt); err != nil {
			return err
		}

		winner = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return winner, nil
}
