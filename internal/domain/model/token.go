package model

import (
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain"

	"github.com/google/uuid"
)

// Token is an opaque upstream video-generation credential with per-batch
// accounting. CurrentBatchCount is reset to 0 exactly when it reaches
// BatchSize and the dispense cursor moves to the next active token.
type Token struct {
	ID                string
	Secret            string // opaque credential; encrypted at rest by the repository layer
	Label             string
	Active            bool
	CurrentBatchCount int
	TotalGenerated    int64
	BatchStartedAt    *time.Time
	LastUsedAt        *time.Time
	CreatedAt         time.Time
}

func NewToken(secret, label string) (*Token, error) {
	if secret == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Token{
		ID:        uuid.NewString(),
		Secret:    secret,
		Label:     label,
		Active:    true,
		CreatedAt: time.Now(),
	}, nil
}

// TokenSettings is the process-wide singleton row tracking round-robin
// cursor position and submission pacing knobs.
type TokenSettings struct {
	LastUsedTokenIndex int
	VideosPerBatch     int
	BatchDelaySeconds  int
}
