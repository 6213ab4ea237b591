// Package sched runs the periodic, process-wide maintenance tasks spec.md
// §4.7 and §9 require: daily quota reset at a configured local midnight,
// and a one-time startup rescan of jobs stuck mid-submission after a
// crash. Grounded on the teacher's PaymentReconciler (ticker loop +
// ListPendingOlderThan rescan) generalized from payment reconciliation to
// stale-job resubmission.
package sched

import (
	"context"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	"github.com/reelforge/video-orchestrator/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Resubmitter is the narrow surface the housekeeper needs to recover
// stale jobs without importing the submission queue package directly.
type Resubmitter interface {
	ResubmitStale(ctx context.Context, jobID string) error
}

type Housekeeper struct {
	users       repository.UserRepository
	jobs        repository.JobRepository
	resubmitter Resubmitter
	tz          *time.Location
	staleCutoff time.Duration
	log         *zerolog.Logger

	lastResetDate string
}

func New(users repository.UserRepository, jobs repository.JobRepository, resubmitter Resubmitter, tzName string, staleCutoff time.Duration, log *zerolog.Logger) (*Housekeeper, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, err
	}
	return &Housekeeper{
		users:       users,
		jobs:        jobs,
		resubmitter: resubmitter,
		tz:          loc,
		staleCutoff: staleCutoff,
		log:         log,
	}, nil
}

// Start runs the one-minute tick loop plus an immediate startup scan for
// crash recovery.
func (h *Housekeeper) Start(ctx context.Context) {
	h.recoverStaleJobs(ctx)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Housekeeper) tick(ctx context.Context) {
	now := time.Now().In(h.tz)
	today := now.Format("2006-01-02")
	if today != h.lastResetDate {
		h.lastResetDate = today
		h.resetDailyCounts(ctx, now)
	}
}

func (h *Housekeeper) resetDailyCounts(ctx context.Context, now time.Time) {
	n, err := h.users.ResetExpiredDailyCounts(ctx, nil, now.Format("2006-01-02"))
	if err != nil {
		h.log.Error().Err(err).Msg("housekeeper: daily count reset failed")
		return
	}
	h.log.Info().Int("reset_count", n).Msg("housekeeper: daily counts reset")
}

// recoverStaleJobs rescans non-terminal jobs stuck since before a
// crash-recovery cutoff and resubmits them. Start calls it once, at boot;
// the periodic tick does not rescan.
func (h *Housekeeper) recoverStaleJobs(ctx context.Context) {
	cutoff := time.Now().Add(-h.staleCutoff)
	stale, err := h.jobs.ListNonTerminalStaleSince(ctx, nil, cutoff, 200)
	if err != nil {
		h.log.Error().Err(err).Msg("housekeeper: list stale jobs failed")
		return
	}
	for _, j := range stale {
		logger := logging.With(logging.WithJobID(ctx, j.ID), h.log)
		if err := h.resubmitter.ResubmitStale(ctx, j.ID); err != nil {
			logger.Warn().Err(err).Msg("housekeeper: stale job resubmission failed")
			continue
		}
		logger.Info().Msg("housekeeper: stale job recovered")
	}
}
