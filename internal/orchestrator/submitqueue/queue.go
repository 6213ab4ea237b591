// Package submitqueue feeds upstream submissions under a per-plan
// inter-batch delay and a global concurrency cap, grounded on the
// teacher's worker.Pool (bounded fan-out reading off a channel)
// generalized to the two-level batch-then-chunk structure spec.md §4.4
// requires. Unlike worker.Pool, this is a single-driver reactor: one
// goroutine owns queue state and decides when to stop, rather than N
// long-lived workers pulling off a shared channel.
package submitqueue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/reelforge/video-orchestrator/internal/config"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/adapter"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	"github.com/reelforge/video-orchestrator/internal/domain/tokenpool"
	"github.com/reelforge/video-orchestrator/internal/infra/logging"
	"github.com/reelforge/video-orchestrator/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const defaultConcurrentChunk = 8

// QueuedJob is the normalized unit of work the queue processes; it
// carries just enough to build an upstream submission without a second
// database read.
type QueuedJob struct {
	JobID             string
	UserID            string
	Prompt            string
	AspectRatio       model.AspectRatio
	Mode              adapter.SubmitMode
	SceneNumber       int
	ReferenceImageURI string
}

// PollEnqueuer is the Polling Coordinator's intake surface; the queue
// depends on this narrow interface rather than the coordinator type
// itself, so the two packages never import each other.
type PollEnqueuer interface {
	EnqueueStatusCheck(job *model.Job, operationName, sceneID, tokenID string)
}

type Queue struct {
	mu         sync.Mutex
	items      []QueuedJob
	processing bool

	tokenPool tokenpool.Pool
	jobs      repository.JobRepository
	videogen  adapter.VideoGenAdapter
	poller    PollEnqueuer

	cfg       config.QueueConfig
	projectID string
	fallback  string

	log *zerolog.Logger
}

func New(tokenPool tokenpool.Pool, jobs repository.JobRepository, videogen adapter.VideoGenAdapter, poller PollEnqueuer, cfg config.QueueConfig, projectID, fallbackAPIKey string, log *zerolog.Logger) *Queue {
	return &Queue{
		tokenPool: tokenPool,
		jobs:      jobs,
		videogen:  videogen,
		poller:    poller,
		cfg:       cfg,
		projectID: projectID,
		fallback:  fallbackAPIKey,
		log:       log,
	}
}

// Enqueue appends jobs and, if the processor is idle, starts it.
// delaySecondsOverride, when non-nil, wins over the stored TokenSettings
// pacing for this run (a plan-specific override).
func (q *Queue) Enqueue(ctx context.Context, jobs []QueuedJob, delaySecondsOverride *int) {
	q.mu.Lock()
	q.items = append(q.items, jobs...)
	metrics.SetQueueDepth(len(q.items))
	alreadyRunning := q.processing
	q.processing = true
	q.mu.Unlock()

	if !alreadyRunning {
		go q.run(ctx, delaySecondsOverride)
	}
}

func (q *Queue) takeBatch(n int) []QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := q.items[:n]
	q.items = q.items[n:]
	metrics.SetQueueDepth(len(q.items))
	return batch
}

func (q *Queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *Queue) clearProcessing() {
	q.mu.Lock()
	q.processing = false
	q.mu.Unlock()
}

// run is the single logical driver: read pacing once, then loop batches
// until the queue drains.
func (q *Queue) run(ctx context.Context, delaySecondsOverride *int) {
	defer q.clearProcessing()

	videosPerBatch := 10
	batchDelay := 30 * time.Second
	if settings, err := q.tokenPool.GetTokenSettings(ctx); err == nil && settings != nil {
		if settings.VideosPerBatch > 0 {
			videosPerBatch = settings.VideosPerBatch
		}
		if settings.BatchDelaySeconds > 0 {
			batchDelay = time.Duration(settings.BatchDelaySeconds) * time.Second
		}
	}
	if delaySecondsOverride != nil {
		batchDelay = time.Duration(*delaySecondsOverride) * time.Second
	}

	for {
		batch := q.takeBatch(videosPerBatch)
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		q.processBatch(ctx, batch)
		metrics.ObserveBatchDuration(time.Since(start).Seconds())

		if q.empty() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(batchDelay):
		}
	}
}

// processBatch runs the batch in chunks of at most cfg.MaxConcurrentSubmissions,
// awaiting each chunk before starting the next.
func (q *Queue) processBatch(ctx context.Context, batch []QueuedJob) {
	chunkSize := q.cfg.MaxConcurrentSubmissions
	if chunkSize <= 0 {
		chunkSize = defaultConcurrentChunk
	}
	for start := 0; start < len(batch); start += chunkSize {
		end := start + chunkSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		var wg sync.WaitGroup
		for _, qj := range chunk {
			wg.Add(1)
			go func(job QueuedJob) {
				defer wg.Done()
				q.submitOne(ctx, job)
			}(qj)
		}
		wg.Wait()
	}
}

func (q *Queue) submitOne(ctx context.Context, qj QueuedJob) {
	logger := logging.With(logging.WithJobID(ctx, qj.JobID), q.log)

	tok, err := q.tokenPool.DispenseBatchToken(ctx)
	var tokenSecret, tokenID string
	if err != nil {
		if q.fallback == "" {
			q.handleFailure(ctx, qj, "no token available: "+err.Error(), "")
			return
		}
		tokenSecret = q.fallback
	} else {
		tokenSecret, tokenID = tok.Secret, tok.ID
	}
	metrics.IncTokenDispensed("batch")

	sceneID := fmt.Sprintf("bulk-%s-%d", qj.JobID, time.Now().UnixMilli())
	req := adapter.SubmitRequest{
		Token:             tokenSecret,
		Prompt:            qj.Prompt,
		AspectRatio:       string(qj.AspectRatio),
		Mode:              qj.Mode,
		SceneID:           sceneID,
		ReferenceImageURI: qj.ReferenceImageURI,
		Seed:              rand.Uint32(),
		ProjectID:         q.projectID,
	}

	result, err := q.videogen.Submit(ctx, req)
	if err != nil {
		if tokenID != "" {
			metrics.IncTokenError(tokenID)
		}
		// handleFailure below records the token error once; do not
		// double it here.
		q.handleFailure(ctx, qj, err.Error(), tokenID)
		return
	}

	status := model.JobStatusQueued
	fields := repository.JobFields{
		Status:        &status,
		OperationName: &result.OperationName,
		SceneID:       &sceneID,
	}
	if tokenID != "" {
		fields.TokenUsed = &tokenID
	}
	if err := q.jobs.UpdateJobFields(ctx, nil, qj.JobID, qj.UserID, fields); err != nil {
		logger.Error().Err(err).Msg("failed to persist operationName after successful submit")
	}

	metrics.IncJobSubmission("submitted")
	q.poller.EnqueueStatusCheck(&model.Job{ID: qj.JobID, UserID: qj.UserID, Prompt: qj.Prompt, AspectRatio: qj.AspectRatio, ReferenceImageURL: qj.ReferenceImageURI, SceneID: sceneID, TokenUsed: tokenID}, result.OperationName, sceneID, tokenID)
}

// handleFailure implements spec.md §4.4's retry/terminal-failure policy:
// up to JobMaxRetries retries spaced RetryDelaySeconds apart, then a
// terminal failure with a message recording the retry count.
func (q *Queue) handleFailure(ctx context.Context, qj QueuedJob, message, tokenID string) {
	job, err := q.jobs.FindByID(ctx, nil, qj.JobID)
	if err != nil {
		q.log.Error().Err(err).Str("job_id", qj.JobID).Msg("handleFailure: could not load job row")
		return
	}

	if job.RetryCount < q.cfg.JobMaxRetries {
		retryCount := job.RetryCount + 1
		errMsg := fmt.Sprintf("%s (Retry %d/%d)", message, retryCount, q.cfg.JobMaxRetries)
		fields := repository.JobFields{RetryCount: &retryCount, ErrorMessage: &errMsg}
		if err := q.jobs.UpdateJobFields(ctx, nil, qj.JobID, qj.UserID, fields); err != nil {
			q.log.Error().Err(err).Str("job_id", qj.JobID).Msg("failed to persist retry state")
		}
		metrics.IncJobSubmission("retry")

		delay := time.Duration(q.cfg.RetryDelaySeconds) * time.Second
		time.AfterFunc(delay, func() {
			q.Enqueue(ctx, []QueuedJob{qj}, nil)
		})
	} else {
		status := model.JobStatusFailed
		errMsg := fmt.Sprintf("%s (final, after %d retries)", message, q.cfg.JobMaxRetries)
		fields := repository.JobFields{Status: &status, ErrorMessage: &errMsg}
		if err := q.jobs.UpdateJobFields(ctx, nil, qj.JobID, qj.UserID, fields); err != nil {
			q.log.Error().Err(err).Str("job_id", qj.JobID).Msg("failed to persist terminal failure")
		}
		metrics.IncJobSubmission("failed")
		metrics.IncJobTerminal("failed")
	}
	if tokenID != "" {
		q.tokenPool.RecordError(tokenID)
	}
}

