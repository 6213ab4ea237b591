// Package pollcoord drives each accepted job to a terminal state with a
// bounded worker pool, grounded on the teacher's worker.Pool +
// AIJobProcessor pair: a ticker-free, capacity-gated dispatcher instead
// of N long-lived goroutines pulling off a channel, because each polling
// job needs its own per-job backoff state and mid-flight token
// switchover rather than a uniform fetch-process-save cycle.
package pollcoord

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
	red "github.com/reelforge/video-orchestrator/internal/infra/redis"

	"github.com/rs/zerolog"
)

// uploadLockTTL bounds how long a cross-process upload lock survives if
// the holder crashes mid-upload; long enough for the two-stage fetch+host
// round trip, short enough that a crashed holder does not wedge the scene
// forever.
const uploadLockTTL = 5 * time.Minute

const (
	initialDelay        = 15 * time.Second
	defaultPollInterval = 15 * time.Second
	maxBackoff          = 120 * time.Second
	statusCheckTimeout  = 30 * time.Second // enforced by adapter.VideoGenAdapter.CheckStatus itself
)

// statusCheck is one unit of polling work.
type statusCheck struct {
	job           *model.Job
	operationName string
	sceneID       string
	tokenID       string
}

// Coordinator is the Polling Coordinator of spec.md §4.5. It owns the
// polling queue, the active worker count, and the upload-dedup map; no
// other component reads these directly.
type Coordinator struct {
	cfg       config.PollingConfig
	videogen  adapter.VideoGenAdapter
	uploader  adapter.MediaUploadAdapter
	jobs      repository.JobRepository
	tokenPool tokenpool.Pool
	locker    red.Locker // cross-process guard on top of uploadInFlight; nil disables it (single-process dev runs)
	log       *zerolog.Logger

	mu      sync.Mutex
	queue   []statusCheck
	active  int

	uploadMu      sync.Mutex
	uploadInFlight map[string]*uploadFuture
}

type uploadFuture struct {
	done chan struct{}
	url  string
	err  error
}

func New(cfg config.PollingConfig, videogen adapter.VideoGenAdapter, uploader adapter.MediaUploadAdapter, jobs repository.JobRepository, tokenPool tokenpool.Pool, locker red.Locker, log *zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		videogen:       videogen,
		uploader:       uploader,
		jobs:           jobs,
		tokenPool:      tokenPool,
		locker:         locker,
		log:            log,
		uploadInFlight: make(map[string]*uploadFuture),
	}
}

// EnqueueStatusCheck implements submitqueue.PollEnqueuer: append to the
// polling queue and spawn workers up to MaxConcurrentWorkers.
func (c *Coordinator) EnqueueStatusCheck(job *model.Job, operationName, sceneID, tokenID string) {
	c.mu.Lock()
	c.queue = append(c.queue, statusCheck{job: job, operationName: operationName, sceneID: sceneID, tokenID: tokenID})
	c.spawnIfRoomLocked()
	c.mu.Unlock()
}

// spawnIfRoomLocked starts workers for queued items while active workers
// remain below MaxConcurrentWorkers. Caller must hold c.mu.
func (c *Coordinator) spawnIfRoomLocked() {
	for len(c.queue) > 0 && c.active < c.cfg.MaxConcurrentWorkers {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.active++
		metrics.SetPollWorkersActive(c.active)
		go c.runWorker(context.Background(), next)
	}
}

func (c *Coordinator) releaseWorker() {
	c.mu.Lock()
	c.active--
	c.spawnIfRoomLocked()
	metrics.SetPollWorkersActive(c.active)
	c.mu.Unlock()
}

// runWorker implements the per-job worker algorithm of spec.md §4.5.
func (c *Coordinator) runWorker(ctx context.Context, sc statusCheck) {
	defer c.releaseWorker()

	logger := logging.With(logging.WithJobID(logging.WithTokenID(ctx, sc.tokenID), sc.job.ID), c.log)

	select {
	case <-ctx.Done():
		return
	case <-time.After(initialDelay):
	}

	interval := time.Duration(c.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}

	var lastHeartbeat time.Time
	consecutiveFailures := 0
	switchedToken := false
	start := time.Now()

	for attempt := 0; attempt < c.cfg.MaxPollAttempts; attempt++ {
		if attempt > 0 {
			wait := interval
			if consecutiveFailures > 0 {
				wait = backoffWithJitter(interval, consecutiveFailures)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		if time.Since(lastHeartbeat) >= time.Duration(c.cfg.HeartbeatSeconds)*time.Second {
			_ = c.jobs.UpdateJobFields(ctx, nil, sc.job.ID, "", repository.JobFields{})
			lastHeartbeat = time.Now()
		}

		if attempt == c.cfg.TokenRetryAttempt && !switchedToken {
			switchedToken = true
			c.switchoverToken(ctx, &sc, logger)
		}

		result, err := c.videogen.CheckStatus(ctx, sc.tokenID, sc.operationName)
		if err != nil {
			// a network error or status-check timeout is transient: keep
			// polling until MaxPollAttempts, same as an upstream 5xx.
			consecutiveFailures++
			metrics.IncPollAttempt("transient_error")
			continue
		}

		switch {
		case result.Done && result.VideoURL != "":
			metrics.IncPollAttempt("complete")
			c.completeJob(ctx, sc, result.VideoURL, logger)
			return
		case result.ErrorMessage != "":
			metrics.IncPollAttempt("failed")
			if sc.tokenID != "" {
				c.tokenPool.RecordError(sc.tokenID)
				metrics.IncTokenError(sc.tokenID)
			}
			c.failJob(ctx, sc.job.ID, result.ErrorMessage)
			return
		case result.HTTPStatus >= 500:
			consecutiveFailures++
			metrics.IncPollAttempt("transient_error")
		default:
			consecutiveFailures = 0
			metrics.IncPollAttempt("pending")
		}
	}

	c.failJob(ctx, sc.job.ID, fmt.Sprintf("Video generation timed out after %d seconds (%d attempts)", int(time.Since(start).Seconds()), c.cfg.MaxPollAttempts))
}

// backoffWithJitter implements min(interval * 2^(k-1) + jitter, 120s).
func backoffWithJitter(interval time.Duration, k int) time.Duration {
	base := interval * time.Duration(1<<uint(k-1))
	if base > maxBackoff {
		base = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(interval)))
	total := base + jitter
	if total > maxBackoff {
		total = maxBackoff
	}
	return total
}

// switchoverToken records an error against the current token, dispenses
// a replacement via the rotation mode, and re-submits the job upstream
// under a fresh sceneId, per spec.md §4.5 step 2c.
func (c *Coordinator) switchoverToken(ctx context.Context, sc *statusCheck, logger *zerolog.Logger) {
	if sc.tokenID != "" {
		c.tokenPool.RecordError(sc.tokenID)
		metrics.IncTokenError(sc.tokenID)
	}
	next, err := c.tokenPool.GetNextRotationToken(ctx)
	if err != nil || next == nil {
		logger.Warn().Err(err).Msg("token switchover: no rotation token available, continuing with current token")
		return
	}

	mode := adapter.SubmitModeTextToVideo
	if sc.job.ReferenceImageURL != "" {
		mode = adapter.SubmitModeImageToVideo
	}

	newSceneID := fmt.Sprintf("bulk-%s-%d", sc.job.ID, time.Now().UnixMilli())
	result, err := c.videogen.Submit(ctx, adapter.SubmitRequest{
		Token:             next.Secret,
		Prompt:            sc.job.Prompt,
		AspectRatio:       string(sc.job.AspectRatio),
		Mode:              mode,
		SceneID:           newSceneID,
		ReferenceImageURI: sc.job.ReferenceImageURL,
		Seed:              rand.Uint32(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("token switchover: resubmit failed, continuing polling against stale operation")
		return
	}

	sc.tokenID = next.ID
	sc.operationName = result.OperationName
	sc.sceneID = newSceneID

	tokenUsed := next.ID
	_ = c.jobs.UpdateJobFields(ctx, nil, sc.job.ID, "", repository.JobFields{
		OperationName: &result.OperationName,
		SceneID:       &newSceneID,
		TokenUsed:     &tokenUsed,
	})
	metrics.IncTokenDispensed("rotation")
}

func (c *Coordinator) failJob(ctx context.Context, jobID, message string) {
	status := model.JobStatusFailed
	_ = c.jobs.UpdateJobFields(ctx, nil, jobID, "", repository.JobFields{Status: &status, ErrorMessage: &message})
	metrics.IncJobTerminal("failed")
}

// completeJob re-hosts the video through the dedup'd uploader and marks
// the job completed with the hosted URL.
func (c *Coordinator) completeJob(ctx context.Context, sc statusCheck, upstreamURL string, logger *zerolog.Logger) {
	hostedURL, err := c.uploadOnce(ctx, sc.sceneID, upstreamURL)
	if err != nil {
		metrics.IncUpload("failed")
		c.failJob(ctx, sc.job.ID, "media upload failed: "+err.Error())
		return
	}
	metrics.IncUpload("success")

	status := model.JobStatusCompleted
	if err := c.jobs.UpdateJobFields(ctx, nil, sc.job.ID, "", repository.JobFields{Status: &status, VideoURL: &hostedURL}); err != nil {
		logger.Error().Err(err).Msg("failed to persist completed job")
	}
	metrics.IncJobTerminal("completed")
}

// uploadOnce implements the at-most-once-per-scene dedup: the first
// caller for a sceneId performs the upload and stores a shared future;
// later callers for the same sceneId within this process await it instead
// of re-uploading. A Redis SETNX lock extends the same guarantee across
// processes: another coordinator process that observes the same completion
// while the lock is held gets an error instead of uploading. After a
// successful upload the lock is not released; it expires after
// uploadLockTTL. On failure both the local future and the distributed lock
// are released so a later call may retry.
func (c *Coordinator) uploadOnce(ctx context.Context, sceneID, upstreamURL string) (string, error) {
	c.uploadMu.Lock()
	if f, ok := c.uploadInFlight[sceneID]; ok {
		c.uploadMu.Unlock()
		metrics.IncUploadDuplicate()
		<-f.done
		return f.url, f.err
	}
	f := &uploadFuture{done: make(chan struct{})}
	c.uploadInFlight[sceneID] = f
	c.uploadMu.Unlock()

	var lockToken string
	if c.locker != nil {
		tok, err := c.locker.TryLock(ctx, "upload:"+sceneID, uploadLockTTL)
		if err != nil {
			f.err = fmt.Errorf("upload already in flight in another process: %w", err)
			close(f.done)
			c.uploadMu.Lock()
			delete(c.uploadInFlight, sceneID)
			c.uploadMu.Unlock()
			return "", f.err
		}
		lockToken = tok
	}

	f.url, f.err = c.uploader.Upload(ctx, upstreamURL)
	close(f.done)

	if c.locker != nil && f.err != nil {
		_ = c.locker.Unlock(ctx, "upload:"+sceneID, lockToken)
	}

	c.uploadMu.Lock()
	if f.err != nil {
		delete(c.uploadInFlight, sceneID)
	}
	c.uploadMu.Unlock()

	return f.url, f.err
}
