// Package orchestrator assembles the Plan Enforcer, Persistence Store,
// Token Pool, Submission Queue, and Polling Coordinator behind the five
// operations the transport layer consumes, the same facade role the
// teacher's application.BotFacade plays over its usecases.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/planenforcer"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/adapter"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	"github.com/reelforge/video-orchestrator/internal/domain/tokenpool"
	"github.com/reelforge/video-orchestrator/internal/orchestrator/submitqueue"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

const (
	minPromptLen = 10
	maxPromptLen = 2000
)

type Orchestrator struct {
	users     repository.UserRepository
	jobs      repository.JobRepository
	tm        repository.TransactionManager
	tokenPool tokenpool.Pool
	videogen  adapter.VideoGenAdapter
	queue     *submitqueue.Queue
	poller    submitqueue.PollEnqueuer
	log       *zerolog.Logger
}

func New(users repository.UserRepository, jobs repository.JobRepository, tm repository.TransactionManager, tokenPool tokenpool.Pool, videogen adapter.VideoGenAdapter, queue *submitqueue.Queue, poller submitqueue.PollEnqueuer, log *zerolog.Logger) *Orchestrator {
	return &Orchestrator{users: users, jobs: jobs, tm: tm, tokenPool: tokenPool, videogen: videogen, queue: queue, poller: poller, log: log}
}

func validatePrompt(p string) error {
	if len(p) < minPromptLen || len(p) > maxPromptLen {
		return domain.ErrInvalidArgument
	}
	return nil
}

// SubmitBulk creates job rows for every prompt, increments the user's
// daily count by len(prompts), and enqueues into the Submission Queue
// with the user's plan delay, per spec.md §6.
func (o *Orchestrator) SubmitBulk(ctx context.Context, userID string, prompts []string, aspectRatio model.AspectRatio) ([]string, error) {
	if len(prompts) < 1 || len(prompts) > 100 || !aspectRatio.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	for _, p := range prompts {
		if err := validatePrompt(p); err != nil {
			return nil, err
		}
	}

	user, err := o.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	decision := planenforcer.CanBulkGenerate(user, len(prompts), now)
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, decision.Reason)
	}

	jobIDs := make([]string, 0, len(prompts))
	err = o.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for _, p := range prompts {
			j, err := model.NewJob(userID, p, aspectRatio)
			if err != nil {
				return err
			}
			if err := o.jobs.Create(ctx, tx, j); err != nil {
				return err
			}
			jobIDs = append(jobIDs, j.ID)
		}
		return o.users.IncrementDailyCount(ctx, tx, userID, len(prompts))
	})
	if err != nil {
		return nil, err
	}

	batchCfg := planenforcer.GetBatchConfig(user)
	delay := batchCfg.DelaySeconds
	qjobs := make([]submitqueue.QueuedJob, 0, len(prompts))
	for i, jobID := range jobIDs {
		qjobs = append(qjobs, submitqueue.QueuedJob{
			JobID:       jobID,
			UserID:      userID,
			Prompt:      prompts[i],
			AspectRatio: aspectRatio,
			Mode:        adapter.SubmitModeTextToVideo,
			SceneNumber: i,
		})
	}
	o.queue.Enqueue(ctx, qjobs, &delay)

	return jobIDs, nil
}

// SubmitSingle performs a synchronous submit and returns the upstream
// handle immediately; polling continues internally via the caller-owned
// Polling Coordinator.
func (o *Orchestrator) SubmitSingle(ctx context.Context, userID, prompt string, aspectRatio model.AspectRatio) (operationName, sceneID, tokenID string, err error) {
	if err := validatePrompt(prompt); err != nil {
		return "", "", "", err
	}
	if !aspectRatio.Valid() {
		return "", "", "", domain.ErrInvalidArgument
	}

	user, err := o.users.FindByID(ctx, nil, userID)
	if err != nil {
		return "", "", "", err
	}
	if d := planenforcer.CanGenerateVideo(user, time.Now()); !d.Allowed {
		return "", "", "", fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, d.Reason)
	}

	job, err := model.NewJob(userID, prompt, aspectRatio)
	if err != nil {
		return "", "", "", err
	}
	if err := o.jobs.Create(ctx, nil, job); err != nil {
		return "", "", "", err
	}
	if err := o.users.IncrementDailyCount(ctx, nil, userID, 1); err != nil {
		return "", "", "", err
	}

	tok, err := o.tokenPool.DispenseBatchToken(ctx)
	if err != nil {
		return "", "", "", err
	}
	sceneID = fmt.Sprintf("single-%s-%d", job.ID, time.Now().UnixMilli())
	result, err := o.videogen.Submit(ctx, adapter.SubmitRequest{
		Token:       tok.Secret,
		Prompt:      prompt,
		AspectRatio: string(aspectRatio),
		Mode:        adapter.SubmitModeTextToVideo,
		SceneID:     sceneID,
	})
	if err != nil {
		o.tokenPool.RecordError(tok.ID)
		return "", "", "", err
	}

	status := model.JobStatusQueued
	_ = o.jobs.UpdateJobFields(ctx, nil, job.ID, userID, repository.JobFields{
		Status:        &status,
		OperationName: &result.OperationName,
		SceneID:       &sceneID,
		TokenUsed:     &tok.ID,
	})
	o.poller.EnqueueStatusCheck(&model.Job{ID: job.ID, UserID: userID, Prompt: prompt, AspectRatio: aspectRatio, SceneID: sceneID, TokenUsed: tok.ID}, result.OperationName, sceneID, tok.ID)

	return result.OperationName, sceneID, tok.ID, nil
}

// SubmitImageToVideo uploads the reference image to the upstream host,
// then submits using the reference-image-capable model, per spec.md §6.
func (o *Orchestrator) SubmitImageToVideo(ctx context.Context, userID string, imageBytes []byte, mimeType, prompt string, aspectRatio model.AspectRatio) (jobID string, err error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}
	if !aspectRatio.Valid() {
		return "", domain.ErrInvalidArgument
	}

	user, err := o.users.FindByID(ctx, nil, userID)
	if err != nil {
		return "", err
	}
	if d := planenforcer.CanAccessTool(user, planenforcer.ToolImageToVideo, time.Now()); !d.Allowed {
		return "", fmt.Errorf("%w: %s", domain.ErrToolNotAllowed, d.Reason)
	}

	tok, err := o.tokenPool.DispenseBatchToken(ctx)
	if err != nil {
		return "", err
	}

	refURI, err := o.videogen.UploadReferenceImage(ctx, tok.Secret, imageBytes, mimeType)
	if err != nil {
		o.tokenPool.RecordError(tok.ID)
		return "", err
	}

	job, err := model.NewJob(userID, prompt, aspectRatio)
	if err != nil {
		return "", err
	}
	job.ReferenceImageURL = refURI
	if err := o.jobs.Create(ctx, nil, job); err != nil {
		return "", err
	}
	if err := o.users.IncrementDailyCount(ctx, nil, userID, 1); err != nil {
		return "", err
	}

	sceneID := fmt.Sprintf("i2v-%s-%d", job.ID, time.Now().UnixMilli())
	result, err := o.videogen.Submit(ctx, adapter.SubmitRequest{
		Token:             tok.Secret,
		Prompt:            prompt,
		AspectRatio:       string(aspectRatio),
		Mode:              adapter.SubmitModeImageToVideo,
		SceneID:           sceneID,
		ReferenceImageURI: refURI,
	})
	if err != nil {
		o.tokenPool.RecordError(tok.ID)
		return "", err
	}

	status := model.JobStatusQueued
	_ = o.jobs.UpdateJobFields(ctx, nil, job.ID, userID, repository.JobFields{
		Status:        &status,
		OperationName: &result.OperationName,
		SceneID:       &sceneID,
		TokenUsed:     &tok.ID,
	})
	o.poller.EnqueueStatusCheck(&model.Job{ID: job.ID, UserID: userID, Prompt: prompt, AspectRatio: aspectRatio, ReferenceImageURL: refURI, SceneID: sceneID, TokenUsed: tok.ID}, result.OperationName, sceneID, tok.ID)
	return job.ID, nil
}

// Regenerate resubmits an existing job, selecting a token either by
// sceneNumber mod N_active (bulk context) or by dispenseBatchToken
// otherwise, per spec.md §6.
func (o *Orchestrator) Regenerate(ctx context.Context, userID, jobID, prompt string, aspectRatio model.AspectRatio, sceneNumber *int) error {
	job, err := o.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job.UserID != userID {
		return domain.ErrNotFound
	}

	var tok *model.Token
	if sceneNumber != nil {
		active, err := o.tokenPool.GetActiveTokens(ctx)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return domain.ErrNoTokensAvailable
		}
		tok = active[(*sceneNumber)%len(active)]
	} else {
		tok, err = o.tokenPool.DispenseBatchToken(ctx)
		if err != nil {
			return err
		}
	}

	sceneID := fmt.Sprintf("regen-%s-%d", jobID, time.Now().UnixMilli())
	result, err := o.videogen.Submit(ctx, adapter.SubmitRequest{
		Token:       tok.Secret,
		Prompt:      prompt,
		AspectRatio: string(aspectRatio),
		Mode:        adapter.SubmitModeTextToVideo,
		SceneID:     sceneID,
	})
	if err != nil {
		o.tokenPool.RecordError(tok.ID)
		return err
	}

	status := model.JobStatusQueued
	zero := 0
	if err := o.jobs.UpdateJobFields(ctx, nil, jobID, userID, repository.JobFields{
		Status:        &status,
		OperationName: &result.OperationName,
		SceneID:       &sceneID,
		TokenUsed:     &tok.ID,
		RetryCount:    &zero,
	}); err != nil {
		return err
	}
	o.poller.EnqueueStatusCheck(&model.Job{ID: jobID, UserID: userID, Prompt: prompt, AspectRatio: aspectRatio, ReferenceImageURL: job.ReferenceImageURL, SceneID: sceneID, TokenUsed: tok.ID}, result.OperationName, sceneID, tok.ID)
	return nil
}

// CheckStatus performs a single-shot poll against upstream and reports
// the raw upstream state without re-hosting the video: the returned
// videoURL is the upstream artifact, not a hosted one. Only the Polling
// Coordinator's own loop re-hosts and marks a job completed, since its
// uploadOnce dedup lock is what makes a concurrent completion safe; this
// read-only path has no job row to update and nothing to dedup against.
func (o *Orchestrator) CheckStatus(ctx context.Context, tokenID, operationName string) (status string, videoURL, errorMessage string, err error) {
	result, err := o.videogen.CheckStatus(ctx, tokenID, operationName)
	if err != nil {
		return "", "", "", err
	}
	if result.ErrorMessage != "" {
		return "failed", "", result.ErrorMessage, nil
	}
	if result.Done && result.VideoURL != "" {
		return "completed", result.VideoURL, "", nil
	}
	return "pending", "", "", nil
}

// ResubmitStale implements sched.Resubmitter for crash recovery: a stale
// non-terminal job is pushed back into the Submission Queue as if newly
// enqueued.
func (o *Orchestrator) ResubmitStale(ctx context.Context, jobID string) error {
	job, err := o.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}
	mode := adapter.SubmitModeTextToVideo
	if job.ReferenceImageURL != "" {
		mode = adapter.SubmitModeImageToVideo
	}
	o.queue.Enqueue(ctx, []submitqueue.QueuedJob{{
		JobID:             job.ID,
		UserID:            job.UserID,
		Prompt:            job.Prompt,
		AspectRatio:       job.AspectRatio,
		Mode:              mode,
		ReferenceImageURI: job.ReferenceImageURL,
	}}, nil)
	return nil
}
