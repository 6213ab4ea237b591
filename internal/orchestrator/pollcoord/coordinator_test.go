package pollcoord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reelforge/video-orchestrator/internal/config"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/adapter"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	red "github.com/reelforge/video-orchestrator/internal/infra/redis"

	"github.com/rs/zerolog"
)

func fakeConfig() config.PollingConfig {
	return config.PollingConfig{MaxConcurrentWorkers: 20, PollIntervalSeconds: 15, MaxPollAttempts: 40, TokenRetryAttempt: 8, HeartbeatSeconds: 60}
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakePoolForSwitch is a minimal tokenpool.Pool fake for switchoverToken tests.
type fakePoolForSwitch struct {
	next         *model.Token
	nextErr      error
	recordedErrs []string
}

func (f *fakePoolForSwitch) DispenseBatchToken(ctx context.Context) (*model.Token, error) { return nil, nil }
func (f *fakePoolForSwitch) GetNextRotationToken(ctx context.Context) (*model.Token, error) {
	return f.next, f.nextErr
}
func (f *fakePoolForSwitch) RecordError(tokenID string) { f.recordedErrs = append(f.recordedErrs, tokenID) }
func (f *fakePoolForSwitch) IsInCooldown(tokenID string) bool { return false }
func (f *fakePoolForSwitch) ReplaceAllTokens(ctx context.Context, rawSecrets []string) ([]*model.Token, error) {
	return nil, nil
}
func (f *fakePoolForSwitch) GetActiveTokens(ctx context.Context) ([]*model.Token, error) { return nil, nil }
func (f *fakePoolForSwitch) GetTokenSettings(ctx context.Context) (*model.TokenSettings, error) {
	return nil, nil
}

// fakeJobRepoForSwitch is a minimal repository.JobRepository fake for
// switchoverToken tests, which only ever calls UpdateJobFields.
type fakeJobRepoForSwitch struct{}

func (f *fakeJobRepoForSwitch) Create(ctx context.Context, tx repository.Tx, j *model.Job) error {
	return nil
}
func (f *fakeJobRepoForSwitch) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	return nil, nil
}
func (f *fakeJobRepoForSwitch) UpdateJobFields(ctx context.Context, tx repository.Tx, id, userID string, fields repository.JobFields) error {
	return nil
}
func (f *fakeJobRepoForSwitch) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit, offset int) ([]*model.Job, error) {
	return nil, nil
}
func (f *fakeJobRepoForSwitch) ListNonTerminalStaleSince(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Job, error) {
	return nil, nil
}

func TestBackoffWithJitter_GrowsExponentiallyThenCaps(t *testing.T) {
	if got := backoffWithJitter(defaultPollInterval, 1); got < defaultPollInterval || got > defaultPollInterval+defaultPollInterval {
		t.Errorf("backoffWithJitter(1) = %v, want within [%v, %v]", got, defaultPollInterval, 2*defaultPollInterval)
	}
	for k := 1; k <= 10; k++ {
		if got := backoffWithJitter(defaultPollInterval, k); got > maxBackoff {
			t.Errorf("backoffWithJitter(%d) = %v, must never exceed maxBackoff=%v", k, got, maxBackoff)
		}
	}
	// large k must be fully saturated at the cap (base alone already exceeds it).
	if got := backoffWithJitter(defaultPollInterval, 8); got > maxBackoff || got < maxBackoff-defaultPollInterval {
		t.Errorf("backoffWithJitter(8) = %v, want saturated near maxBackoff=%v", got, maxBackoff)
	}
}

// fakeUploader is a hand-written fake of adapter.MediaUploadAdapter.
type fakeUploader struct {
	mu    sync.Mutex
	calls int32
	err   error
	delay time.Duration
}

var _ adapter.MediaUploadAdapter = (*fakeUploader)(nil)

func (f *fakeUploader) Upload(ctx context.Context, upstreamURL string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return "https://hosted/" + upstreamURL, nil
}

// fakeLocker is a hand-written fake of red.Locker.
type fakeLocker struct {
	mu     sync.Mutex
	locked map[string]bool
	denyAll bool
}

var _ red.Locker = (*fakeLocker)(nil)

func newFakeLocker() *fakeLocker { return &fakeLocker{locked: make(map[string]bool)} }

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyAll || f.locked[key] {
		return "", errors.New("lock already held")
	}
	f.locked[key] = true
	return "token-" + key, nil
}

func (f *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, key)
	return nil
}

func newTestCoordinator(uploader adapter.MediaUploadAdapter, locker red.Locker) *Coordinator {
	return New(fakeConfig(), nil, uploader, nil, nil, locker, testLogger())
}

func TestUploadOnce_DedupsConcurrentCallsForSameScene(t *testing.T) {
	uploader := &fakeUploader{delay: 20 * time.Millisecond}
	c := newTestCoordinator(uploader, newFakeLocker())

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url, err := c.uploadOnce(context.Background(), "scene-1", "https://upstream/video.mp4")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = url
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&uploader.calls); got != 1 {
		t.Errorf("expected exactly 1 upload call across 5 concurrent callers for the same scene, got %d", got)
	}
	for _, r := range results {
		if r != "https://hosted/https://upstream/video.mp4" {
			t.Errorf("expected all callers to observe the same hosted url, got %q", r)
		}
	}
}

func TestUploadOnce_DistinctScenesUploadIndependently(t *testing.T) {
	uploader := &fakeUploader{}
	c := newTestCoordinator(uploader, newFakeLocker())

	if _, err := c.uploadOnce(context.Background(), "scene-a", "https://upstream/a.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.uploadOnce(context.Background(), "scene-b", "https://upstream/b.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&uploader.calls); got != 2 {
		t.Errorf("expected 2 independent uploads for 2 distinct scenes, got %d", got)
	}
}

func TestUploadOnce_LockDeniedReturnsErrorWithoutUploading(t *testing.T) {
	uploader := &fakeUploader{}
	locker := newFakeLocker()
	locker.denyAll = true
	c := newTestCoordinator(uploader, locker)

	_, err := c.uploadOnce(context.Background(), "scene-1", "https://upstream/video.mp4")
	if err == nil {
		t.Fatal("expected an error when the distributed lock cannot be acquired")
	}
	if got := atomic.LoadInt32(&uploader.calls); got != 0 {
		t.Errorf("expected no upload attempt when the lock is denied, got %d calls", got)
	}
}

func TestUploadOnce_FailureReleasesLockAndFuture(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("upstream fetch failed")}
	locker := newFakeLocker()
	c := newTestCoordinator(uploader, locker)

	_, err := c.uploadOnce(context.Background(), "scene-1", "https://upstream/video.mp4")
	if err == nil {
		t.Fatal("expected the upload error to propagate")
	}

	locker.mu.Lock()
	stillLocked := locker.locked["upload:scene-1"]
	locker.mu.Unlock()
	if stillLocked {
		t.Errorf("expected the distributed lock to be released after a failed upload")
	}

	// a retry after the failure must be allowed to run, not dedup'd against
	// a stale future.
	uploader.err = nil
	url, err := c.uploadOnce(context.Background(), "scene-1", "https://upstream/video.mp4")
	if err != nil || url == "" {
		t.Fatalf("expected retry after failure to succeed, got url=%q err=%v", url, err)
	}
	if got := atomic.LoadInt32(&uploader.calls); got != 2 {
		t.Errorf("expected the retry to issue a second upload call, got %d", got)
	}
}

func TestUploadOnce_NilLockerDisablesDistributedGuard(t *testing.T) {
	uploader := &fakeUploader{}
	c := newTestCoordinator(uploader, nil)

	if _, err := c.uploadOnce(context.Background(), "scene-1", "https://upstream/video.mp4"); err != nil {
		t.Fatalf("unexpected error with a nil locker: %v", err)
	}
	if got := atomic.LoadInt32(&uploader.calls); got != 1 {
		t.Errorf("expected the upload to proceed without a locker, got %d calls", got)
	}
}

// fakeVideoGenSwitch is a minimal adapter.VideoGenAdapter fake for
// exercising switchoverToken in isolation.
type fakeVideoGenSwitch struct {
	submitResult adapter.SubmitResult
	submitErr    error
	lastReq      adapter.SubmitRequest
}

func (f *fakeVideoGenSwitch) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.SubmitResult, error) {
	f.lastReq = req
	return f.submitResult, f.submitErr
}
func (f *fakeVideoGenSwitch) CheckStatus(ctx context.Context, token, operationName string) (adapter.StatusResult, error) {
	return adapter.StatusResult{}, nil
}
func (f *fakeVideoGenSwitch) UploadReferenceImage(ctx context.Context, token string, imageBytes []byte, mimeType string) (string, error) {
	return "", nil
}

func TestSwitchoverToken_UpdatesStatusCheckOnSuccessfulResubmit(t *testing.T) {
	videogen := &fakeVideoGenSwitch{submitResult: adapter.SubmitResult{OperationName: "op-new"}}
	tokenPool := &fakePoolForSwitch{next: &model.Token{ID: "tok2", Secret: "sk-2"}}
	c := New(fakeConfig(), videogen, nil, &fakeJobRepoForSwitch{}, tokenPool, nil, testLogger())

	sc := &statusCheck{job: &model.Job{
		ID:          "job1",
		Prompt:      "a prompt",
		AspectRatio: model.AspectRatioPortrait,
	}, operationName: "op-old", sceneID: "scene-old", tokenID: "tok1"}
	c.switchoverToken(context.Background(), sc, testLogger())

	if sc.tokenID != "tok2" || sc.operationName != "op-new" {
		t.Errorf("expected statusCheck to adopt the new token and operation, got tokenID=%s op=%s", sc.tokenID, sc.operationName)
	}
	if len(tokenPool.recordedErrs) != 1 || tokenPool.recordedErrs[0] != "tok1" {
		t.Errorf("expected the stale token to be recorded as erroring before switchover, got %v", tokenPool.recordedErrs)
	}
	if videogen.lastReq.Prompt != "a prompt" || videogen.lastReq.AspectRatio != string(model.AspectRatioPortrait) {
		t.Errorf("expected the resubmit to carry the job's real prompt and aspect ratio, got %+v", videogen.lastReq)
	}
	if videogen.lastReq.Mode != adapter.SubmitModeTextToVideo {
		t.Errorf("expected text-to-video mode for a job with no reference image, got %s", videogen.lastReq.Mode)
	}
}

func TestSwitchoverToken_ResubmitsImageToVideoModeAndReferenceImage(t *testing.T) {
	videogen := &fakeVideoGenSwitch{submitResult: adapter.SubmitResult{OperationName: "op-new"}}
	tokenPool := &fakePoolForSwitch{next: &model.Token{ID: "tok2", Secret: "sk-2"}}
	c := New(fakeConfig(), videogen, nil, &fakeJobRepoForSwitch{}, tokenPool, nil, testLogger())

	sc := &statusCheck{job: &model.Job{
		ID:                "job1",
		Prompt:            "a prompt",
		AspectRatio:       model.AspectRatioLandscape,
		ReferenceImageURL: "uploads/ref.png",
	}, operationName: "op-old", sceneID: "scene-old", tokenID: "tok1"}
	c.switchoverToken(context.Background(), sc, testLogger())

	if videogen.lastReq.Mode != adapter.SubmitModeImageToVideo {
		t.Errorf("expected image-to-video mode when the job carries a reference image, got %s", videogen.lastReq.Mode)
	}
	if videogen.lastReq.ReferenceImageURI != "uploads/ref.png" {
		t.Errorf("expected the resubmit to carry the job's reference image URI, got %q", videogen.lastReq.ReferenceImageURI)
	}
}

func TestSwitchoverToken_NoRotationTokenLeavesStatusCheckUnchanged(t *testing.T) {
	tokenPool := &fakePoolForSwitch{nextErr: errors.New("no tokens")}
	c := New(fakeConfig(), &fakeVideoGenSwitch{}, nil, &fakeJobRepoForSwitch{}, tokenPool, nil, testLogger())

	sc := &statusCheck{job: &model.Job{ID: "job1"}, operationName: "op-old", sceneID: "scene-old", tokenID: "tok1"}
	c.switchoverToken(context.Background(), sc, testLogger())

	if sc.tokenID != "tok1" || sc.operationName != "op-old" {
		t.Errorf("expected statusCheck to remain unchanged when no rotation token is available, got tokenID=%s op=%s", sc.tokenID, sc.operationName)
	}
}
