package model

import (
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain"

	"github.com/oklog/ulid/v2"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type AspectRatio string

const (
	AspectRatioLandscape AspectRatio = "landscape"
	AspectRatioPortrait  AspectRatio = "portrait"
)

func (a AspectRatio) Valid() bool {
	return a == AspectRatioLandscape || a == AspectRatioPortrait
}

// Job is the durable record of one video-generation request. It is the
// sole source of truth for the request's lifecycle; in-memory queue state
// is rebuilt from non-terminal rows after a restart.
type Job struct {
	ID                string
	UserID            string
	Prompt            string
	AspectRatio       AspectRatio
	Status            JobStatus
	VideoURL          string
	OperationName     string
	SceneID           string
	TokenUsed         string
	RetryCount        int
	ErrorMessage      string
	ReferenceImageURL string
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewJob allocates a ULID-keyed job so natural id order matches creation
// order, which keeps the (userId, createdAt desc) listing index cheap.
func NewJob(userID, prompt string, ar AspectRatio) (*Job, error) {
	if userID == "" || prompt == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !ar.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Job{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Prompt:      prompt,
		AspectRatio: ar,
		Status:      JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
