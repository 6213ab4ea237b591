package domain

import "errors"

// Sentinel errors, not types: each names a kind from the error taxonomy.
// Components catch these and translate them into job-status updates or
// caller-facing denials; they are never used as control flow for routine
// quota/plan decisions (those return a Decision struct instead).
var (
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidExecContext  = errors.New("invalid query executor context")
	ErrReadDatabaseRow     = errors.New("failed reading database row")

	// Token Pool
	ErrNoTokensAvailable = errors.New("no tokens available: all active tokens in cooldown or none exist")
	ErrTokenInCooldown   = errors.New("token is in cooldown")
	ErrDuplicateToken    = errors.New("duplicate token secret")

	// Plan Enforcer
	ErrPlanExpired    = errors.New("plan has expired")
	ErrToolNotAllowed = errors.New("tool not allowed for this plan")
	ErrQuotaExceeded  = errors.New("daily quota exceeded")
	ErrBatchTooLarge  = errors.New("batch size exceeds plan limit")

	// Submission / Polling
	ErrPermanentUpstream   = errors.New("permanent upstream error")
	ErrTransientUpstream   = errors.New("transient upstream error")
	ErrMediaUploadFailed     = errors.New("media upload failed")
	ErrJobNotTerminal        = errors.New("job has not reached a terminal state")
	ErrVideoURLNotFound      = errors.New("no video url found in upstream response")
	ErrUploadAlreadyInFlight = errors.New("upload already in flight for this scene")
)
