// Package planenforcer gates tool access, daily quota, batch size, and
// plan expiry. It is pure: no I/O, no side effects, every decision is a
// value the caller inspects, never an exception raised for a routine
// rejection — the same calling convention the teacher's usecase layer
// uses for plan/subscription checks, generalized here to a map literal
// table the way other_examples' TierQuotas keys limits by tier.
package planenforcer

import (
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain/model"
)

type Tool string

const (
	ToolVeo         Tool = "veo"
	ToolBulk        Tool = "bulk"
	ToolScript      Tool = "script"
	ToolTextToImage Tool = "textToImage"
	ToolImageToVideo Tool = "imageToVideo"
)

// BulkConfig is a tier's bulk-generation envelope.
type BulkConfig struct {
	MaxBatch     int // max concurrent chunk size within a submission batch
	DelaySeconds int // pacing delay between batches
	MaxPrompts   int // max prompts accepted in one bulk submission
}

// Tier is one row of the plan table: daily quota, allowed tools, and the
// bulk-generation envelope.
type Tier struct {
	DailyLimit   int
	AllowedTools map[Tool]bool
	Bulk         BulkConfig
}

func tools(ts ...Tool) map[Tool]bool {
	m := make(map[Tool]bool, len(ts))
	for _, t := range ts {
		m[t] = true
	}
	return m
}

// Tiers is the plan table: free|scale|empire, each with dailyLimit,
// allowedTools, and bulkGeneration envelope.
var Tiers = map[model.PlanTier]Tier{
	model.PlanTierFree: {
		DailyLimit:   0,
		AllowedTools: tools(ToolVeo),
		Bulk:         BulkConfig{MaxBatch: 0, DelaySeconds: 0, MaxPrompts: 0},
	},
	model.PlanTierScale: {
		DailyLimit:   1000,
		AllowedTools: tools(ToolVeo, ToolBulk),
		Bulk:         BulkConfig{MaxBatch: 7, DelaySeconds: 30, MaxPrompts: 50},
	},
	model.PlanTierEmpire: {
		DailyLimit:   2000,
		AllowedTools: tools(ToolVeo, ToolBulk, ToolScript, ToolTextToImage, ToolImageToVideo),
		Bulk:         BulkConfig{MaxBatch: 10, DelaySeconds: 10, MaxPrompts: 100},
	},
}

// GetTier returns the tier row for t, defaulting to free for unknown tiers.
func GetTier(t model.PlanTier) Tier {
	if tier, ok := Tiers[t]; ok {
		return tier
	}
	return Tiers[model.PlanTierFree]
}

// Decision is the result of every gating check: never an error, so a
// routine rejection is always a value the caller displays, not an
// exception it must recover from.
type Decision struct {
	Allowed         bool
	Reason          string
	RemainingVideos int
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// IsPlanExpired is false for admins, false for free tier (no expiry to
// outgrow), and true iff now is after the user's planExpiresAt.
func IsPlanExpired(u *model.User, now time.Time) bool {
	if u.IsAdmin() || u.Tier == model.PlanTierFree {
		return false
	}
	return u.PlanExpiresAt != nil && now.After(*u.PlanExpiresAt)
}

func effectiveTier(u *model.User) model.PlanTier {
	if u.IsAdmin() {
		return model.PlanTierEmpire
	}
	return u.Tier
}

// CanAccessTool denies access if the plan has expired or the tool is not
// in the tier's allowed set.
func CanAccessTool(u *model.User, tool Tool, now time.Time) Decision {
	if IsPlanExpired(u, now) {
		return deny("plan has expired")
	}
	tier := GetTier(effectiveTier(u))
	if !tier.AllowedTools[tool] {
		return deny("tool not available on current plan")
	}
	return allow()
}

// CanGenerateVideo denies if the plan is expired or the daily quota is
// already exhausted; otherwise reports remaining headroom. Admins bypass
// the quota check entirely, per spec.md §4.3.
func CanGenerateVideo(u *model.User, now time.Time) Decision {
	if u.IsAdmin() {
		return allow()
	}
	if IsPlanExpired(u, now) {
		return deny("plan has expired")
	}
	tier := GetTier(effectiveTier(u))
	remaining := tier.DailyLimit - u.DailyJobCount
	if remaining <= 0 {
		return deny("daily quota exceeded")
	}
	return Decision{Allowed: true, RemainingVideos: remaining}
}

// CanBulkGenerate checks bulk tool access, then the per-submission prompt
// cap, then remaining daily headroom, in that order. Admins bypass all of
// it, per spec.md §4.3.
func CanBulkGenerate(u *model.User, n int, now time.Time) Decision {
	if u.IsAdmin() {
		return allow()
	}
	if d := CanAccessTool(u, ToolBulk, now); !d.Allowed {
		return d
	}
	tier := GetTier(effectiveTier(u))
	if n > tier.Bulk.MaxPrompts {
		return deny("batch exceeds plan's maximum prompts per submission")
	}
	remaining := tier.DailyLimit - u.DailyJobCount
	if n > remaining {
		return Decision{Allowed: false, Reason: "batch exceeds remaining daily quota", RemainingVideos: remaining}
	}
	return Decision{Allowed: true, RemainingVideos: remaining}
}

// GetBatchConfig returns the tier's bulk envelope; admins are treated as
// empire regardless of their stored tier.
func GetBatchConfig(u *model.User) BulkConfig {
	return GetTier(effectiveTier(u)).Bulk
}
