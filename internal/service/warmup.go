package service

import (
	"math"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

const day = 24 * time.Hour

// WarmupPolicy reports where a domain is in its warm-up window. It is
// advisory: the cap itself is enforced by the capacity ledger.
type WarmupPolicy struct {
	Period time.Duration
}

func NewWarmupPolicy(period time.Duration) WarmupPolicy {
	if period <= 0 {
		period = 7 * day
	}
	return WarmupPolicy{Period: period}
}

// IsInWarmup is false before the first send and after completion.
func (p WarmupPolicy) IsInWarmup(d *model.Domain, now time.Time) bool {
	if d.FirstEmailSentAt == nil || d.WarmupCompletedAt != nil {
		return false
	}
	return now.Before(p.EndsAt(d))
}

// DaysUntilWarmupComplete returns nil unless the domain is inside its
// warm-up window. A window that has run out counts as complete even before
// the completion stamp is written.
func (p WarmupPolicy) DaysUntilWarmupComplete(d *model.Domain, now time.Time) *int {
	if !p.IsInWarmup(d, now) {
		return nil
	}
	remaining := p.EndsAt(d).Sub(now)
	days := int(math.Ceil(float64(remaining) / float64(day)))
	if days < 0 {
		days = 0
	}
	return &days
}

// Elapsed reports whether a started, not yet stamped warm-up window is over.
func (p WarmupPolicy) Elapsed(d *model.Domain, now time.Time) bool {
	if d.FirstEmailSentAt == nil || d.WarmupCompletedAt != nil {
		return false
	}
	return !now.Before(p.EndsAt(d))
}

// EndsAt is only meaningful once FirstEmailSentAt is set.
func (p WarmupPolicy) EndsAt(d *model.Domain) time.Time {
	return d.FirstEmailSentAt.Add(p.Period)
}
