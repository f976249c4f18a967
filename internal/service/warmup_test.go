package service_test

import (
	"testing"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/service"
)

func TestWarmupPolicy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	policy := service.NewWarmupPolicy(7 * 24 * time.Hour)
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

	tests := []struct {
		name       string
		domain     model.Domain
		inWarmup   bool
		daysLeft   *int
		wantElapse bool
	}{
		{name: "never sent", domain: model.Domain{}, inWarmup: false, daysLeft: nil},
		{name: "three days in", domain: model.Domain{FirstEmailSentAt: at(-3 * 24 * time.Hour)}, inWarmup: true, daysLeft: intPtr(4)},
		{name: "partial day rounds up", domain: model.Domain{FirstEmailSentAt: at(-3*24*time.Hour - time.Hour)}, inWarmup: true, daysLeft: intPtr(4)},
		{name: "window over but not stamped", domain: model.Domain{FirstEmailSentAt: at(-8 * 24 * time.Hour)}, inWarmup: false, daysLeft: nil, wantElapse: true},
		{name: "exactly at the end", domain: model.Domain{FirstEmailSentAt: at(-7 * 24 * time.Hour)}, inWarmup: false, daysLeft: nil, wantElapse: true},
		{name: "last hour of the window", domain: model.Domain{FirstEmailSentAt: at(-7*24*time.Hour + time.Hour)}, inWarmup: true, daysLeft: intPtr(1)},
		{name: "completed", domain: model.Domain{FirstEmailSentAt: at(-8 * 24 * time.Hour), WarmupCompletedAt: at(-time.Hour)}, inWarmup: false, daysLeft: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.IsInWarmup(&tt.domain, now); got != tt.inWarmup {
				t.Errorf("IsInWarmup = %v, want %v", got, tt.inWarmup)
			}
			got := policy.DaysUntilWarmupComplete(&tt.domain, now)
			switch {
			case tt.daysLeft == nil && got != nil:
				t.Errorf("DaysUntilWarmupComplete = %d, want nil", *got)
			case tt.daysLeft != nil && got == nil:
				t.Errorf("DaysUntilWarmupComplete = nil, want %d", *tt.daysLeft)
			case tt.daysLeft != nil && *got != *tt.daysLeft:
				t.Errorf("DaysUntilWarmupComplete = %d, want %d", *got, *tt.daysLeft)
			}
			if got := policy.Elapsed(&tt.domain, now); got != tt.wantElapse {
				t.Errorf("Elapsed = %v, want %v", got, tt.wantElapse)
			}
		})
	}
}

func TestNewWarmupPolicyDefaultsToSevenDays(t *testing.T) {
	if got := service.NewWarmupPolicy(0).Period; got != 7*24*time.Hour {
		t.Errorf("expected 168h default, got %s", got)
	}
}
