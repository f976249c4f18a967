package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/events"
	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/repository"
)

// CapacityConfig is injected at construction so limits never depend on the
// process environment at call time.
type CapacityConfig struct {
	DefaultDailyLimit int
	WarmupPeriod      time.Duration
}

type DailyCapacity struct {
	DomainID                int64  `json:"domain_id"`
	Date                    string `json:"date"`
	Remaining               int    `json:"remaining"`
	SentToday               int    `json:"sent_today"`
	Limit                   int    `json:"limit"`
	IsInWarmup              bool   `json:"is_in_warmup"`
	DaysUntilWarmupComplete *int   `json:"days_until_warmup_complete"`
}

// CapacityService is the per-domain, per-UTC-day send ledger.
type CapacityService struct {
	Domains  repository.DomainRepositoryInterface
	Capacity repository.CapacityRepositoryInterface
	Config   CapacityConfig
	Warmup   WarmupPolicy
	Events   events.Publisher
	Now      func() time.Time
}

func NewCapacityService(domains repository.DomainRepositoryInterface, capacity repository.CapacityRepositoryInterface, cfg CapacityConfig) *CapacityService {
	return &CapacityService{
		Domains:  domains,
		Capacity: capacity,
		Config:   cfg,
		Warmup:   NewWarmupPolicy(cfg.WarmupPeriod),
	}
}

func (s *CapacityService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CapacityService) dateOrNow(date time.Time) time.Time {
	if date.IsZero() {
		return s.now()
	}
	return date.UTC()
}

// EffectiveLimit is the domain's own limit, or the configured default.
func (s *CapacityService) EffectiveLimit(d *model.Domain) int {
	if d.DailyLimit != nil {
		return *d.DailyLimit
	}
	return s.Config.DefaultDailyLimit
}

// GetDailyCapacity reports the domain's usage for the UTC day containing
// date (today when date is zero), creating the day's record if needed.
func (s *CapacityService) GetDailyCapacity(ctx context.Context, domainID int64, date time.Time) (*DailyCapacity, error) {
	d, err := s.Domains.GetByID(ctx, domainID)
	if err != nil {
		return nil, err
	}

	key := model.DateKey(s.dateOrNow(date))
	rec, err := s.Capacity.GetOrCreate(ctx, d.ID, d.OrganizationID, key)
	if err != nil {
		return nil, fmt.Errorf("load capacity for domain %d on %s: %w", domainID, key, err)
	}

	now := s.now()
	limit := s.EffectiveLimit(d)
	remaining := limit - rec.SentCount
	if remaining < 0 {
		remaining = 0
	}
	return &DailyCapacity{
		DomainID:                d.ID,
		Date:                    key,
		Remaining:               remaining,
		SentToday:               rec.SentCount,
		Limit:                   limit,
		IsInWarmup:              s.Warmup.IsInWarmup(d, now),
		DaysUntilWarmupComplete: s.Warmup.DaysUntilWarmupComplete(d, now),
	}, nil
}

func (s *CapacityService) HasCapacity(ctx context.Context, domainID int64, count int, date time.Time) (bool, error) {
	if count < 1 {
		count = 1
	}
	c, err := s.GetDailyCapacity(ctx, domainID, date)
	if err != nil {
		return false, err
	}
	return c.Remaining >= count, nil
}

// RecordSentEmail consumes one unit of the domain's capacity for the UTC day
// of date. The increment is a single conditional update, so concurrent
// callers can never push the day past the limit; the loser gets
// appErrors.ErrDailyLimitExceeded.
func (s *CapacityService) RecordSentEmail(ctx context.Context, domainID int64, date time.Time) (*model.DailyCapacityRecord, error) {
	d, err := s.Domains.GetByID(ctx, domainID)
	if err != nil {
		return nil, err
	}

	at := s.dateOrNow(date)
	if d.FirstEmailSentAt == nil {
		if err := s.Domains.MarkFirstEmailSent(ctx, d.ID, at); err != nil {
			return nil, fmt.Errorf("mark first send for domain %d: %w", d.ID, err)
		}
		d.FirstEmailSentAt = &at
	}

	if now := s.now(); s.Warmup.Elapsed(d, now) {
		if err := s.completeWarmup(ctx, d, now); err != nil {
			return nil, err
		}
	}

	rec, err := s.Capacity.IncrementIfBelow(ctx, d.ID, d.OrganizationID, model.DateKey(at), s.EffectiveLimit(d))
	if err != nil {
		if errors.Is(err, appErrors.ErrDailyLimitExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("increment capacity for domain %d: %w", d.ID, err)
	}
	return rec, nil
}

// ReleaseSentEmail gives back a unit taken by RecordSentEmail for a send the
// provider did not accept. date must be the one the unit was recorded for.
func (s *CapacityService) ReleaseSentEmail(ctx context.Context, domainID int64, date time.Time) error {
	if err := s.Capacity.Release(ctx, domainID, model.DateKey(s.dateOrNow(date))); err != nil {
		return fmt.Errorf("release capacity for domain %d: %w", domainID, err)
	}
	return nil
}

// GetDailyStats lists the recorded days between start and end inclusive.
func (s *CapacityService) GetDailyStats(ctx context.Context, domainID int64, start, end time.Time) ([]model.DailyCapacityRecord, error) {
	if _, err := s.Domains.GetByID(ctx, domainID); err != nil {
		return nil, err
	}
	startKey, endKey := model.DateKey(start), model.DateKey(end)
	if startKey > endKey {
		return nil, fmt.Errorf("start date %s is after end date %s", startKey, endKey)
	}
	return s.Capacity.ListRange(ctx, domainID, startKey, endKey)
}

// SweepWarmups stamps completion on every domain whose window has elapsed,
// including domains that have stopped sending.
func (s *CapacityService) SweepWarmups(ctx context.Context) (int, error) {
	domains, err := s.Domains.ListWarmingUp(ctx)
	if err != nil {
		return 0, fmt.Errorf("list warming domains: %w", err)
	}
	now := s.now()
	completed := 0
	for i := range domains {
		d := &domains[i]
		if !s.Warmup.Elapsed(d, now) {
			continue
		}
		if err := s.completeWarmup(ctx, d, now); err != nil {
			return completed, err
		}
		completed++
	}
	return completed, nil
}

func (s *CapacityService) completeWarmup(ctx context.Context, d *model.Domain, now time.Time) error {
	if err := s.Domains.MarkWarmupCompleted(ctx, d.ID, now); err != nil {
		return fmt.Errorf("mark warm-up complete for domain %d: %w", d.ID, err)
	}
	d.WarmupCompletedAt = &now
	log.Printf("domain %d (%s) finished warm-up", d.ID, d.Name)
	if s.Events != nil {
		ev := events.Event{Type: events.DomainWarmupCompleted, DomainID: d.ID, OrganizationID: d.OrganizationID, OccurredAt: now}
		if err := s.Events.Publish(ctx, ev); err != nil {
			log.Printf("⚠️ publish %s: %v", ev.Type, err)
		}
	}
	return nil
}
