package events

import (
	"context"
	"time"
)

const (
	CampaignStarted        = "campaign.started"
	CampaignScheduled      = "campaign.scheduled"
	CampaignPaused         = "campaign.paused"
	CampaignResumed        = "campaign.resumed"
	CampaignCancelled      = "campaign.cancelled"
	CampaignCompleted      = "campaign.completed"
	CampaignFailed         = "campaign.failed"
	CampaignBatchProcessed = "campaign.batch_processed"
	DomainWarmupCompleted  = "domain.warmup_completed"
)

// Event is a lifecycle notification. Type doubles as the routing key.
type Event struct {
	Type           string         `json:"type"`
	CampaignID     int64          `json:"campaign_id,omitempty"`
	OrganizationID int64          `json:"organization_id,omitempty"`
	DomainID       int64          `json:"domain_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Publisher delivers events. Publishing is best effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
