// internal/model/campaign.go
package model

import "time"

const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
	CampaignStatusCancelled = "cancelled"
)

const (
	TagMatchAny = "any"
	TagMatchAll = "all"
)

type Campaign struct {
	ID               int64      `db:"id" json:"id"`
	OrganizationID   int64      `db:"organization_id" json:"organization_id"`
	DomainID         *int64     `db:"domain_id" json:"domain_id,omitempty"`
	Name             string     `db:"name" json:"name"`
	Status           string     `db:"status" json:"status"`
	Subject          string     `db:"subject" json:"subject"`
	Body             string     `db:"body" json:"body"`
	FromName         string     `db:"from_name" json:"from_name,omitempty"`
	TargetTags       []string   `db:"target_tags" json:"target_tags"`
	TargetCategories []string   `db:"target_categories" json:"target_categories"`
	TagMatchType     string     `db:"tag_match_type" json:"tag_match_type"`
	TotalRecipients  int        `db:"total_recipients" json:"total_recipients"`
	SentCount        int        `db:"sent_count" json:"sent_count"`
	FailedCount      int        `db:"failed_count" json:"failed_count"`
	LastBatchNumber  int        `db:"last_batch_number" json:"last_batch_number"`
	TestReceiverID   *int64     `db:"test_receiver_id" json:"test_receiver_id,omitempty"`
	ScheduledAt      *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt        *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt      *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Filters is the audience definition handed to the contact matcher.
func (c *Campaign) Filters() ContactFilters {
	return ContactFilters{
		Tags:         c.TargetTags,
		Categories:   c.TargetCategories,
		TagMatchType: c.TagMatchType,
	}
}

// StatusChange describes a guarded status update. Only campaigns currently in
// one of From are moved to To; the timestamp fields are applied when set, and
// CompletedAt never overwrites an existing completion time.
type StatusChange struct {
	From        []string
	To          string
	StartedAt   *time.Time
	ScheduledAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}
