// internal/model/recipient.go
package model

import "time"

const (
	RecipientStatusPending = "pending"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
)

type Recipient struct {
	ID             int64      `db:"id" json:"id"`
	CampaignID     int64      `db:"campaign_id" json:"campaign_id"`
	OrganizationID int64      `db:"organization_id" json:"organization_id"`
	ContactID      *int64     `db:"contact_id" json:"contact_id,omitempty"`
	Email          string     `db:"email" json:"email"`
	IsTest         bool       `db:"is_test" json:"is_test"`
	Status         string     `db:"status" json:"status"` // pending, sent, failed
	BatchNumber    *int       `db:"batch_number" json:"batch_number,omitempty"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	FailedAt       *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	FailureReason  string     `db:"failure_reason" json:"failure_reason,omitempty"`
	SentEmailID    *int64     `db:"sent_email_id" json:"sent_email_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// NewRecipient is the insert shape used when materializing an audience.
type NewRecipient struct {
	ContactID *int64
	Email     string
	IsTest    bool
}
