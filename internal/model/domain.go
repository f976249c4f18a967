// internal/model/domain.go
package model

import "time"

const (
	DomainStatusPending = "pending"
	DomainStatusReady   = "ready"
	DomainStatusBlocked = "blocked"
	DomainStatusFailed  = "failed"
)

// Domain is a verified sending identity.
type Domain struct {
	ID                int64      `db:"id" json:"id"`
	OrganizationID    int64      `db:"organization_id" json:"organization_id"`
	Name              string     `db:"name" json:"name"`
	Status            string     `db:"status" json:"status"`
	DailyLimit        *int       `db:"daily_limit" json:"daily_limit,omitempty"`
	FirstEmailSentAt  *time.Time `db:"first_email_sent_at" json:"first_email_sent_at,omitempty"`
	WarmupCompletedAt *time.Time `db:"warmup_completed_at" json:"warmup_completed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
