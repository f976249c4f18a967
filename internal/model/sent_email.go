// internal/model/sent_email.go
package model

import "time"

// SentEmail is the delivery record created for every accepted send. Inbound
// delivery events are matched back to it through ProviderMessageID.
type SentEmail struct {
	ID                int64     `db:"id" json:"id"`
	OrganizationID    int64     `db:"organization_id" json:"organization_id"`
	DomainID          int64     `db:"domain_id" json:"domain_id"`
	CampaignID        *int64    `db:"campaign_id" json:"campaign_id,omitempty"`
	FromAddress       string    `db:"from_address" json:"from_address"`
	ToAddress         string    `db:"to_address" json:"to_address"`
	Subject           string    `db:"subject" json:"subject"`
	Provider          string    `db:"provider" json:"provider"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
