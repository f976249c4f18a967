// internal/model/daily_capacity.go
package model

import "time"

// DailyCapacityRecord counts non-test sends for one domain on one UTC day.
type DailyCapacityRecord struct {
	DomainID       int64     `db:"domain_id" json:"domain_id"`
	OrganizationID int64     `db:"organization_id" json:"organization_id"`
	Date           string    `db:"date" json:"date"` // YYYY-MM-DD, UTC
	SentCount      int       `db:"sent_count" json:"sent_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// DateLayout is the UTC calendar-day key used for capacity records.
const DateLayout = "2006-01-02"

// DateKey normalizes t to its UTC calendar day.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
