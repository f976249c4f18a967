// internal/model/job.go
package model

import (
	"encoding/json"
	"time"
)

const (
	JobStateWaiting   = "waiting"
	JobStateDelayed   = "delayed"
	JobStateActive    = "active"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// Job is one unit of queued work. Waiting and delayed are the same stored
// state; a job is delayed while RunAt is still in the future.
type Job struct {
	ID          string          `db:"id" json:"id"`
	Type        string          `db:"type" json:"type"`
	CampaignID  *int64          `db:"campaign_id" json:"campaign_id,omitempty"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	State       string          `db:"state" json:"state"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	BackoffBase time.Duration   `db:"backoff_ms" json:"-"`
	RunAt       time.Time       `db:"run_at" json:"run_at"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	FinishedAt  *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// EffectiveState resolves a queued job into waiting or delayed relative to now.
func (j *Job) EffectiveState(now time.Time) string {
	if j.State == JobStateWaiting && j.RunAt.After(now) {
		return JobStateDelayed
	}
	return j.State
}
