package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

const (
	JobTypeBatch       = "campaign.batch"
	JobTypeSingleSend  = "campaign.single_send"
	JobTypeWarmupSweep = "domain.warmup_sweep"
)

// JobOptions controls retries for a job type.
type JobOptions struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Delivery jobs get 3 attempts, infrastructure jobs 5; both back off
// exponentially from Backoff.
var jobOptions = map[string]JobOptions{
	JobTypeBatch:       {MaxAttempts: 3, Backoff: 2 * time.Second},
	JobTypeSingleSend:  {MaxAttempts: 3, Backoff: 1 * time.Second},
	JobTypeWarmupSweep: {MaxAttempts: 5, Backoff: 5 * time.Second},
}

func OptionsFor(jobType string) JobOptions {
	if opts, ok := jobOptions[jobType]; ok {
		return opts
	}
	return JobOptions{MaxAttempts: 5, Backoff: 5 * time.Second}
}

// EnqueueRequest describes a job to add. CampaignID scopes the job so it can
// be listed and removed per campaign.
type EnqueueRequest struct {
	Type       string
	CampaignID *int64
	Payload    any
	Delay      time.Duration
}

// Queue is the producer side of the job queue.
type Queue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*model.Job, error)
	BulkEnqueue(ctx context.Context, reqs []EnqueueRequest) ([]*model.Job, error)
	ListJobs(ctx context.Context, campaignID int64, states ...string) ([]*model.Job, error)
	// RemoveJobs drops every unfinished job of the campaign. A job that is
	// already executing keeps running; only its retry is lost.
	RemoveJobs(ctx context.Context, campaignID int64) (int, error)
}

// Backend is a Queue that a Runner can consume.
type Backend interface {
	Queue
	Claim(ctx context.Context) (*model.Job, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, runAt time.Time, lastError string) error
	Fail(ctx context.Context, id string, lastError string) error
	Prune(ctx context.Context, keepCompleted, keepFailed int) (int, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Unfinished lists the states RemoveJobs clears.
var Unfinished = []string{model.JobStateWaiting, model.JobStateDelayed, model.JobStateActive}

func newJob(req EnqueueRequest, now time.Time) (*model.Job, error) {
	if req.Type == "" {
		return nil, errors.New("job type is required")
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", req.Type, err)
	}
	delay := req.Delay
	if delay < 0 {
		delay = 0
	}
	opts := OptionsFor(req.Type)
	return &model.Job{
		ID:          uuid.New().String(),
		Type:        req.Type,
		CampaignID:  req.CampaignID,
		Payload:     payload,
		State:       model.JobStateWaiting,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.Backoff,
		RunAt:       now.Add(delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// storedStates maps requested states onto stored ones; delayed jobs are
// stored as waiting.
func storedStates(states []string) []string {
	if len(states) == 0 {
		states = []string{model.JobStateWaiting, model.JobStateDelayed, model.JobStateActive,
			model.JobStateCompleted, model.JobStateFailed}
	}
	seen := map[string]bool{}
	out := []string{}
	for _, s := range states {
		if s == model.JobStateDelayed {
			s = model.JobStateWaiting
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func wantsState(states []string, state string) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DecodePayload unmarshals a job payload. Malformed payloads are permanent.
func DecodePayload(job *model.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return Permanent(fmt.Errorf("invalid %s payload: %w", job.Type, err))
	}
	return nil
}
