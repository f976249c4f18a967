package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

// InMemoryQueue keeps jobs in process memory. Delays, retries and history
// behave like the postgres backend, but nothing survives a restart.
type InMemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	seqs map[string]uint64
	seq  uint64
	now  func() time.Time
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		jobs: make(map[string]*model.Job),
		seqs: make(map[string]uint64),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the queue's time source.
func (q *InMemoryQueue) WithClock(now func() time.Time) *InMemoryQueue {
	q.now = now
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*model.Job, error) {
	jobs, err := q.BulkEnqueue(ctx, []EnqueueRequest{req})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

func (q *InMemoryQueue) BulkEnqueue(_ context.Context, reqs []EnqueueRequest) ([]*model.Job, error) {
	now := q.now()
	created := make([]*model.Job, 0, len(reqs))
	for _, req := range reqs {
		job, err := newJob(req, now)
		if err != nil {
			return nil, err
		}
		created = append(created, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range created {
		q.seq++
		q.jobs[job.ID] = job
		q.seqs[job.ID] = q.seq
	}
	return copyJobs(created), nil
}

func (q *InMemoryQueue) ListJobs(_ context.Context, campaignID int64, states ...string) ([]*model.Job, error) {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()

	out := []*model.Job{}
	for _, job := range q.jobs {
		if job.CampaignID == nil || *job.CampaignID != campaignID {
			continue
		}
		if !wantsState(states, job.EffectiveState(now)) {
			continue
		}
		out = append(out, job)
	}
	q.sortJobs(out)
	return copyJobs(out), nil
}

func (q *InMemoryQueue) RemoveJobs(_ context.Context, campaignID int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if job.CampaignID == nil || *job.CampaignID != campaignID {
			continue
		}
		if job.State == model.JobStateWaiting || job.State == model.JobStateActive {
			delete(q.jobs, id)
			delete(q.seqs, id)
			removed++
		}
	}
	return removed, nil
}

// Claim marks the earliest ready job active and returns it.
func (q *InMemoryQueue) Claim(_ context.Context) (*model.Job, error) {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var next *model.Job
	for _, job := range q.jobs {
		if job.State != model.JobStateWaiting || job.RunAt.After(now) {
			continue
		}
		if next == nil || job.RunAt.Before(next.RunAt) ||
			(job.RunAt.Equal(next.RunAt) && q.seqs[job.ID] < q.seqs[next.ID]) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	next.State = model.JobStateActive
	next.Attempts++
	next.UpdatedAt = now
	cp := *next
	return &cp, nil
}

func (q *InMemoryQueue) Complete(_ context.Context, id string) error {
	return q.finish(id, model.JobStateCompleted, "")
}

func (q *InMemoryQueue) Fail(_ context.Context, id string, lastError string) error {
	return q.finish(id, model.JobStateFailed, lastError)
}

func (q *InMemoryQueue) finish(id, state, lastError string) error {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		// Removed while running.
		return nil
	}
	job.State = state
	job.LastError = lastError
	job.UpdatedAt = now
	job.FinishedAt = &now
	return nil
}

func (q *InMemoryQueue) Retry(_ context.Context, id string, runAt time.Time, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	job.State = model.JobStateWaiting
	job.RunAt = runAt
	job.LastError = lastError
	job.UpdatedAt = q.now()
	return nil
}

// Prune keeps only the newest keepCompleted completed and keepFailed failed jobs.
func (q *InMemoryQueue) Prune(_ context.Context, keepCompleted, keepFailed int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for state, keep := range map[string]int{model.JobStateCompleted: keepCompleted, model.JobStateFailed: keepFailed} {
		finished := []*model.Job{}
		for _, job := range q.jobs {
			if job.State == state {
				finished = append(finished, job)
			}
		}
		if len(finished) <= keep {
			continue
		}
		sort.Slice(finished, func(i, j int) bool {
			return finished[i].FinishedAt.After(*finished[j].FinishedAt)
		})
		for _, job := range finished[keep:] {
			delete(q.jobs, job.ID)
			delete(q.seqs, job.ID)
			removed++
		}
	}
	return removed, nil
}

func (q *InMemoryQueue) RecoverStale(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()

	recovered := 0
	for _, job := range q.jobs {
		if job.State == model.JobStateActive && job.UpdatedAt.Before(cutoff) {
			job.State = model.JobStateWaiting
			job.LastError = "recovered stale active job"
			recovered++
		}
	}
	return recovered, nil
}

// Get returns a copy of a job by id.
func (q *InMemoryQueue) Get(id string) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

func (q *InMemoryQueue) sortJobs(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].RunAt.Equal(jobs[j].RunAt) {
			return q.seqs[jobs[i].ID] < q.seqs[jobs[j].ID]
		}
		return jobs[i].RunAt.Before(jobs[j].RunAt)
	})
}

func copyJobs(jobs []*model.Job) []*model.Job {
	out := make([]*model.Job, len(jobs))
	for i, job := range jobs {
		cp := *job
		out[i] = &cp
	}
	return out
}

var _ Backend = (*InMemoryQueue)(nil)
