package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := RetryDelay(2*time.Second, c.attempt, 30*time.Second); got != c.want {
			t.Errorf("attempt %d: expected %s, got %s", c.attempt, c.want, got)
		}
	}
}

func TestRunner_RetriesThenFails(t *testing.T) {
	q, clock := newTestQueue()
	ctx := context.Background()
	r := NewRunner(q, RunnerOptions{})
	r.now = clock.Now

	calls := 0
	r.Handle(JobTypeBatch, func(ctx context.Context, job *model.Job) error {
		calls++
		return errors.New("database unavailable")
	})

	job, _ := q.Enqueue(ctx, EnqueueRequest{Type: JobTypeBatch, Payload: 1})

	for i := 0; i < 3; i++ {
		worked, err := r.ProcessOne(ctx)
		if err != nil || !worked {
			t.Fatalf("attempt %d: expected a processed job, err %v", i+1, err)
		}
		clock.Advance(time.Minute)
	}

	if calls != 3 {
		t.Errorf("expected 3 handler calls, got %d", calls)
	}
	final, _ := q.Get(job.ID)
	if final.State != model.JobStateFailed {
		t.Errorf("expected failed job, got %s", final.State)
	}
	if final.LastError != "database unavailable" {
		t.Errorf("unexpected last error %q", final.LastError)
	}
}

func TestRunner_PermanentErrorSkipsRetry(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()
	r := NewRunner(q, RunnerOptions{})

	r.Handle(JobTypeSingleSend, func(ctx context.Context, job *model.Job) error {
		var payload struct {
			RecipientID int64 `json:"recipient_id"`
		}
		return DecodePayload(job, &payload)
	})

	job, _ := q.Enqueue(ctx, EnqueueRequest{Type: JobTypeSingleSend, Payload: "not an object"})
	if _, err := r.ProcessOne(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	final, _ := q.Get(job.ID)
	if final.State != model.JobStateFailed || final.Attempts != 1 {
		t.Errorf("expected failure on first attempt, got %+v", final)
	}
}

func TestRunner_UnknownTypeAndPanic(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()
	r := NewRunner(q, RunnerOptions{})
	r.Handle(JobTypeWarmupSweep, func(ctx context.Context, job *model.Job) error {
		panic("boom")
	})

	unknown, _ := q.Enqueue(ctx, EnqueueRequest{Type: "mystery", Payload: 1})
	_, _ = r.ProcessOne(ctx)
	if j, _ := q.Get(unknown.ID); j.State != model.JobStateFailed {
		t.Errorf("expected unknown job type to fail, got %s", j.State)
	}

	panicky, _ := q.Enqueue(ctx, EnqueueRequest{Type: JobTypeWarmupSweep, Payload: 1})
	if _, err := r.ProcessOne(ctx); err != nil {
		t.Fatalf("expected panic to be recovered, got %v", err)
	}
	j, _ := q.Get(panicky.ID)
	if j.State != model.JobStateWaiting || j.LastError == "" {
		t.Errorf("expected panicking job to be scheduled for retry, got %+v", j)
	}
}

func TestRunner_CompletesSuccessfulJob(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()
	r := NewRunner(q, RunnerOptions{})
	r.Handle(JobTypeBatch, func(ctx context.Context, job *model.Job) error { return nil })

	job, _ := q.Enqueue(ctx, EnqueueRequest{Type: JobTypeBatch, Payload: 1})
	worked, err := r.ProcessOne(ctx)
	if !worked || err != nil {
		t.Fatalf("expected processed job, err %v", err)
	}
	if j, _ := q.Get(job.ID); j.State != model.JobStateCompleted {
		t.Errorf("expected completed, got %s", j.State)
	}

	worked, _ = r.ProcessOne(ctx)
	if worked {
		t.Error("expected empty queue")
	}
}
