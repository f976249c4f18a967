package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

// HandlerFunc processes one job. Returning an error schedules a retry until
// the job's attempts are used up, unless the error is Permanent.
type HandlerFunc func(ctx context.Context, job *model.Job) error

type RunnerOptions struct {
	Concurrency   int
	PollInterval  time.Duration
	MaxRetryDelay time.Duration
	KeepCompleted int
	KeepFailed    int
	JanitorEvery  time.Duration
	StaleAfter    time.Duration
}

// Runner is the worker pool: it claims jobs from a Backend and dispatches them
// to the handler registered for their type.
type Runner struct {
	backend  Backend
	opts     RunnerOptions
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	now      func() time.Time
}

func NewRunner(backend Backend, opts RunnerOptions) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = 10 * time.Minute
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 1000
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 5000
	}
	if opts.JanitorEvery <= 0 {
		opts.JanitorEvery = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	return &Runner{
		backend:  backend,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle registers the handler for a job type.
func (r *Runner) Handle(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Run blocks until ctx is cancelled and all workers have returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.loop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.janitor(ctx)
	}()

	log.Printf("queue runner started with %d workers", r.opts.Concurrency)
	wg.Wait()
	log.Println("queue runner stopped")
}

func (r *Runner) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := r.ProcessOne(ctx)
		if err != nil {
			log.Printf("⚠️ worker %d cycle failed: %v", id, err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOne claims and runs a single job. It reports whether a job was found.
func (r *Runner) ProcessOne(ctx context.Context) (bool, error) {
	job, err := r.backend.Claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	r.mu.RLock()
	handler, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		if err := r.backend.Fail(ctx, job.ID, "no handler for job type "+job.Type); err != nil {
			return true, fmt.Errorf("mark job failed: %w", err)
		}
		return true, nil
	}

	runErr := r.safeRun(ctx, handler, job)
	if runErr == nil {
		if err := r.backend.Complete(ctx, job.ID); err != nil {
			return true, fmt.Errorf("mark job completed: %w", err)
		}
		return true, nil
	}

	if IsPermanent(runErr) || job.Attempts >= job.MaxAttempts {
		log.Printf("⚠️ job %s (%s) permanently failed after %d attempts: %v", job.ID, job.Type, job.Attempts, runErr)
		if err := r.backend.Fail(ctx, job.ID, runErr.Error()); err != nil {
			return true, fmt.Errorf("mark job failed: %w", err)
		}
		return true, nil
	}

	delay := RetryDelay(job.BackoffBase, job.Attempts, r.opts.MaxRetryDelay)
	log.Printf("job %s (%s) failed (attempt %d/%d), retrying in %s: %v", job.ID, job.Type, job.Attempts, job.MaxAttempts, delay, runErr)
	if err := r.backend.Retry(ctx, job.ID, r.now().Add(delay), runErr.Error()); err != nil {
		return true, fmt.Errorf("mark job retry: %w", err)
	}
	return true, nil
}

func (r *Runner) safeRun(ctx context.Context, handler HandlerFunc, job *model.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, job)
}

func (r *Runner) janitor(ctx context.Context) {
	ticker := time.NewTicker(r.opts.JanitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := r.backend.RecoverStale(ctx, r.opts.StaleAfter); err != nil {
			log.Printf("⚠️ recover stale jobs: %v", err)
		} else if n > 0 {
			log.Printf("recovered %d stale jobs", n)
		}
		if _, err := r.backend.Prune(ctx, r.opts.KeepCompleted, r.opts.KeepFailed); err != nil {
			log.Printf("⚠️ prune job history: %v", err)
		}
	}
}

// RetryDelay doubles base for every attempt after the first, capped at max.
func RetryDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
