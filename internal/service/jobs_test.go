package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/queue"
	"github.com/unclebandit/mailpacer-backend/internal/service"
)

func TestRunnerDrivesCampaignToCompletion(t *testing.T) {
	h := newHarness(day1, 100)
	ctx := context.Background()
	h.store.addContacts("a@example.com", "b@example.com")
	h.draft(1)

	runner := queue.NewRunner(h.queue, queue.RunnerOptions{})
	service.RegisterHandlers(runner, h.worker, h.capacity)

	if _, err := h.campaigns.Start(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.campaigns.SendTest(ctx, 1, []string{"qa@example.com"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		found, err := runner.ProcessOne(ctx)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if !found {
			break
		}
	}

	if got := h.store.campaign(1).Status; got != model.CampaignStatusCompleted {
		t.Errorf("expected completed, got %s", got)
	}
	if h.mailer.count() != 3 {
		t.Errorf("expected 3 deliveries, got %d", h.mailer.count())
	}
	done, _ := h.queue.ListJobs(ctx, 1, model.JobStateCompleted)
	if len(done) != 2 {
		t.Errorf("expected 2 completed jobs, got %d", len(done))
	}
}

func TestWarmupSweepJob(t *testing.T) {
	h := newHarness(day1, 100)
	ctx := context.Background()
	first := day1.Add(-10 * 24 * time.Hour)
	h.store.addDomain(model.Domain{ID: testDomainID, OrganizationID: testOrgID, Name: "mail.example.com", Status: model.DomainStatusReady, FirstEmailSentAt: &first})

	runner := queue.NewRunner(h.queue, queue.RunnerOptions{})
	service.RegisterHandlers(runner, h.worker, h.capacity)

	if err := service.EnqueueWarmupSweep(ctx, h.queue); err != nil {
		t.Fatal(err)
	}
	found, err := runner.ProcessOne(ctx)
	if err != nil || !found {
		t.Fatalf("expected the sweep to run, got %v (%v)", found, err)
	}
	if h.store.domain(testDomainID).WarmupCompletedAt == nil {
		t.Error("expected warm-up completion stamped")
	}
}

func TestBadPayloadFailsPermanently(t *testing.T) {
	h := newHarness(day1, 100)
	ctx := context.Background()
	runner := queue.NewRunner(h.queue, queue.RunnerOptions{})
	service.RegisterHandlers(runner, h.worker, h.capacity)

	job, err := h.queue.Enqueue(ctx, queue.EnqueueRequest{Type: queue.JobTypeBatch, Payload: "not an object"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.ProcessOne(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := h.queue.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.JobStateFailed || got.Attempts != 1 {
		t.Errorf("expected one attempt then failure, got %+v", got)
	}
}
