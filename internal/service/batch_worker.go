package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/events"
	"github.com/unclebandit/mailpacer-backend/internal/mail"
	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/queue"
	"github.com/unclebandit/mailpacer-backend/internal/repository"
)

// Batch outcomes, reported in BatchResult.Outcome.
const (
	OutcomeSkipped           = "skipped"
	OutcomeDeferred          = "deferred"
	OutcomeCampaignMissing   = "campaign_missing"
	OutcomeDomainMissing     = "domain_missing"
	OutcomeDomainBlocked     = "domain_blocked"
	OutcomeCapacityExhausted = "capacity_exhausted"
	OutcomeCompleted         = "completed"
	OutcomeRequeued          = "requeued"
	OutcomeStopped           = "stopped"
)

type BatchResult struct {
	Outcome   string        `json:"outcome"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	NextBatch int           `json:"next_batch,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
}

// BatchWorker sends one capacity-sized slice of a campaign per job and
// queues its own successor.
type BatchWorker struct {
	Campaigns     *CampaignService
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	DomainRepo    repository.DomainRepositoryInterface
	Capacity      *CapacityService
	Mailer        MailSender
	Events        events.Publisher
	FromLocalPart string
	Now           func() time.Time
}

func (w *BatchWorker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// NextUTCMidnight is the start of the UTC day after t.
func NextUTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// Process runs one batch. Conditions that retrying cannot fix are reported
// through the result; a returned error asks the queue to retry the job.
func (w *BatchWorker) Process(ctx context.Context, p BatchPayload) (*BatchResult, error) {
	c, err := w.CampaignRepo.GetByID(ctx, p.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Printf("⚠️ batch %d: campaign %d no longer exists", p.BatchNumber, p.CampaignID)
			return &BatchResult{Outcome: OutcomeCampaignMissing}, nil
		}
		return nil, err
	}

	if c.Status == model.CampaignStatusScheduled {
		// The job can be claimed a little before its time when the enqueuing
		// and claiming clocks disagree. Put it back rather than drop it.
		if now := w.now(); c.ScheduledAt != nil && c.ScheduledAt.After(now) {
			delay := c.ScheduledAt.Sub(now)
			if _, err := w.Campaigns.enqueueBatch(ctx, c, p.DomainID, p.BatchNumber, delay); err != nil {
				return nil, err
			}
			log.Printf("campaign %d: batch %d claimed early, deferred %s", c.ID, p.BatchNumber, delay)
			return &BatchResult{Outcome: OutcomeDeferred, NextBatch: p.BatchNumber, Delay: delay}, nil
		}
		if _, err := w.Campaigns.ActivateScheduled(ctx, c); err != nil {
			return nil, err
		}
	}
	if c.Status != model.CampaignStatusSending {
		log.Printf("batch %d for campaign %d skipped: status is %s", p.BatchNumber, c.ID, c.Status)
		return &BatchResult{Outcome: OutcomeSkipped}, nil
	}

	d, err := w.DomainRepo.GetByID(ctx, p.DomainID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			if _, err := w.Campaigns.Fail(ctx, c, fmt.Sprintf("domain %d not found", p.DomainID)); err != nil {
				return nil, err
			}
			return &BatchResult{Outcome: OutcomeDomainMissing}, nil
		}
		return nil, err
	}
	if d.Status == model.DomainStatusBlocked {
		if _, err := w.Campaigns.Suspend(ctx, c, fmt.Sprintf("domain %s is blocked", d.Name)); err != nil {
			return nil, err
		}
		return &BatchResult{Outcome: OutcomeDomainBlocked}, nil
	}

	if err := w.CampaignRepo.SetLastBatchNumber(ctx, c.ID, p.BatchNumber); err != nil {
		return nil, err
	}

	now := w.now()
	capacity, err := w.Capacity.GetDailyCapacity(ctx, d.ID, now)
	if err != nil {
		return nil, err
	}
	if capacity.Remaining <= 0 {
		sending, err := w.stillSending(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !sending {
			return &BatchResult{Outcome: OutcomeStopped}, nil
		}
		delay := NextUTCMidnight(now).Sub(now)
		if _, err := w.Campaigns.enqueueBatch(ctx, c, d.ID, p.BatchNumber, delay); err != nil {
			return nil, err
		}
		log.Printf("campaign %d: domain %s is out of capacity, batch %d deferred %s", c.ID, d.Name, p.BatchNumber, delay)
		return &BatchResult{Outcome: OutcomeCapacityExhausted, NextBatch: p.BatchNumber, Delay: delay}, nil
	}

	recipients, err := w.RecipientRepo.ListPending(ctx, c.ID, capacity.Remaining)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		if _, err := w.Campaigns.Complete(ctx, c); err != nil {
			return nil, err
		}
		return &BatchResult{Outcome: OutcomeCompleted}, nil
	}

	res, limitHit, err := w.sendAll(ctx, c, d, p.BatchNumber, recipients)
	if err != nil {
		return nil, err
	}

	pending, err := w.RecipientRepo.CountPending(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		if _, err := w.Campaigns.Complete(ctx, c); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeCompleted
		w.publishBatch(ctx, c, p.BatchNumber, res)
		return res, nil
	}

	sending, err := w.stillSending(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !sending {
		res.Outcome = OutcomeStopped
		w.publishBatch(ctx, c, p.BatchNumber, res)
		return res, nil
	}

	now = w.now()
	var delay time.Duration
	if limitHit {
		delay = NextUTCMidnight(now).Sub(now)
	} else {
		after, err := w.Capacity.GetDailyCapacity(ctx, d.ID, now)
		if err != nil {
			return nil, err
		}
		if after.Remaining <= 0 {
			delay = NextUTCMidnight(now).Sub(now)
		}
	}

	next := p.BatchNumber + 1
	if _, err := w.Campaigns.enqueueBatch(ctx, c, d.ID, next, delay); err != nil {
		return nil, err
	}
	res.Outcome = OutcomeRequeued
	res.NextBatch = next
	res.Delay = delay
	w.publishBatch(ctx, c, p.BatchNumber, res)
	return res, nil
}

// stillSending re-reads the campaign before a successor is queued. A pause or
// cancel that landed after the batch started has already cleared the queue,
// so a job queued now would outlive it.
func (w *BatchWorker) stillSending(ctx context.Context, id int64) (bool, error) {
	current, err := w.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return current.Status == model.CampaignStatusSending, nil
}

// release hands back a unit reserved for a send the provider refused. A
// failed release leaves the day over-counted, which only slows sending.
func (w *BatchWorker) release(ctx context.Context, domainID int64, at time.Time) {
	if err := w.Capacity.ReleaseSentEmail(ctx, domainID, at); err != nil {
		log.Printf("⚠️ %v", err)
	}
}

// sendAll reserves capacity before each send so a concurrent sender can
// never push the domain past its limit. When the reservation is refused the
// loop stops and the rest of the slice stays pending. A refused send hands
// its unit back, so the day's count only covers accepted messages.
func (w *BatchWorker) sendAll(ctx context.Context, c *model.Campaign, d *model.Domain, batch int, recipients []model.Recipient) (*BatchResult, bool, error) {
	res := &BatchResult{}
	from := mail.FromAddress(c.FromName, w.FromLocalPart, d.Name)
	batchNumber := batch

	for i := range recipients {
		r := &recipients[i]
		reservedAt := w.now()
		if _, err := w.Capacity.RecordSentEmail(ctx, d.ID, reservedAt); err != nil {
			if errors.Is(err, appErrors.ErrDailyLimitExceeded) {
				log.Printf("campaign %d: daily limit reached for %s after %d sends", c.ID, d.Name, res.Sent)
				return res, true, nil
			}
			return nil, false, err
		}

		sent, err := w.Mailer.Send(ctx, SendRequest{
			OrganizationID: c.OrganizationID,
			DomainID:       d.ID,
			CampaignID:     &c.ID,
			From:           from,
			To:             r.Email,
			Subject:        c.Subject,
			HTML:           c.Body,
		})
		if err != nil {
			log.Printf("⚠️ campaign %d: send to %s failed: %v", c.ID, r.Email, err)
			w.release(ctx, d.ID, reservedAt)
			if _, err := w.RecipientRepo.MarkFailed(ctx, r.ID, err.Error(), &batchNumber, w.now()); err != nil {
				return nil, false, err
			}
			if err := w.CampaignRepo.IncrementFailedCount(ctx, c.ID, 1); err != nil {
				return nil, false, err
			}
			res.Failed++
			continue
		}

		if _, err := w.RecipientRepo.MarkSent(ctx, r.ID, sent.SentEmailID, &batchNumber, w.now()); err != nil {
			return nil, false, err
		}
		if err := w.CampaignRepo.IncrementSentCount(ctx, c.ID, 1); err != nil {
			return nil, false, err
		}
		res.Sent++
	}
	return res, false, nil
}

func (w *BatchWorker) publishBatch(ctx context.Context, c *model.Campaign, batch int, res *BatchResult) {
	log.Printf("📧 campaign %d batch %d: %d sent, %d failed (%s)", c.ID, batch, res.Sent, res.Failed, res.Outcome)
	if w.Events == nil {
		return
	}
	ev := events.Event{
		Type:           events.CampaignBatchProcessed,
		CampaignID:     c.ID,
		OrganizationID: c.OrganizationID,
		Data: map[string]any{
			"batch_number": batch,
			"sent":         res.Sent,
			"failed":       res.Failed,
			"outcome":      res.Outcome,
		},
		OccurredAt: w.now(),
	}
	if c.DomainID != nil {
		ev.DomainID = *c.DomainID
	}
	if err := w.Events.Publish(ctx, ev); err != nil {
		log.Printf("⚠️ publish %s: %v", ev.Type, err)
	}
}

// SendSingle delivers one recipient, typically a test address. A recipient
// that is already sent is left alone so queue retries stay idempotent.
func (w *BatchWorker) SendSingle(ctx context.Context, p SingleSendPayload) error {
	r, err := w.RecipientRepo.GetByID(ctx, p.RecipientID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return queue.Permanent(err)
		}
		return err
	}
	if r.Status == model.RecipientStatusSent {
		return nil
	}
	c, err := w.CampaignRepo.GetByID(ctx, p.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return queue.Permanent(err)
		}
		return err
	}
	d, err := w.DomainRepo.GetByID(ctx, p.DomainID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return queue.Permanent(err)
		}
		return err
	}

	reservedAt := w.now()
	if !r.IsTest {
		if _, err := w.Capacity.RecordSentEmail(ctx, d.ID, reservedAt); err != nil {
			return err
		}
	}

	subject := c.Subject
	if r.IsTest {
		subject = "[Test] " + subject
	}
	sent, err := w.Mailer.Send(ctx, SendRequest{
		OrganizationID: c.OrganizationID,
		DomainID:       d.ID,
		CampaignID:     &c.ID,
		From:           mail.FromAddress(c.FromName, w.FromLocalPart, d.Name),
		To:             r.Email,
		Subject:        subject,
		HTML:           c.Body,
	})
	if err != nil {
		if !r.IsTest {
			w.release(ctx, d.ID, reservedAt)
		}
		if _, markErr := w.RecipientRepo.MarkFailed(ctx, r.ID, err.Error(), nil, w.now()); markErr != nil {
			log.Printf("⚠️ failed to mark recipient %d failed: %v", r.ID, markErr)
		}
		if !r.IsTest {
			if incErr := w.CampaignRepo.IncrementFailedCount(ctx, c.ID, 1); incErr != nil {
				log.Printf("⚠️ failed to count failure for campaign %d: %v", c.ID, incErr)
			}
		}
		return fmt.Errorf("send to %s: %w", r.Email, err)
	}

	if _, err := w.RecipientRepo.MarkSent(ctx, r.ID, sent.SentEmailID, nil, w.now()); err != nil {
		return err
	}
	if !r.IsTest {
		return w.CampaignRepo.IncrementSentCount(ctx, c.ID, 1)
	}
	return nil
}
