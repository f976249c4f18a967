package service

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/events"
	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/queue"
	"github.com/unclebandit/mailpacer-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	ContactRepo   repository.ContactRepositoryInterface
	DomainRepo    repository.DomainRepositoryInterface
	Queue         queue.Queue
	Events        events.Publisher
	Now           func() time.Time
}

type CreateCampaignInput struct {
	OrganizationID   int64    `json:"organization_id"`
	DomainID         *int64   `json:"domain_id"`
	Name             string   `json:"name"`
	Subject          string   `json:"subject"`
	Body             string   `json:"body"`
	FromName         string   `json:"from_name"`
	TargetTags       []string `json:"target_tags"`
	TargetCategories []string `json:"target_categories"`
	TagMatchType     string   `json:"tag_match_type"`
}

// StartResult is returned by Start and Schedule.
type StartResult struct {
	Campaign          *model.Campaign `json:"campaign"`
	RecipientsCreated int             `json:"recipients_created"`
	TotalRecipients   int             `json:"total_recipients"`
	Job               *model.Job      `json:"job"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

// BatchPayload is the body of a campaign.batch job.
type BatchPayload struct {
	CampaignID     int64 `json:"campaign_id"`
	OrganizationID int64 `json:"organization_id"`
	DomainID       int64 `json:"domain_id"`
	BatchNumber    int   `json:"batch_number"`
}

// SingleSendPayload is the body of a campaign.single_send job.
type SingleSendPayload struct {
	RecipientID    int64 `json:"recipient_id"`
	CampaignID     int64 `json:"campaign_id"`
	OrganizationID int64 `json:"organization_id"`
	DomainID       int64 `json:"domain_id"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CampaignService) publish(ctx context.Context, eventType string, c *model.Campaign, data map[string]any) {
	if s.Events == nil {
		return
	}
	ev := events.Event{
		Type:           eventType,
		CampaignID:     c.ID,
		OrganizationID: c.OrganizationID,
		Data:           data,
		OccurredAt:     s.now(),
	}
	if c.DomainID != nil {
		ev.DomainID = *c.DomainID
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		log.Printf("⚠️ publish %s for campaign %d: %v", eventType, c.ID, err)
	}
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", appErrors.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", appErrors.ErrInvalidInput)
	}
	match := in.TagMatchType
	if match == "" {
		match = model.TagMatchAny
	}
	if match != model.TagMatchAny && match != model.TagMatchAll {
		return nil, fmt.Errorf("%w: tag_match_type must be %q or %q", appErrors.ErrInvalidInput, model.TagMatchAny, model.TagMatchAll)
	}

	c := &model.Campaign{
		OrganizationID:   in.OrganizationID,
		DomainID:         in.DomainID,
		Name:             in.Name,
		Status:           model.CampaignStatusDraft,
		Subject:          in.Subject,
		Body:             in.Body,
		FromName:         in.FromName,
		TargetTags:       in.TargetTags,
		TargetCategories: in.TargetCategories,
		TagMatchType:     match,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, id)
}

// GetCampaignDetailsWithStats adds per-status recipient counts. Test
// recipients are not counted.
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id int64) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.RecipientRepo.GetStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load stats for campaign %d: %w", id, err)
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

func (s *CampaignService) ListJobs(ctx context.Context, id int64, states ...string) ([]*model.Job, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.Queue.ListJobs(ctx, id, states...)
}

// Start materializes the audience and queues batch 1.
func (s *CampaignService) Start(ctx context.Context, id int64) (*StartResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusDraft {
		return nil, appErrors.NewInvalidTransition(id, "start", c.Status)
	}
	d, err := s.domainFor(ctx, c)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DomainStatusReady {
		return nil, fmt.Errorf("%w: domain %s is %s", appErrors.ErrDomainNotReady, d.Name, d.Status)
	}

	created, total, err := s.materialize(ctx, c)
	if err != nil {
		return nil, err
	}
	pending, err := s.RecipientRepo.CountPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		return nil, appErrors.ErrNoRecipients
	}

	now := s.now()
	if err := s.transition(ctx, c, "start", model.StatusChange{
		From:      []string{model.CampaignStatusDraft},
		To:        model.CampaignStatusSending,
		StartedAt: &now,
	}); err != nil {
		return nil, err
	}

	job, err := s.enqueueBatch(ctx, c, d.ID, 1, 0)
	if err != nil {
		s.revert(ctx, c, model.CampaignStatusSending, model.CampaignStatusDraft)
		return nil, err
	}

	log.Printf("✅ campaign %d started with %d recipients", id, total)
	s.publish(ctx, events.CampaignStarted, c, map[string]any{"total_recipients": total})
	return &StartResult{Campaign: c, RecipientsCreated: created, TotalRecipients: total, Job: job}, nil
}

// Schedule materializes the audience now and delays batch 1 until at.
func (s *CampaignService) Schedule(ctx context.Context, id int64, at time.Time) (*StartResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusDraft {
		return nil, appErrors.NewInvalidTransition(id, "schedule", c.Status)
	}
	d, err := s.domainFor(ctx, c)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !at.After(now) {
		return nil, fmt.Errorf("%w: %s is not in the future", appErrors.ErrInvalidSchedule, at.UTC().Format(time.RFC3339))
	}

	created, total, err := s.materialize(ctx, c)
	if err != nil {
		return nil, err
	}

	at = at.UTC()
	if err := s.transition(ctx, c, "schedule", model.StatusChange{
		From:        []string{model.CampaignStatusDraft},
		To:          model.CampaignStatusScheduled,
		ScheduledAt: &at,
	}); err != nil {
		return nil, err
	}

	job, err := s.enqueueBatch(ctx, c, d.ID, 1, at.Sub(now))
	if err != nil {
		s.revert(ctx, c, model.CampaignStatusScheduled, model.CampaignStatusDraft)
		return nil, err
	}

	log.Printf("campaign %d scheduled for %s", id, at.Format(time.RFC3339))
	s.publish(ctx, events.CampaignScheduled, c, map[string]any{"scheduled_at": at, "total_recipients": total})
	return &StartResult{Campaign: c, RecipientsCreated: created, TotalRecipients: total, Job: job}, nil
}

// Pause stops a sending campaign and drops its queued jobs. It returns the
// number of jobs removed.
func (s *CampaignService) Pause(ctx context.Context, id int64) (int, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != model.CampaignStatusSending {
		return 0, appErrors.NewInvalidTransition(id, "pause", c.Status)
	}
	if err := s.transition(ctx, c, "pause", model.StatusChange{
		From: []string{model.CampaignStatusSending},
		To:   model.CampaignStatusPaused,
	}); err != nil {
		return 0, err
	}

	removed, err := s.Queue.RemoveJobs(ctx, id)
	if err != nil {
		// The campaign is already paused, so leftover jobs will no-op.
		log.Printf("⚠️ failed to remove jobs for paused campaign %d: %v", id, err)
	}
	s.publish(ctx, events.CampaignPaused, c, map[string]any{"removed_jobs": removed})
	return removed, nil
}

// Resume continues a paused campaign with the batch after the last one
// processed.
func (s *CampaignService) Resume(ctx context.Context, id int64) (*model.Job, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusPaused {
		return nil, appErrors.NewInvalidTransition(id, "resume", c.Status)
	}
	d, err := s.domainFor(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, "resume", model.StatusChange{
		From: []string{model.CampaignStatusPaused},
		To:   model.CampaignStatusSending,
	}); err != nil {
		return nil, err
	}

	next := c.LastBatchNumber + 1
	job, err := s.enqueueBatch(ctx, c, d.ID, next, 0)
	if err != nil {
		s.revert(ctx, c, model.CampaignStatusSending, model.CampaignStatusPaused)
		return nil, err
	}
	s.publish(ctx, events.CampaignResumed, c, map[string]any{"batch_number": next})
	return job, nil
}

// Cancel is terminal. Recipients already sent stay sent.
func (s *CampaignService) Cancel(ctx context.Context, id int64) (int, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status == model.CampaignStatusCancelled || c.Status == model.CampaignStatusCompleted {
		return 0, appErrors.NewInvalidTransition(id, "cancel", c.Status)
	}
	now := s.now()
	if err := s.transition(ctx, c, "cancel", model.StatusChange{
		From: []string{
			model.CampaignStatusDraft,
			model.CampaignStatusScheduled,
			model.CampaignStatusSending,
			model.CampaignStatusPaused,
			model.CampaignStatusFailed,
		},
		To:          model.CampaignStatusCancelled,
		CancelledAt: &now,
		CompletedAt: &now,
	}); err != nil {
		return 0, err
	}

	removed, err := s.Queue.RemoveJobs(ctx, id)
	if err != nil {
		log.Printf("⚠️ failed to remove jobs for cancelled campaign %d: %v", id, err)
	}
	s.publish(ctx, events.CampaignCancelled, c, map[string]any{"removed_jobs": removed})
	return removed, nil
}

// SendTest queues one single-send job per address. Test recipients never
// count toward the campaign audience.
func (s *CampaignService) SendTest(ctx context.Context, id int64, emails []string) ([]*model.Job, error) {
	addresses, err := normalizeEmails(emails)
	if err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := s.domainFor(ctx, c)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DomainStatusReady {
		return nil, fmt.Errorf("%w: domain %s is %s", appErrors.ErrDomainNotReady, d.Name, d.Status)
	}

	news := make([]model.NewRecipient, len(addresses))
	for i, addr := range addresses {
		news[i] = model.NewRecipient{Email: addr, IsTest: true}
	}
	created, err := s.RecipientRepo.CreateMany(ctx, c.ID, c.OrganizationID, news)
	if err != nil {
		return nil, fmt.Errorf("create test recipients for campaign %d: %w", id, err)
	}

	reqs := make([]queue.EnqueueRequest, len(created))
	for i, r := range created {
		reqs[i] = queue.EnqueueRequest{
			Type:       queue.JobTypeSingleSend,
			CampaignID: &c.ID,
			Payload: SingleSendPayload{
				RecipientID:    r.ID,
				CampaignID:     c.ID,
				OrganizationID: c.OrganizationID,
				DomainID:       d.ID,
			},
		}
	}
	jobs, err := s.Queue.BulkEnqueue(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("queue test sends for campaign %d: %w", id, err)
	}
	log.Printf("📧 queued %d test sends for campaign %d", len(jobs), id)
	return jobs, nil
}

// ActivateScheduled moves a scheduled campaign to sending once its time has
// come. It reports whether the campaign is now sending.
func (s *CampaignService) ActivateScheduled(ctx context.Context, c *model.Campaign) (bool, error) {
	now := s.now()
	if c.ScheduledAt != nil && c.ScheduledAt.After(now) {
		return false, nil
	}
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, model.StatusChange{
		From:      []string{model.CampaignStatusScheduled},
		To:        model.CampaignStatusSending,
		StartedAt: &now,
	})
	if err != nil || !ok {
		return false, err
	}
	c.Status = model.CampaignStatusSending
	c.StartedAt = &now
	s.publish(ctx, events.CampaignStarted, c, map[string]any{"scheduled": true})
	return true, nil
}

// Complete finishes a sending campaign. A campaign that left sending in the
// meantime is left alone.
func (s *CampaignService) Complete(ctx context.Context, c *model.Campaign) (bool, error) {
	now := s.now()
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, model.StatusChange{
		From:        []string{model.CampaignStatusSending},
		To:          model.CampaignStatusCompleted,
		CompletedAt: &now,
	})
	if err != nil || !ok {
		return false, err
	}
	c.Status = model.CampaignStatusCompleted
	c.CompletedAt = &now
	log.Printf("✅ campaign %d completed", c.ID)
	s.publish(ctx, events.CampaignCompleted, c, nil)
	return true, nil
}

func (s *CampaignService) Fail(ctx context.Context, c *model.Campaign, reason string) (bool, error) {
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, model.StatusChange{
		From: []string{model.CampaignStatusSending},
		To:   model.CampaignStatusFailed,
	})
	if err != nil || !ok {
		return false, err
	}
	c.Status = model.CampaignStatusFailed
	log.Printf("⚠️ campaign %d failed: %s", c.ID, reason)
	s.publish(ctx, events.CampaignFailed, c, map[string]any{"reason": reason})
	return true, nil
}

// Suspend pauses a sending campaign on behalf of the system, e.g. when its
// domain gets blocked.
func (s *CampaignService) Suspend(ctx context.Context, c *model.Campaign, reason string) (bool, error) {
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, model.StatusChange{
		From: []string{model.CampaignStatusSending},
		To:   model.CampaignStatusPaused,
	})
	if err != nil || !ok {
		return false, err
	}
	c.Status = model.CampaignStatusPaused
	log.Printf("⚠️ campaign %d paused: %s", c.ID, reason)
	s.publish(ctx, events.CampaignPaused, c, map[string]any{"reason": reason})
	return true, nil
}

func (s *CampaignService) enqueueBatch(ctx context.Context, c *model.Campaign, domainID int64, batch int, delay time.Duration) (*model.Job, error) {
	job, err := s.Queue.Enqueue(ctx, queue.EnqueueRequest{
		Type:       queue.JobTypeBatch,
		CampaignID: &c.ID,
		Delay:      delay,
		Payload: BatchPayload{
			CampaignID:     c.ID,
			OrganizationID: c.OrganizationID,
			DomainID:       domainID,
			BatchNumber:    batch,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue batch %d for campaign %d: %w", batch, c.ID, err)
	}
	return job, nil
}

// transition applies change and refreshes c. A lost race surfaces as an
// invalid transition carrying the status that won.
func (s *CampaignService) transition(ctx context.Context, c *model.Campaign, name string, change model.StatusChange) error {
	ok, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, change)
	if err != nil {
		return err
	}
	current, err := s.CampaignRepo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.NewInvalidTransition(c.ID, name, current.Status)
	}
	*c = *current
	return nil
}

func (s *CampaignService) revert(ctx context.Context, c *model.Campaign, from, to string) {
	if _, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, model.StatusChange{From: []string{from}, To: to}); err != nil {
		log.Printf("⚠️ failed to revert campaign %d to %s: %v", c.ID, to, err)
		return
	}
	c.Status = to
}

func (s *CampaignService) domainFor(ctx context.Context, c *model.Campaign) (*model.Domain, error) {
	if c.DomainID == nil {
		return nil, appErrors.ErrDomainNotConfigured
	}
	return s.DomainRepo.GetByID(ctx, *c.DomainID)
}

// materialize creates a pending recipient for every matching contact that
// does not have one yet. It returns how many were created and the size of
// the whole audience.
func (s *CampaignService) materialize(ctx context.Context, c *model.Campaign) (int, int, error) {
	contacts, err := s.ContactRepo.MatchContacts(ctx, c.OrganizationID, c.Filters())
	if err != nil {
		return 0, 0, fmt.Errorf("match contacts for campaign %d: %w", c.ID, err)
	}
	existing, err := s.RecipientRepo.ExistingContactIDs(ctx, c.ID)
	if err != nil {
		return 0, 0, err
	}

	var news []model.NewRecipient
	for _, ct := range contacts {
		if existing[ct.ID] {
			continue
		}
		existing[ct.ID] = true
		contactID := ct.ID
		news = append(news, model.NewRecipient{ContactID: &contactID, Email: ct.Email})
	}

	created := 0
	if len(news) > 0 {
		rows, err := s.RecipientRepo.CreateMany(ctx, c.ID, c.OrganizationID, news)
		if err != nil {
			return 0, 0, fmt.Errorf("create recipients for campaign %d: %w", c.ID, err)
		}
		created = len(rows)
	}

	total, err := s.RecipientRepo.CountAudience(ctx, c.ID)
	if err != nil {
		return 0, 0, err
	}
	if err := s.CampaignRepo.SetTotalRecipients(ctx, c.ID, total); err != nil {
		return 0, 0, err
	}
	c.TotalRecipients = total
	return created, total, nil
}

func normalizeEmails(emails []string) ([]string, error) {
	seen := make(map[string]bool, len(emails))
	var out []string
	for _, raw := range emails {
		e := strings.ToLower(strings.TrimSpace(raw))
		if e == "" || seen[e] {
			continue
		}
		addr, err := mail.ParseAddress(e)
		if err != nil || addr.Address != e {
			return nil, fmt.Errorf("%w: invalid email %q", appErrors.ErrInvalidInput, raw)
		}
		seen[e] = true
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, appErrors.ErrNoTestEmails
	}
	return out, nil
}
