package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/events"
	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/queue"
	"github.com/unclebandit/mailpacer-backend/internal/service"
)

// fakeClock is shared by the services and the queue under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t.UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

// store is an in-memory stand-in for the postgres tables.
type store struct {
	mu         sync.Mutex
	nextID     int64
	campaigns  map[int64]*model.Campaign
	domains    map[int64]*model.Domain
	contacts   []model.Contact
	recipients []*model.Recipient
	capacity   map[string]*model.DailyCapacityRecord
	sent       []model.SentEmail

	// onCapacityRead runs before each capacity read, outside the lock.
	onCapacityRead func()
}

func newStore() *store {
	return &store{
		nextID:    100,
		campaigns: map[int64]*model.Campaign{},
		domains:   map[int64]*model.Domain{},
		capacity:  map[string]*model.DailyCapacityRecord{},
	}
}

func (s *store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *store) addDomain(d model.Domain) *model.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := d
	s.domains[d.ID] = &cp
	return &cp
}

func (s *store) addCampaign(c model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.campaigns[c.ID] = &cp
}

func (s *store) addContacts(emails ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range emails {
		s.contacts = append(s.contacts, model.Contact{ID: s.id(), Email: e, Tags: []string{"news"}})
	}
}

func (s *store) setCampaignStatus(id int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
}

func (s *store) campaign(id int64) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *store) domain(id int64) model.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.domains[id]
}

func (s *store) recipientsByStatus(campaignID int64, status string) []model.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Recipient
	for _, r := range s.recipients {
		if r.CampaignID == campaignID && r.Status == status {
			out = append(out, *r)
		}
	}
	return out
}

// campaigns

type fakeCampaigns struct{ *store }

func (f fakeCampaigns) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*model.Campaign
	for _, c := range f.campaigns {
		if status == "" || c.Status == status {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (f fakeCampaigns) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (f fakeCampaigns) Create(_ context.Context, c *model.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.id()
	c.CreatedAt = time.Now()
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f fakeCampaigns) TransitionStatus(_ context.Context, id int64, change model.StatusChange) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range change.From {
		if c.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	c.Status = change.To
	if change.StartedAt != nil {
		c.StartedAt = change.StartedAt
	}
	if change.ScheduledAt != nil {
		c.ScheduledAt = change.ScheduledAt
	}
	if change.CompletedAt != nil && c.CompletedAt == nil {
		c.CompletedAt = change.CompletedAt
	}
	if change.CancelledAt != nil {
		c.CancelledAt = change.CancelledAt
	}
	return true, nil
}

func (f fakeCampaigns) SetTotalRecipients(_ context.Context, id int64, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id].TotalRecipients = total
	return nil
}

func (f fakeCampaigns) SetLastBatchNumber(_ context.Context, id int64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > f.campaigns[id].LastBatchNumber {
		f.campaigns[id].LastBatchNumber = n
	}
	return nil
}

func (f fakeCampaigns) IncrementSentCount(_ context.Context, id int64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id].SentCount += n
	return nil
}

func (f fakeCampaigns) IncrementFailedCount(_ context.Context, id int64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id].FailedCount += n
	return nil
}

// recipients

type fakeRecipients struct{ *store }

func (f fakeRecipients) ExistingContactIDs(_ context.Context, campaignID int64) (map[int64]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]bool{}
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && !r.IsTest && r.ContactID != nil {
			out[*r.ContactID] = true
		}
	}
	return out, nil
}

func (f fakeRecipients) CreateMany(_ context.Context, campaignID, orgID int64, news []model.NewRecipient) ([]model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Recipient
	for _, n := range news {
		r := &model.Recipient{
			ID:             f.id(),
			CampaignID:     campaignID,
			OrganizationID: orgID,
			ContactID:      n.ContactID,
			Email:          n.Email,
			IsTest:         n.IsTest,
			Status:         model.RecipientStatusPending,
		}
		f.recipients = append(f.recipients, r)
		out = append(out, *r)
	}
	return out, nil
}

func (f fakeRecipients) GetByID(_ context.Context, id int64) (*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, appErrors.NewRecipientNotFound(id)
}

func (f fakeRecipients) ListPending(_ context.Context, campaignID int64, limit int) ([]model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Recipient
	for _, r := range f.recipients {
		if len(out) == limit {
			break
		}
		if r.CampaignID == campaignID && !r.IsTest && r.Status == model.RecipientStatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f fakeRecipients) count(campaignID int64, status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.recipients {
		if r.CampaignID == campaignID && !r.IsTest && (status == "" || r.Status == status) {
			n++
		}
	}
	return n
}

func (f fakeRecipients) CountPending(_ context.Context, campaignID int64) (int, error) {
	return f.count(campaignID, model.RecipientStatusPending), nil
}

func (f fakeRecipients) CountAudience(_ context.Context, campaignID int64) (int, error) {
	return f.count(campaignID, ""), nil
}

func (f fakeRecipients) mark(id int64, status, reason string, sentEmailID int64, batch *int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.ID != id {
			continue
		}
		if r.Status == model.RecipientStatusSent {
			return false, nil
		}
		r.Status = status
		r.FailureReason = reason
		if batch != nil {
			b := *batch
			r.BatchNumber = &b
		}
		if status == model.RecipientStatusSent {
			r.SentAt = &at
			if sentEmailID != 0 {
				r.SentEmailID = &sentEmailID
			}
		} else {
			r.FailedAt = &at
		}
		return true, nil
	}
	return false, nil
}

func (f fakeRecipients) MarkSent(_ context.Context, id, sentEmailID int64, batch *int, at time.Time) (bool, error) {
	return f.mark(id, model.RecipientStatusSent, "", sentEmailID, batch, at)
}

func (f fakeRecipients) MarkFailed(_ context.Context, id int64, reason string, batch *int, at time.Time) (bool, error) {
	return f.mark(id, model.RecipientStatusFailed, reason, 0, batch, at)
}

func (f fakeRecipients) GetStats(_ context.Context, campaignID int64) (map[string]int, error) {
	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "failed": 0}
	for _, st := range []string{model.RecipientStatusPending, model.RecipientStatusSent, model.RecipientStatusFailed} {
		stats[st] = f.count(campaignID, st)
		stats["total"] += stats[st]
	}
	return stats, nil
}

// contacts

type fakeContacts struct{ *store }

func (f fakeContacts) MatchContacts(_ context.Context, _ int64, filters model.ContactFilters) ([]model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Contact
	for _, c := range f.contacts {
		if matches(c, filters) {
			out = append(out, c)
		}
	}
	return out, nil
}

func matches(c model.Contact, f model.ContactFilters) bool {
	if len(f.Tags) > 0 {
		has := map[string]bool{}
		for _, t := range c.Tags {
			has[t] = true
		}
		hits := 0
		for _, t := range f.Tags {
			if has[t] {
				hits++
			}
		}
		if f.TagMatchType == model.TagMatchAll && hits != len(f.Tags) {
			return false
		}
		if hits == 0 {
			return false
		}
	}
	if len(f.Categories) > 0 {
		for _, cat := range f.Categories {
			if c.Category == cat {
				return true
			}
		}
		return false
	}
	return true
}

// domains

type fakeDomains struct{ *store }

func (f fakeDomains) GetByID(_ context.Context, id int64) (*model.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[id]
	if !ok {
		return nil, appErrors.NewDomainNotFound(id)
	}
	cp := *d
	return &cp, nil
}

func (f fakeDomains) MarkFirstEmailSent(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.domains[id]; d.FirstEmailSentAt == nil {
		d.FirstEmailSentAt = &at
	}
	return nil
}

func (f fakeDomains) MarkWarmupCompleted(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.domains[id]; d.WarmupCompletedAt == nil && d.FirstEmailSentAt != nil {
		d.WarmupCompletedAt = &at
	}
	return nil
}

func (f fakeDomains) ListWarmingUp(_ context.Context) ([]model.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Domain
	for _, d := range f.domains {
		if d.FirstEmailSentAt != nil && d.WarmupCompletedAt == nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

// capacity

type fakeCapacity struct{ *store }

func capKey(domainID int64, date string) string { return fmt.Sprintf("%d:%s", domainID, date) }

func (f fakeCapacity) getOrCreate(domainID, orgID int64, date string) *model.DailyCapacityRecord {
	k := capKey(domainID, date)
	rec, ok := f.capacity[k]
	if !ok {
		rec = &model.DailyCapacityRecord{DomainID: domainID, OrganizationID: orgID, Date: date}
		f.capacity[k] = rec
	}
	return rec
}

func (f fakeCapacity) GetOrCreate(_ context.Context, domainID, orgID int64, date string) (*model.DailyCapacityRecord, error) {
	if f.onCapacityRead != nil {
		f.onCapacityRead()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.getOrCreate(domainID, orgID, date)
	return &cp, nil
}

func (f fakeCapacity) IncrementIfBelow(_ context.Context, domainID, orgID int64, date string, limit int) (*model.DailyCapacityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.getOrCreate(domainID, orgID, date)
	if rec.SentCount >= limit {
		return nil, appErrors.ErrDailyLimitExceeded
	}
	rec.SentCount++
	cp := *rec
	return &cp, nil
}

func (f fakeCapacity) Release(_ context.Context, domainID int64, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.capacity[capKey(domainID, date)]; ok && rec.SentCount > 0 {
		rec.SentCount--
	}
	return nil
}

func (f fakeCapacity) ListRange(_ context.Context, domainID int64, start, end string) ([]model.DailyCapacityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DailyCapacityRecord
	for _, rec := range f.capacity {
		if rec.DomainID == domainID && rec.Date >= start && rec.Date <= end {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f fakeCapacity) sentOn(domainID int64, date string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.capacity[capKey(domainID, date)]; ok {
		return rec.SentCount
	}
	return 0
}

// fakeMailer records sends and fails for addresses listed in failFor.
type fakeMailer struct {
	mu      sync.Mutex
	sent    []service.SendRequest
	failFor map[string]bool
}

func (m *fakeMailer) Send(_ context.Context, req service.SendRequest) (*service.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[req.To] {
		return nil, errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, req)
	return &service.SendResult{ProviderMessageID: fmt.Sprintf("msg-%d", len(m.sent)), SentEmailID: int64(len(m.sent))}, nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// harness wires the services over the fakes.
// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types(campaignID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if ev.CampaignID == campaignID {
			out = append(out, ev.Type)
		}
	}
	return out
}

type harness struct {
	clock     *fakeClock
	events    *recordingPublisher
	store     *store
	queue     *queue.InMemoryQueue
	mailer    *fakeMailer
	capacity  *service.CapacityService
	campaigns *service.CampaignService
	worker    *service.BatchWorker
}

const (
	testOrgID    = int64(1)
	testDomainID = int64(10)
)

func newHarness(start time.Time, defaultLimit int) *harness {
	clock := newClock(start)
	st := newStore()
	q := queue.NewInMemoryQueue().WithClock(clock.Now)
	mailer := &fakeMailer{failFor: map[string]bool{}}
	pub := &recordingPublisher{}

	capacity := service.NewCapacityService(fakeDomains{st}, fakeCapacity{st}, service.CapacityConfig{
		DefaultDailyLimit: defaultLimit,
		WarmupPeriod:      7 * 24 * time.Hour,
	})
	capacity.Now = clock.Now
	capacity.Events = pub

	campaigns := &service.CampaignService{
		CampaignRepo:  fakeCampaigns{st},
		RecipientRepo: fakeRecipients{st},
		ContactRepo:   fakeContacts{st},
		DomainRepo:    fakeDomains{st},
		Queue:         q,
		Events:        pub,
		Now:           clock.Now,
	}
	worker := &service.BatchWorker{
		Campaigns:     campaigns,
		CampaignRepo:  fakeCampaigns{st},
		RecipientRepo: fakeRecipients{st},
		DomainRepo:    fakeDomains{st},
		Capacity:      capacity,
		Mailer:        mailer,
		Events:        pub,
		FromLocalPart: "hello",
		Now:           clock.Now,
	}

	st.addDomain(model.Domain{ID: testDomainID, OrganizationID: testOrgID, Name: "mail.example.com", Status: model.DomainStatusReady})
	return &harness{clock: clock, events: pub, store: st, queue: q, mailer: mailer, capacity: capacity, campaigns: campaigns, worker: worker}
}

func (h *harness) draft(id int64) {
	domainID := testDomainID
	h.store.addCampaign(model.Campaign{
		ID:             id,
		OrganizationID: testOrgID,
		DomainID:       &domainID,
		Name:           "Launch",
		Subject:        "Hello",
		Body:           "<p>Hi</p>",
		Status:         model.CampaignStatusDraft,
		TargetTags:     []string{"news"},
		TagMatchType:   model.TagMatchAny,
	})
}

func intPtr(v int) *int { return &v }
