package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/handler"
	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/service"
)

type mockCapacity struct {
	lastDate   time.Time
	start, end time.Time
	records    []model.DailyCapacityRecord
	err        error
}

func (m *mockCapacity) GetDailyCapacity(_ context.Context, domainID int64, date time.Time) (*service.DailyCapacity, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastDate = date
	return &service.DailyCapacity{DomainID: domainID, Date: model.DateKey(date), Limit: 100, Remaining: 60, SentToday: 40}, nil
}

func (m *mockCapacity) GetDailyStats(_ context.Context, _ int64, start, end time.Time) ([]model.DailyCapacityRecord, error) {
	m.start, m.end = start, end
	return m.records, m.err
}

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newRouter(m *mockCapacity) http.Handler {
	h := &handler.DomainHandler{Capacity: m, Now: func() time.Time { return now }}
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestGetCapacity(t *testing.T) {
	m := &mockCapacity{}
	r := newRouter(m)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains/7/capacity", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got service.DailyCapacity
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.DomainID != 7 || got.Remaining != 60 || got.Date != "2026-03-10" {
		t.Errorf("unexpected body: %+v", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains/7/capacity?date=2026-02-01", nil))
	if w.Code != http.StatusOK || model.DateKey(m.lastDate) != "2026-02-01" {
		t.Errorf("expected date passed through, got %d %s", w.Code, m.lastDate)
	}

	for _, path := range []string{"/domains/abc/capacity", "/domains/7/capacity?date=yesterday"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestGetCapacityErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{appErrors.NewDomainNotFound(7), http.StatusNotFound},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		newRouter(&mockCapacity{err: tt.err}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains/7/capacity", nil))
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}

func TestGetStatsDefaultsToLastWeek(t *testing.T) {
	m := &mockCapacity{records: []model.DailyCapacityRecord{{Date: "2026-03-09", SentCount: 3}, {Date: "2026-03-10", SentCount: 4}}}
	w := httptest.NewRecorder()
	newRouter(m).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains/7/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if model.DateKey(m.start) != "2026-03-04" || model.DateKey(m.end) != "2026-03-10" {
		t.Errorf("unexpected range %s..%s", m.start, m.end)
	}
	var body struct {
		TotalSent int `json:"total_sent"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.TotalSent != 7 {
		t.Errorf("expected total 7, got %d", body.TotalSent)
	}

	w = httptest.NewRecorder()
	newRouter(m).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains/7/stats?start=2026-03-10&end=2026-03-01", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted range, got %d", w.Code)
	}
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	handler.Health(pinger{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	handler.Health(pinger{err: errors.New("down")}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{appErrors.NewCampaignNotFound(1), http.StatusNotFound},
		{appErrors.NewInvalidTransition(1, "pause", "draft"), http.StatusConflict},
		{appErrors.ErrNoRecipients, http.StatusBadRequest},
		{appErrors.ErrDailyLimitExceeded, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := handler.StatusFor(tt.err); got != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, got)
		}
	}
}
