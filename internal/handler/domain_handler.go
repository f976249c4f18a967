package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/service"
)

// CapacityReader is the read side of the capacity ledger.
type CapacityReader interface {
	GetDailyCapacity(ctx context.Context, domainID int64, date time.Time) (*service.DailyCapacity, error)
	GetDailyStats(ctx context.Context, domainID int64, start, end time.Time) ([]model.DailyCapacityRecord, error)
}

// DomainHandler reports sending capacity per domain.
type DomainHandler struct {
	Capacity CapacityReader
	Now      func() time.Time
}

func (h *DomainHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *DomainHandler) Routes(r chi.Router) {
	r.Get("/domains/{id}/capacity", h.GetCapacity)
	r.Get("/domains/{id}/stats", h.GetStats)
}

// GetCapacity handles GET /domains/{id}/capacity?date=YYYY-MM-DD
func (h *DomainHandler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	id, ok := domainID(w, r)
	if !ok {
		return
	}
	date := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = d
	}

	c, err := h.Capacity.GetDailyCapacity(r.Context(), id, date)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// GetStats handles GET /domains/{id}/stats?start=&end=, defaulting to the
// last seven days.
func (h *DomainHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := domainID(w, r)
	if !ok {
		return
	}
	end := h.now()
	start := end.AddDate(0, 0, -6)
	var err error
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, err = time.Parse(model.DateLayout, raw); err != nil {
			http.Error(w, "invalid start date", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, err = time.Parse(model.DateLayout, raw); err != nil {
			http.Error(w, "invalid end date", http.StatusBadRequest)
			return
		}
	}
	if start.After(end) {
		http.Error(w, "start must not be after end", http.StatusBadRequest)
		return
	}

	records, err := h.Capacity.GetDailyStats(r.Context(), id, start, end)
	if err != nil {
		WriteError(w, err)
		return
	}
	total := 0
	for _, rec := range records {
		total += rec.SentCount
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"domain_id":  id,
		"start":      model.DateKey(start),
		"end":        model.DateKey(end),
		"days":       records,
		"total_sent": total,
	})
}

func domainID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid domain id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health reports whether the database answers.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
