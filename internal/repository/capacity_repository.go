package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/model"
)

// CapacityRepositoryInterface stores per-domain, per-UTC-day send counters.
// Dates are always YYYY-MM-DD strings.
type CapacityRepositoryInterface interface {
	GetOrCreate(ctx context.Context, domainID, organizationID int64, date string) (*model.DailyCapacityRecord, error)
	// IncrementIfBelow adds one send to the day's counter only while it is
	// below limit, creating the record when absent. It returns
	// appErrors.ErrDailyLimitExceeded when the counter is already at limit.
	IncrementIfBelow(ctx context.Context, domainID, organizationID int64, date string, limit int) (*model.DailyCapacityRecord, error)
	// Release takes one send back off the day's counter. The counter never
	// drops below zero and a missing day is left alone.
	Release(ctx context.Context, domainID int64, date string) error
	ListRange(ctx context.Context, domainID int64, startDate, endDate string) ([]model.DailyCapacityRecord, error)
}

type CapacityRepository struct {
	DB *sql.DB
}

const capacityReturning = `domain_id, organization_id, date::text, sent_count, created_at, updated_at`

func scanCapacity(row rowScanner) (*model.DailyCapacityRecord, error) {
	var rec model.DailyCapacityRecord
	if err := row.Scan(&rec.DomainID, &rec.OrganizationID, &rec.Date, &rec.SentCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *CapacityRepository) GetOrCreate(ctx context.Context, domainID, organizationID int64, date string) (*model.DailyCapacityRecord, error) {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO daily_capacity (domain_id, organization_id, date, sent_count)
        VALUES ($1, $2, $3::date, 0)
        ON CONFLICT (domain_id, date) DO NOTHING`, domainID, organizationID, date)
	if err != nil {
		return nil, err
	}
	return scanCapacity(r.DB.QueryRowContext(ctx, `
        SELECT `+capacityReturning+` FROM daily_capacity
        WHERE domain_id=$1 AND date=$2::date`, domainID, date))
}

// IncrementIfBelow is a single statement: the insert creates the day's row at
// 1, and on conflict the update only fires while sent_count < limit. When the
// update's WHERE rejects the row nothing is returned.
func (r *CapacityRepository) IncrementIfBelow(ctx context.Context, domainID, organizationID int64, date string, limit int) (*model.DailyCapacityRecord, error) {
	if limit <= 0 {
		return nil, appErrors.ErrDailyLimitExceeded
	}
	rec, err := scanCapacity(r.DB.QueryRowContext(ctx, `
        INSERT INTO daily_capacity (domain_id, organization_id, date, sent_count)
        VALUES ($1, $2, $3::date, 1)
        ON CONFLICT (domain_id, date) DO UPDATE
        SET sent_count = daily_capacity.sent_count + 1, updated_at = NOW()
        WHERE daily_capacity.sent_count < $4
        RETURNING `+capacityReturning, domainID, organizationID, date, limit))
	if err == sql.ErrNoRows {
		return nil, appErrors.ErrDailyLimitExceeded
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *CapacityRepository) Release(ctx context.Context, domainID int64, date string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE daily_capacity
        SET sent_count = sent_count - 1, updated_at = NOW()
        WHERE domain_id=$1 AND date=$2::date AND sent_count > 0`, domainID, date)
	return err
}

func (r *CapacityRepository) ListRange(ctx context.Context, domainID int64, startDate, endDate string) ([]model.DailyCapacityRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+capacityReturning+` FROM daily_capacity
        WHERE domain_id=$1 AND date BETWEEN $2::date AND $3::date
        ORDER BY date ASC`, domainID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.DailyCapacityRecord{}
	for rows.Next() {
		rec, err := scanCapacity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

var _ CapacityRepositoryInterface = (*CapacityRepository)(nil)
