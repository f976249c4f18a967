package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/model"
)

type DomainRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Domain, error)
	MarkFirstEmailSent(ctx context.Context, id int64, at time.Time) error
	MarkWarmupCompleted(ctx context.Context, id int64, at time.Time) error
	ListWarmingUp(ctx context.Context) ([]model.Domain, error)
}

type DomainRepository struct {
	DB *sql.DB
}

const domainColumns = `id, organization_id, name, status, daily_limit, first_email_sent_at,
    warmup_completed_at, created_at, updated_at`

func scanDomain(row rowScanner) (*model.Domain, error) {
	var d model.Domain
	err := row.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.Status, &d.DailyLimit,
		&d.FirstEmailSentAt, &d.WarmupCompletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DomainRepository) GetByID(ctx context.Context, id int64) (*model.Domain, error) {
	d, err := scanDomain(r.DB.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE id=$1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewDomainNotFound(id)
		}
		return nil, err
	}
	return d, nil
}

// MarkFirstEmailSent stamps first_email_sent_at once; later calls are no-ops.
func (r *DomainRepository) MarkFirstEmailSent(ctx context.Context, id int64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE domains SET first_email_sent_at=$1, updated_at=NOW()
        WHERE id=$2 AND first_email_sent_at IS NULL`, at, id)
	return err
}

// MarkWarmupCompleted stamps warmup_completed_at once, and only after a first send.
func (r *DomainRepository) MarkWarmupCompleted(ctx context.Context, id int64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE domains SET warmup_completed_at=$1, updated_at=NOW()
        WHERE id=$2 AND warmup_completed_at IS NULL AND first_email_sent_at IS NOT NULL`, at, id)
	return err
}

// ListWarmingUp returns domains that have started but not finished warm-up.
func (r *DomainRepository) ListWarmingUp(ctx context.Context) ([]model.Domain, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+domainColumns+` FROM domains
        WHERE first_email_sent_at IS NOT NULL AND warmup_completed_at IS NULL
        ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := []model.Domain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, *d)
	}
	return domains, rows.Err()
}

var _ DomainRepositoryInterface = (*DomainRepository)(nil)
