package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	Create(ctx context.Context, c *model.Campaign) error

	// Lifecycle
	TransitionStatus(ctx context.Context, id int64, change model.StatusChange) (bool, error)
	SetTotalRecipients(ctx context.Context, id int64, total int) error
	SetLastBatchNumber(ctx context.Context, id int64, batchNumber int) error
	IncrementSentCount(ctx context.Context, id int64, n int) error
	IncrementFailedCount(ctx context.Context, id int64, n int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, organization_id, domain_id, name, status, subject, body, from_name,
    target_tags, target_categories, tag_match_type, total_recipients, sent_count, failed_count,
    last_batch_number, test_receiver_id, scheduled_at, started_at, completed_at, cancelled_at,
    created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.DomainID, &c.Name, &c.Status, &c.Subject, &c.Body, &c.FromName,
		pq.Array(&c.TargetTags), pq.Array(&c.TargetCategories), &c.TagMatchType,
		&c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.LastBatchNumber, &c.TestReceiverID,
		&c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.CancelledAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.TagMatchType == "" {
		c.TagMatchType = model.TagMatchAny
	}
	query := `
        INSERT INTO campaigns (organization_id, domain_id, name, status, subject, body, from_name,
            target_tags, target_categories, tag_match_type, test_receiver_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		c.OrganizationID, c.DomainID, c.Name, c.Status, c.Subject, c.Body, c.FromName,
		pq.Array(c.TargetTags), pq.Array(c.TargetCategories), c.TagMatchType, c.TestReceiverID, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Count total
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ====================== Lifecycle ======================

// TransitionStatus applies change only while the campaign is still in one of
// change.From. It reports false when no row matched, which callers treat as a
// lost race against another transition.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int64, change model.StatusChange) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1,
            started_at=COALESCE($2, started_at),
            scheduled_at=COALESCE($3, scheduled_at),
            completed_at=COALESCE(completed_at, $4),
            cancelled_at=COALESCE($5, cancelled_at),
            updated_at=NOW()
        WHERE id=$6 AND status = ANY($7)
    `
	res, err := r.DB.ExecContext(ctx, query,
		change.To, change.StartedAt, change.ScheduledAt, change.CompletedAt, change.CancelledAt,
		id, pq.Array(change.From),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *CampaignRepository) SetTotalRecipients(ctx context.Context, id int64, total int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET total_recipients=$1, updated_at=NOW() WHERE id=$2`, total, id)
	return err
}

func (r *CampaignRepository) SetLastBatchNumber(ctx context.Context, id int64, batchNumber int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET last_batch_number=GREATEST(last_batch_number, $1), updated_at=NOW() WHERE id=$2`,
		batchNumber, id)
	return err
}

func (r *CampaignRepository) IncrementSentCount(ctx context.Context, id int64, n int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET sent_count=sent_count+$1, updated_at=NOW() WHERE id=$2`, n, id)
	return err
}

func (r *CampaignRepository) IncrementFailedCount(ctx context.Context, id int64, n int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET failed_count=failed_count+$1, updated_at=NOW() WHERE id=$2`, n, id)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
