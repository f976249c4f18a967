package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/model"
)

type RecipientRepositoryInterface interface {
	ExistingContactIDs(ctx context.Context, campaignID int64) (map[int64]bool, error)
	CreateMany(ctx context.Context, campaignID, organizationID int64, recipients []model.NewRecipient) ([]model.Recipient, error)
	GetByID(ctx context.Context, id int64) (*model.Recipient, error)
	ListPending(ctx context.Context, campaignID int64, limit int) ([]model.Recipient, error)
	CountPending(ctx context.Context, campaignID int64) (int, error)
	CountAudience(ctx context.Context, campaignID int64) (int, error)
	MarkSent(ctx context.Context, id, sentEmailID int64, batchNumber *int, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string, batchNumber *int, at time.Time) (bool, error)
	GetStats(ctx context.Context, campaignID int64) (map[string]int, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, campaign_id, organization_id, contact_id, email, is_test, status, batch_number,
    sent_at, failed_at, failure_reason, sent_email_id, created_at, updated_at`

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var rcpt model.Recipient
	err := row.Scan(
		&rcpt.ID, &rcpt.CampaignID, &rcpt.OrganizationID, &rcpt.ContactID, &rcpt.Email, &rcpt.IsTest,
		&rcpt.Status, &rcpt.BatchNumber, &rcpt.SentAt, &rcpt.FailedAt, &rcpt.FailureReason,
		&rcpt.SentEmailID, &rcpt.CreatedAt, &rcpt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rcpt, nil
}

// ExistingContactIDs returns the contacts that already have a non-test row on
// the campaign.
func (r *RecipientRepository) ExistingContactIDs(ctx context.Context, campaignID int64) (map[int64]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT contact_id FROM campaign_recipients
        WHERE campaign_id=$1 AND is_test=FALSE AND contact_id IS NOT NULL`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// CreateMany inserts recipients in one transaction. Rows that collide with an
// existing (campaign, contact) pair are skipped and not returned.
func (r *RecipientRepository) CreateMany(ctx context.Context, campaignID, organizationID int64, recipients []model.NewRecipient) ([]model.Recipient, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO campaign_recipients (campaign_id, organization_id, contact_id, email, is_test, status)
        VALUES ($1, $2, $3, $4, $5, 'pending')
        ON CONFLICT (campaign_id, contact_id) WHERE is_test = FALSE AND contact_id IS NOT NULL DO NOTHING
        RETURNING `+recipientColumns)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	created := make([]model.Recipient, 0, len(recipients))
	for _, nr := range recipients {
		rcpt, err := scanRecipient(stmt.QueryRowContext(ctx, campaignID, organizationID, nr.ContactID, nr.Email, nr.IsTest))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		created = append(created, *rcpt)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *RecipientRepository) GetByID(ctx context.Context, id int64) (*model.Recipient, error) {
	rcpt, err := scanRecipient(r.DB.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM campaign_recipients WHERE id=$1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewRecipientNotFound(id)
		}
		return nil, err
	}
	return rcpt, nil
}

// ListPending returns up to limit pending non-test recipients in id order.
func (r *RecipientRepository) ListPending(ctx context.Context, campaignID int64, limit int) ([]model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+recipientColumns+`
        FROM campaign_recipients
        WHERE campaign_id=$1 AND status='pending' AND is_test=FALSE
        ORDER BY id ASC
        LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rcpt, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, *rcpt)
	}
	return recipients, rows.Err()
}

func (r *RecipientRepository) CountPending(ctx context.Context, campaignID int64) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM campaign_recipients
        WHERE campaign_id=$1 AND status='pending' AND is_test=FALSE`, campaignID).Scan(&count)
	return count, err
}

// CountAudience counts the non-test recipients of a campaign in any status.
func (r *RecipientRepository) CountAudience(ctx context.Context, campaignID int64) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM campaign_recipients
        WHERE campaign_id=$1 AND is_test=FALSE`, campaignID).Scan(&count)
	return count, err
}

// MarkSent moves a recipient that has not been sent yet to sent.
func (r *RecipientRepository) MarkSent(ctx context.Context, id, sentEmailID int64, batchNumber *int, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_recipients
        SET status='sent', sent_email_id=NULLIF($1::BIGINT, 0), batch_number=COALESCE($2, batch_number),
            sent_at=$3, failure_reason='', updated_at=NOW()
        WHERE id=$4 AND status <> 'sent'`, sentEmailID, batchNumber, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id int64, reason string, batchNumber *int, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_recipients
        SET status='failed', failure_reason=$1, batch_number=COALESCE($2, batch_number),
            failed_at=$3, updated_at=NOW()
        WHERE id=$4 AND status <> 'sent'`, reason, batchNumber, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RecipientRepository) GetStats(ctx context.Context, campaignID int64) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM campaign_recipients
        WHERE campaign_id=$1 AND is_test=FALSE
        GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		"total":                      0,
		model.RecipientStatusPending: 0,
		model.RecipientStatusSent:    0,
		model.RecipientStatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
