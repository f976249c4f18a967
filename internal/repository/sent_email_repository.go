package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

type SentEmailRepositoryInterface interface {
	Create(ctx context.Context, e *model.SentEmail) error
}

type SentEmailRepository struct {
	DB *sql.DB
}

func (r *SentEmailRepository) Create(ctx context.Context, e *model.SentEmail) error {
	e.CreatedAt = time.Now().UTC()
	query := `
        INSERT INTO sent_emails (organization_id, domain_id, campaign_id, from_address, to_address,
            subject, provider, provider_message_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		e.OrganizationID, e.DomainID, e.CampaignID, e.FromAddress, e.ToAddress,
		e.Subject, e.Provider, e.ProviderMessageID, e.CreatedAt,
	).Scan(&e.ID)
}

var _ SentEmailRepositoryInterface = (*SentEmailRepository)(nil)
