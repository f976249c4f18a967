package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

// ContactRepositoryInterface is the recipient matcher used when a campaign's
// audience is materialized.
type ContactRepositoryInterface interface {
	MatchContacts(ctx context.Context, organizationID int64, filters model.ContactFilters) ([]model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

// MatchContacts returns subscribed contacts of the organization matching the
// filters. Tags match on any or all of the given tags depending on
// TagMatchType; categories always match on any. Empty filters match everyone.
func (r *ContactRepository) MatchContacts(ctx context.Context, organizationID int64, filters model.ContactFilters) ([]model.Contact, error) {
	query := `
        SELECT id, email, tags, category
        FROM contacts
        WHERE organization_id = $1 AND unsubscribed = FALSE`
	args := []interface{}{organizationID}
	argPos := 2

	if len(filters.Tags) > 0 {
		op := "&&"
		if filters.TagMatchType == model.TagMatchAll {
			op = "@>"
		}
		query += fmt.Sprintf(" AND tags %s $%d", op, argPos)
		args = append(args, pq.Array(filters.Tags))
		argPos++
	}
	if len(filters.Categories) > 0 {
		query += fmt.Sprintf(" AND category = ANY($%d)", argPos)
		args = append(args, pq.Array(filters.Categories))
	}
	query += " ORDER BY id ASC"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Email, pq.Array(&c.Tags), &c.Category); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
