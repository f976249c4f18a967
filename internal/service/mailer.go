package service

import (
	"context"
	"log"

	"github.com/unclebandit/mailpacer-backend/internal/mail"
	"github.com/unclebandit/mailpacer-backend/internal/model"
	"github.com/unclebandit/mailpacer-backend/internal/repository"
)

type SendRequest struct {
	OrganizationID int64
	DomainID       int64
	CampaignID     *int64
	From           string
	To             string
	Subject        string
	HTML           string
}

type SendResult struct {
	ProviderMessageID string
	SentEmailID       int64
}

// MailSender delivers exactly one message per call. A returned error means
// the provider did not accept the message.
type MailSender interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// TransportMailer sends through a mail.Transport and records the accepted
// message in sent_emails.
type TransportMailer struct {
	Transport  mail.Transport
	SentEmails repository.SentEmailRepositoryInterface
}

func (m *TransportMailer) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	providerID, err := m.Transport.Send(ctx, mail.Message{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		HTML:    req.HTML,
	})
	if err != nil {
		return nil, err
	}

	rec := &model.SentEmail{
		OrganizationID:    req.OrganizationID,
		DomainID:          req.DomainID,
		CampaignID:        req.CampaignID,
		FromAddress:       req.From,
		ToAddress:         req.To,
		Subject:           req.Subject,
		Provider:          m.Transport.Name(),
		ProviderMessageID: providerID,
	}
	if err := m.SentEmails.Create(ctx, rec); err != nil {
		// The provider already accepted the message; failing here would
		// only invite a duplicate send.
		log.Printf("⚠️ failed to record sent email %s to %s: %v", providerID, req.To, err)
		return &SendResult{ProviderMessageID: providerID}, nil
	}
	return &SendResult{ProviderMessageID: providerID, SentEmailID: rec.ID}, nil
}
