package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrDomainNotFound struct {
	DomainID int64
}

func (e *ErrDomainNotFound) Error() string {
	return fmt.Sprintf("domain with ID %d not found", e.DomainID)
}

func NewDomainNotFound(id int64) error {
	return &ErrDomainNotFound{DomainID: id}
}

type ErrRecipientNotFound struct {
	RecipientID int64
}

func (e *ErrRecipientNotFound) Error() string {
	return fmt.Sprintf("recipient with ID %d not found", e.RecipientID)
}

func NewRecipientNotFound(id int64) error {
	return &ErrRecipientNotFound{RecipientID: id}
}

// InvalidTransitionError is returned when a campaign operation is not allowed
// from the campaign's current status. Callers should re-read the campaign
// before trying again.
type InvalidTransitionError struct {
	CampaignID int64
	Transition string
	Status     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s campaign %d in status %s", e.Transition, e.CampaignID, e.Status)
}

func NewInvalidTransition(campaignID int64, transition, status string) error {
	return &InvalidTransitionError{CampaignID: campaignID, Transition: transition, Status: status}
}

var (
	// ErrDailyLimitExceeded means the conditional capacity increment matched no row.
	ErrDailyLimitExceeded  = errors.New("daily sending limit exceeded")
	ErrNoRecipients        = errors.New("campaign has no matching recipients")
	ErrDomainNotConfigured = errors.New("campaign has no sending domain")
	ErrDomainNotReady      = errors.New("sending domain is not ready")
	ErrInvalidSchedule     = errors.New("scheduled time must be in the future")
	ErrNoTestEmails        = errors.New("at least one test email is required")
	ErrInvalidInput        = errors.New("invalid input")
)

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var d *ErrDomainNotFound
	var r *ErrRecipientNotFound
	return errors.As(err, &c) || errors.As(err, &d) || errors.As(err, &r)
}

func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}

// IsValidation reports whether err is a guard failure the caller can fix.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoRecipients) ||
		errors.Is(err, ErrDomainNotConfigured) ||
		errors.Is(err, ErrDomainNotReady) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrNoTestEmails) ||
		errors.Is(err, ErrInvalidInput)
}
