package mail

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Transport hands a message to an email provider and returns the provider's
// message id. Implementations must not retry on their own: every call may be
// charged against the sending domain's daily capacity.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

// FromAddress builds the sender address for a domain.
func FromAddress(displayName, localPart, domain string) string {
	addr := localPart + "@" + domain
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", displayName, addr)
}

// LogTransport only logs messages. Used in development.
type LogTransport struct{}

func (LogTransport) Name() string { return "log" }

func (LogTransport) Send(_ context.Context, msg Message) (string, error) {
	id := uuid.New().String()
	log.Printf("📧 [log transport] from=%s to=%s subject=%q id=%s", msg.From, msg.To, msg.Subject, id)
	return id, nil
}

// ThrottledTransport caps the per-second send rate of the wrapped transport.
type ThrottledTransport struct {
	next    Transport
	limiter *rate.Limiter
}

func NewThrottledTransport(next Transport, perSecond float64) *ThrottledTransport {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ThrottledTransport{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (t *ThrottledTransport) Name() string { return t.next.Name() }

func (t *ThrottledTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("send rate wait: %w", err)
	}
	return t.next.Send(ctx, msg)
}
