package mail

import (
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

var smtpSendMail = smtp.SendMail

// SMTPTransport delivers through a relay with PlainAuth. Credentials are
// optional for relays that accept unauthenticated submissions.
type SMTPTransport struct {
	host string
	port int
	user string
	pass string
}

func NewSMTPTransport(host string, port int, user, pass string) *SMTPTransport {
	return &SMTPTransport{host: host, port: port, user: user, pass: pass}
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Send(_ context.Context, msg Message) (string, error) {
	envelopeFrom, err := mail.ParseAddress(msg.From)
	if err != nil {
		return "", fmt.Errorf("invalid from address %q: %w", msg.From, err)
	}

	domain := envelopeFrom.Address[strings.LastIndex(envelopeFrom.Address, "@")+1:]
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)

	var auth smtp.Auth
	if t.user != "" || t.pass != "" {
		auth = smtp.PlainAuth("", t.user, t.pass, t.host)
	}

	headers := fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"Message-ID: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"UTF-8\"\r\n"+
			"\r\n",
		msg.From, msg.To, msg.Subject, messageID,
	)

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	if err := smtpSendMail(addr, auth, envelopeFrom.Address, []string{msg.To}, []byte(headers+msg.HTML)); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return messageID, nil
}
