package notify

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender dispatches a reservation notification by email via SendGrid.
type EmailSender struct {
	client    *sendgrid.Client
	fromEmail string
}

// NewEmailSender builds an EmailSender. fromEmail is the verified sender
// identity configured in the SendGrid account.
func NewEmailSender(apiKey, fromEmail string) *EmailSender {
	return &EmailSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
	}
}

// Send delivers a plain-text reservation summary to toEmail.
func (e *EmailSender) Send(toEmail, subject, body string) error {
	from := mail.NewEmail("Reservations", e.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	resp, err := e.client.Send(message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: sendgrid responded %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
