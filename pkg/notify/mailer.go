package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"

	"github.com/resend/resend-go/v2"

	"github.com/MrCodeEU/facelocker/pkg/logging"
)

// EvidenceFilename is the attachment name of the evidence frame.
const EvidenceFilename = "intruder.jpg"

// ErrMissingAPIKey is returned when RESEND_API_KEY is not set.
var ErrMissingAPIKey = errors.New("RESEND_API_KEY is not set")

// EmailSender is the part of the Resend client used by Mailer.
type EmailSender interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

var alertTemplate = template.Must(template.New("alert").Parse(`<p>Someone tried to open the locker of <strong>{{.Identity}}</strong> and was not recognized.</p>
<p>Time: {{.At.Format "2006-01-02 15:04:05 MST"}}<br>
Match distance: {{printf "%.3f" .Distance}}<br>
Reference: {{.ID}}</p>
<p>The attached photo was taken during the attempt.</p>`))

// Mailer sends alerts as email with the evidence attached.
type Mailer struct {
	sender  EmailSender
	from    string
	subject string
}

// NewMailer creates a mailer on top of an email sender.
func NewMailer(sender EmailSender, from, subject string) *Mailer {
	return &Mailer{sender: sender, from: from, subject: subject}
}

// NewResendMailer creates a mailer using the Resend API key from the
// environment.
func NewResendMailer(from, subject string) (*Mailer, error) {
	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return NewMailer(resend.NewClient(apiKey).Emails, from, subject), nil
}

// NotifyUnauthorized implements Dispatcher.
func (m *Mailer) NotifyUnauthorized(ctx context.Context, alert Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := alertTemplate.Execute(&body, alert); err != nil {
		return fmt.Errorf("failed to render alert email: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{alert.Contact},
		Subject: m.subject,
		Html:    body.String(),
		Attachments: []*resend.Attachment{
			{
				Content:  alert.Evidence,
				Filename: EvidenceFilename,
			},
		},
	}

	resp, err := m.sender.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	logging.WithFields(logging.Fields{
		"component": "notify",
		"alert_id":  alert.ID,
		"identity":  alert.Identity,
		"email_id":  resp.Id,
	}).Info("Unauthorized access alert sent")
	return nil
}
