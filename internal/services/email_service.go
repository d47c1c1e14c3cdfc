package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"
	"github.com/sjperalta/fintera-sign-api/internal/config"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

// EmailService delivers signing links through Resend
type EmailService struct {
	config *config.Config
	emails resend.EmailsSvc
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		config: cfg,
		emails: client.Emails,
	}
}

// checkEmailPreconditions validates config and recipient before a send
func (s *EmailService) checkEmailPreconditions(recipient string) error {
	if s.config.ResendAPIKey == "" {
		return errors.New("RESEND_API_KEY is not set")
	}
	if s.config.FromEmail == "" {
		return errors.New("FROM_EMAIL is not set")
	}
	if recipient == "" {
		return errors.New("email address is empty")
	}
	return nil
}

// Send emails the signing link and returns the provider message id
func (s *EmailService) Send(ctx context.Context, link SigningLink) (string, error) {
	if err := s.checkEmailPreconditions(link.Recipient); err != nil {
		return "", err
	}

	data := struct {
		SignerName   string
		ContractName string
		URL          string
		ExpiresAt    string
		Resend       bool
	}{
		SignerName:   link.SignerName,
		ContractName: link.ContractName,
		URL:          link.URL,
		ExpiresAt:    link.ExpiresAt.Format("02/01/2006 15:04"),
		Resend:       link.Resend,
	}

	body, err := s.renderTemplate("signature_request.html", data)
	if err != nil {
		return "", err
	}

	subject := fmt.Sprintf("Documento pendiente de firma: %s", link.ContractName)
	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{link.Recipient},
		Subject: subject,
		Html:    body,
	}
	sent, err := s.emails.SendWithContext(ctx, params)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to send email to %s: %v", link.Recipient, err))
		return "", err
	}

	logger.Info(fmt.Sprintf("📧 [Email Sent] To: %s | Subject: %s", link.Recipient, subject))
	return sent.Id, nil
}

func (s *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
