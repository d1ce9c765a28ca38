package service

import (
	"context"
	"fmt"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/logger"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type alertService struct {
	apiKey        string
	fromEmail     string
	fromName      string
	operatorEmail string
}

// NewAlertService builds the operator alert channel. With an empty API
// key alerts degrade to log lines, which keeps development setups working
// without a SendGrid account.
func NewAlertService(apiKey, fromEmail, fromName, operatorEmail string) AlertService {
	return &alertService{
		apiKey:        apiKey,
		fromEmail:     fromEmail,
		fromName:      fromName,
		operatorEmail: operatorEmail,
	}
}

func (s *alertService) ManualInterventionNeeded(ctx context.Context, chat *domain.Chat, hint string) error {
	subject := fmt.Sprintf("Onboarding stuck: %s (%d)", chat.Title, chat.ChatID)
	plainText := fmt.Sprintf(
		"Onboarding for chat %q (%d) needs a human.\n\nWhat to do:\n%s\n\nRe-drive onboarding once resolved.",
		chat.Title, chat.ChatID, hint)
	htmlContent := fmt.Sprintf(`
		<html>
			<body>
				<h2>Onboarding Needs Manual Intervention</h2>
				<p>Chat <strong>%s</strong> (%d) is parked and will not accept join requests.</p>
				<p><strong>What to do:</strong> %s</p>
				<p>Re-drive onboarding once resolved.</p>
			</body>
		</html>
	`, chat.Title, chat.ChatID, hint)

	return s.send(ctx, subject, plainText, htmlContent)
}

func (s *alertService) InviteRenewalNeeded(ctx context.Context, chat *domain.Chat) error {
	subject := fmt.Sprintf("Invite link expired: %s (%d)", chat.Title, chat.ChatID)
	plainText := fmt.Sprintf(
		"The stored invite link for chat %q (%d) was rejected by the platform.\n\nRefresh the invite and re-drive onboarding.",
		chat.Title, chat.ChatID)
	htmlContent := fmt.Sprintf(`
		<html>
			<body>
				<h2>Invite Link Expired</h2>
				<p>The stored invite link for chat <strong>%s</strong> (%d) was rejected by the platform.</p>
				<p>Refresh the invite and re-drive onboarding.</p>
			</body>
		</html>
	`, chat.Title, chat.ChatID)

	return s.send(ctx, subject, plainText, htmlContent)
}

func (s *alertService) send(ctx context.Context, subject, plainText, htmlContent string) error {
	if s.apiKey == "" || s.operatorEmail == "" {
		logger.Warn("Operator alert (email disabled)", "subject", subject, "detail", plainText)
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	recipient := mail.NewEmail("Operator", s.operatorEmail)
	message := mail.NewSingleEmail(from, subject, recipient, plainText, htmlContent)

	logger.ExternalServiceCall("sendgrid", "send", "subject", subject)
	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.Send(message)
	if err != nil {
		logger.ExternalServiceResult("sendgrid", "send", err)
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if response.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
		logger.ExternalServiceResult("sendgrid", "send", err)
		return err
	}
	logger.ExternalServiceResult("sendgrid", "send", nil, "status", response.StatusCode)
	return nil
}
