package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/telemetry"
)

// SigningLink is the payload of a signing notification
type SigningLink struct {
	Channel      string
	Recipient    string
	SignerName   string
	ContractName string
	URL          string
	ExpiresAt    time.Time
	Resend       bool
}

// SendResult is the outcome of one delivery attempt
type SendResult struct {
	Success    bool
	ProviderID string
	Error      string
}

// Notifier delivers signing links. It never retries.
type Notifier interface {
	Send(ctx context.Context, link SigningLink) SendResult
}

// ChannelSender delivers over one channel and returns a provider id
type ChannelSender interface {
	Send(ctx context.Context, link SigningLink) (string, error)
}

// NotificationService routes a signing link to the sender of its channel
type NotificationService struct {
	senders map[string]ChannelSender
}

func NewNotificationService(email, sms ChannelSender) *NotificationService {
	return &NotificationService{senders: map[string]ChannelSender{
		models.ChannelEmail: email,
		models.ChannelSMS:   sms,
	}}
}

func (s *NotificationService) Send(ctx context.Context, link SigningLink) SendResult {
	sender, ok := s.senders[link.Channel]
	if !ok || sender == nil {
		telemetry.NotificationsTotal.WithLabelValues(link.Channel, telemetry.OutcomeError).Inc()
		return SendResult{Error: fmt.Sprintf("no sender for channel %q", link.Channel)}
	}

	id, err := sender.Send(ctx, link)
	if err != nil {
		telemetry.NotificationsTotal.WithLabelValues(link.Channel, telemetry.OutcomeError).Inc()
		return SendResult{Error: err.Error()}
	}
	telemetry.NotificationsTotal.WithLabelValues(link.Channel, telemetry.OutcomeSuccess).Inc()
	return SendResult{Success: true, ProviderID: id}
}
