package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/config"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// SMSService posts signing links to the SMS gateway as JSON
type SMSService struct {
	url    string
	token  string
	client *http.Client
}

func NewSMSService(cfg *config.Config) *SMSService {
	return &SMSService{
		url:    cfg.SMSGatewayURL,
		token:  cfg.SMSGatewayToken,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type smsResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Send delivers the link and returns the gateway message id
func (s *SMSService) Send(ctx context.Context, link SigningLink) (string, error) {
	if s.url == "" {
		return "", errors.New("SMS_GATEWAY_URL is not set")
	}
	if link.Recipient == "" {
		return "", errors.New("phone number is empty")
	}

	payload, err := json.Marshal(smsRequest{
		To:      link.Recipient,
		Message: fmt.Sprintf("Fintera: tienes un documento para firmar (%s): %s", link.ContractName, link.URL),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out smsResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode >= 300 {
		if out.Error != "" {
			return "", fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}

	logger.Info(fmt.Sprintf("📱 [SMS Sent] To: %s", link.Recipient))
	return out.ID, nil
}
