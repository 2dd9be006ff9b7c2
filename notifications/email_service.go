package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const brevoSendURL = "https://api.brevo.com/v3/smtp/email"

// BrevoNotifier sends transactional email through the Brevo HTTP API.
type BrevoNotifier struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	Endpoint    string
	Client      *http.Client
	Log         *zap.Logger
}

type brevoPayload struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
}

// NewBrevoNotifier returns nil when the sender is not fully configured so
// callers can fall back to LogNotifier.
func NewBrevoNotifier(apiKey, senderEmail, senderName string, log *zap.Logger) *BrevoNotifier {
	if apiKey == "" || senderEmail == "" || senderName == "" {
		log.Warn("email service not configured, missing API key, sender email or sender name")
		return nil
	}
	return &BrevoNotifier{
		APIKey:      apiKey,
		SenderEmail: senderEmail,
		SenderName:  senderName,
		Endpoint:    brevoSendURL,
		Client:      &http.Client{Timeout: 10 * time.Second},
		Log:         log.Named("notifications.brevo"),
	}
}

func (s *BrevoNotifier) Send(ctx context.Context, msg Message) error {
	if msg.ToEmail == "" || !strings.Contains(msg.ToEmail, "@") {
		return fmt.Errorf("invalid recipient email: %s", msg.ToEmail)
	}

	recipientName := msg.ToName
	if recipientName == "" {
		recipientName = msg.ToEmail[:strings.Index(msg.ToEmail, "@")]
	}

	payload := brevoPayload{
		Sender:      map[string]string{"name": s.SenderName, "email": s.SenderEmail},
		To:          []map[string]string{{"email": msg.ToEmail, "name": recipientName}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", s.APIKey)
	req.Header.Set("content-type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		s.Log.Warn("brevo API error", zap.Int("status", resp.StatusCode), zap.String("body", string(bodyBytes)))
		return fmt.Errorf("failed to send email via Brevo: %s", string(bodyBytes))
	}

	s.Log.Info("email sent", zap.String("to", msg.ToEmail), zap.String("subject", msg.Subject))
	return nil
}
