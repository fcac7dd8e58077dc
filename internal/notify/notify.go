package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"support-triage/backend/internal/models"
)

// Webhook delivers auto-responses and escalation alerts by POSTing JSON to the
// chat gateway. An empty URL turns the corresponding delivery into a logged
// no-op, which keeps local development free of external dependencies.
type Webhook struct {
	ResponseURL   string
	EscalationURL string
	Client        *http.Client
	Logger        *zap.Logger
}

func NewWebhook(responseURL, escalationURL string, logger *zap.Logger) *Webhook {
	return &Webhook{
		ResponseURL:   responseURL,
		EscalationURL: escalationURL,
		Client:        &http.Client{Timeout: 10 * time.Second},
		Logger:        logger,
	}
}

func (w *Webhook) DeliverResponse(ctx context.Context, channel, threadID, text string) error {
	if w.ResponseURL == "" {
		w.Logger.Info("response delivery skipped, no webhook configured",
			zap.String("channel", channel))
		return nil
	}
	payload := map[string]string{
		"channel":   channel,
		"thread_id": threadID,
		"text":      text,
	}
	return w.post(ctx, w.ResponseURL, payload)
}

func (w *Webhook) DeliverEscalation(ctx context.Context, record *models.EscalationRecord) error {
	if w.EscalationURL == "" {
		w.Logger.Info("escalation delivery skipped, no webhook configured",
			zap.String("escalate_to", record.EscalateTo))
		return nil
	}
	payload := map[string]any{
		"channel":    record.EscalateTo,
		"message_id": record.MessageID,
		"urgency":    record.Urgency,
		"summary":    record.Summary,
	}
	return w.post(ctx, w.EscalationURL, payload)
}

func (w *Webhook) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
