package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/payrollx/payrun/internal/domain/model"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const ModuleWebhookNotifier = "webhook_notifier"

type webhookPayload struct {
	RunID          string    `json:"run_id"`
	FinalStatus    string    `json:"final_status"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// WebhookNotifier delivers completion events to an HTTP endpoint as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier for the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts the completion event to the configured webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, event model.CompletionEvent) error {
	body, err := json.Marshal(webhookPayload{
		RunID:          event.RunID,
		FinalStatus:    string(event.FinalStatus),
		CompletedCount: event.CompletedCount,
		FailedCount:    event.FailedCount,
		Timestamp:      event.Timestamp,
	})
	if err != nil {
		return exception.NewSettlementError(ModuleWebhookNotifier, "Failed to encode webhook payload", err, false)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(body))
	if err != nil {
		return exception.NewSettlementError(ModuleWebhookNotifier, "Failed to create webhook request", err, false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return exception.NewSettlementError(ModuleWebhookNotifier, "Webhook delivery failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		errMsg := fmt.Sprintf("Error response from webhook: Status code %d, Body: %s", resp.StatusCode, bodyString)
		return exception.NewSettlementError(ModuleWebhookNotifier, errMsg, errors.New(bodyString), resp.StatusCode >= 500)
	}

	logger.Debugf("Delivered completion event for run '%s' to webhook.", event.RunID)
	return nil
}

var _ CompletionNotifier = (*WebhookNotifier)(nil)
