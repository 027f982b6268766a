package forward

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/models"
	"github.com/marminbh/webhook-gateway/internal/processor"
)

// maxResponseBody caps how much of a downstream response is read for error
// context.
const maxResponseBody = 2048

// Handler delivers the raw event payload to a downstream HTTP target. It is
// the built-in alternative to writing a handler in code: the gateway accepts
// and audits the event, the downstream service does the business logic.
//
// Downstream responses are classified so the retry scheduler does the right
// thing: 2xx succeeds, 408/429/5xx and network errors are transient, any
// other 4xx means the downstream rejected the event and retrying cannot help.
type Handler struct {
	url    string
	secret string
	client *http.Client
	logger *zap.Logger
}

func New(url, secret string, timeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (h *Handler) Handle(ctx context.Context, event *models.WebhookEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(event.RawPayload))
	if err != nil {
		return processor.Permanent(fmt.Errorf("failed to build forward request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Webhook-Id", event.ID.String())
	req.Header.Set("X-Gateway-Provider", event.Provider)
	req.Header.Set("X-Gateway-Topic", event.Topic)
	if h.secret != "" {
		req.Header.Set("X-Gateway-Signature", Sign(event.RawPayload, h.secret))
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		// network errors and timeouts are retryable
		return fmt.Errorf("forward to %s failed: %w", h.url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	h.logger.Debug("Forwarded webhook",
		zap.String("webhook_id", event.ID.String()),
		zap.String("url", h.url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("downstream %s returned HTTP %d: %s", h.url, resp.StatusCode, truncate(body))
	default:
		return processor.Permanent(fmt.Errorf("downstream %s rejected delivery with HTTP %d: %s", h.url, resp.StatusCode, truncate(body)))
	}
}

// Sign computes the outbound signature header value, sha256=<hex hmac>.
// Downstream services verify it the same way the gateway verifies providers.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
