package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// Sender delivers one digest chunk.
type Sender interface {
	Send(ctx context.Context, content string) error
}

// WebhookSender posts {"content": chunk} to a chat webhook.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender constructs a WebhookSender. A nil client gets a 10s timeout.
func NewWebhookSender(url string, client *http.Client) (*WebhookSender, error) {
	if url == "" {
		return nil, fmt.Errorf("notify webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: url, client: client}, nil
}

// Send implements Sender. Client errors other than 429 are not retried.
func (s *WebhookSender) Send(ctx context.Context, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return workflow.Permanent(fmt.Errorf("encode webhook payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return workflow.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("webhook failed: %d %s", resp.StatusCode, bytes.TrimSpace(body))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return workflow.Permanent(err)
	}
	return err
}

// LogSender writes chunks to the logger when no webhook is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("digest")}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, content string) error {
	s.logger.Info("digest chunk", zap.String("content", content))
	return nil
}
