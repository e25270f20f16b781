// Package webhook implements an HTTP webhook notifier.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mkwatanabe/sitewatch/internal/notify"
)

// Notifier POSTs run completion events as JSON to a webhook URL.
type Notifier struct {
	url           string
	onlyOnChanges bool
	client        *http.Client
	logger        *zap.Logger
}

// New creates a Notifier. Timeout bounds the whole request.
func New(url string, timeout time.Duration, onlyOnChanges bool, logger *zap.Logger) (*Notifier, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		url:           url,
		onlyOnChanges: onlyOnChanges,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}, nil
}

// Notify marshals the event to JSON and POSTs it to the webhook.
func (n *Notifier) Notify(ctx context.Context, event notify.Event) error {
	if n.onlyOnChanges && !event.HasChanges() {
		n.logger.Debug("no changes, webhook suppressed", zap.String("run_id", event.RunID))
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if cerr := resp.Body.Close(); cerr != nil {
			n.logger.Debug("close webhook response", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	n.logger.Info("webhook delivered", zap.String("run_id", event.RunID), zap.Int("status", resp.StatusCode))
	return nil
}
