package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"

	"github.com/rickgao/announce-relay/internal/model"
)

// Payload is the JSON body posted for each announcement.
type Payload struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	Catalog     string    `json:"catalog,omitempty"`
	CatalogID   int64     `json:"catalog_id"`
	Topic       string    `json:"topic,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
}

// NewPayload builds the webhook document for a.
func NewPayload(a model.Announcement) Payload {
	return Payload{
		Key:         a.Key.String(),
		Title:       a.Title,
		Body:        a.Body,
		Catalog:     a.CatalogName,
		CatalogID:   a.CatalogID,
		Topic:       a.Topic,
		PublishedAt: a.Published().UTC(),
		Source:      string(a.Source),
		URL:         a.URL(),
	}
}

// StatusError is returned for non-2xx webhook responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// WebhookConfig holds webhook settings.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int // Total attempts
	RetryDelay time.Duration
}

// Webhook posts announcements to an HTTP endpoint.
type Webhook struct {
	cfg        WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Webhook{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Notify posts a. Transport errors, 5xx and 429 are retried; other 4xx
// responses fail immediately.
func (w *Webhook) Notify(ctx context.Context, a model.Announcement) error {
	body, err := json.Marshal(NewPayload(a))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	err = retry.Do(
		func() error {
			err := w.post(ctx, body)
			if se, ok := err.(*StatusError); ok && !se.Retryable() {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(uint(w.cfg.MaxRetries)),
		retry.Delay(w.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("webhook attempt failed",
				"attempt", n+1,
				"key", a.Key,
				"error", err,
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
}
