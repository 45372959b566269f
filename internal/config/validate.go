package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.APIKey == "" {
		return errors.New("api.api_key is required")
	}
	if c.API.APISecret == "" {
		return errors.New("api.api_secret is required")
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.ProxyURL != "" {
		if err := validateURL("api.proxy_url", c.API.ProxyURL, "http", "https", "socks5", "socks5h"); err != nil {
			return err
		}
	}

	if err := c.Stream.validate(); err != nil {
		return err
	}

	if c.Database.Postgres.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Notifier.WebhookURL != "" {
		if err := validateURL("notifier.webhook_url", c.Notifier.WebhookURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Notifier.QueueSize < 1 {
		return errors.New("notifier.queue_size must be >= 1")
	}

	if c.Poller.Enabled && c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	seen := make(map[string]struct{}, len(s.Topics))
	for _, topic := range s.Topics {
		if topic == "" {
			return errors.New("stream.topics must not contain empty topics")
		}
		if _, dup := seen[topic]; dup {
			return fmt.Errorf("stream.topics contains duplicate %q", topic)
		}
		seen[topic] = struct{}{}
	}
	if s.RecvWindow <= 0 || s.RecvWindow > maxRecvWindow {
		return fmt.Errorf("stream.recv_window must be in (0, %s], got %s", maxRecvWindow, s.RecvWindow)
	}
	if s.PingInterval <= 0 {
		return errors.New("stream.ping_interval must be > 0")
	}
	if s.RotationInterval <= 0 {
		return errors.New("stream.rotation_interval must be > 0")
	}
	if s.ReconnectBaseDelay <= 0 {
		return errors.New("stream.reconnect_base_delay must be > 0")
	}
	if s.ReconnectMaxDelay < s.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			s.ReconnectMaxDelay, s.ReconnectBaseDelay)
	}
	if s.MaxReconnectAttempts < -1 {
		return errors.New("stream.max_reconnect_attempts must be >= -1")
	}
	if s.ProbeTimeout < 0 {
		return errors.New("stream.probe_timeout must be >= 0")
	}
	return nil
}

// maxRecvWindow is the largest receive window the exchange accepts.
const maxRecvWindow = 60 * time.Second

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s has no host: %q", field, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%s has unsupported scheme %q", field, u.Scheme)
}
