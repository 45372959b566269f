package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "https://api.binance.com"
	DefaultCMSURL               = "https://www.binance.com"
	DefaultWSURL                = "wss://api.binance.com/sapi/wss"
	DefaultTopic                = "com_announcement_en"
	DefaultAPITimeout           = 10 * time.Second
	DefaultMaxRetries           = 3
	DefaultRecvWindow           = 30 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultRotationInterval     = 23 * time.Hour // Server drops sessions at 24h
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultMinSessionDuration   = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultStreamBufferSize     = 64 // KiB
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultNotifyTimeout        = 10 * time.Second
	DefaultNotifyRetries        = 5
	DefaultNotifyRetryDelay     = time.Second
	DefaultCacheSize            = 4096
	DefaultQueueSize            = 1024
	DefaultSeenHorizon          = 30 * 24 * time.Hour
	DefaultPollInterval         = 5 * time.Minute
	DefaultPollConcurrency      = 4
	DefaultPollPageSize         = 20
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

// DefaultCatalogIDs are the announcement catalogs polled when none are set
// (new listings, delistings).
var DefaultCatalogIDs = []int{48, 161}

// ApplyDefaults fills zero-valued optional fields.
func (c *RelayConfig) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.CMSURL == "" {
		c.API.CMSURL = DefaultCMSURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Stream defaults
	s := &c.Stream
	if len(s.Topics) == 0 {
		s.Topics = []string{DefaultTopic}
	}
	if s.RecvWindow == 0 {
		s.RecvWindow = DefaultRecvWindow
	}
	if s.PingInterval == 0 {
		s.PingInterval = DefaultPingInterval
	}
	if s.RotationInterval == 0 {
		s.RotationInterval = DefaultRotationInterval
	}
	if s.ReconnectBaseDelay == 0 {
		s.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if s.ReconnectMaxDelay == 0 {
		s.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if s.MaxReconnectAttempts == 0 {
		s.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if s.MinSessionDuration == 0 {
		s.MinSessionDuration = DefaultMinSessionDuration
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.BufferSize == 0 {
		s.BufferSize = DefaultStreamBufferSize
	}

	// Database defaults only matter when a host is set.
	if c.Database.Postgres.Enabled() {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Notifier defaults
	n := &c.Notifier
	if n.Timeout == 0 {
		n.Timeout = DefaultNotifyTimeout
	}
	if n.MaxRetries == 0 {
		n.MaxRetries = DefaultNotifyRetries
	}
	if n.RetryDelay == 0 {
		n.RetryDelay = DefaultNotifyRetryDelay
	}
	if n.CacheSize == 0 {
		n.CacheSize = DefaultCacheSize
	}
	if n.QueueSize == 0 {
		n.QueueSize = DefaultQueueSize
	}
	if n.SeenHorizon == 0 {
		n.SeenHorizon = DefaultSeenHorizon
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.PageSize == 0 {
		c.Poller.PageSize = DefaultPollPageSize
	}
	if len(c.Poller.CatalogIDs) == 0 {
		c.Poller.CatalogIDs = append([]int(nil), DefaultCatalogIDs...)
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
