package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Stream   StreamConfig   `yaml:"stream"`
	Database DatabaseConfig `yaml:"database"`
	Notifier NotifierConfig `yaml:"notifier"`
	Poller   PollerConfig   `yaml:"poller"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds exchange endpoints and credentials.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	CMSURL     string        `yaml:"cms_url"` // Public announcement listing host
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"`    // Sent as X-MBX-APIKEY
	APISecret  string        `yaml:"api_secret"` // HMAC key, never sent
	ProxyURL   string        `yaml:"proxy_url"`  // http, https, socks5 or socks5h
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds announcement socket settings.
type StreamConfig struct {
	Topics               []string      `yaml:"topics"`
	RecvWindow           time.Duration `yaml:"recv_window"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"` // 0 disables
	RotationInterval     time.Duration `yaml:"rotation_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // -1 = unlimited
	MinSessionDuration   time.Duration `yaml:"min_session_duration"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"` // KiB
}

// DatabaseConfig holds the seen-set database. An empty host selects the
// in-memory store.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// NotifierConfig holds webhook delivery settings. An empty URL logs instead.
type NotifierConfig struct {
	WebhookURL  string        `yaml:"webhook_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	CacheSize   int           `yaml:"cache_size"` // Seen-key LRU size
	QueueSize   int           `yaml:"queue_size"`
	SeenHorizon time.Duration `yaml:"seen_horizon"` // Used by seenprune
}

// PollerConfig holds REST listing poller settings.
type PollerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	CatalogIDs  []int         `yaml:"catalog_ids"`
	PageSize    int           `yaml:"page_size"`
}

// MetricsConfig holds the health and Prometheus endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
