package config

import "time"

// FeedConfig is the root configuration for an order feed instance.
type FeedConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Leader    LeaderConfig    `yaml:"leader"`
	Database  DatabaseConfig  `yaml:"database"`
	Store     StoreConfig     `yaml:"store"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this feed instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// GatewayConfig holds order gateway connection settings.
type GatewayConfig struct {
	BaseURL  string `yaml:"base_url"` // http(s) API base; the ws scheme is derived from it
	WSURL    string `yaml:"ws_url"`   // explicit ws(s) endpoint, overrides the derived one
	Identity string `yaml:"identity"` // authenticated account id
	Role     string `yaml:"role"`     // business, courier, customer or admin
	Enabled  bool   `yaml:"enabled"`
}

// HeartbeatConfig holds connection liveness settings.
type HeartbeatConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ReplyTimeout  time.Duration `yaml:"reply_timeout"`
	MaxMissed     int           `yaml:"max_missed"`
}

// ReconnectConfig holds reconnect backoff settings.
type ReconnectConfig struct {
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	Jitter          float64       `yaml:"jitter"`
	StabilityWindow time.Duration `yaml:"stability_window"`
}

// LeaderConfig holds leader election settings.
type LeaderConfig struct {
	Mode          string        `yaml:"mode"` // static or postgres
	SessionID     string        `yaml:"session_id"`
	LeaseTTL      time.Duration `yaml:"lease_ttl"`
	RenewInterval time.Duration `yaml:"renew_interval"`
}

// DatabaseConfig holds the PostgreSQL connection for leases and the
// notification store.
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

// StoreConfig holds notification store settings.
type StoreConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueCapacity int           `yaml:"queue_capacity"`
}

// DispatchConfig holds message dispatcher settings.
type DispatchConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
