package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL               = "https://api.mealato.com"
	DefaultRole                  = "business"
	DefaultProbeInterval         = 25 * time.Second
	DefaultReplyTimeout          = 5 * time.Second
	DefaultMaxMissed             = 2
	DefaultReconnectBaseDelay    = 1 * time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultReconnectJitter       = 0.2
	DefaultStabilityWindow       = 2 * time.Minute
	DefaultLeaderMode            = "static"
	DefaultLeaseTTL              = 15 * time.Second
	DefaultRenewInterval         = 5 * time.Second
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 10
	DefaultMinConns              = 2
	DefaultStoreBatchSize        = 500
	DefaultStoreFlushInterval    = 1 * time.Second
	DefaultStoreQueueCapacity    = 4096
	DefaultDispatchQueueCapacity = 1024
	DefaultMetricsPort           = 9090
	DefaultMetricsPath           = "/metrics"
)

func (c *FeedConfig) applyDefaults() {
	// Gateway defaults
	if c.Gateway.BaseURL == "" && c.Gateway.WSURL == "" {
		c.Gateway.BaseURL = DefaultBaseURL
	}
	if c.Gateway.Role == "" {
		c.Gateway.Role = DefaultRole
	}

	// Heartbeat defaults
	if c.Heartbeat.ProbeInterval == 0 {
		c.Heartbeat.ProbeInterval = DefaultProbeInterval
	}
	if c.Heartbeat.ReplyTimeout == 0 {
		c.Heartbeat.ReplyTimeout = DefaultReplyTimeout
	}
	if c.Heartbeat.MaxMissed == 0 {
		c.Heartbeat.MaxMissed = DefaultMaxMissed
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = DefaultReconnectJitter
	}
	if c.Reconnect.StabilityWindow == 0 {
		c.Reconnect.StabilityWindow = DefaultStabilityWindow
	}

	// Leader defaults. The lease session defaults to the gateway
	// identity: all instances signed in as one account share a lease.
	if c.Leader.Mode == "" {
		c.Leader.Mode = DefaultLeaderMode
	}
	if c.Leader.SessionID == "" {
		c.Leader.SessionID = c.Gateway.Identity
	}
	if c.Leader.LeaseTTL == 0 {
		c.Leader.LeaseTTL = DefaultLeaseTTL
	}
	if c.Leader.RenewInterval == 0 {
		c.Leader.RenewInterval = DefaultRenewInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Store defaults
	if c.Store.BatchSize == 0 {
		c.Store.BatchSize = DefaultStoreBatchSize
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = DefaultStoreFlushInterval
	}
	if c.Store.QueueCapacity == 0 {
		c.Store.QueueCapacity = DefaultStoreQueueCapacity
	}

	// Dispatch defaults
	if c.Dispatch.QueueCapacity == 0 {
		c.Dispatch.QueueCapacity = DefaultDispatchQueueCapacity
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
