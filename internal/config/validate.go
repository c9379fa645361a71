package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
// The gateway identity is deliberately not required: an instance may
// boot with no signed-in account and stay disabled until reconfigured.
func (c *FeedConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Gateway.BaseURL == "" && c.Gateway.WSURL == "" {
		return errors.New("gateway.base_url or gateway.ws_url is required")
	}
	switch c.Gateway.Role {
	case "business", "courier", "customer", "admin":
	case "":
		return errors.New("gateway.role is required")
	default:
		return fmt.Errorf("gateway.role must be business, courier, customer or admin, got %q", c.Gateway.Role)
	}

	if c.Heartbeat.ProbeInterval <= 0 {
		return errors.New("heartbeat.probe_interval must be > 0")
	}
	if c.Heartbeat.ReplyTimeout <= 0 {
		return errors.New("heartbeat.reply_timeout must be > 0")
	}
	if c.Heartbeat.MaxMissed < 1 {
		return errors.New("heartbeat.max_missed must be >= 1")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return errors.New("reconnect.max_delay must be >= reconnect.base_delay")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		return fmt.Errorf("reconnect.jitter must be in [0, 1), got %g", c.Reconnect.Jitter)
	}

	switch c.Leader.Mode {
	case "static":
	case "postgres":
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("leader.mode must be static or postgres, got %q", c.Leader.Mode)
	}
	if c.Leader.RenewInterval >= c.Leader.LeaseTTL {
		return errors.New("leader.renew_interval must be < leader.lease_ttl")
	}

	if c.Store.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Store.BatchSize < 1 {
			return errors.New("store.batch_size must be >= 1")
		}
		if c.Store.QueueCapacity < 1 {
			return errors.New("store.queue_capacity must be >= 1")
		}
	}

	if c.Dispatch.QueueCapacity < 1 {
		return errors.New("dispatch.queue_capacity must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
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
