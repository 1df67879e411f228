package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.Identity == "" {
		return errors.New("instance.identity is required")
	}
	switch c.Instance.Role {
	case "user", "worker", "admin":
	default:
		return fmt.Errorf("instance.role must be user, worker, or admin, got %q", c.Instance.Role)
	}
	if c.Instance.Role == "admin" && c.Instance.Room == "" {
		return errors.New("instance.room is required for admin role")
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Socket.URL == "" {
		return errors.New("socket.url is required")
	}
	if c.Socket.MaxReconnectAttempts < 1 {
		return errors.New("socket.max_reconnect_attempts must be >= 1")
	}
	if c.Socket.ReconnectBaseDelay > c.Socket.ReconnectMaxDelay {
		return fmt.Errorf("socket.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Socket.ReconnectBaseDelay, c.Socket.ReconnectMaxDelay)
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}

	// Route computation is optional; an empty provider URL disables it.
	if c.Route.RecomputeEpsilonMeters < 0 {
		return errors.New("route.recompute_epsilon_meters must be >= 0")
	}

	if c.Archive.Enabled {
		if err := c.Database.Archive.validate("database.archive"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
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
