package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout    = 10 * time.Second
	DefaultMaxRetries    = 3
	DefaultAuthTimeout   = 5 * time.Second
	DefaultMaxReconnects = 5
	DefaultReconnectBase = 1 * time.Second
	DefaultReconnectMax  = 30 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
	DefaultPingTimeout   = 60 * time.Second
	DefaultSocketBuffer  = 1000
	DefaultPollInterval  = 5 * time.Second
	DefaultPollTimeout   = 10 * time.Second
	DefaultRouteProfile  = "driving"
	DefaultRouteTimeout  = 3 * time.Second
	DefaultRouteCacheTTL = 30 * time.Second
	DefaultRouteEpsilon  = 25.0 // meters
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultArchiveBuffer = 5000
)

func (c *Config) applyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	if c.Socket.AuthTimeout == 0 {
		c.Socket.AuthTimeout = DefaultAuthTimeout
	}
	if c.Socket.MaxReconnectAttempts == 0 {
		c.Socket.MaxReconnectAttempts = DefaultMaxReconnects
	}
	if c.Socket.ReconnectBaseDelay == 0 {
		c.Socket.ReconnectBaseDelay = DefaultReconnectBase
	}
	if c.Socket.ReconnectMaxDelay == 0 {
		c.Socket.ReconnectMaxDelay = DefaultReconnectMax
	}
	if c.Socket.WriteTimeout == 0 {
		c.Socket.WriteTimeout = DefaultWriteTimeout
	}
	if c.Socket.PingTimeout == 0 {
		c.Socket.PingTimeout = DefaultPingTimeout
	}
	if c.Socket.BufferSize == 0 {
		c.Socket.BufferSize = DefaultSocketBuffer
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	if c.Route.Profile == "" {
		c.Route.Profile = DefaultRouteProfile
	}
	if c.Route.Timeout == 0 {
		c.Route.Timeout = DefaultRouteTimeout
	}
	if c.Route.CacheTTL == 0 {
		c.Route.CacheTTL = DefaultRouteCacheTTL
	}
	if c.Route.RecomputeEpsilonMeters == 0 {
		c.Route.RecomputeEpsilonMeters = DefaultRouteEpsilon
	}

	applyDBDefaults(&c.Database.Archive)

	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBuffer
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
