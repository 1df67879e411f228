package config

import "time"

// Config is the root configuration for the tracking core.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Socket   SocketConfig   `yaml:"socket"`
	Poller   PollerConfig   `yaml:"poller"`
	Route    RouteConfig    `yaml:"route"`
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Orders   []string       `yaml:"orders"` // order ids the daemon tracks
}

// InstanceConfig identifies this client on the push channel.
type InstanceConfig struct {
	Identity string `yaml:"identity"` // user/worker/admin identity token
	Role     string `yaml:"role"`     // "user", "worker", or "admin"
	Room     string `yaml:"room"`     // broadcast room joined by admin sessions
}

// APIConfig holds pull-channel (REST) settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SocketConfig holds push-channel (WebSocket) settings.
type SocketConfig struct {
	URL                  string        `yaml:"url"`
	AuthTimeout          time.Duration `yaml:"auth_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// PollerConfig holds polling-fallback settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RouteConfig holds routing-provider and route-cache settings.
type RouteConfig struct {
	ProviderURL            string        `yaml:"provider_url"`
	Profile                string        `yaml:"profile"`
	Timeout                time.Duration `yaml:"timeout"`
	CacheTTL               time.Duration `yaml:"cache_ttl"`
	RecomputeEpsilonMeters float64       `yaml:"recompute_epsilon_meters"`
}

// DatabaseConfig holds the optional history archive database.
type DatabaseConfig struct {
	Archive DBConfig `yaml:"archive"`
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

// ArchiveConfig holds history writer settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}
