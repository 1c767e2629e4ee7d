package config

import "time"

// CompanionConfig is the root configuration for a companion instance.
type CompanionConfig struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Client     ClientConfig     `yaml:"client"`
	Connection ConnectionConfig `yaml:"connection"`
	Methods    MethodsConfig    `yaml:"methods"`
	Latency    LatencyConfig    `yaml:"latency"`
	Health     HealthConfig     `yaml:"health"`
	Status     StatusConfig     `yaml:"status"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Log        LogConfig        `yaml:"log"`
}

// GatewayConfig identifies the gateway. Changes are applied on reload
// without a restart.
type GatewayConfig struct {
	URL   string `yaml:"url"`   // ws://, wss://, http:// or https://
	Token string `yaml:"token"` // Optional, usually ${GATEWAY_TOKEN}
}

// ClientConfig describes this client in the handshake.
type ClientConfig struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Role        string   `yaml:"role"`
	Scopes      []string `yaml:"scopes"`
	MinProtocol int      `yaml:"min_protocol"`
	MaxProtocol int      `yaml:"max_protocol"`
}

// ConnectionConfig holds connection manager timings.
type ConnectionConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	MinPollGap         time.Duration `yaml:"min_poll_gap"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	StaleCheckInterval time.Duration `yaml:"stale_check_interval"`
	ReconnectBaseWait  time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait   time.Duration `yaml:"reconnect_max_wait"`
	ReconnectJitter    float64       `yaml:"reconnect_jitter"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"` // WebSocket dial
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
}

// MethodsConfig lists capability method candidates, canonical name first.
// Empty lists keep the built-in candidates.
type MethodsConfig struct {
	State []string `yaml:"state"`
	Reset []string `yaml:"reset"`
}

// LatencyConfig holds latency tracker settings.
type LatencyConfig struct {
	Window         int     `yaml:"window"`
	TrendThreshold float64 `yaml:"trend_threshold"` // Percent
}

// HealthConfig holds health evaluation thresholds.
type HealthConfig struct {
	GoodBelow    time.Duration `yaml:"good_below"`
	FairBelow    time.Duration `yaml:"fair_below"`
	MaxErrorRate float64       `yaml:"max_error_rate"`
	MinRequests  int64         `yaml:"min_requests"`
}

// StatusConfig holds the local status HTTP server settings.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RecorderConfig holds telemetry recorder settings.
type RecorderConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Database         DBConfig      `yaml:"database"`
	BatchSize        int           `yaml:"batch_size"`
	BufferSize       int           `yaml:"buffer_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
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

// LogConfig holds logging settings. File output is rotated.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	File       string `yaml:"file"`   // Empty logs to stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// GatewayChanged reports whether the gateway section differs from other's.
func (c *CompanionConfig) GatewayChanged(other *CompanionConfig) bool {
	if other == nil {
		return true
	}
	return c.Gateway != other.Gateway
}
