package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultClientID           = "desktop-companion"
	DefaultDisplayName        = "Desktop Companion"
	DefaultRole               = "operator"
	DefaultScope              = "operator.read"
	DefaultMinProtocol        = 1
	DefaultMaxProtocol        = 3
	DefaultPollInterval       = 1 * time.Second
	DefaultMinPollGap         = 150 * time.Millisecond
	DefaultRequestTimeout     = 10 * time.Second
	DefaultStaleAfter         = 20 * time.Second
	DefaultStaleCheckInterval = 5 * time.Second
	DefaultReconnectBaseWait  = 1 * time.Second
	DefaultReconnectMaxWait   = 30 * time.Second
	DefaultReconnectJitter    = 0.3
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultLatencyWindow      = 60
	DefaultTrendThreshold     = 25.0
	DefaultGoodBelow          = 200 * time.Millisecond
	DefaultFairBelow          = 500 * time.Millisecond
	DefaultMaxErrorRate       = 0.2
	DefaultMinRequests        = 5
	DefaultStatusAddr         = "127.0.0.1:18790"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 500
	DefaultBufferSize         = 4096
	DefaultFlushInterval      = 1 * time.Second
	DefaultSnapshotInterval   = 30 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultLogMaxSizeMB       = 50
	DefaultLogMaxBackups      = 5
	DefaultLogMaxAgeDays      = 14
)

func (c *CompanionConfig) applyDefaults() {
	// Client defaults
	if c.Client.ID == "" {
		c.Client.ID = DefaultClientID
	}
	if c.Client.DisplayName == "" {
		c.Client.DisplayName = DefaultDisplayName
	}
	if c.Client.Role == "" {
		c.Client.Role = DefaultRole
	}
	if len(c.Client.Scopes) == 0 {
		c.Client.Scopes = []string{DefaultScope}
	}
	if c.Client.MinProtocol == 0 {
		c.Client.MinProtocol = DefaultMinProtocol
	}
	if c.Client.MaxProtocol == 0 {
		c.Client.MaxProtocol = DefaultMaxProtocol
	}

	// Connection defaults
	if c.Connection.PollInterval == 0 {
		c.Connection.PollInterval = DefaultPollInterval
	}
	if c.Connection.MinPollGap == 0 {
		c.Connection.MinPollGap = DefaultMinPollGap
	}
	if c.Connection.RequestTimeout == 0 {
		c.Connection.RequestTimeout = DefaultRequestTimeout
	}
	if c.Connection.StaleAfter == 0 {
		c.Connection.StaleAfter = DefaultStaleAfter
	}
	if c.Connection.StaleCheckInterval == 0 {
		c.Connection.StaleCheckInterval = DefaultStaleCheckInterval
	}
	if c.Connection.ReconnectBaseWait == 0 {
		c.Connection.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.Connection.ReconnectMaxWait == 0 {
		c.Connection.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if c.Connection.ReconnectJitter == 0 {
		c.Connection.ReconnectJitter = DefaultReconnectJitter
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}

	// Latency defaults
	if c.Latency.Window == 0 {
		c.Latency.Window = DefaultLatencyWindow
	}
	if c.Latency.TrendThreshold == 0 {
		c.Latency.TrendThreshold = DefaultTrendThreshold
	}

	// Health defaults
	if c.Health.GoodBelow == 0 {
		c.Health.GoodBelow = DefaultGoodBelow
	}
	if c.Health.FairBelow == 0 {
		c.Health.FairBelow = DefaultFairBelow
	}
	if c.Health.MaxErrorRate == 0 {
		c.Health.MaxErrorRate = DefaultMaxErrorRate
	}
	if c.Health.MinRequests == 0 {
		c.Health.MinRequests = DefaultMinRequests
	}

	// Status defaults
	if c.Status.Addr == "" {
		c.Status.Addr = DefaultStatusAddr
	}

	// Recorder defaults
	applyDBDefaults(&c.Recorder.Database)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.SnapshotInterval == 0 {
		c.Recorder.SnapshotInterval = DefaultSnapshotInterval
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
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
