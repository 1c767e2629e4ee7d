package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
	validSchemes    = []string{"ws", "wss", "http", "https"}
)

// Validate checks that all required fields are set and values are valid.
func (c *CompanionConfig) Validate() error {
	if err := c.Gateway.validate("gateway"); err != nil {
		return err
	}

	if c.Client.ID == "" {
		return errors.New("client.id is required")
	}
	if c.Client.MinProtocol < 1 {
		return errors.New("client.min_protocol must be >= 1")
	}
	if c.Client.MaxProtocol < c.Client.MinProtocol {
		return fmt.Errorf("client.max_protocol (%d) cannot be below min_protocol (%d)",
			c.Client.MaxProtocol, c.Client.MinProtocol)
	}

	if c.Connection.PollInterval <= 0 {
		return errors.New("connection.poll_interval must be > 0")
	}
	if c.Connection.MinPollGap < 0 {
		return errors.New("connection.min_poll_gap must be >= 0")
	}
	if c.Connection.StaleCheckInterval > c.Connection.StaleAfter {
		return fmt.Errorf("connection.stale_check_interval (%v) cannot exceed stale_after (%v)",
			c.Connection.StaleCheckInterval, c.Connection.StaleAfter)
	}
	if c.Connection.ReconnectMaxWait < c.Connection.ReconnectBaseWait {
		return fmt.Errorf("connection.reconnect_max_wait (%v) cannot be below reconnect_base_wait (%v)",
			c.Connection.ReconnectMaxWait, c.Connection.ReconnectBaseWait)
	}
	if c.Connection.ReconnectJitter < 0 || c.Connection.ReconnectJitter > 1 {
		return fmt.Errorf("connection.reconnect_jitter must be between 0 and 1, got %v", c.Connection.ReconnectJitter)
	}

	if err := validateMethods("methods.state", c.Methods.State); err != nil {
		return err
	}
	if err := validateMethods("methods.reset", c.Methods.Reset); err != nil {
		return err
	}

	if c.Latency.Window < 1 {
		return errors.New("latency.window must be >= 1")
	}
	if c.Latency.TrendThreshold <= 0 {
		return errors.New("latency.trend_threshold must be > 0")
	}

	if c.Health.FairBelow <= c.Health.GoodBelow {
		return fmt.Errorf("health.fair_below (%v) must exceed good_below (%v)",
			c.Health.FairBelow, c.Health.GoodBelow)
	}
	if c.Health.MaxErrorRate <= 0 || c.Health.MaxErrorRate > 1 {
		return fmt.Errorf("health.max_error_rate must be in (0, 1], got %v", c.Health.MaxErrorRate)
	}
	if c.Health.MinRequests < 1 {
		return errors.New("health.min_requests must be >= 1")
	}

	if c.Status.Enabled {
		if _, _, err := net.SplitHostPort(c.Status.Addr); err != nil {
			return fmt.Errorf("status.addr %q: %w", c.Status.Addr, err)
		}
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < c.Recorder.BatchSize {
			return fmt.Errorf("recorder.buffer_size (%d) cannot be below batch_size (%d)",
				c.Recorder.BufferSize, c.Recorder.BatchSize)
		}
		if c.Recorder.FlushInterval <= 0 {
			return errors.New("recorder.flush_interval must be > 0")
		}
	}

	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("log.level must be one of %s, got %q", strings.Join(validLogLevels, ", "), c.Log.Level)
	}
	if !slices.Contains(validLogFormats, c.Log.Format) {
		return fmt.Errorf("log.format must be one of %s, got %q", strings.Join(validLogFormats, ", "), c.Log.Format)
	}

	return nil
}

func (g *GatewayConfig) validate(prefix string) error {
	if g.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(g.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if !slices.Contains(validSchemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%s.url must be a ws, wss, http or https url, got %q", prefix, g.URL)
	}
	return nil
}

func validateMethods(path string, methods []string) error {
	for i, m := range methods {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%s[%d] is empty", path, i)
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
