package connection

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/gateway-companion/internal/health"
	"github.com/rickgao/gateway-companion/internal/latency"
	"github.com/rickgao/gateway-companion/internal/version"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no inbound message)")
	ErrInvalidURL      = errors.New("invalid gateway url")
	ErrDestroyed       = errors.New("manager destroyed")
	ErrRequestTimeout  = errors.New("request timeout")
	ErrRequestFailed   = errors.New("request failed")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Close codes used or interpreted by the manager.
const (
	CloseNormal           = websocket.CloseNormalClosure
	CloseAbnormal         = websocket.CloseAbnormalClosure
	CloseInternalError    = websocket.CloseInternalServerErr
	CloseStale            = 4000
	CloseHandshakeTimeout = 4008
)

// fatalCloseCodes are close codes for which automatic reconnect is
// suppressed: protocol violations and authorization failures.
var fatalCloseCodes = map[int]struct{}{
	websocket.CloseProtocolError:   {},
	websocket.CloseUnsupportedData: {},
	websocket.ClosePolicyViolation: {},
	4001:                           {},
	4003:                           {},
	4401:                           {},
	4403:                           {},
}

// IsFatalClose reports whether code should stop the reconnect loop.
func IsFatalClose(code int) bool {
	_, ok := fatalCloseCodes[code]
	return ok
}

// Phase is the connection lifecycle phase.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
)

// CloseInfo describes a socket close.
type CloseInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Fatal  bool   `json:"fatal"`
}

// GatewayConfig identifies the gateway to connect to.
type GatewayConfig struct {
	URL   string // ws://, wss://, http:// or https://
	Token string // Optional bearer token sent in the handshake
}

// NormalizeURL maps http to ws and https to wss. Other schemes are kept.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	// Handshake
	MinProtocol int
	MaxProtocol int
	ClientID    string
	DisplayName string
	Version     string
	Platform    string
	Arch        string
	Role        string
	Scopes      []string

	// Capability candidates, canonical name first. Empty uses the defaults.
	StateMethods []string
	ResetMethods []string

	// Polling
	PollInterval   time.Duration // State poll ticker period
	MinPollGap     time.Duration // Minimum time between two state sends
	RequestTimeout time.Duration // Pending requests older than this are dropped

	// Watchdog
	StaleAfter         time.Duration // Silence that marks the connection stale
	StaleCheckInterval time.Duration // How often the watchdog looks

	// Reconnect
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	ReconnectJitter   float64 // Fraction added on top, drawn uniformly from [0, jitter)

	// Latency
	LatencyWindow  int
	TrendThreshold float64 // Percent

	Health health.Thresholds
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MinProtocol: 1,
		MaxProtocol: 3,
		ClientID:    "desktop-companion",
		DisplayName: "Desktop Companion",
		Version:     version.Version,
		Platform:    version.Platform(),
		Arch:        version.Arch(),
		Role:        "operator",
		Scopes:      []string{"operator.read"},

		PollInterval:   1 * time.Second,
		MinPollGap:     150 * time.Millisecond,
		RequestTimeout: 10 * time.Second,

		StaleAfter:         20 * time.Second,
		StaleCheckInterval: 5 * time.Second,

		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		ReconnectJitter:   0.3,

		LatencyWindow:  latency.DefaultCapacity,
		TrendThreshold: latency.DefaultTrendThreshold,

		// Health.StaleAfter follows StaleAfter unless set.
		Health: health.Thresholds{
			GoodBelow:    health.DefaultGoodBelow,
			FairBelow:    health.DefaultFairBelow,
			MaxErrorRate: health.DefaultMaxErrorRate,
			MinRequests:  health.DefaultMinRequests,
		},
	}
}

// withDefaults fills zero fields from DefaultManagerConfig.
func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.MinProtocol == 0 {
		c.MinProtocol = d.MinProtocol
	}
	if c.MaxProtocol == 0 {
		c.MaxProtocol = d.MaxProtocol
	}
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if c.DisplayName == "" {
		c.DisplayName = d.DisplayName
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Platform == "" {
		c.Platform = d.Platform
	}
	if c.Arch == "" {
		c.Arch = d.Arch
	}
	if c.Role == "" {
		c.Role = d.Role
	}
	if len(c.Scopes) == 0 {
		c.Scopes = d.Scopes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MinPollGap <= 0 {
		c.MinPollGap = d.MinPollGap
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = d.StaleCheckInterval
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = d.ReconnectBaseWait
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = d.ReconnectMaxWait
	}
	if c.ReconnectJitter < 0 {
		c.ReconnectJitter = 0
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = d.LatencyWindow
	}
	if c.TrendThreshold <= 0 {
		c.TrendThreshold = d.TrendThreshold
	}
	if c.Health.StaleAfter <= 0 {
		c.Health.StaleAfter = c.StaleAfter
	}
	return c
}

// Backoff returns the reconnect delay for attempt:
// min(base*2^attempt, max) * (1 + jitter*u), with u in [0, 1).
func Backoff(attempt int, base, maxWait time.Duration, jitter, u float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(maxWait) {
		d = float64(maxWait)
	}
	return time.Duration(d * (1 + jitter*u))
}
