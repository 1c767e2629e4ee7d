package connection

import (
	"time"

	"github.com/rickgao/gateway-companion/internal/health"
	"github.com/rickgao/gateway-companion/internal/latency"
)

// Snapshot is an immutable view of the manager returned by Status.
type Snapshot struct {
	Phase     Phase `json:"phase"`
	Connected bool  `json:"connected"`
	Destroyed bool  `json:"destroyed"`
	Disarmed  bool  `json:"disarmed"` // Torn down with no pending reconnect
	Paused    bool  `json:"paused"`

	URL        string `json:"url,omitempty"`        // Connected URL
	TargetURL  string `json:"target_url,omitempty"` // Last URL Connect was given
	InstanceID string `json:"instance_id"`

	ConnectedSince     time.Time  `json:"connected_since,omitzero"`
	FirstConnectedAt   time.Time  `json:"first_connected_at,omitzero"`
	LastDisconnectedAt time.Time  `json:"last_disconnected_at,omitzero"`
	LastMessageAt      time.Time  `json:"last_message_at,omitzero"`
	LastClose          *CloseInfo `json:"last_close,omitempty"`

	UptimeMs      int64   `json:"uptime_ms"`
	UptimePercent float64 `json:"uptime_percent"`

	ReconnectAttempt    int `json:"reconnect_attempt"`
	SessionConnectCount int `json:"session_connect_count"`
	SessionAttemptCount int `json:"session_attempt_count"`

	PluginAvailable   bool   `json:"plugin_available"`
	PluginStateMethod string `json:"plugin_state_method"`
	PluginResetMethod string `json:"plugin_reset_method"`

	LatencyMs    *float64       `json:"latency_ms"`
	LatencyStats *latency.Stats `json:"latency_stats"` // Rounded
	LatencyTrend latency.Trend  `json:"latency_trend,omitempty"`

	Health health.Assessment `json:"health"`

	RequestsSent      int64 `json:"requests_sent"`
	RequestsSucceeded int64 `json:"requests_succeeded"`
	RequestsFailed    int64 `json:"requests_failed"`

	TakenAt time.Time `json:"taken_at"`
}

// view is the state published by the control goroutine after every change.
// Time-dependent values are derived from it when Status is called.
type view struct {
	snap Snapshot

	stats          *latency.Stats // Full precision
	connectedTotal time.Duration  // Closed sessions only
}

// derive fills the time-dependent fields of a copy of v.snap.
func (v *view) derive(now time.Time, thresholds health.Thresholds) Snapshot {
	s := v.snap
	s.TakenAt = now
	if s.LatencyMs != nil {
		ms := *s.LatencyMs
		s.LatencyMs = &ms
	}
	if s.LatencyStats != nil {
		stats := *s.LatencyStats
		s.LatencyStats = &stats
	}
	if s.LastClose != nil {
		c := *s.LastClose
		s.LastClose = &c
	}

	var current time.Duration
	if s.Connected && !s.ConnectedSince.IsZero() {
		current = now.Sub(s.ConnectedSince)
		s.UptimeMs = current.Milliseconds()
	}
	s.UptimePercent = uptimePercent(s.FirstConnectedAt, now, v.connectedTotal+current, s.Connected)

	s.Health = health.Evaluate(health.Inputs{
		Connected:      s.Connected,
		Destroyed:      s.Destroyed,
		Paused:         s.Paused,
		LatencyMs:      s.LatencyMs,
		Stats:          v.stats,
		RequestsSent:   s.RequestsSucceeded + s.RequestsFailed,
		RequestsFailed: s.RequestsFailed,
		LastMessageAt:  s.LastMessageAt,
		Now:            now,
		Thresholds:     thresholds,
	})
	return s
}

// uptimePercent is the share of time since the first successful handshake
// spent connected.
func uptimePercent(first, now time.Time, connected time.Duration, isConnected bool) float64 {
	if first.IsZero() {
		return 0
	}
	elapsed := now.Sub(first)
	if elapsed <= 0 {
		if isConnected {
			return 100
		}
		return 0
	}
	pct := float64(connected) / float64(elapsed) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
