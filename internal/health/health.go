// Package health derives a healthy/degraded/unhealthy verdict from the
// connection state and latency history. Every function here is pure.
package health

import (
	"fmt"
	"time"

	"github.com/rickgao/gateway-companion/internal/latency"
)

// Status is the overall verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Quality is the band a latency value falls into.
type Quality string

const (
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
	QualityUnknown Quality = "unknown"
)

// Default thresholds.
const (
	DefaultGoodBelow    = 200 * time.Millisecond
	DefaultFairBelow    = 500 * time.Millisecond
	DefaultMaxErrorRate = 0.2
	DefaultMinRequests  = 5
	DefaultStaleAfter   = 20 * time.Second
)

// Thresholds tune the evaluator. Zero fields take the defaults.
type Thresholds struct {
	GoodBelow    time.Duration
	FairBelow    time.Duration
	MaxErrorRate float64
	MinRequests  int64
	StaleAfter   time.Duration
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GoodBelow:    DefaultGoodBelow,
		FairBelow:    DefaultFairBelow,
		MaxErrorRate: DefaultMaxErrorRate,
		MinRequests:  DefaultMinRequests,
		StaleAfter:   DefaultStaleAfter,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.GoodBelow <= 0 {
		t.GoodBelow = d.GoodBelow
	}
	if t.FairBelow <= 0 {
		t.FairBelow = d.FairBelow
	}
	if t.MaxErrorRate <= 0 {
		t.MaxErrorRate = d.MaxErrorRate
	}
	if t.MinRequests <= 0 {
		t.MinRequests = d.MinRequests
	}
	if t.StaleAfter <= 0 {
		t.StaleAfter = d.StaleAfter
	}
	return t
}

// Inputs is everything the evaluator looks at.
type Inputs struct {
	Connected bool
	Destroyed bool
	Paused    bool

	// LatencyMs is the most recent RTT sample; nil when none exists.
	LatencyMs *float64
	Stats     *latency.Stats

	RequestsSent   int64
	RequestsFailed int64

	LastMessageAt time.Time
	Now           time.Time

	Thresholds Thresholds
}

// Assessment pairs a status with the conditions that produced it.
type Assessment struct {
	Status  Status   `json:"status"`
	Reasons []string `json:"reasons"`
}

// QualityOf bands a latency in milliseconds using the default thresholds.
func QualityOf(ms float64) Quality {
	return DefaultThresholds().QualityOf(ms)
}

// QualityOf bands a latency in milliseconds.
func (t Thresholds) QualityOf(ms float64) Quality {
	t = t.withDefaults()
	switch {
	case ms < 0:
		return QualityUnknown
	case ms < msOf(t.GoodBelow):
		return QualityGood
	case ms < msOf(t.FairBelow):
		return QualityFair
	default:
		return QualityPoor
	}
}

// ComputeStatus returns the verdict for in.
func ComputeStatus(in Inputs) Status {
	if in.Destroyed || !in.Connected {
		return StatusUnhealthy
	}
	if len(degradedReasons(in)) > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// ComputeReasons lists every triggered condition in a fixed order. It is
// empty when healthy.
func ComputeReasons(in Inputs) []string {
	var reasons []string
	if in.Destroyed {
		reasons = append(reasons, "manager destroyed")
	}
	if !in.Connected {
		reasons = append(reasons, "not connected")
	}
	if len(reasons) > 0 {
		return reasons
	}
	return degradedReasons(in)
}

// Evaluate computes status and reasons together.
func Evaluate(in Inputs) Assessment {
	reasons := ComputeReasons(in)
	if reasons == nil {
		reasons = []string{}
	}
	return Assessment{
		Status:  ComputeStatus(in),
		Reasons: reasons,
	}
}

// ErrorRate returns failed/sent, or 0 with no requests.
func ErrorRate(sent, failed int64) float64 {
	if sent <= 0 {
		return 0
	}
	return float64(failed) / float64(sent)
}

func degradedReasons(in Inputs) []string {
	t := in.Thresholds.withDefaults()
	var reasons []string

	if in.LatencyMs != nil {
		if q := t.QualityOf(*in.LatencyMs); q == QualityFair || q == QualityPoor {
			reasons = append(reasons, fmt.Sprintf("latency %.0fms is %s", *in.LatencyMs, q))
		}
	}

	if in.Stats != nil {
		if q := t.QualityOf(in.Stats.Median); q == QualityFair || q == QualityPoor {
			reasons = append(reasons, fmt.Sprintf("median latency %.0fms is %s", in.Stats.Median, q))
		}
	}

	if in.RequestsSent >= t.MinRequests {
		if rate := ErrorRate(in.RequestsSent, in.RequestsFailed); rate > t.MaxErrorRate {
			reasons = append(reasons, fmt.Sprintf("error rate %.0f%% over %d requests", rate*100, in.RequestsSent))
		}
	}

	if !in.Paused && !in.LastMessageAt.IsZero() && !in.Now.IsZero() {
		if silent := in.Now.Sub(in.LastMessageAt); silent > t.StaleAfter {
			reasons = append(reasons, fmt.Sprintf("no message for %s", silent.Truncate(time.Second)))
		}
	}

	return reasons
}

func msOf(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
