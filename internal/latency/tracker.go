// Package latency keeps a rolling window of round-trip samples and derives
// summary statistics and a trend from it.
package latency

import (
	"math"
	"sort"
)

// DefaultCapacity is the number of samples kept when none is configured.
const DefaultCapacity = 60

// DefaultTrendThreshold is the percent change between window halves that
// counts as rising or falling.
const DefaultTrendThreshold = 25.0

// minTrendSamples is the fewest samples Trend will judge.
const minTrendSamples = 4

// Trend describes the direction latency is moving.
type Trend string

const (
	TrendRising  Trend = "rising" // getting worse
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Stats summarizes the samples currently in the window. All values are in
// milliseconds at full precision; use Rounded for display.
type Stats struct {
	Samples int     `json:"samples"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
	Median  float64 `json:"median"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Jitter  float64 `json:"jitter"`
}

// Rounded returns a copy with every value rounded to whole milliseconds.
func (s Stats) Rounded() Stats {
	return Stats{
		Samples: s.Samples,
		Min:     math.Round(s.Min),
		Max:     math.Round(s.Max),
		Avg:     math.Round(s.Avg),
		Median:  math.Round(s.Median),
		P95:     math.Round(s.P95),
		P99:     math.Round(s.P99),
		Jitter:  math.Round(s.Jitter),
	}
}

// Tracker is a fixed-capacity FIFO of RTT samples. It is not safe for
// concurrent use; the connection manager owns it from one goroutine.
type Tracker struct {
	buf   []float64
	head  int // oldest sample
	tail  int // next write position
	count int

	totalPushed int64
}

// NewTracker creates a tracker holding at most capacity samples.
func NewTracker(capacity int) *Tracker {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		buf: make([]float64, capacity),
	}
}

// Push records a sample, evicting the oldest one when full. Negative values
// are clamped to zero.
func (t *Tracker) Push(sampleMs float64) {
	if sampleMs < 0 || math.IsNaN(sampleMs) {
		sampleMs = 0
	}

	t.buf[t.tail] = sampleMs
	t.tail = (t.tail + 1) % len(t.buf)
	if t.count == len(t.buf) {
		t.head = (t.head + 1) % len(t.buf)
	} else {
		t.count++
	}
	t.totalPushed++
}

// Len returns the number of samples held.
func (t *Tracker) Len() int {
	return t.count
}

// Cap returns the window capacity.
func (t *Tracker) Cap() int {
	return len(t.buf)
}

// TotalPushed returns the number of samples pushed since the last Reset.
func (t *Tracker) TotalPushed() int64 {
	return t.totalPushed
}

// Last returns the newest sample.
func (t *Tracker) Last() (float64, bool) {
	if t.count == 0 {
		return 0, false
	}
	idx := (t.tail - 1 + len(t.buf)) % len(t.buf)
	return t.buf[idx], true
}

// Samples returns a copy of the window ordered oldest to newest.
func (t *Tracker) Samples() []float64 {
	out := make([]float64, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.buf[(t.head+i)%len(t.buf)]
	}
	return out
}

// Reset drops every sample and counter.
func (t *Tracker) Reset() {
	for i := range t.buf {
		t.buf[i] = 0
	}
	t.head = 0
	t.tail = 0
	t.count = 0
	t.totalPushed = 0
}

// Stats computes summary statistics from the raw samples, or nil when the
// window is empty.
func (t *Tracker) Stats() *Stats {
	if t.count == 0 {
		return nil
	}

	sorted := t.Samples()
	sort.Float64s(sorted)
	n := len(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	avg := sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - avg
		sq += d * d
	}

	return &Stats{
		Samples: n,
		Min:     sorted[0],
		Max:     sorted[n-1],
		Avg:     avg,
		Median:  median(sorted),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Jitter:  math.Sqrt(sq / float64(n)),
	}
}

// Trend compares the average of the newer half of the window against the
// older half. It returns "" with fewer than four samples. With an odd count
// the middle sample belongs to the newer half.
func (t *Tracker) Trend(thresholdPercent float64) Trend {
	if t.count < minTrendSamples {
		return ""
	}

	samples := t.Samples()
	mid := len(samples) / 2
	older := mean(samples[:mid])
	newer := mean(samples[mid:])

	if older == 0 {
		if newer == 0 {
			return TrendStable
		}
		return TrendRising
	}

	change := (newer - older) / older * 100
	switch {
	case change > thresholdPercent:
		return TrendRising
	case change < -thresholdPercent:
		return TrendFalling
	default:
		return TrendStable
	}
}

// median of a sorted slice, interpolated for even lengths.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
