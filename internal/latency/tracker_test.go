package latency

import (
	"math"
	"testing"
)

func pushAll(t *Tracker, values ...float64) {
	for _, v := range values {
		t.Push(v)
	}
}

func TestTracker_StatsEmpty(t *testing.T) {
	tr := NewTracker(10)
	if s := tr.Stats(); s != nil {
		t.Errorf("Stats() = %+v, want nil", s)
	}
	if _, ok := tr.Last(); ok {
		t.Error("Last() on empty tracker returned ok")
	}
}

func TestTracker_StatsBasic(t *testing.T) {
	tr := NewTracker(10)
	pushAll(tr, 10, 20, 30)

	s := tr.Stats()
	if s == nil {
		t.Fatal("Stats() = nil")
	}
	if s.Min != 10 || s.Max != 30 || s.Avg != 20 || s.Median != 20 {
		t.Errorf("Stats() = %+v, want min=10 max=30 avg=20 median=20", s)
	}
	if s.Samples != 3 {
		t.Errorf("Samples = %d, want 3", s.Samples)
	}

	// population std-dev of 10,20,30 = sqrt(200/3)
	wantJitter := math.Sqrt(200.0 / 3.0)
	if math.Abs(s.Jitter-wantJitter) > 1e-9 {
		t.Errorf("Jitter = %v, want %v", s.Jitter, wantJitter)
	}
	if r := s.Rounded(); r.Jitter != 8 {
		t.Errorf("Rounded().Jitter = %v, want 8", r.Jitter)
	}
}

func TestTracker_MedianEven(t *testing.T) {
	tr := NewTracker(10)
	pushAll(tr, 40, 10, 30, 20)

	if got := tr.Stats().Median; got != 25 {
		t.Errorf("Median = %v, want 25", got)
	}
}

func TestTracker_PercentilesNearestRank(t *testing.T) {
	tr := NewTracker(100)
	for i := 1; i <= 100; i++ {
		tr.Push(float64(i))
	}

	s := tr.Stats()
	if s.P95 != 95 {
		t.Errorf("P95 = %v, want 95", s.P95)
	}
	if s.P99 != 99 {
		t.Errorf("P99 = %v, want 99", s.P99)
	}

	small := NewTracker(10)
	small.Push(7)
	if s := small.Stats(); s.P95 != 7 || s.P99 != 7 {
		t.Errorf("single sample percentiles = %v/%v, want 7/7", s.P95, s.P99)
	}
}

func TestTracker_FIFOEviction(t *testing.T) {
	const capacity = 5
	tr := NewTracker(capacity)
	pushAll(tr, 1, 2, 3, 4, 5)

	for i := 6; i <= 5+capacity; i++ {
		tr.Push(float64(i))

		samples := tr.Samples()
		if len(samples) != capacity {
			t.Fatalf("len(Samples()) = %d, want %d", len(samples), capacity)
		}
		// oldest remaining is exactly i-capacity+1
		if want := float64(i - capacity + 1); samples[0] != want {
			t.Errorf("after push %d oldest = %v, want %v", i, samples[0], want)
		}
		if samples[capacity-1] != float64(i) {
			t.Errorf("after push %d newest = %v, want %d", i, samples[capacity-1], i)
		}
		if s := tr.Stats(); s.Samples > capacity {
			t.Errorf("Stats().Samples = %d exceeds capacity", s.Samples)
		}
	}

	if last, _ := tr.Last(); last != 10 {
		t.Errorf("Last() = %v, want 10", last)
	}
}

func TestTracker_NegativeClamped(t *testing.T) {
	tr := NewTracker(3)
	tr.Push(-5)
	if last, _ := tr.Last(); last != 0 {
		t.Errorf("Last() = %v, want 0", last)
	}
}

func TestTracker_Trend(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    Trend
	}{
		{"too few", []float64{10, 20, 30}, ""},
		{"rising", []float64{100, 100, 130, 130}, TrendRising},
		{"at threshold is stable", []float64{100, 100, 125, 125}, TrendStable},
		{"falling", []float64{100, 100, 70, 70}, TrendFalling},
		{"stable", []float64{100, 110, 105, 95}, TrendStable},
		{"zero older zero newer", []float64{0, 0, 0, 0}, TrendStable},
		{"zero older nonzero newer", []float64{0, 0, 5, 5}, TrendRising},
		{"odd count", []float64{10, 10, 50, 50, 50}, TrendRising},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(10)
			pushAll(tr, tt.samples...)
			if got := tr.Trend(DefaultTrendThreshold); got != tt.want {
				t.Errorf("Trend() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTracker_TrendUsesInsertionOrder(t *testing.T) {
	// Wrap the ring so head is not at index 0.
	tr := NewTracker(4)
	pushAll(tr, 500, 500, 10, 10, 40, 40)

	// Window is now 10,10,40,40 oldest to newest.
	if got := tr.Trend(DefaultTrendThreshold); got != TrendRising {
		t.Errorf("Trend() = %q, want rising", got)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(4)
	pushAll(tr, 1, 2, 3)
	tr.Reset()

	if tr.Len() != 0 || tr.TotalPushed() != 0 {
		t.Errorf("after Reset Len=%d TotalPushed=%d, want 0/0", tr.Len(), tr.TotalPushed())
	}
	if tr.Stats() != nil {
		t.Error("Stats() after Reset should be nil")
	}

	tr.Push(9)
	if s := tr.Samples(); len(s) != 1 || s[0] != 9 {
		t.Errorf("Samples() after Reset+Push = %v, want [9]", s)
	}
}
