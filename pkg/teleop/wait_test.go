package teleop

import (
	"math"
	"testing"
	"time"
)

func TestRatePolicy(t *testing.T) {
	tests := []struct {
		hz      float64
		timeout time.Duration
		bounded bool
		wantErr bool
	}{
		{0, 0, false, false},
		{10, 100 * time.Millisecond, true, false},
		{0.5, 2 * time.Second, true, false},
		{-1, 0, false, true},
		{math.NaN(), 0, false, true},
		{math.Inf(1), 0, false, true},
	}

	for _, tt := range tests {
		w, err := RatePolicy(tt.hz)
		if (err != nil) != tt.wantErr {
			t.Errorf("RatePolicy(%g) error = %v, wantErr %v", tt.hz, err, tt.wantErr)
			continue
		}
		d, bounded := w.Bounded()
		if d != tt.timeout || bounded != tt.bounded {
			t.Errorf("RatePolicy(%g) = (%v, %v), want (%v, %v)", tt.hz, d, bounded, tt.timeout, tt.bounded)
		}
	}
}

func TestTimeoutPolicy(t *testing.T) {
	tests := []struct {
		seconds float64
		timeout time.Duration
		bounded bool
		wantErr bool
	}{
		{0, 0, false, false},
		{0.5, 500 * time.Millisecond, true, false},
		{2, 2 * time.Second, true, false},
		{-0.1, 0, false, true},
	}

	for _, tt := range tests {
		w, err := TimeoutPolicy(tt.seconds)
		if (err != nil) != tt.wantErr {
			t.Errorf("TimeoutPolicy(%g) error = %v, wantErr %v", tt.seconds, err, tt.wantErr)
			continue
		}
		d, bounded := w.Bounded()
		if d != tt.timeout || bounded != tt.bounded {
			t.Errorf("TimeoutPolicy(%g) = (%v, %v), want (%v, %v)", tt.seconds, d, bounded, tt.timeout, tt.bounded)
		}
	}
}

func TestWaitPolicy_ZeroValueWaitsForever(t *testing.T) {
	var w WaitPolicy
	if _, bounded := w.Bounded(); bounded {
		t.Error("zero WaitPolicy is bounded")
	}
	if w.String() != "forever" {
		t.Errorf("String() = %q, want forever", w.String())
	}
	if got := BoundedWait(250 * time.Millisecond).String(); got != "250ms" {
		t.Errorf("String() = %q, want 250ms", got)
	}
}
