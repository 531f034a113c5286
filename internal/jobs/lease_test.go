package jobs

import (
	"testing"
	"time"
)

func TestLeasePolicyResolve(t *testing.T) {
	p := LeasePolicy{Default: 30 * time.Second, Max: 10 * time.Minute}

	tests := []struct {
		name      string
		requested time.Duration
		wantSecs  int
		wantClamp bool
	}{
		{"zero uses default", 0, 30, false},
		{"negative uses default", -5 * time.Second, 30, false},
		{"within bounds passes through", 45 * time.Second, 45, false},
		{"below one second clamps up", 200 * time.Millisecond, 1, true},
		{"above max clamps down", time.Hour, 600, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Resolve(tt.requested)
			if d.Seconds != tt.wantSecs {
				t.Fatalf("Seconds = %d, want %d", d.Seconds, tt.wantSecs)
			}
			if d.Clamped != tt.wantClamp {
				t.Fatalf("Clamped = %v, want %v", d.Clamped, tt.wantClamp)
			}
		})
	}
}

func TestLeasePolicyResolveZeroValuePolicyUsesFallbacks(t *testing.T) {
	var p LeasePolicy
	d := p.Resolve(0)
	if d.Seconds != 30 {
		t.Fatalf("Seconds = %d, want 30 (fallback default)", d.Seconds)
	}
}

func TestDefaultLeasePolicy(t *testing.T) {
	p := DefaultLeasePolicy()
	if p.Default != 30*time.Second || p.Max != 10*time.Minute {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}
