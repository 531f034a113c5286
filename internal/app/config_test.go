package app

import (
	"testing"
	"time"
)

func TestParseServicesSingle(t *testing.T) {
	services, err := ParseServices("http")
	if err != nil {
		t.Fatalf("ParseServices: %v", err)
	}
	if !services[ServiceModeHTTP] || len(services) != 1 {
		t.Fatalf("services = %v, want only http enabled", services)
	}
}

func TestParseServicesMultipleWithWhitespace(t *testing.T) {
	services, err := ParseServices(" http, scheduler ,reaper")
	if err != nil {
		t.Fatalf("ParseServices: %v", err)
	}
	for _, mode := range []ServiceMode{ServiceModeHTTP, ServiceModeScheduler, ServiceModeReaper} {
		if !services[mode] {
			t.Fatalf("expected %q enabled, got %v", mode, services)
		}
	}
	if len(services) != 3 {
		t.Fatalf("len(services) = %d, want 3", len(services))
	}
}

func TestParseServicesIgnoresEmptySegments(t *testing.T) {
	services, err := ParseServices("http,,scheduler,")
	if err != nil {
		t.Fatalf("ParseServices: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("len(services) = %d, want 2", len(services))
	}
}

func TestParseServicesEmptyStringRejected(t *testing.T) {
	if _, err := ParseServices(""); err == nil {
		t.Fatal("expected error for empty SERVICES value")
	}
	if _, err := ParseServices("   "); err == nil {
		t.Fatal("expected error for whitespace-only SERVICES value")
	}
}

func TestParseServicesUnknownNameRejected(t *testing.T) {
	if _, err := ParseServices("http,bogus"); err == nil {
		t.Fatal("expected error for unknown service name")
	}
}

func TestParseServicesAllModesRecognized(t *testing.T) {
	all := ValidServiceModes()
	joined := ""
	for i, m := range all {
		if i > 0 {
			joined += ","
		}
		joined += string(m)
	}
	services, err := ParseServices(joined)
	if err != nil {
		t.Fatalf("ParseServices: %v", err)
	}
	if len(services) != len(all) {
		t.Fatalf("len(services) = %d, want %d", len(services), len(all))
	}
}

func TestRunnerConfigSanitize(t *testing.T) {
	cases := []struct {
		name         string
		in           RunnerConfig
		minLease     time.Duration
		wantConc     int
		wantAtLeast  time.Duration
	}{
		{"zero concurrency floors to 1", RunnerConfig{Concurrency: 0, JobLease: time.Minute}, time.Second, 1, time.Minute},
		{"negative concurrency floors to 1", RunnerConfig{Concurrency: -5, JobLease: time.Minute}, time.Second, 1, time.Minute},
		{"lease below minimum is raised", RunnerConfig{Concurrency: 3, JobLease: time.Millisecond}, 10 * time.Second, 3, 10 * time.Second},
		{"valid values pass through", RunnerConfig{Concurrency: 8, JobLease: 30 * time.Second}, time.Second, 8, 30 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.in
			c.sanitize(tc.minLease)
			if c.Concurrency != tc.wantConc {
				t.Fatalf("Concurrency = %d, want %d", c.Concurrency, tc.wantConc)
			}
			if c.JobLease != tc.wantAtLeast {
				t.Fatalf("JobLease = %v, want %v", c.JobLease, tc.wantAtLeast)
			}
		})
	}
}
