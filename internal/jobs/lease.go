package jobs

import "time"

// LeasePolicy resolves a requested lease duration to whole seconds in
// [1, Max], substituting Default when the request is zero or negative.
// Pure and deterministic: it is the only place sub-second durations are
// rejected.
type LeasePolicy struct {
	Default time.Duration
	Max     time.Duration
}

// DefaultLeasePolicy mirrors the reference runner's lease bounds.
func DefaultLeasePolicy() LeasePolicy {
	return LeasePolicy{
		Default: 30 * time.Second,
		Max:     10 * time.Minute,
	}
}

// Decision records the resolved lease and whether the input was clamped,
// for observability only — it never changes the resolved value's meaning.
type Decision struct {
	Seconds int
	Clamped bool
}

// Resolve normalizes a requested lease duration to whole seconds.
func (p LeasePolicy) Resolve(requested time.Duration) Decision {
	def := p.Default
	if def <= 0 {
		def = 30 * time.Second
	}
	max := p.Max
	if max <= 0 {
		max = 10 * time.Minute
	}

	want := requested
	clamped := false
	if want <= 0 {
		want = def
	}
	if want < time.Second {
		want = time.Second
		clamped = true
	}
	if want > max {
		want = max
		clamped = true
	}

	seconds := int(want / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return Decision{Seconds: seconds, Clamped: clamped}
}
