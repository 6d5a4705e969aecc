// Package activity detects whether the operator is currently using the
// assistant and records presence samples for pattern learning.
package activity

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// UserPresenceProbe determines whether the operator is present. The default
// implementation looks for a running assistant process; headless
// environments can plug in their own probe.
type UserPresenceProbe interface {
	Present(ctx context.Context) (bool, error)
}

// ProcessProbe reports the operator present when any process command line
// contains the assistant identifier. The operator is interacting with the
// assistant exactly when such a process exists.
type ProcessProbe struct {
	// Identifier matched against process command lines, default "claude".
	Identifier string
}

// NewProcessProbe returns a probe matching the given process identifier.
func NewProcessProbe(identifier string) *ProcessProbe {
	if identifier == "" {
		identifier = "claude"
	}
	return &ProcessProbe{Identifier: identifier}
}

// Present runs pgrep -f against the identifier. A missing pgrep binary or a
// timeout is treated as "not present" rather than an error: presence is a
// scheduling hint, not a correctness requirement.
func (p *ProcessProbe) Present(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pgrep", "-f", p.Identifier).Output()
	if err != nil {
		// pgrep exits 1 when nothing matches.
		return false, nil
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// SampleRecorder persists presence observations.
type SampleRecorder interface {
	RecordUsageSample(ts time.Time, active bool) error
	LastActiveSampleTime() (time.Time, bool, error)
}

// Monitor samples user presence once per tick and records the observation.
type Monitor struct {
	probe UserPresenceProbe
	store SampleRecorder

	// Last probe result, cached for the duration of one tick.
	cachedAt time.Time
	cached   bool
	active   bool
}

// NewMonitor creates a Monitor over the given probe and recorder.
func NewMonitor(probe UserPresenceProbe, store SampleRecorder) *Monitor {
	return &Monitor{probe: probe, store: store}
}

// Sample probes presence, records a usage sample, and caches the result for
// subsequent IsActive calls within the same tick.
func (m *Monitor) Sample(ctx context.Context, now time.Time) (bool, error) {
	active, err := m.probe.Present(ctx)
	if err != nil {
		return false, err
	}
	if err := m.store.RecordUsageSample(now, active); err != nil {
		return false, err
	}
	m.cachedAt = now
	m.cached = true
	m.active = active
	return active, nil
}

// IsActive returns the cached probe result for the current tick, probing
// fresh when nothing is cached yet.
func (m *Monitor) IsActive(ctx context.Context, now time.Time) (bool, error) {
	if m.cached && now.Sub(m.cachedAt) < time.Minute {
		return m.active, nil
	}
	return m.Sample(ctx, now)
}

// IdleDuration reports how long the operator has been idle, measured from
// the last sample that observed activity. ok is false when no activity has
// ever been observed, which callers treat as indefinitely idle.
func (m *Monitor) IdleDuration(now time.Time) (time.Duration, bool, error) {
	last, ok, err := m.store.LastActiveSampleTime()
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	d := now.Sub(last)
	if d < 0 {
		d = 0
	}
	return d, true, nil
}
