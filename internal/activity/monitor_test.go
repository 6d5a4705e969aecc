package activity

import (
	"context"
	"testing"
	"time"
)

type fakeProbe struct {
	present bool
	calls   int
}

func (p *fakeProbe) Present(context.Context) (bool, error) {
	p.calls++
	return p.present, nil
}

type memRecorder struct {
	samples []struct {
		ts     time.Time
		active bool
	}
}

func (r *memRecorder) RecordUsageSample(ts time.Time, active bool) error {
	r.samples = append(r.samples, struct {
		ts     time.Time
		active bool
	}{ts, active})
	return nil
}

func (r *memRecorder) LastActiveSampleTime() (time.Time, bool, error) {
	for i := len(r.samples) - 1; i >= 0; i-- {
		if r.samples[i].active {
			return r.samples[i].ts, true, nil
		}
	}
	return time.Time{}, false, nil
}

func TestSampleRecords(t *testing.T) {
	probe := &fakeProbe{present: true}
	rec := &memRecorder{}
	m := NewMonitor(probe, rec)
	now := time.Now()

	active, err := m.Sample(context.Background(), now)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if !active {
		t.Error("Expected active")
	}
	if len(rec.samples) != 1 || !rec.samples[0].active {
		t.Errorf("Sample not recorded: %+v", rec.samples)
	}
}

func TestIsActiveUsesCacheWithinTick(t *testing.T) {
	probe := &fakeProbe{present: true}
	m := NewMonitor(probe, &memRecorder{})
	now := time.Now()

	if _, err := m.Sample(context.Background(), now); err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if _, err := m.IsActive(context.Background(), now.Add(10*time.Second)); err != nil {
		t.Fatalf("IsActive failed: %v", err)
	}
	if probe.calls != 1 {
		t.Errorf("IsActive inside a tick should not reprobe, got %d calls", probe.calls)
	}

	// Past the cache horizon a fresh probe happens.
	if _, err := m.IsActive(context.Background(), now.Add(2*time.Minute)); err != nil {
		t.Fatalf("IsActive failed: %v", err)
	}
	if probe.calls != 2 {
		t.Errorf("Stale cache should reprobe, got %d calls", probe.calls)
	}
}

func TestIdleDuration(t *testing.T) {
	rec := &memRecorder{}
	m := NewMonitor(&fakeProbe{}, rec)
	now := time.Now()

	// No activity ever observed.
	_, ok, err := m.IdleDuration(now)
	if err != nil {
		t.Fatalf("IdleDuration failed: %v", err)
	}
	if ok {
		t.Error("Expected ok=false with no active samples")
	}

	rec.RecordUsageSample(now.Add(-45*time.Minute), true)
	rec.RecordUsageSample(now.Add(-10*time.Minute), false)

	d, ok, err := m.IdleDuration(now)
	if err != nil {
		t.Fatalf("IdleDuration failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected a known idle duration")
	}
	if d != 45*time.Minute {
		t.Errorf("Expected 45m idle, got %v", d)
	}
}

func TestIdleDurationClampsFuture(t *testing.T) {
	rec := &memRecorder{}
	m := NewMonitor(&fakeProbe{}, rec)
	now := time.Now()
	rec.RecordUsageSample(now.Add(time.Minute), true)

	d, ok, err := m.IdleDuration(now)
	if err != nil || !ok {
		t.Fatalf("IdleDuration failed: %v %v", ok, err)
	}
	if d != 0 {
		t.Errorf("Future activity should clamp to zero idle, got %v", d)
	}
}
