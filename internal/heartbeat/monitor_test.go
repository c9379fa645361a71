package heartbeat

import (
	"sync/atomic"
	"testing"
	"time"
)

// waitProbe blocks until the monitor sends a probe or the deadline passes.
func waitProbe(t *testing.T, probes <-chan struct{}) {
	t.Helper()
	select {
	case <-probes:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for probe")
	}
}

func TestMonitor_ProbesOnInterval(t *testing.T) {
	var sent atomic.Int64

	cfg := Config{
		ProbeInterval: 20 * time.Millisecond,
		ReplyTimeout:  10 * time.Millisecond,
		MaxMissed:     100, // Never fail in this test
	}
	m := New(cfg, func() error {
		sent.Add(1)
		return nil
	}, func() {
		t.Error("onFailure should not fire")
	}, nil)

	m.Start()
	time.Sleep(120 * time.Millisecond)
	m.Stop()

	if n := sent.Load(); n < 2 {
		t.Errorf("sent %d probes, want at least 2", n)
	}
	if m.State().LastProbeAt.IsZero() {
		t.Error("LastProbeAt should be set after probing")
	}
}

func TestMonitor_TwoMissedForcesClose(t *testing.T) {
	failed := make(chan struct{})

	cfg := Config{
		ProbeInterval: 15 * time.Millisecond,
		ReplyTimeout:  10 * time.Millisecond,
		MaxMissed:     2,
	}
	m := New(cfg, func() error { return nil }, func() {
		close(failed)
	}, nil)

	m.Start()
	defer m.Stop()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure not called after 2 missed replies")
	}

	if got := m.State().Missed; got != 2 {
		t.Errorf("Missed = %d, want 2", got)
	}
}

func TestMonitor_OneMissDoesNotClose(t *testing.T) {
	probes := make(chan struct{}, 16)
	var failures atomic.Int64

	cfg := Config{
		ProbeInterval: 30 * time.Millisecond,
		ReplyTimeout:  15 * time.Millisecond,
		MaxMissed:     2,
	}
	m := New(cfg, func() error {
		probes <- struct{}{}
		return nil
	}, func() {
		failures.Add(1)
	}, nil)

	m.Start()
	defer m.Stop()

	// First probe goes unanswered: one miss.
	waitProbe(t, probes)
	time.Sleep(20 * time.Millisecond)

	// Answer the following probes so the counter resets before a second miss.
	for i := 0; i < 3; i++ {
		waitProbe(t, probes)
		m.Pong()
	}

	if n := failures.Load(); n != 0 {
		t.Errorf("onFailure called %d times, want 0 (single miss must not close)", n)
	}
	if got := m.State().Missed; got != 0 {
		t.Errorf("Missed = %d, want 0 after reply", got)
	}
}

func TestMonitor_PongResetsCounter(t *testing.T) {
	probes := make(chan struct{}, 16)

	cfg := Config{
		ProbeInterval: 30 * time.Millisecond,
		ReplyTimeout:  15 * time.Millisecond,
		MaxMissed:     5,
	}
	m := New(cfg, func() error {
		probes <- struct{}{}
		return nil
	}, func() {}, nil)

	m.Start()
	defer m.Stop()

	// Miss one reply window.
	waitProbe(t, probes)
	time.Sleep(20 * time.Millisecond)
	if got := m.State().Missed; got != 1 {
		t.Fatalf("Missed = %d, want 1", got)
	}

	// Reply within the next window.
	waitProbe(t, probes)
	m.Pong()
	time.Sleep(20 * time.Millisecond)

	if got := m.State().Missed; got != 0 {
		t.Errorf("Missed = %d, want 0 after pong", got)
	}
}

func TestMonitor_StopPreventsFailure(t *testing.T) {
	var failures atomic.Int64

	cfg := Config{
		ProbeInterval: 15 * time.Millisecond,
		ReplyTimeout:  10 * time.Millisecond,
		MaxMissed:     2,
	}
	m := New(cfg, func() error { return nil }, func() {
		failures.Add(1)
	}, nil)

	m.Start()
	time.Sleep(20 * time.Millisecond) // At most one window elapsed
	m.Stop()

	// Were the loop still running, two misses would accumulate here.
	time.Sleep(60 * time.Millisecond)

	if n := failures.Load(); n != 0 {
		t.Errorf("onFailure called %d times after Stop, want 0", n)
	}
}

func TestMonitor_DoubleStop(t *testing.T) {
	m := New(DefaultConfig(), func() error { return nil }, func() {}, nil)
	m.Start()
	m.Stop()
	m.Stop() // Must not panic
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ProbeInterval != 25*time.Second {
		t.Errorf("ProbeInterval = %v, want 25s", cfg.ProbeInterval)
	}
	if cfg.ReplyTimeout != 5*time.Second {
		t.Errorf("ReplyTimeout = %v, want 5s", cfg.ReplyTimeout)
	}
	if cfg.MaxMissed != 2 {
		t.Errorf("MaxMissed = %d, want 2", cfg.MaxMissed)
	}
}
