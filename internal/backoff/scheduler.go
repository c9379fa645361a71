package backoff

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Config holds reconnect backoff settings.
type Config struct {
	BaseDelay       time.Duration // First retry delay
	MaxDelay        time.Duration // Delay ceiling
	Jitter          float64       // Uniform jitter fraction (0.2 = +/-20%)
	StabilityWindow time.Duration // Unbroken connection time before the attempt counter resets
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		Jitter:          0.2,
		StabilityWindow: 2 * time.Minute,
	}
}

// State is a read-only snapshot of the scheduler.
type State struct {
	Attempt     uint
	StableSince time.Time // Zero when not connected or not yet stable-tracked
}

// Scheduler computes jittered exponential reconnect delays and resets the
// attempt counter once a connection has stayed up for the stability window.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	attempt        uint
	stableSince    time.Time
	stabilityTimer *time.Timer
	armID          uint64 // Invalidates stale stability timers
}

// New creates a Scheduler.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
	}
}

// Fail records a failed attempt and returns the delay before the next one.
// The delay is computed from the attempt count before the failure, so the
// first failure schedules a retry at BaseDelay.
func (s *Scheduler) Fail() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.delayFor(s.attempt)
	s.attempt++
	s.cancelStabilityLocked()

	return delay
}

// MarkConnected starts the stability window. If the connection survives the
// full window the attempt counter resets to zero.
func (s *Scheduler) MarkConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelStabilityLocked()
	s.stableSince = time.Now()

	s.armID++
	id := s.armID
	s.stabilityTimer = time.AfterFunc(s.cfg.StabilityWindow, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if id != s.armID {
			return
		}
		if s.attempt != 0 {
			s.logger.Debug("backoff reset after stable connection",
				"window", s.cfg.StabilityWindow,
			)
		}
		s.attempt = 0
	})
}

// MarkDisconnected cancels an unexpired stability window.
func (s *Scheduler) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelStabilityLocked()
}

// Reset returns the scheduler to its initial state: attempt zero, no
// pending stability window.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
	s.cancelStabilityLocked()
}

// State returns a snapshot of the current backoff state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Attempt:     s.attempt,
		StableSince: s.stableSince,
	}
}

// delayFor computes the jittered delay for a given attempt number.
// Must be called with the lock held.
func (s *Scheduler) delayFor(attempt uint) time.Duration {
	d := s.cfg.BaseDelay
	for i := uint(0); i < attempt && d < s.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}

	if s.cfg.Jitter > 0 {
		f := 1 + (rand.Float64()*2-1)*s.cfg.Jitter
		d = time.Duration(float64(d) * f)
	}

	return d
}

// cancelStabilityLocked stops the stability timer and clears tracking.
// Must be called with the lock held.
func (s *Scheduler) cancelStabilityLocked() {
	s.armID++
	if s.stabilityTimer != nil {
		s.stabilityTimer.Stop()
		s.stabilityTimer = nil
	}
	s.stableSince = time.Time{}
}
