package leader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMissingSession is returned when a lease elector is created without
// a session id.
var ErrMissingSession = errors.New("leader: session id is required")

// LeaseConfig configures a lease-based elector.
type LeaseConfig struct {
	// SessionID names the session the lease covers. All instances of
	// one session compete for the same lease.
	SessionID string

	// TTL is how long an unrenewed lease remains valid. A crashed
	// leader is replaced within this window.
	TTL time.Duration

	// RenewInterval is how often the current state is refreshed
	// against the store. Must be well under TTL.
	RenewInterval time.Duration
}

// DefaultLeaseConfig returns the default lease configuration for the
// given session.
func DefaultLeaseConfig(sessionID string) LeaseConfig {
	return LeaseConfig{
		SessionID:     sessionID,
		TTL:           15 * time.Second,
		RenewInterval: 5 * time.Second,
	}
}

// LeaseElector coordinates leadership through a shared short-lived
// lease. Each participant renews its claim every RenewInterval; the
// one holding the lease is the leader. If the leader stops renewing,
// the lease expires after TTL and another participant takes over.
type LeaseElector struct {
	cfg    LeaseConfig
	store  LeaseStore
	logger *slog.Logger

	// holder uniquely identifies this participant.
	holder string

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	leader   bool
	watchers map[int]func(bool)
	nextID   int
}

// NewLeaseElector creates a lease-based elector backed by the given
// store.
func NewLeaseElector(cfg LeaseConfig, store LeaseStore, logger *slog.Logger) (*LeaseElector, error) {
	if cfg.SessionID == "" {
		return nil, ErrMissingSession
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Second
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LeaseElector{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		holder:   uuid.NewString(),
		watchers: make(map[int]func(bool)),
	}, nil
}

// Start begins claiming and renewing the lease.
func (e *LeaseElector) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.renewLoop()

	e.logger.Info("lease elector started",
		"session_id", e.cfg.SessionID,
		"holder", e.holder,
		"ttl", e.cfg.TTL,
		"renew_interval", e.cfg.RenewInterval,
	)

	return nil
}

// Stop stops renewing and releases the lease if held, letting another
// participant take over immediately.
func (e *LeaseElector) Stop(ctx context.Context) error {
	e.logger.Info("stopping lease elector", "session_id", e.cfg.SessionID)

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("lease elector stop timed out")
	}

	return e.Release(ctx)
}

// Claim attempts to acquire or renew the lease immediately.
func (e *LeaseElector) Claim(ctx context.Context) (bool, error) {
	ok, err := e.store.TryAcquire(ctx, e.cfg.SessionID, e.holder, e.cfg.TTL)
	if err != nil {
		return e.IsLeader(), err
	}
	e.setLeader(ok)
	return ok, nil
}

// Release gives up the lease if held.
func (e *LeaseElector) Release(ctx context.Context) error {
	err := e.store.Release(ctx, e.cfg.SessionID, e.holder)
	e.setLeader(false)
	return err
}

// IsLeader reports whether this participant currently holds the lease.
func (e *LeaseElector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// OnChange registers a callback for leadership transitions. The
// callback fires once immediately with the current state.
func (e *LeaseElector) OnChange(fn func(leader bool)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.watchers[id] = fn
	leader := e.leader
	e.mu.Unlock()

	fn(leader)

	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}

// renewLoop claims the lease immediately and then keeps renewing it.
func (e *LeaseElector) renewLoop() {
	defer e.wg.Done()

	e.attempt()

	ticker := time.NewTicker(e.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.attempt()
		}
	}
}

// attempt tries one acquire/renew round. Store errors keep the current
// state; a leader is only demoted when the store says so, or when its
// lease actually expires.
func (e *LeaseElector) attempt() {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RenewInterval)
	defer cancel()

	ok, err := e.store.TryAcquire(ctx, e.cfg.SessionID, e.holder, e.cfg.TTL)
	if err != nil {
		e.logger.Warn("lease acquire failed",
			"session_id", e.cfg.SessionID,
			"error", err,
		)
		return
	}

	e.setLeader(ok)
}

// setLeader updates the state and notifies watchers on transitions.
// Callbacks run outside the lock.
func (e *LeaseElector) setLeader(leader bool) {
	e.mu.Lock()
	if e.leader == leader {
		e.mu.Unlock()
		return
	}
	e.leader = leader

	watchers := make([]func(bool), 0, len(e.watchers))
	for _, fn := range e.watchers {
		watchers = append(watchers, fn)
	}
	e.mu.Unlock()

	if leader {
		e.logger.Info("leadership acquired",
			"session_id", e.cfg.SessionID,
			"holder", e.holder,
		)
	} else {
		e.logger.Info("leadership lost",
			"session_id", e.cfg.SessionID,
			"holder", e.holder,
		)
	}

	for _, fn := range watchers {
		fn(leader)
	}
}
