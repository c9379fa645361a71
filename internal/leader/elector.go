package leader

import (
	"context"
	"sync"
)

// Elector decides which instance of a session owns the upstream feed
// connection. Exactly one participant holds leadership at a time; the
// others stand by and keep their local subscribers registered so a
// later promotion needs no re-subscription.
type Elector interface {
	// Start begins participating in the election.
	Start(ctx context.Context) error

	// Stop stops participating and releases leadership if held.
	Stop(ctx context.Context) error

	// Claim attempts to acquire leadership immediately. It reports
	// whether this instance holds leadership afterwards.
	Claim(ctx context.Context) (bool, error)

	// Release gives up leadership if held.
	Release(ctx context.Context) error

	// IsLeader reports whether this instance currently holds leadership.
	IsLeader() bool

	// OnChange registers a callback for leadership transitions. The
	// callback fires once immediately with the current state, then on
	// every transition. The returned function cancels the registration.
	OnChange(fn func(leader bool)) (cancel func())
}

// StaticElector is an Elector with a fixed answer, for single-instance
// deployments where no coordination is needed.
type StaticElector struct {
	mu       sync.Mutex
	leader   bool
	watchers map[int]func(bool)
	nextID   int
}

// NewStaticElector creates an elector that always reports the given
// leadership state.
func NewStaticElector(leader bool) *StaticElector {
	return &StaticElector{
		leader:   leader,
		watchers: make(map[int]func(bool)),
	}
}

// Start is a no-op.
func (s *StaticElector) Start(ctx context.Context) error { return nil }

// Stop is a no-op.
func (s *StaticElector) Stop(ctx context.Context) error { return nil }

// Claim reports the fixed leadership state.
func (s *StaticElector) Claim(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader, nil
}

// Release is a no-op; a static elector never changes state.
func (s *StaticElector) Release(ctx context.Context) error { return nil }

// IsLeader reports the fixed leadership state.
func (s *StaticElector) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader
}

// OnChange fires the callback once with the fixed state.
func (s *StaticElector) OnChange(fn func(leader bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	leader := s.leader
	s.mu.Unlock()

	fn(leader)

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}
