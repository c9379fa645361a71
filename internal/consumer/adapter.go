// Package consumer gives feed consumers a small, mistake-proof handle
// on the connection service: subscribe once, read state, adjust the
// session parameters.
package consumer

import (
	"log/slog"
	"sync"

	"github.com/mealato/orderfeed/internal/connection"
	"github.com/mealato/orderfeed/internal/event"
)

// Adapter wraps the connection service for one logical consumer.
//
// Init is tolerant of duplicate initialization: frameworks and
// supervisors sometimes run a consumer's setup twice in quick
// succession, and naive code would register two callbacks and see
// every notification twice. The adapter latches on the first Init and
// turns every later call into a no-op returning the same cancel.
type Adapter struct {
	name   string
	svc    *connection.Service
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	cancel      func()
}

// New creates an adapter for the named consumer.
func New(name string, svc *connection.Service, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		name:   name,
		svc:    svc,
		logger: logger,
	}
}

// Name returns the consumer name.
func (a *Adapter) Name() string {
	return a.name
}

// Init registers fn as this consumer's callback and returns the cancel
// for the registration. Only the first call registers; the marker is
// never cleared, so a duplicated setup cannot double-subscribe. The
// cancel itself is idempotent.
func (a *Adapter) Init(fn func(event.Envelope)) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		a.logger.Debug("duplicate consumer init ignored", "consumer", a.name)
		return a.cancel
	}

	a.initialized = true
	a.cancel = a.svc.Subscribe(fn)
	a.logger.Debug("consumer initialized", "consumer", a.name)
	return a.cancel
}

// State returns the current connection state.
func (a *Adapter) State() connection.State {
	return a.svc.State()
}

// Reconfigure swaps the session identity and role, keeping the
// configured endpoint and enablement. Used when the signed-in account
// changes.
func (a *Adapter) Reconfigure(identity, role string) {
	cfg := a.svc.Config()
	cfg.Identity = identity
	cfg.Role = role
	a.svc.Configure(cfg)
}
