package heartbeat

import (
	"log/slog"
	"sync"
	"time"
)

// Config holds liveness probe settings.
type Config struct {
	ProbeInterval time.Duration // Time between probes
	ReplyTimeout  time.Duration // Max wait for a reply to one probe
	MaxMissed     uint          // Missed replies before the connection is declared dead
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 25 * time.Second,
		ReplyTimeout:  5 * time.Second,
		MaxMissed:     2,
	}
}

// State is a read-only snapshot of the monitor.
type State struct {
	Missed      uint
	LastProbeAt time.Time
}

// Monitor sends periodic liveness probes over an open connection and
// declares it dead after MaxMissed consecutive missed replies. Many
// transport failures (proxy timeouts, NAT rebinding) never surface as a
// close event; the application-level probe is the only reliable signal.
//
// A Monitor lives for exactly one connection. Missed counts reset on a
// reply, never across connections.
type Monitor struct {
	cfg       Config
	probe     func() error // Sends one probe frame
	onFailure func()       // Forces the connection closed
	logger    *slog.Logger

	pong     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu          sync.Mutex
	missed      uint
	lastProbeAt time.Time
}

// New creates a Monitor. probe sends a single liveness frame; onFailure is
// invoked once when MaxMissed replies have been missed.
func New(cfg Config, probe func() error, onFailure func(), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		probe:     probe,
		onFailure: onFailure,
		logger:    logger,
		pong:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Start begins the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts probing. Safe to call more than once; no probe or timeout
// fires after Stop returns.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

// Pong records a liveness reply. Non-blocking; safe from any goroutine.
func (m *Monitor) Pong() {
	select {
	case m.pong <- struct{}{}:
	default:
	}
}

// State returns a snapshot of the current heartbeat state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Missed:      m.missed,
		LastProbeAt: m.lastProbeAt,
	}
}

// run probes on a fixed interval and waits one reply window per probe.
func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return

		case <-m.pong:
			m.resetMissed()

		case <-ticker.C:
			m.mu.Lock()
			m.lastProbeAt = time.Now()
			m.mu.Unlock()

			if err := m.probe(); err != nil {
				// The transport error path handles a dead socket;
				// the miss counter covers the silent case.
				m.logger.Debug("probe send failed", "error", err)
			}

			timer := time.NewTimer(m.cfg.ReplyTimeout)
			select {
			case <-m.stop:
				timer.Stop()
				return

			case <-m.pong:
				timer.Stop()
				m.resetMissed()

			case <-timer.C:
				m.mu.Lock()
				m.missed++
				n := m.missed
				m.mu.Unlock()

				m.logger.Warn("liveness reply missed",
					"missed", n,
					"max", m.cfg.MaxMissed,
				)

				if n >= m.cfg.MaxMissed {
					m.logger.Warn("heartbeat failure, forcing connection closed")
					m.onFailure()
					return
				}
			}
		}
	}
}

func (m *Monitor) resetMissed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missed > 0 {
		m.logger.Debug("liveness reply received, miss counter reset", "was", m.missed)
	}
	m.missed = 0
}
