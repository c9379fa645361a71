package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mealato/orderfeed/internal/backoff"
	"github.com/mealato/orderfeed/internal/dispatch"
	"github.com/mealato/orderfeed/internal/event"
	"github.com/mealato/orderfeed/internal/heartbeat"
	"github.com/mealato/orderfeed/internal/leader"
	"github.com/mealato/orderfeed/internal/metrics"
)

// Service owns the order notification connection for one instance. It
// dials the gateway when enabled, keeps the connection alive with
// heartbeats, reconnects with jittered exponential backoff after
// drops, and fans inbound messages out to subscribers.
//
// Connection failures never surface as errors to callers; they are
// absorbed, logged, and reflected in State(). The one exception in
// spirit is an authorization rejection, which parks the service until
// Configure() is called with fresh settings.
//
// All methods are safe for concurrent use.
type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger

	dispatcher dispatch.Dispatcher
	elector    leader.Elector
	sched      *backoff.Scheduler

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	electorWatch func()

	mu              sync.Mutex
	target          Config
	status          Status
	gen             uint64 // connection epoch; bumped on every teardown
	client          Client
	monitor         *heartbeat.Monitor
	connDone        chan struct{}
	reconnect       *time.Timer
	nextRetryAt     time.Time
	connecting      bool
	idle            bool // authorization rejected; wait for Configure
	leader          bool
	lastErr         error
	lastConnectedAt time.Time
	started         bool
	closed          bool
}

// NewService creates the connection service. A nil elector means this
// instance always leads; a nil logger falls back to slog.Default().
func NewService(cfg ServiceConfig, elector leader.Elector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if elector == nil {
		elector = leader.NewStaticElector(true)
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		elector: elector,
		sched:   backoff.New(cfg.Reconnect, logger),
		status:  StatusDisabled,
	}
	s.dispatcher = dispatch.NewDispatcher(cfg.Dispatch, s.handlePong, logger)
	return s
}

// Start launches the dispatcher and joins the leader election. The
// first connection attempt happens as soon as the service is enabled,
// configured with an identity, and elected leader.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	if err := s.dispatcher.Start(s.ctx); err != nil {
		return err
	}
	if err := s.elector.Start(s.ctx); err != nil {
		return err
	}

	// Fires immediately with the current leadership state, which also
	// triggers the first connection attempt when we already lead.
	s.electorWatch = s.elector.OnChange(func(leads bool) {
		s.onLeaderChange(leads)
	})

	s.logger.Info("connection service started")
	return nil
}

// Stop tears the connection down and shuts everything off. Registered
// subscribers are not called again after Stop returns.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("stopping connection service")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cli, mon := s.detachLocked()
	s.status = StatusDisabled
	s.mu.Unlock()

	if s.electorWatch != nil {
		s.electorWatch()
	}
	if mon != nil {
		mon.Stop()
	}
	if cli != nil {
		cli.Close()
	}
	metrics.SetConnected(false)

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("connection service stop timed out")
	}

	if err := s.elector.Stop(ctx); err != nil {
		s.logger.Warn("elector stop failed", "error", err)
	}
	if err := s.dispatcher.Stop(ctx); err != nil {
		s.logger.Warn("dispatcher stop failed", "error", err)
	}

	s.logger.Info("connection service stopped")
	return nil
}

// Configure replaces the connection target. Any live connection or
// pending reconnect is torn down first; a fresh connection follows if
// the new target allows one. Configuring is also the only way out of
// the idle state after an authorization rejection.
func (s *Service) Configure(cfg Config) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if cfg == s.target && !s.idle {
		s.mu.Unlock()
		s.logger.Debug("gateway configuration unchanged")
		return
	}

	s.target = cfg
	s.idle = false
	s.lastErr = nil
	cli, mon := s.detachLocked()
	s.sched.Reset()
	if !cfg.Enabled {
		s.status = StatusDisabled
	}
	s.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
	if cli != nil {
		cli.Close()
		metrics.SetConnected(false)
	}
	metrics.SetReconnectAttempt(0)

	s.logger.Info("gateway configured",
		"base_url", cfg.BaseURL,
		"ws_url", cfg.WSURL,
		"role", cfg.Role,
		"identity", cfg.Identity,
		"enabled", cfg.Enabled,
	)

	s.maybeConnect()
}

// SetEnabled turns the feed on or off. Disabling tears the connection
// down before returning; enabling connects if the rest of the target
// allows it. Setting the current value is a no-op.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.closed || s.target.Enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.target.Enabled = enabled

	if !enabled {
		cli, mon := s.detachLocked()
		s.sched.Reset()
		s.status = StatusDisabled
		s.mu.Unlock()

		if mon != nil {
			mon.Stop()
		}
		if cli != nil {
			cli.Close()
		}
		metrics.SetConnected(false)
		metrics.SetReconnectAttempt(0)

		s.logger.Info("order feed disabled")
		return
	}

	idle := s.idle
	if idle {
		s.status = StatusIdle
	}
	s.mu.Unlock()

	if idle {
		s.logger.Warn("order feed enabled but parked after authorization rejection, reconfigure to resume")
		return
	}

	s.logger.Info("order feed enabled")
	s.maybeConnect()
}

// Subscribe registers a callback for inbound messages. Registration
// works in every state, including before Start and while another
// instance leads; the callback simply stays quiet until messages flow.
// The returned function cancels the registration.
func (s *Service) Subscribe(fn func(event.Envelope)) (cancel func()) {
	return s.dispatcher.Subscribe(fn)
}

// Config returns the current connection target.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// State returns a snapshot of the connection.
func (s *Service) State() State {
	s.mu.Lock()
	st := State{
		Status:          s.status,
		Enabled:         s.target.Enabled,
		Connected:       s.client != nil,
		Leader:          s.leader,
		Identity:        s.target.Identity,
		Role:            s.target.Role,
		NextRetryAt:     s.nextRetryAt,
		LastConnectedAt: s.lastConnectedAt,
	}
	st.Endpoint = s.target.WSURL
	if st.Endpoint == "" {
		st.Endpoint = s.target.BaseURL
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.Attempt = s.sched.State().Attempt
	st.Subscribers = s.dispatcher.Count()
	return st
}

// IsConnected reports whether the feed is currently live.
func (s *Service) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// maybeConnect starts a connection attempt if the current state calls
// for one.
func (s *Service) maybeConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectLocked()
}

// connectLocked evaluates the connect gate and launches a dial when it
// passes. At most one attempt is ever outstanding. Must be called with
// mu held.
func (s *Service) connectLocked() {
	if s.closed || !s.started {
		return
	}
	if s.connecting || s.client != nil {
		return
	}
	if s.idle {
		s.status = StatusIdle
		return
	}
	if !s.target.Enabled {
		s.status = StatusDisabled
		return
	}
	if !s.leader {
		s.status = StatusStandby
		return
	}
	if s.target.Identity == "" {
		s.target.Enabled = false
		s.status = StatusDisabled
		s.logger.Warn("gateway identity is empty, feed disabled until reconfigured")
		return
	}

	feedURL, err := BuildFeedURL(s.target.BaseURL, s.target.WSURL, s.target.Role, s.target.Identity)
	if err != nil {
		s.target.Enabled = false
		s.status = StatusDisabled
		s.lastErr = err
		s.logger.Warn("invalid gateway endpoint, feed disabled until reconfigured", "error", err)
		return
	}

	s.connecting = true
	s.status = StatusConnecting
	gen := s.gen

	go s.dial(gen, feedURL)
}

// dial runs one connection attempt. gen identifies the epoch the
// attempt belongs to; if the service was torn down or reconfigured in
// the meantime, the result is discarded.
func (s *Service) dial(gen uint64, feedURL string) {
	cli := NewClient(ClientConfig{
		URL:          feedURL,
		DialTimeout:  s.cfg.DialTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BufferSize:   s.cfg.BufferSize,
	}, s.logger)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	err := cli.Connect(ctx)
	cancel()

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		if err == nil {
			cli.Close()
		}
		return
	}
	s.connecting = false

	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			s.idle = true
			s.status = StatusIdle
			s.lastErr = err
			s.mu.Unlock()
			metrics.RecordAuthRejection()
			s.logger.Error("gateway rejected authorization, reconnects suspended until reconfigure", "error", err)
			return
		}
		s.lastErr = err
		delay := s.scheduleReconnectLocked()
		attempt := s.sched.State().Attempt
		s.mu.Unlock()
		s.logger.Warn("gateway dial failed",
			"error", err,
			"attempt", attempt,
			"retry_in", delay,
		)
		return
	}

	s.client = cli
	s.status = StatusConnected
	s.lastErr = nil
	s.lastConnectedAt = time.Now()
	s.connDone = make(chan struct{})
	connDone := s.connDone
	s.sched.MarkConnected()

	mon := heartbeat.New(s.cfg.Heartbeat,
		func() error { return cli.Send([]byte("ping")) },
		func() { s.onHeartbeatFailure(gen) },
		s.logger,
	)
	s.monitor = mon
	identity := s.target.Identity
	role := s.target.Role
	// Add under the lock so Stop's Wait cannot race a fresh pump.
	s.wg.Add(1)
	s.mu.Unlock()

	mon.Start()
	metrics.SetConnected(true)
	metrics.SetReconnectAttempt(s.sched.State().Attempt)

	go s.pump(gen, cli, connDone)

	s.logger.Info("gateway connected",
		"identity", identity,
		"role", role,
	)
}

// pump moves frames from one connection into the dispatcher until the
// connection dies or is torn down.
func (s *Service) pump(gen uint64, cli Client, connDone chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-connDone:
			return
		case frame := <-cli.Frames():
			s.handleFrame(gen, frame)
		case err := <-cli.Errors():
			s.handleDisconnect(gen, err)
			return
		}
	}
}

// handleFrame parses and enqueues one inbound frame. Frames from a
// torn-down epoch are dropped.
func (s *Service) handleFrame(gen uint64, frame RawFrame) {
	s.mu.Lock()
	current := gen == s.gen && !s.closed
	s.mu.Unlock()
	if !current {
		return
	}

	env, err := event.Parse(frame.Data, frame.ReceivedAt)
	if err != nil {
		metrics.RecordMalformedFrame()
		s.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	metrics.RecordFrame(env.Type)
	if !s.dispatcher.Enqueue(env) {
		s.logger.Warn("dispatcher stopped, dropping frame", "type", env.Type)
	}
}

// handlePong feeds liveness replies to the active heartbeat monitor.
func (s *Service) handlePong() {
	s.mu.Lock()
	mon := s.monitor
	s.mu.Unlock()
	if mon != nil {
		mon.Pong()
	}
}

// onHeartbeatFailure runs when the monitor gives up on the connection.
func (s *Service) onHeartbeatFailure(gen uint64) {
	metrics.RecordHeartbeatFailure()
	s.handleDisconnect(gen, ErrStaleConnection)
}

// handleDisconnect tears down a dead connection and schedules the
// reconnect. It may run on the pump or on the heartbeat monitor
// goroutine, so the detached monitor is stopped asynchronously.
func (s *Service) handleDisconnect(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}

	cli, mon := s.detachLocked()
	s.lastErr = err

	if errors.Is(err, ErrAuthRejected) {
		s.idle = true
		s.status = StatusIdle
		s.sched.MarkDisconnected()
		s.mu.Unlock()

		if mon != nil {
			go mon.Stop()
		}
		if cli != nil {
			cli.Close()
		}
		metrics.SetConnected(false)
		metrics.RecordAuthRejection()
		s.logger.Error("gateway revoked authorization, reconnects suspended until reconfigure", "error", err)
		return
	}

	delay := s.scheduleReconnectLocked()
	attempt := s.sched.State().Attempt
	s.mu.Unlock()

	if mon != nil {
		go mon.Stop()
	}
	if cli != nil {
		cli.Close()
	}
	metrics.SetConnected(false)

	if delay > 0 {
		s.logger.Warn("gateway connection lost",
			"error", err,
			"attempt", attempt,
			"retry_in", delay,
		)
	} else {
		s.logger.Info("gateway connection closed", "error", err)
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
// Returns zero when the current state rules a reconnect out. Must be
// called with mu held.
func (s *Service) scheduleReconnectLocked() time.Duration {
	if !s.target.Enabled {
		s.status = StatusDisabled
		return 0
	}
	if !s.leader {
		s.status = StatusStandby
		return 0
	}
	if s.idle {
		s.status = StatusIdle
		return 0
	}

	delay := s.sched.Fail()
	s.status = StatusReconnecting
	s.nextRetryAt = time.Now().Add(delay)
	gen := s.gen
	s.reconnect = time.AfterFunc(delay, func() {
		s.retry(gen)
	})

	metrics.RecordReconnect()
	metrics.SetReconnectAttempt(s.sched.State().Attempt)

	return delay
}

// retry fires when the backoff delay elapses.
func (s *Service) retry(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.reconnect = nil
	s.nextRetryAt = time.Time{}
	s.connectLocked()
}

// onLeaderChange reacts to election transitions. Losing the lease
// closes the connection but keeps every subscriber registered, so a
// later promotion picks up where we left off.
func (s *Service) onLeaderChange(leads bool) {
	metrics.SetLeader(leads)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	was := s.leader
	s.leader = leads

	if !leads {
		cli, mon := s.detachLocked()
		s.sched.Reset()
		if s.target.Enabled && !s.idle {
			s.status = StatusStandby
		}
		s.mu.Unlock()

		if mon != nil {
			mon.Stop()
		}
		if cli != nil {
			cli.Close()
			metrics.SetConnected(false)
		}
		if was {
			s.logger.Info("demoted to standby, feed connection released")
		}
		return
	}

	s.mu.Unlock()
	if !was {
		s.logger.Info("promoted to leader")
	}
	s.maybeConnect()
}

// detachLocked strips the live connection machinery off the service
// and hands it back for shutdown outside the lock. Bumping the epoch
// invalidates every continuation still in flight: pending dials,
// backoff timers, frames, monitor callbacks. Must be called with mu
// held.
func (s *Service) detachLocked() (Client, *heartbeat.Monitor) {
	s.gen++
	s.connecting = false

	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.nextRetryAt = time.Time{}

	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}

	cli := s.client
	s.client = nil
	mon := s.monitor
	s.monitor = nil
	return cli, mon
}
