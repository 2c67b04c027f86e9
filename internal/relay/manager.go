package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/core/service"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
)

// Frame directions reported to the Observer.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	// ErrHandshakeTimeout is returned when a session does not reach Ready
	// within relay.handshake_timeout.
	ErrHandshakeTimeout = errors.New("relay: handshake timeout")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("relay: manager already running")
)

// Handler consumes inbound frames. It is called from a single goroutine.
type Handler interface {
	Handle(ctx context.Context, link service.Link, raw []byte) error
}

// Observer receives connection events, typically for metrics.
type Observer interface {
	ObserveState(state string)
	ObserveReconnect()
	ObserveFrame(direction string)
}

type nopObserver struct{}

func (nopObserver) ObserveState(string) {}
func (nopObserver) ObserveReconnect()   {}
func (nopObserver) ObserveFrame(string) {}

// Config configures a Manager.
type Config struct {
	// Address is the relay websocket URL.
	Address string

	// PingInterval is the heartbeat period. Default: 60s
	PingInterval time.Duration

	// PingTimeoutIntervals is how many ping intervals may pass without a
	// pong before the connection is dropped. Default: 5
	PingTimeoutIntervals int

	// ReconnectDelay is the pause before dialing again. Default: 1s
	ReconnectDelay time.Duration

	// HandshakeTimeout bounds connect to Ready. Zero disables it.
	HandshakeTimeout time.Duration

	// QueueSize is the inbound frame buffer. Default: 64
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 60 * time.Second
	}
	if c.PingTimeoutIntervals <= 0 {
		c.PingTimeoutIntervals = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithObserver sets the connection event observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// Manager owns the relay connection for the lifetime of the agent.
//
// Each connection runs three goroutines: a reader that queues frames, a
// heartbeat that pings and watches for pongs, and the consumer that runs the
// Handler and advances the handshake. The heartbeat never waits on request
// processing.
//
// @design DS-0108
type Manager struct {
	cfg      Config
	dialer   Dialer
	handler  Handler
	observer Observer
	log      logger.Logger

	state   atomic.Int32
	running atomic.Bool

	mu   sync.RWMutex
	conn *connection
}

// NewManager creates a Manager. Run starts it.
func NewManager(cfg Config, dialer Dialer, handler Handler, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		handler:  handler,
		observer: nopObserver{},
		log:      logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Send writes env on the current connection.
func (m *Manager) Send(ctx context.Context, env *domain.Envelope) error {
	c := m.current()
	if c == nil {
		return domain.ErrNotConnected
	}
	return c.Send(ctx, env)
}

// Handshake returns the handshake of the current connection, or nil.
func (m *Manager) Handshake() *domain.Handshake {
	c := m.current()
	if c == nil {
		return nil
	}
	return c.hs
}

// Run connects and keeps reconnecting until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	m.log.Info("relay manager started", "address", m.cfg.Address)
	for {
		err := m.runConnection(ctx)
		if ctx.Err() != nil {
			m.log.Info("relay manager stopped")
			return nil
		}

		if errors.Is(err, domain.ErrProtocolIncompatible) {
			m.log.Error("relay speaks a newer protocol", "error", err)
		} else {
			m.log.Warn("relay connection lost", "error", err, "retry_in", m.cfg.ReconnectDelay)
		}
		m.observer.ObserveReconnect()

		timer := time.NewTimer(m.cfg.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			m.log.Info("relay manager stopped")
			return nil
		}
	}
}

func (m *Manager) runConnection(ctx context.Context) error {
	m.setState(StateConnecting)
	transport, err := m.dialer.Dial(ctx, m.cfg.Address)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", m.cfg.Address, err)
	}

	c := &connection{m: m, transport: transport, hs: domain.NewHandshake(time.Now())}
	transport.SetPongHandler(func() { c.hs.ObservePong(time.Now()) })
	m.mu.Lock()
	m.conn = c
	m.setState(StateAwaitingProtocol)
	m.mu.Unlock()
	m.log.Info("relay transport open", "address", m.cfg.Address)

	connCtx, cancel := context.WithCancel(ctx)
	frames := make(chan []byte, m.cfg.QueueSize)
	// One slot per goroutine so none of them blocks on a send nobody reads.
	errCh := make(chan error, 3)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.readLoop(connCtx, c, frames, errCh)
	}()
	go func() {
		defer wg.Done()
		m.heartbeat(connCtx, c, errCh)
	}()
	// The consumer is not waited for: a handler stuck on a slow request
	// must not hold the reconnect loop. It stops at its next frame once
	// connCtx is cancelled, and stale state changes are discarded.
	go func() {
		errCh <- m.consume(connCtx, c, frames)
	}()

	err = m.supervise(connCtx, errCh)

	cancel()
	if cerr := transport.Close(); cerr != nil {
		m.log.Debug("transport close", "error", cerr)
	}
	wg.Wait()
	m.mu.Lock()
	m.conn = nil
	m.setState(StateDisconnected)
	m.mu.Unlock()
	return err
}

// supervise waits for the first failure of the connection's goroutines or
// for the handshake deadline.
func (m *Manager) supervise(ctx context.Context, errCh <-chan error) error {
	var deadline <-chan time.Time
	if m.cfg.HandshakeTimeout > 0 {
		t := time.NewTimer(m.cfg.HandshakeTimeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-deadline:
			if m.State() != StateReady {
				return ErrHandshakeTimeout
			}
			deadline = nil
		}
	}
}

func (m *Manager) consume(ctx context.Context, c *connection, frames <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-frames:
			m.log.Debug("relay frame", append([]any{"direction", "recv"}, frameAttrs(raw)...)...)
			m.observer.ObserveFrame(DirectionIn)
			if err := m.handler.Handle(ctx, c, raw); err != nil {
				m.log.Debug("frame handled with error", "error", err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.advance(ctx, c); err != nil {
				return err
			}
		}
	}
}

// advance moves the state machine after each handled frame.
func (m *Manager) advance(ctx context.Context, c *connection) error {
	switch m.State() {
	case StateAwaitingProtocol:
		v, known := c.hs.Protocol()
		if !known {
			return nil
		}
		if v > domain.SupportedProtocol {
			return domain.ErrProtocolIncompatible.WithDetails(
				fmt.Sprintf("relay protocol %d, supported %d", v, domain.SupportedProtocol))
		}
		if err := c.Send(ctx, &domain.Envelope{Cmd: domain.CmdKeyReq}); err != nil {
			return err
		}
		m.setStateFor(c, StateRegistering)
	case StateRegistering:
		if c.hs.Registered() && m.setStateFor(c, StateReady) {
			m.log.Info("relay session ready")
		}
	}
	return nil
}

func (m *Manager) readLoop(ctx context.Context, c *connection, frames chan<- []byte, errCh chan<- error) {
	for {
		raw, err := c.transport.ReadMessage()
		if err != nil {
			errCh <- fmt.Errorf("read: %w", err)
			return
		}
		select {
		case frames <- raw:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, c *connection, errCh chan<- error) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	limit := m.cfg.PingInterval * time.Duration(m.cfg.PingTimeoutIntervals)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if since := time.Since(c.hs.LastPong()); since > limit {
				errCh <- domain.ErrHeartbeatTimeout.WithDetails(fmt.Sprintf("no pong for %s", since.Round(time.Millisecond)))
				return
			}
			if m.State() != StateReady {
				continue
			}
			if err := c.transport.Ping(); err != nil {
				errCh <- fmt.Errorf("ping: %w", err)
				return
			}
		}
	}
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	m.observer.ObserveState(s.String())
	m.log.Debug("relay state", "state", s.String())
}

// setStateFor changes the state only while c is the current connection. It
// reports whether the change was applied.
func (m *Manager) setStateFor(c *connection, s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != c {
		return false
	}
	m.setState(s)
	return true
}

func (m *Manager) current() *connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// connection is one transport plus its handshake. Replies produced while
// handling a frame go to the connection the frame arrived on.
type connection struct {
	m         *Manager
	transport Transport
	hs        *domain.Handshake

	writeMu sync.Mutex
}

func (c *connection) Send(ctx context.Context, env *domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Cmd, err)
	}

	c.m.log.Debug("relay frame", append([]any{"direction", "send"}, frameAttrs(raw)...)...)
	c.writeMu.Lock()
	err = c.transport.WriteMessage(raw)
	c.writeMu.Unlock()
	if err != nil {
		return domain.ErrNotConnected.WithCause(err)
	}
	c.m.observer.ObserveFrame(DirectionOut)
	return nil
}

func (c *connection) Handshake() *domain.Handshake {
	return c.hs
}

// frameAttrs picks the fields of a frame worth tracing. Sealed payloads are
// logged under data and error so log.hide_encrypted_data can mask them.
func frameAttrs(raw []byte) []any {
	var f struct {
		Cmd     string `json:"cmd"`
		UUID    string `json:"uuid"`
		Account string `json:"account"`
		Data    string `json:"data"`
		POK     string `json:"pok"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return []any{"bytes", len(raw)}
	}
	attrs := []any{"cmd", f.Cmd}
	for _, kv := range [][2]string{
		{"uuid", f.UUID},
		{"account", f.Account},
		{"data", f.Data},
		{"pok", f.POK},
		{"error", f.Error},
	} {
		if kv[1] != "" {
			attrs = append(attrs, kv[0], kv[1])
		}
	}
	return attrs
}
