package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/core/service"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
)

// fakeTransport is an in-memory Transport. Frames pushed to inbound are
// returned by ReadMessage in order.
type fakeTransport struct {
	inbound  chan []byte
	closed   chan struct{}
	once     sync.Once
	autoPong bool

	mu      sync.Mutex
	written []string
	pong    func()
	pings   int
}

func newFakeTransport(frames ...string) *fakeTransport {
	t := &fakeTransport{inbound: make(chan []byte, 16), closed: make(chan struct{})}
	for _, f := range frames {
		t.inbound <- []byte(f)
	}
	return t
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case raw := <-t.inbound:
		return raw, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	t.mu.Lock()
	t.written = append(t.written, string(data))
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Ping() error {
	t.mu.Lock()
	t.pings++
	pong := t.pong
	t.mu.Unlock()
	if t.autoPong && pong != nil {
		pong()
	}
	return nil
}

func (t *fakeTransport) SetPongHandler(fn func()) {
	t.mu.Lock()
	t.pong = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, w := range t.written {
		var env struct {
			Cmd string `json:"cmd"`
		}
		_ = json.Unmarshal([]byte(w), &env)
		out = append(out, env.Cmd)
	}
	return out
}

func (t *fakeTransport) pingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

// fakeDialer hands out transports in order; once they run out it fails.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failFirst  int
	dials      int
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failFirst > 0 {
		d.failFirst--
		return nil, errors.New("connection refused")
	}
	if len(d.transports) == 0 {
		return nil, errors.New("no transport")
	}
	t := d.transports[0]
	d.transports = d.transports[1:]
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// stallingHandler holds every sign_req until its context ends, like a
// broadcast to an unresponsive ledger.
type stallingHandler struct {
	relayHandler
	entered chan struct{}
	once    sync.Once
}

func (h *stallingHandler) Handle(ctx context.Context, link service.Link, raw []byte) error {
	if env, err := domain.ParseEnvelope(raw); err == nil && env.Cmd == "sign_req" {
		h.once.Do(func() { close(h.entered) })
		<-ctx.Done()
		return ctx.Err()
	}
	return h.relayHandler.Handle(ctx, link, raw)
}

// lockedBuffer is a log sink safe for concurrent writers and readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// relayHandler plays the dispatcher's part of the handshake.
type relayHandler struct{}

func (relayHandler) Handle(ctx context.Context, link service.Link, raw []byte) error {
	env, err := domain.ParseEnvelope(raw)
	if err != nil {
		return err
	}
	switch env.Cmd {
	case domain.CmdConnected:
		v := 0
		if env.Protocol != nil {
			v = *env.Protocol
		}
		link.Handshake().SetProtocol(v)
	case domain.CmdKeyAck:
		link.Handshake().SetRelayKey(env.Key)
		if err := link.Send(ctx, &domain.Envelope{Cmd: domain.CmdRegisterReq}); err != nil {
			return err
		}
		link.Handshake().MarkRegistered()
	}
	return nil
}

type countingObserver struct {
	reconnects atomic.Int32
	in, out    atomic.Int32

	mu     sync.Mutex
	states []string
}

func (o *countingObserver) ObserveState(s string) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *countingObserver) ObserveReconnect() { o.reconnects.Add(1) }

func (o *countingObserver) ObserveFrame(direction string) {
	if direction == DirectionIn {
		o.in.Add(1)
	} else {
		o.out.Add(1)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startManager(t *testing.T, cfg Config, dialer Dialer, opts ...Option) (*Manager, func()) {
	t.Helper()
	return startManagerWith(t, cfg, dialer, relayHandler{}, opts...)
}

func startManagerWith(t *testing.T, cfg Config, dialer Dialer, handler Handler, opts ...Option) (*Manager, func()) {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "ws://relay.test"
	}
	m := NewManager(cfg, dialer, handler, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
	return m, stop
}

const (
	connectedV1 = `{"cmd":"connected","server":"relay","socketid":"s1","timeout":60,"ping_rate":60,"version":"1.0","protocol":1}`
	connectedV2 = `{"cmd":"connected","server":"relay","socketid":"s1","timeout":60,"ping_rate":60,"version":"2.0","protocol":2}`
	keyAck      = `{"cmd":"key_ack","key":"STM6relay"}`
	signReq     = `{"cmd":"sign_req","uuid":"u-7","account":"alice","expire":9999999999999,"data":"U2FsdGVkX19sealedpayload"}`
)

func TestManager_HandshakeReachesReady(t *testing.T) {
	tr := newFakeTransport(connectedV1, keyAck)
	obs := &countingObserver{}
	m, stop := startManager(t, Config{PingInterval: time.Hour}, &fakeDialer{transports: []*fakeTransport{tr}}, WithObserver(obs))

	waitFor(t, "ready", func() bool { return m.State() == StateReady })

	got := tr.commands()
	want := []string{domain.CmdKeyReq, domain.CmdRegisterReq}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("written = %v, want %v", got, want)
	}
	if hs := m.Handshake(); hs == nil || hs.RelayKey() != "STM6relay" {
		t.Errorf("Handshake().RelayKey() not recorded")
	}
	if obs.in.Load() != 2 || obs.out.Load() != 2 {
		t.Errorf("frames in/out = %d/%d, want 2/2", obs.in.Load(), obs.out.Load())
	}

	if err := m.Send(context.Background(), &domain.Envelope{Cmd: "auth_ack", UUID: "u-1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	stop()
	if !tr.isClosed() {
		t.Error("transport not closed on shutdown")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v after stop, want disconnected", m.State())
	}
}

func TestManager_RejectsNewerProtocol(t *testing.T) {
	tr := newFakeTransport(connectedV2)
	dialer := &fakeDialer{transports: []*fakeTransport{tr}}
	obs := &countingObserver{}
	m, stop := startManager(t, Config{PingInterval: time.Hour, ReconnectDelay: time.Hour}, dialer, WithObserver(obs))
	defer stop()

	waitFor(t, "transport close", tr.isClosed)

	if got := tr.commands(); len(got) != 0 {
		t.Errorf("written = %v, want nothing (no key_req)", got)
	}
	waitFor(t, "reconnect scheduled", func() bool { return obs.reconnects.Load() == 1 })
	if m.State() == StateReady {
		t.Error("manager reached ready against a newer relay")
	}
}

func TestManager_HeartbeatTimeoutReconnects(t *testing.T) {
	silent := newFakeTransport(connectedV1, keyAck)
	next := newFakeTransport(connectedV1, keyAck)
	next.autoPong = true
	dialer := &fakeDialer{transports: []*fakeTransport{silent, next}}

	cfg := Config{
		PingInterval:         10 * time.Millisecond,
		PingTimeoutIntervals: 2,
		ReconnectDelay:       5 * time.Millisecond,
	}
	m, stop := startManager(t, cfg, dialer)
	defer stop()

	waitFor(t, "silent transport dropped", silent.isClosed)
	waitFor(t, "second dial", func() bool { return dialer.dialCount() >= 2 })
	waitFor(t, "ready on new transport", func() bool { return m.State() == StateReady })

	if silent.pingCount() == 0 {
		t.Error("no pings sent on the silent transport")
	}
	// Pongs keep the second transport alive for many intervals.
	waitFor(t, "pings on live transport", func() bool { return next.pingCount() >= 5 })
	if next.isClosed() {
		t.Error("live transport dropped despite pongs")
	}
}

func TestManager_HeartbeatTimeoutWhileHandlerBlocks(t *testing.T) {
	stuck := newFakeTransport(connectedV1, keyAck, signReq)
	next := newFakeTransport(connectedV1, keyAck)
	next.autoPong = true
	dialer := &fakeDialer{transports: []*fakeTransport{stuck, next}}
	h := &stallingHandler{entered: make(chan struct{})}

	cfg := Config{
		PingInterval:         10 * time.Millisecond,
		PingTimeoutIntervals: 2,
		ReconnectDelay:       5 * time.Millisecond,
	}
	m, stop := startManagerWith(t, cfg, dialer, h)
	defer stop()

	select {
	case <-h.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sign_req never reached the handler")
	}

	waitFor(t, "dead transport dropped", stuck.isClosed)
	waitFor(t, "second dial", func() bool { return dialer.dialCount() >= 2 })
	waitFor(t, "ready on new transport", func() bool { return m.State() == StateReady })
	if m.Handshake() == nil || m.Handshake().RelayKey() != "STM6relay" {
		t.Error("new connection has no handshake")
	}
}

func TestManager_FrameTrace(t *testing.T) {
	tests := []struct {
		name       string
		hide       bool
		wantSealed bool
	}{
		{"payloads shown", false, true},
		{"payloads hidden", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &lockedBuffer{}
			log, err := logger.New(logger.Config{Level: "debug", Format: "json", Output: out, HideEncryptedData: tt.hide})
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() {
				logger.SetHideEncryptedData(false)
				logger.SetLevel("info")
			})

			tr := newFakeTransport(connectedV1, keyAck, signReq)
			obs := &countingObserver{}
			_, stop := startManager(t, Config{PingInterval: time.Hour}, &fakeDialer{transports: []*fakeTransport{tr}},
				WithLogger(log), WithObserver(obs))
			waitFor(t, "three frames", func() bool { return obs.in.Load() == 3 })
			stop()

			got := out.String()
			for _, want := range []string{`"direction":"recv"`, `"direction":"send"`, `"cmd":"key_req"`, `"uuid":"u-7"`} {
				if !strings.Contains(got, want) {
					t.Errorf("trace missing %s", want)
				}
			}
			if sealed := strings.Contains(got, "U2FsdGVkX19sealedpayload"); sealed != tt.wantSealed {
				t.Errorf("sealed payload in log = %v, want %v", sealed, tt.wantSealed)
			}
		})
	}
}

func TestManager_RetriesAfterDialFailure(t *testing.T) {
	tr := newFakeTransport(connectedV1, keyAck)
	dialer := &fakeDialer{transports: []*fakeTransport{tr}, failFirst: 2}
	obs := &countingObserver{}
	m, stop := startManager(t, Config{PingInterval: time.Hour, ReconnectDelay: time.Millisecond}, dialer, WithObserver(obs))
	defer stop()

	waitFor(t, "ready", func() bool { return m.State() == StateReady })
	if got := dialer.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	if got := obs.reconnects.Load(); got != 2 {
		t.Errorf("reconnects = %d, want 2", got)
	}
}

func TestManager_HandshakeTimeout(t *testing.T) {
	stalled := newFakeTransport() // relay never says connected
	dialer := &fakeDialer{transports: []*fakeTransport{stalled}}
	_, stop := startManager(t, Config{
		PingInterval:     time.Hour,
		HandshakeTimeout: 20 * time.Millisecond,
		ReconnectDelay:   time.Hour,
	}, dialer)
	defer stop()

	waitFor(t, "stalled transport dropped", stalled.isClosed)
}

func TestManager_SendWithoutConnection(t *testing.T) {
	m := NewManager(Config{Address: "ws://relay.test"}, &fakeDialer{}, relayHandler{})

	err := m.Send(context.Background(), &domain.Envelope{Cmd: "auth_ack"})
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if m.Handshake() != nil {
		t.Error("Handshake() should be nil while disconnected")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestManager_RunTwice(t *testing.T) {
	tr := newFakeTransport()
	m, stop := startManager(t, Config{PingInterval: time.Hour}, &fakeDialer{transports: []*fakeTransport{tr}})
	defer stop()

	waitFor(t, "connected", func() bool { return m.State() == StateAwaitingProtocol })
	if err := m.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateAwaitingProtocol, "awaiting_protocol"},
		{StateRegistering, "registering"},
		{StateReady, "ready"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
