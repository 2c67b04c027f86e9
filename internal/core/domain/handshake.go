package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// SupportedProtocol is the highest relay protocol version this agent speaks.
const SupportedProtocol = 1

// Handshake holds the relay state of one transport connection: the
// negotiated protocol, the relay public key, registration, and the last pong.
//
// A fresh Handshake is created for every connection so nothing leaks across
// reconnects. The consumer goroutine writes protocol, key and registration;
// the heartbeat goroutine reads and writes the pong timestamp.
//
// @design DS-0105
type Handshake struct {
	mu            sync.RWMutex
	protocol      int
	protocolKnown bool
	relayKey      string
	registered    bool

	lastPong atomic.Int64
}

// NewHandshake returns an unknown handshake whose liveness clock starts at now.
func NewHandshake(now time.Time) *Handshake {
	h := &Handshake{}
	h.lastPong.Store(now.UnixNano())
	return h
}

// SetProtocol records the protocol version announced by the relay.
func (h *Handshake) SetProtocol(v int) {
	h.mu.Lock()
	h.protocol = v
	h.protocolKnown = true
	h.mu.Unlock()
}

// Protocol returns the relay's protocol version and whether it is known yet.
func (h *Handshake) Protocol() (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.protocol, h.protocolKnown
}

// SetRelayKey records the relay public key received in key_ack.
func (h *Handshake) SetRelayKey(key string) {
	h.mu.Lock()
	h.relayKey = key
	h.mu.Unlock()
}

// RelayKey returns the relay public key, empty until key_ack.
func (h *Handshake) RelayKey() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relayKey
}

// MarkRegistered records that register_req was sent.
func (h *Handshake) MarkRegistered() {
	h.mu.Lock()
	h.registered = true
	h.mu.Unlock()
}

// Registered reports whether register_req was sent on this connection.
func (h *Handshake) Registered() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registered
}

// ObservePong records a pong at t.
func (h *Handshake) ObservePong(t time.Time) {
	h.lastPong.Store(t.UnixNano())
}

// LastPong returns the time of the last pong (or of connection open).
func (h *Handshake) LastPong() time.Time {
	return time.Unix(0, h.lastPong.Load())
}
