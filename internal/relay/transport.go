package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open message-oriented connection to the relay.
//
// ReadMessage is called from a single goroutine. WriteMessage calls are
// serialized by the caller. Ping and Close may be called concurrently with
// everything else.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	SetPongHandler(fn func())
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// DefaultWriteTimeout bounds every websocket write.
const DefaultWriteTimeout = 10 * time.Second

// WebSocketDialer dials the relay over gorilla/websocket.
type WebSocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWebSocketDialer creates a dialer. handshakeTimeout bounds the HTTP
// upgrade; zero keeps gorilla's default. A nil tlsConfig verifies wss
// relays against the system roots.
func NewWebSocketDialer(handshakeTimeout time.Duration, tlsConfig *tls.Config) *WebSocketDialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	d.TLSClientConfig = tlsConfig
	return &WebSocketDialer{dialer: &d, writeTimeout: DefaultWriteTimeout}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, address string) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsTransport{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// ReadMessage returns the next text or binary message. Control frames are
// handled inside gorilla's reader.
func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) SetPongHandler(fn func()) {
	t.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}
