package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WebSocket is a websocket client to the backend's event endpoint.
type WebSocket struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
	events chan protocol.Envelope
	logger *slog.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// NewWebSocket creates a client for url. Call Run to connect.
func NewWebSocket(url string, opts Options, logger *slog.Logger) *WebSocket {
	opts = opts.withDefaults()
	return &WebSocket{
		url:  url,
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
		},
		events: make(chan protocol.Envelope, 64),
		logger: logger,
	}
}

// Events returns inbound envelopes in arrival order.
func (w *WebSocket) Events() <-chan protocol.Envelope {
	return w.events
}

// Connected reports whether a connection is currently up.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// Run connects and reads until ctx is done, reconnecting with backoff when
// the connection drops. It returns an error only when reconnect attempts
// are exhausted.
func (w *WebSocket) Run(ctx context.Context) error {
	defer close(w.events)
	for {
		conn, err := w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		w.logger.Info("connected to backend", "url", w.url)
		w.setConn(conn)
		err = w.readLoop(ctx, conn)
		w.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("backend connection lost", "url", w.url, "error", err)
	}
}

func (w *WebSocket) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := w.opts.retry(ctx, func() error {
		dctx, cancel := context.WithTimeout(ctx, w.opts.DialTimeout)
		defer cancel()

		c, resp, err := w.dialer.DialContext(dctx, w.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			w.logger.Debug("dial failed", "url", w.url, "error", err)
			return fmt.Errorf("dialing backend: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (w *WebSocket) setConn(c *websocket.Conn) {
	w.mu.Lock()
	w.conn = c
	w.mu.Unlock()
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(conn, done)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.DecodeEnvelope(frame)
		if err != nil {
			w.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		select {
		case w.events <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *WebSocket) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Emit writes cmd to the backend. It fails with ErrNotConnected between
// connections.
func (w *WebSocket) Emit(ctx context.Context, cmd protocol.Command) error {
	env, err := cmd.Envelope()
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", cmd.Name, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing %s: %w", cmd.Name, err)
	}
	return nil
}

// Close sends a close frame on the current connection, if any. Run still
// has to be stopped through its context.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
