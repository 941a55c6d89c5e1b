package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{
		DialTimeout:       time.Second,
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		HealthInterval:    20 * time.Millisecond,
	}
}

// backend is a websocket endpoint that sends frames on connect and records
// what the client writes back.
type backend struct {
	upgrader websocket.Upgrader
	onConn   func(n int, conn *websocket.Conn)
	conns    atomic.Int32
	received chan []byte
}

func newBackend(t *testing.T, onConn func(n int, conn *websocket.Conn)) (*backend, string) {
	t.Helper()
	b := &backend{onConn: onConn, received: make(chan []byte, 16)}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	n := int(b.conns.Add(1))
	if b.onConn != nil {
		b.onConn(n, conn)
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.received <- frame
	}
}

func sendUpdate(t *testing.T, conn *websocket.Conn, score float64) {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"score": score, "label": "Normal", "count": 1, "rate": 1,
		"details": map[string]any{"protocolType": "tcp", "srcBytes": 1, "dstBytes": 1, "srcIp": "10.0.0.1"},
	})
	require.NoError(t, err)
	frame, err := protocol.Envelope{Event: protocol.EventUpdate, Data: data}.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func runTransport(t *testing.T, tr Transport) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("transport did not stop")
		}
	})
	return cancel
}

func nextEvent(t *testing.T, events <-chan protocol.Envelope) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-events:
		require.True(t, ok, "events channel closed")
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return protocol.Envelope{}
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	b, url := newBackend(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		frame, _ := protocol.Envelope{Event: protocol.EventError, Data: json.RawMessage(`{"message":"boom"}`)}.Encode()
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	})
	ws := NewWebSocket(url, fastOptions(), testLogger())
	runTransport(t, ws)

	env := nextEvent(t, ws.Events())
	assert.Equal(t, protocol.EventError, env.Event, "malformed frame is skipped")
	assert.JSONEq(t, `{"message":"boom"}`, string(env.Data))

	require.Eventually(t, ws.Connected, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, ws.Emit(context.Background(), protocol.BlockIP("10.0.0.1")))

	select {
	case frame := <-b.received:
		assert.JSONEq(t, `{"event":"block_ip","data":{"ip":"10.0.0.1"}}`, string(frame))
	case <-time.After(5 * time.Second):
		t.Fatal("backend did not receive command")
	}
}

func TestWebSocket_EmitWhileDisconnected(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/none", fastOptions(), testLogger())
	err := ws.Emit(context.Background(), protocol.Stop())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestWebSocket_Reconnects(t *testing.T) {
	b, url := newBackend(t, func(n int, conn *websocket.Conn) {
		sendUpdate(t, conn, float64(n)/10)
		if n == 1 {
			// drop the first connection after one frame
			_ = conn.Close()
		}
	})
	ws := NewWebSocket(url, fastOptions(), testLogger())
	runTransport(t, ws)

	first := nextEvent(t, ws.Events())
	second := nextEvent(t, ws.Events())

	u1, err := protocol.DecodeUpdate(first.Data)
	require.NoError(t, err)
	u2, err := protocol.DecodeUpdate(second.Data)
	require.NoError(t, err)
	assert.Equal(t, 0.1, u1.Score)
	assert.Equal(t, 0.2, u2.Score)
	assert.GreaterOrEqual(t, int(b.conns.Load()), 2)
}

func TestWebSocket_GivesUpAfterAttempts(t *testing.T) {
	opts := fastOptions()
	opts.ReconnectAttempts = 2
	ws := NewWebSocket("ws://127.0.0.1:1/none", opts, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := ws.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialing backend")

	_, ok := <-ws.Events()
	assert.False(t, ok, "events channel is closed when Run returns")
}
