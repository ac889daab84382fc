package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"edchat/internal/connstate"
	"edchat/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a websocket endpoint that hands every accepted
// connection to handler on its own goroutine.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// stateRecorder collects lifecycle transitions for assertions.
type stateRecorder struct {
	mu     sync.Mutex
	states []connstate.State
}

func (r *stateRecorder) record(s connstate.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) seen(want connstate.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == want {
			return true
		}
	}
	return false
}

func TestConnectAuthenticatesAndDeliversFrames(t *testing.T) {
	gotAuth := make(chan protocol.Auth, 1)

	srv := startServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var auth protocol.Auth
		if err := json.Unmarshal(raw, &auth); err != nil {
			return
		}
		gotAuth <- auth

		// Coalesce two frames into one websocket message, the way the
		// server's write pump drains its queue.
		ack, _ := protocol.EncodeOutgoing(protocol.NewAuthSuccess("1", "Authentication successful"))
		note, _ := protocol.EncodeOutgoing(protocol.NewError("just testing"))
		_ = conn.WriteMessage(websocket.TextMessage, append(append(ack, '\n'), note...))

		// Keep the socket open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var frames []protocol.Outgoing
	c := New(Config{URL: wsURL(srv), Token: "token-1"})
	c.OnFrame = func(frame protocol.Outgoing) {
		mu.Lock()
		frames = append(frames, frame)
		mu.Unlock()
	}
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, connstate.StateConnected, c.State())

	select {
	case auth := <-gotAuth:
		assert.Equal(t, protocol.KindAuth, auth.Type)
		assert.Equal(t, "token-1", auth.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the auth frame")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	ack, ok := frames[0].(*protocol.AuthSuccess)
	require.True(t, ok)
	assert.Equal(t, "1", ack.UserID)
	_, ok = frames[1].(*protocol.ErrorFrame)
	assert.True(t, ok)
}

func TestHeartbeatMeasuresRTT(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ping protocol.Ping
			if json.Unmarshal(raw, &ping) == nil && ping.Type == protocol.KindPing {
				pong, _ := protocol.EncodeOutgoing(protocol.NewPong(ping.Timestamp))
				_ = conn.WriteMessage(websocket.TextMessage, pong)
			}
		}
	})

	c := New(Config{
		URL:          wsURL(srv),
		PingInterval: 20 * time.Millisecond,
		PongWindow:   500 * time.Millisecond,
	})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return c.RTT() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, connstate.StateConnected, c.State())
}

func TestPongTimeoutReconnects(t *testing.T) {
	// The server accepts connections but never answers pings, so every
	// connection dies on the pong window and the client redials.
	srv := startServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := &stateRecorder{}
	c := New(Config{
		URL:          wsURL(srv),
		PingInterval: 20 * time.Millisecond,
		PongWindow:   30 * time.Millisecond,
		Reconnect: connstate.Config{
			MaxRetries:     3,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     20 * time.Millisecond,
		},
	})
	c.OnStateChange = rec.record
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return rec.seen(connstate.StateDisconnected) && rec.seen(connstate.StateReconnecting)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDialFailureExhaustsRetryBudget(t *testing.T) {
	rec := &stateRecorder{}
	c := New(Config{
		// Nothing listens here.
		URL:         "ws://127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		Reconnect: connstate.Config{
			MaxRetries:     2,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
		},
	})
	c.OnStateChange = rec.record

	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, connstate.StateError, c.State())

	c.Retry(context.Background())
	require.Eventually(t, func() bool {
		return c.State() == connstate.StateFailed
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, rec.seen(connstate.StateReconnecting))
}

func TestSendBeforeConnect(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"})
	assert.ErrorIs(t, c.SendDirect("hi", "2", "tmp-1"), ErrNotConnected)
	assert.ErrorIs(t, c.JoinRoom("42"), ErrNotConnected)
}
