// Package client is the Go SDK for the chat socket. It owns the dial,
// the in-band auth handshake, the ping/pong heartbeat and the reconnect
// schedule, and surfaces the connection lifecycle through a connstate
// machine so callers never inspect transport errors directly.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"edchat/internal/config"
	"edchat/internal/connstate"
	"edchat/internal/protocol"

	"github.com/gorilla/websocket"
)

var newline = []byte("\n")

// ErrNotConnected is returned by sends while the socket is not open.
var ErrNotConnected = errors.New("client: not connected")

// Config bounds the client's timing. Zero fields fall back to defaults
// matching the server's expectations.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:port/ws.
	URL string
	// Token is presented in the auth frame after every (re)open.
	Token string

	DialTimeout  time.Duration
	PingInterval time.Duration
	// PongWindow is how long a ping may go unanswered before the
	// connection is declared dead.
	PongWindow time.Duration

	// Reconnect bounds the automatic reconnect schedule.
	Reconnect connstate.Config
}

// ConfigFrom maps the application's CLIENT section onto a client Config.
func ConfigFrom(app config.ClientConfig, url, token string) Config {
	return Config{
		URL:          url,
		Token:        token,
		DialTimeout:  app.DialTimeout,
		PingInterval: time.Duration(app.PingIntervalSeconds) * time.Second,
		PongWindow:   time.Duration(app.PongWindowSeconds) * time.Second,
		Reconnect: connstate.Config{
			MaxRetries:     app.MaxReconnects,
			InitialBackoff: app.ReconnectBackoff,
			MaxBackoff:     app.ReconnectMaxBackoff,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWindow <= 0 {
		c.PongWindow = 10 * time.Second
	}
}

// Client is one logical chat connection. All exported methods are safe for
// concurrent use.
type Client struct {
	cfg     Config
	machine *connstate.Machine

	// OnFrame receives every decoded server frame except pong. Set before
	// Connect; called from the read goroutine, one frame at a time.
	OnFrame func(frame protocol.Outgoing)
	// OnStateChange observes lifecycle transitions. Optional.
	OnStateChange func(state connstate.State)

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}

	rttMu   sync.Mutex
	lastRTT time.Duration

	pongCh chan int64
}

// New builds a client; it does not dial.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		machine: connstate.NewMachine(cfg.Reconnect),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() connstate.State {
	return c.machine.State()
}

// RTT returns the round-trip time measured by the most recent pong, or
// zero before the first heartbeat completes.
func (c *Client) RTT() time.Duration {
	c.rttMu.Lock()
	defer c.rttMu.Unlock()
	return c.lastRTT
}

func (c *Client) fire(event connstate.Event) connstate.State {
	state, err := c.machine.Fire(event)
	if err != nil {
		return state
	}
	if c.OnStateChange != nil {
		c.OnStateChange(state)
	}
	return state
}

// Connect dials, authenticates and starts the heartbeat. On transport loss
// it reconnects on a capped exponential schedule until the retry budget is
// spent; Retry restarts a spent budget.
func (c *Client) Connect(ctx context.Context) error {
	c.fire(connstate.EventDial)
	if err := c.open(ctx); err != nil {
		c.fire(connstate.EventDialFailed)
		return err
	}
	c.fire(connstate.EventOpened)
	return nil
}

// open dials and starts the per-connection goroutines. The caller fires
// the state events around it.
func (c *Client) open(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.pongCh = make(chan int64, 1)
	done, pongCh := c.done, c.pongCh
	c.mu.Unlock()

	if c.cfg.Token != "" {
		if err := c.sendFrame(&protocol.Auth{Type: protocol.KindAuth, Token: c.cfg.Token}); err != nil {
			c.teardown()
			return err
		}
	}

	go c.readLoop(conn, done)
	go c.heartbeat(conn, done, pongCh)
	return nil
}

// Close shuts the connection down without scheduling a reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// Retry restarts the reconnect loop, including after the budget parked the
// machine in the failed state.
func (c *Client) Retry(ctx context.Context) {
	go c.reconnect(ctx)
}

// SetOffline is the external no-network override: it closes the socket and
// parks the machine until SetOnline.
func (c *Client) SetOffline() {
	c.fire(connstate.EventOffline)
	_ = c.Close()
}

// SetOnline resumes after SetOffline by dialing again.
func (c *Client) SetOnline(ctx context.Context) error {
	c.fire(connstate.EventOnline)
	if err := c.open(ctx); err != nil {
		c.fire(connstate.EventDialFailed)
		go c.reconnect(ctx)
		return err
	}
	c.fire(connstate.EventOpened)
	return nil
}

// SendDirect sends a one-to-one message. tempID correlates the eventual
// message_sent acknowledgement with this call.
func (c *Client) SendDirect(content, receiverID, tempID string) error {
	return c.sendFrame(&protocol.ChatMessage{
		Type:       protocol.KindChatMessage,
		Content:    content,
		ReceiverID: receiverID,
		TempID:     tempID,
	})
}

// SendGroup sends to a persisted group the user is a member of.
func (c *Client) SendGroup(content, groupID, tempID string) error {
	return c.sendFrame(&protocol.GroupMessage{
		Type:    protocol.KindGroupMessage,
		Content: content,
		GroupID: groupID,
		TempID:  tempID,
	})
}

// SendRoom sends to an ephemeral room previously joined on this socket.
func (c *Client) SendRoom(content string, roomID protocol.RoomID, tempID string) error {
	return c.sendFrame(&protocol.RoomMessage{
		Type:    protocol.KindRoomMessage,
		Content: content,
		RoomID:  roomID,
		TempID:  tempID,
	})
}

// JoinRoom subscribes this socket to a room.
func (c *Client) JoinRoom(roomID protocol.RoomID) error {
	return c.sendFrame(&protocol.JoinRoom{Type: protocol.KindJoinRoom, RoomID: roomID})
}

// LeaveRoom unsubscribes this socket from a room.
func (c *Client) LeaveRoom(roomID protocol.RoomID) error {
	return c.sendFrame(&protocol.LeaveRoom{Type: protocol.KindLeaveRoom, RoomID: roomID})
}

// MarkRead marks everything senderID sent the authenticated user as read.
func (c *Client) MarkRead(senderID string) error {
	return c.sendFrame(&protocol.MarkRead{Type: protocol.KindMarkRead, SenderID: senderID})
}

func (c *Client) sendFrame(frame protocol.Incoming) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// readLoop decodes server frames until the connection dies. The server's
// write pump may coalesce queued frames into one websocket message joined
// by newlines, so each read is split before decoding.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.handleDisconnect(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, part := range bytes.Split(raw, newline) {
			if len(part) == 0 {
				continue
			}
			frame, err := protocol.DecodeOutgoing(part)
			if err != nil {
				log.Printf("client: dropping undecodable frame: %v", err)
				continue
			}
			if pong, ok := frame.(*protocol.Pong); ok {
				c.observePong(pong)
				continue
			}
			if c.OnFrame != nil {
				c.OnFrame(frame)
			}
		}
	}
}

func (c *Client) observePong(pong *protocol.Pong) {
	if pong.OriginalTimestamp > 0 {
		rtt := time.Since(time.UnixMilli(pong.OriginalTimestamp))
		c.rttMu.Lock()
		c.lastRTT = rtt
		c.rttMu.Unlock()
	}
	c.mu.Lock()
	pongCh := c.pongCh
	c.mu.Unlock()
	if pongCh == nil {
		return
	}
	select {
	case pongCh <- pong.OriginalTimestamp:
	default:
	}
}

// heartbeat pings on the configured interval and declares the connection
// dead when a ping goes unanswered for the pong window.
func (c *Client) heartbeat(conn *websocket.Conn, done chan struct{}, pongCh chan int64) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if err := c.sendFrame(&protocol.Ping{Type: protocol.KindPing, Timestamp: time.Now().UnixMilli()}); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-pongCh:
			// Heartbeat answered; next tick.
		case <-time.After(c.cfg.PongWindow):
			log.Printf("client: no pong within %s, closing connection", c.cfg.PongWindow)
			c.machineFirePongTimeout()
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) machineFirePongTimeout() {
	if c.machine.State() == connstate.StateConnected {
		c.fire(connstate.EventPongTimeout)
	}
}

// handleDisconnect runs once per connection, from the read goroutine, when
// the transport dies for any reason. A deliberate Close has already closed
// done, which suppresses the reconnect.
func (c *Client) handleDisconnect(done chan struct{}) {
	select {
	case <-done:
		return
	default:
	}

	c.teardown()

	switch c.machine.State() {
	case connstate.StateConnected, connstate.StateConnecting:
		c.fire(connstate.EventClosed)
	case connstate.StateOffline, connstate.StateFailed:
		return
	}
	go c.reconnect(context.Background())
}

func (c *Client) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
}

// reconnect walks the capped exponential schedule until the socket opens
// or the retry budget is spent.
func (c *Client) reconnect(ctx context.Context) {
	for {
		state := c.fire(connstate.EventRetry)
		if state != connstate.StateReconnecting {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.machine.Backoff()):
		}

		if err := c.open(ctx); err != nil {
			state = c.fire(connstate.EventDialFailed)
			if state == connstate.StateFailed {
				log.Printf("client: reconnect budget spent after %d attempts", c.machine.Attempts())
				return
			}
			continue
		}
		c.fire(connstate.EventOpened)
		return
	}
}
