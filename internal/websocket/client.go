package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"edchat/internal/config"
	"edchat/internal/protocol"
	"edchat/internal/registry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var newline = []byte("\n")

// FrameHandler consumes inbound frames and socket lifecycle events. The
// read pump invokes HandleFrame synchronously, which is what guarantees
// frames from one socket are processed strictly in arrival order.
type FrameHandler interface {
	HandleFrame(ctx context.Context, peer registry.Peer, raw []byte)
	HandleClose(ctx context.Context, peer registry.Peer)
}

// Client is the server-side wrapper around one websocket connection. It
// implements registry.Peer: the registry holds it weakly and the write pump
// owns the actual socket.
type Client struct {
	id      string
	conn    *websocket.Conn
	handler FrameHandler

	// Buffered channel of outbound frames.
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// ID 返回此连接的套接字 ID，在连接生命周期内唯一。
func (c *Client) ID() string { return c.id }

// Enqueue hands an encoded frame to the write pump. It never blocks: a full
// buffer means the client is too slow and the frame is dropped with an
// error so callers can log it.
func (c *Client) Enqueue(frame protocol.Outgoing) error {
	data, err := protocol.EncodeOutgoing(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("socket closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.conn.Close()
}

// readPump pumps frames from the websocket connection into the handler.
// 每个连接一个 readPump goroutine；顺序调用 handler 保证同一套接字
// 的帧不会乱序。
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.handler.HandleClose(context.Background(), c)
		c.Close()
	}()
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket 读取错误 (套接字: %s): %v", c.id, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			log.Printf("警告: 套接字 %s 发送了非文本消息类型: %d", c.id, messageType)
			continue
		}
		// Application-level pings also refresh the read deadline, for
		// clients that cannot emit protocol-level pongs.
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))

		c.handler.HandleFrame(context.Background(), c, raw)
	}
}

// writePump pumps frames from the send channel to the websocket connection.
// 队列里积压的帧会以换行分隔聚合到同一个文本消息里。
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 尝试聚合发送队列中的其他帧
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeConnection upgrades the HTTP request and starts the read and write
// pumps for the new socket.
func ServeConnection(handler FrameHandler, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) (*Client, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// CORS is enforced by the router middleware; the upgrade itself
			// accepts any origin.
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	bufferSize := wsCfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		handler: handler,
		send:    make(chan []byte, bufferSize),
	}

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)

	log.Printf("客户端已连接: 套接字 %s", client.id)
	return client, nil
}
