// Package dispatch decodes inbound frames and routes them to handlers by
// message kind. Routing is a pure function of the discriminant; everything
// stateful lives in the registry and the delivery coordinator.
package dispatch

import (
	"context"
	"errors"
	"log"

	"edchat/internal/delivery"
	"edchat/internal/protocol"
	"edchat/internal/registry"
)

// PresenceUpdater flips the durable online marker when a user's first
// socket authenticates or their last socket closes. Optional.
type PresenceUpdater interface {
	SetStatus(ctx context.Context, userID uint, status string) error
}

// Dispatcher owns the frame lifecycle of one server instance. The transport
// calls HandleFrame for every inbound text frame, in arrival order per
// socket; frames from different sockets arrive on different goroutines.
type Dispatcher struct {
	registry *registry.Registry
	delivery *delivery.Coordinator
	presence PresenceUpdater
}

// New wires a dispatcher. presence may be nil.
func New(reg *registry.Registry, del *delivery.Coordinator, presence PresenceUpdater) *Dispatcher {
	return &Dispatcher{registry: reg, delivery: del, presence: presence}
}

// HandleFrame processes one raw inbound frame from one socket. Every
// failure is answered on the originating socket only; no frame, however
// malformed, may disturb another socket's session or pending sends.
func (d *Dispatcher) HandleFrame(ctx context.Context, peer registry.Peer, raw []byte) {
	msg, err := protocol.DecodeIncoming(raw)
	if err != nil {
		log.Printf("dispatch: socket %s sent an undecodable frame: %v", peer.ID(), err)
		d.sendError(peer, "Invalid message format")
		return
	}

	// auth and ping are the only kinds an unauthenticated socket may send.
	switch m := msg.(type) {
	case *protocol.Auth:
		d.handleAuth(ctx, peer, m)
		return
	case *protocol.Ping:
		if err := peer.Enqueue(protocol.NewPong(m.Timestamp)); err != nil {
			log.Printf("dispatch: pong to socket %s failed: %v", peer.ID(), err)
		}
		return
	}

	session := d.registry.SessionFor(peer.ID())
	if session == nil {
		d.sendError(peer, "Not authenticated")
		return
	}

	switch m := msg.(type) {
	case *protocol.ChatMessage:
		d.reply(peer, d.delivery.SendDirect(ctx, session, m))
	case *protocol.GroupMessage:
		d.reply(peer, d.delivery.SendGroup(ctx, session, m))
	case *protocol.RoomMessage:
		d.reply(peer, d.delivery.SendRoom(ctx, session, m))
	case *protocol.JoinRoom:
		d.registry.JoinRoom(session, m.RoomID)
	case *protocol.LeaveRoom:
		d.registry.LeaveRoom(session, m.RoomID)
	case *protocol.MarkRead:
		d.reply(peer, d.delivery.MarkRead(ctx, session, m))
	default:
		// DecodeIncoming only produces the kinds above; reaching this is a
		// programming error, not a client one.
		log.Printf("dispatch: no handler for kind %s", msg.IncomingKind())
		d.sendError(peer, "Unsupported message type")
	}
}

// HandleClose tears down everything the socket owned: its session, its room
// memberships and its unresolved pending sends. In-flight persists finish
// on their own; their outcome is not deliverable anymore.
func (d *Dispatcher) HandleClose(ctx context.Context, peer registry.Peer) {
	d.delivery.ReleaseSocket(peer.ID())
	userID, wasLast := d.registry.OnClose(peer.ID())
	if wasLast && d.presence != nil {
		if err := d.presence.SetStatus(ctx, userID, "offline"); err != nil {
			log.Printf("dispatch: marking user %d offline failed: %v", userID, err)
		}
	}
}

func (d *Dispatcher) handleAuth(ctx context.Context, peer registry.Peer, msg *protocol.Auth) {
	session, err := d.registry.Authenticate(ctx, peer, msg.Token)
	if err != nil {
		log.Printf("dispatch: auth failed on socket %s: %v", peer.ID(), err)
		// The connection stays open; the client may retry with a fresh
		// token without paying for a new socket.
		d.sendError(peer, clientMessage(err))
		return
	}
	if d.presence != nil {
		if err := d.presence.SetStatus(ctx, session.UserID, "online"); err != nil {
			log.Printf("dispatch: marking user %d online failed: %v", session.UserID, err)
		}
	}
}

// reply translates a handler outcome into at most one error frame.
func (d *Dispatcher) reply(peer registry.Peer, err error) {
	if err == nil {
		return
	}
	log.Printf("dispatch: socket %s: %v", peer.ID(), err)
	d.sendError(peer, clientMessage(err))
}

func (d *Dispatcher) sendError(peer registry.Peer, message string) {
	if err := peer.Enqueue(protocol.NewError(message)); err != nil {
		log.Printf("dispatch: error frame to socket %s failed: %v", peer.ID(), err)
	}
}

// clientMessage maps internal errors onto the wire-facing error text.
// Validation problems are spelled out; store internals are not.
func clientMessage(err error) string {
	var validation *protocol.ValidationError
	if errors.As(err, &validation) {
		return validation.Error()
	}
	var authErr *protocol.AuthError
	if errors.As(err, &authErr) {
		return "Authentication failed: " + authErr.Reason
	}
	if errors.Is(err, protocol.ErrDuplicateTempID) {
		return "Duplicate tempId"
	}
	var persistence *protocol.PersistenceError
	if errors.As(err, &persistence) {
		return "Failed to process message, please retry"
	}
	return "Internal error"
}
