// Package registry tracks which authenticated users are connected on which
// sockets, and which rooms and groups each session belongs to. It is the
// only shared mutable state of the chat core: mutations are serialized under
// one write lock, fan-out lookups take the read lock.
package registry

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"edchat/internal/auth"
	"edchat/internal/protocol"
)

// Peer is the transport-owned socket handle the registry weakly references.
// Enqueue must not block; a full send buffer is the transport's problem.
type Peer interface {
	// ID is unique per socket for the socket's lifetime.
	ID() string
	// Enqueue hands an outgoing frame to the socket's write pump.
	Enqueue(frame protocol.Outgoing) error
	// Close tears the transport down.
	Close() error
}

// TokenValidator validates a presented bearer token. The chat core never
// issues tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
}

// GroupMembershipSource resolves the durable groups a user belongs to.
type GroupMembershipSource interface {
	GroupIDsFor(ctx context.Context, userID uint) ([]uint, error)
}

// Session is the authenticated binding between one user identity and one
// live socket. A user with several devices holds several sessions.
type Session struct {
	Peer            Peer
	UserID          uint
	Username        string
	AuthenticatedAt time.Time

	// guarded by the registry lock
	rooms  map[protocol.RoomID]struct{}
	groups map[uint]struct{}
}

// UserIDString returns the identity in its wire form.
func (s *Session) UserIDString() string {
	return strconv.FormatUint(uint64(s.UserID), 10)
}

// InRoom reports room membership. Only valid while the registry lock is
// held, so the registry exposes it via its own methods.
func (s *Session) inRoom(roomID protocol.RoomID) bool {
	_, ok := s.rooms[roomID]
	return ok
}

// Registry maps identities to live sessions and rooms to their member
// sessions.
type Registry struct {
	mu       sync.RWMutex
	bySocket map[string]*Session
	byUser   map[uint]map[string]*Session
	rooms    map[protocol.RoomID]map[string]*Session

	validator TokenValidator
	groups    GroupMembershipSource
}

// New creates an empty registry. groups may be nil when group membership is
// not wired (the dispatcher then rejects group sends).
func New(validator TokenValidator, groups GroupMembershipSource) *Registry {
	return &Registry{
		bySocket:  make(map[string]*Session),
		byUser:    make(map[uint]map[string]*Session),
		rooms:     make(map[protocol.RoomID]map[string]*Session),
		validator: validator,
		groups:    groups,
	}
}

// Authenticate validates the token, binds the socket to the identity and
// acknowledges with auth_success on that socket only. A socket that
// re-authenticates replaces its previous session binding.
func (r *Registry) Authenticate(ctx context.Context, peer Peer, token string) (*Session, error) {
	claims, err := r.validator.Validate(ctx, token)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "token expired"
		}
		return nil, &protocol.AuthError{Reason: reason, Err: err}
	}

	session := &Session{
		Peer:            peer,
		UserID:          claims.UserID,
		Username:        claims.Username,
		AuthenticatedAt: time.Now(),
		rooms:           make(map[protocol.RoomID]struct{}),
		groups:          make(map[uint]struct{}),
	}

	if r.groups != nil {
		ids, err := r.groups.GroupIDsFor(ctx, claims.UserID)
		if err != nil {
			// Group membership is resolvable later at send time; a failed
			// prefetch must not fail the handshake.
			log.Printf("registry: prefetching groups for user %d failed: %v", claims.UserID, err)
		}
		for _, id := range ids {
			session.groups[id] = struct{}{}
		}
	}

	r.mu.Lock()
	if old, ok := r.bySocket[peer.ID()]; ok {
		r.removeLocked(old)
	}
	r.bySocket[peer.ID()] = session
	if r.byUser[session.UserID] == nil {
		r.byUser[session.UserID] = make(map[string]*Session)
	}
	r.byUser[session.UserID][peer.ID()] = session
	r.mu.Unlock()

	if err := peer.Enqueue(protocol.NewAuthSuccess(session.UserIDString(), "Authenticated")); err != nil {
		log.Printf("registry: auth_success to socket %s failed: %v", peer.ID(), err)
	}
	return session, nil
}

// SessionFor returns the session bound to a socket, or nil.
func (r *Registry) SessionFor(socketID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySocket[socketID]
}

// SocketsFor returns every live socket of a user. An empty slice means the
// user is offline; the caller treats that as "store now, deliver later",
// not as an error.
func (r *Registry) SocketsFor(userID uint) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.byUser[userID]
	peers := make([]Peer, 0, len(sessions))
	for _, s := range sessions {
		peers = append(peers, s.Peer)
	}
	return peers
}

// JoinRoom adds the session to a room. Joining a room already joined is a
// no-op, not an error.
func (r *Registry) JoinRoom(session *Session, roomID protocol.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.inRoom(roomID) {
		return
	}
	session.rooms[roomID] = struct{}{}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Session)
	}
	r.rooms[roomID][session.Peer.ID()] = session
}

// LeaveRoom removes the session from a room. Leaving a room never joined is
// a no-op.
func (r *Registry) LeaveRoom(session *Session, roomID protocol.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !session.inRoom(roomID) {
		return
	}
	delete(session.rooms, roomID)
	r.dropFromRoomLocked(session, roomID)
}

// InRoom reports whether the session currently belongs to the room.
func (r *Registry) InRoom(session *Session, roomID protocol.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return session.inRoom(roomID)
}

// RoomPeers returns the sockets of every current member of a room.
func (r *Registry) RoomPeers(roomID protocol.RoomID) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	peers := make([]Peer, 0, len(members))
	for _, s := range members {
		peers = append(peers, s.Peer)
	}
	return peers
}

// InGroup reports the session's cached durable-group membership.
func (r *Registry) InGroup(session *Session, groupID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := session.groups[groupID]
	return ok
}

// OnClose removes the socket's session and all of its room associations.
// It returns the user ID and whether this was the user's last live socket,
// so the caller can flip durable presence to offline.
func (r *Registry) OnClose(socketID string) (userID uint, wasLast bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.bySocket[socketID]
	if !ok {
		return 0, false
	}
	r.removeLocked(session)
	return session.UserID, len(r.byUser[session.UserID]) == 0
}

// removeLocked unbinds a session from every index. Caller holds the write
// lock.
func (r *Registry) removeLocked(session *Session) {
	socketID := session.Peer.ID()
	delete(r.bySocket, socketID)
	if peers := r.byUser[session.UserID]; peers != nil {
		delete(peers, socketID)
		if len(peers) == 0 {
			delete(r.byUser, session.UserID)
		}
	}
	for roomID := range session.rooms {
		r.dropFromRoomLocked(session, roomID)
	}
	session.rooms = make(map[protocol.RoomID]struct{})
}

func (r *Registry) dropFromRoomLocked(session *Session, roomID protocol.RoomID) {
	members := r.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, session.Peer.ID())
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Online reports whether the user has at least one live socket.
func (r *Registry) Online(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}
