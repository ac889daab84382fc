// Package delivery matches outgoing sends to their acknowledgements and
// fans out stored messages to every live socket of the recipients. It sits
// between the protocol dispatcher and the durable store: nothing is fanned
// out until the store accepted the write.
package delivery

import (
	"context"
	"log"

	"edchat/internal/models"
	"edchat/internal/protocol"
	"edchat/internal/registry"
	"edchat/internal/storage"
)

// Publisher forwards outgoing frames to the other chat server instances.
// Nil disables the bridge; fan-out then reaches only local sockets.
type Publisher interface {
	// PublishToUser targets every live socket of one identity,
	// cluster-wide. originSocket, when not empty, is skipped wherever it
	// is connected.
	PublishToUser(ctx context.Context, userID string, originSocket string, frame protocol.Outgoing) error
	// PublishToRoom targets the current members of a room on every
	// instance, minus originSocket.
	PublishToRoom(ctx context.Context, roomID protocol.RoomID, originSocket string, frame protocol.Outgoing) error
}

// Coordinator drives the send pipeline: validate, claim the tempId, persist,
// acknowledge the sender, fan out to recipients, resolve the tempId.
type Coordinator struct {
	registry *registry.Registry
	messages storage.MessageRepository
	users    storage.UserRepository
	groups   storage.GroupRepository
	pending  *pendingTable
	bridge   Publisher
}

// NewCoordinator wires the coordinator. bridge may be nil.
func NewCoordinator(reg *registry.Registry, messages storage.MessageRepository, users storage.UserRepository, groups storage.GroupRepository, bridge Publisher) *Coordinator {
	return &Coordinator{
		registry: reg,
		messages: messages,
		users:    users,
		groups:   groups,
		pending:  newPendingTable(),
		bridge:   bridge,
	}
}

// ReleaseSocket drops the pending entries of a closed socket. Sends that
// are already in flight still complete; their outcome is simply not
// delivered back to a dead socket.
func (c *Coordinator) ReleaseSocket(socketID string) {
	c.pending.releaseSocket(socketID)
}

// SendDirect handles a chat_message frame from an authenticated session.
func (c *Coordinator) SendDirect(ctx context.Context, session *registry.Session, msg *protocol.ChatMessage) error {
	if msg.Content == "" {
		return &protocol.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	receiverID, err := storage.StrToUint(msg.ReceiverID)
	if err != nil {
		return &protocol.ValidationError{Field: "receiverId", Reason: "not a valid user id"}
	}
	exists, err := c.users.Exists(ctx, receiverID)
	if err != nil {
		return &protocol.PersistenceError{Op: "resolve receiver", Err: err}
	}
	if !exists {
		return &protocol.ValidationError{Field: "receiverId", Reason: "unknown user"}
	}

	socketID := session.Peer.ID()
	if err := c.pending.register(socketID, msg.TempID); err != nil {
		return err
	}
	defer c.pending.resolve(socketID, msg.TempID)

	stored := &models.DirectMessage{
		SenderID:   session.UserID,
		ReceiverID: receiverID,
		Content:    msg.Content,
	}
	if err := c.messages.CreateDirect(ctx, stored); err != nil {
		return &protocol.PersistenceError{Op: "store direct message", Err: err}
	}

	payload := directPayload(stored)
	c.enqueue(session.Peer, protocol.NewMessageSent(payload, msg.TempID))
	c.fanOutToUserExcept(ctx, receiverID, "", protocol.NewNewMessage(payload))
	return nil
}

// SendGroup handles a group_message frame. Fan-out targets are the group's
// durable members; the originating socket only receives the ack.
func (c *Coordinator) SendGroup(ctx context.Context, session *registry.Session, msg *protocol.GroupMessage) error {
	if msg.Content == "" {
		return &protocol.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	groupID, err := storage.StrToUint(msg.GroupID)
	if err != nil {
		return &protocol.ValidationError{Field: "groupId", Reason: "not a valid group id"}
	}
	member := c.registry.InGroup(session, groupID)
	if !member {
		// The session cache is filled at auth time; double-check the store
		// so a membership granted mid-session still works.
		member, err = c.groups.IsMember(ctx, groupID, session.UserID)
		if err != nil {
			return &protocol.PersistenceError{Op: "resolve group membership", Err: err}
		}
	}
	if !member {
		return &protocol.ValidationError{Field: "groupId", Reason: "not a member of this group"}
	}

	socketID := session.Peer.ID()
	if err := c.pending.register(socketID, msg.TempID); err != nil {
		return err
	}
	defer c.pending.resolve(socketID, msg.TempID)

	stored := &models.ChannelMessage{
		SenderID:    session.UserID,
		ChannelKind: models.GroupChannel,
		ChannelID:   msg.GroupID,
		Content:     msg.Content,
	}
	if err := c.messages.CreateChannel(ctx, stored); err != nil {
		return &protocol.PersistenceError{Op: "store group message", Err: err}
	}

	payload := channelPayload(stored)
	c.enqueue(session.Peer, protocol.NewGroupMessageSent(payload, msg.TempID))

	memberIDs, err := c.groups.MemberIDs(ctx, groupID)
	if err != nil {
		// The message is durably stored; members who missed the push can
		// fetch it later. Log and keep the ack valid.
		log.Printf("delivery: resolving members of group %d failed: %v", groupID, err)
		return nil
	}
	frame := protocol.NewNewMessage(payload)
	for _, memberID := range memberIDs {
		c.fanOutToUserExcept(ctx, memberID, socketID, frame)
	}
	return nil
}

// SendRoom handles a room_message frame. The sender must have joined the
// room on this socket; fan-out targets are the room's current members.
func (c *Coordinator) SendRoom(ctx context.Context, session *registry.Session, msg *protocol.RoomMessage) error {
	if msg.Content == "" {
		return &protocol.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !c.registry.InRoom(session, msg.RoomID) {
		return &protocol.ValidationError{Field: "roomId", Reason: "join the room before sending to it"}
	}

	socketID := session.Peer.ID()
	if err := c.pending.register(socketID, msg.TempID); err != nil {
		return err
	}
	defer c.pending.resolve(socketID, msg.TempID)

	stored := &models.ChannelMessage{
		SenderID:    session.UserID,
		ChannelKind: models.RoomChannel,
		ChannelID:   msg.RoomID.String(),
		Content:     msg.Content,
	}
	if err := c.messages.CreateChannel(ctx, stored); err != nil {
		return &protocol.PersistenceError{Op: "store room message", Err: err}
	}

	payload := channelPayload(stored)
	c.enqueue(session.Peer, protocol.NewMessageSent(payload, msg.TempID))

	frame := protocol.NewNewMessage(payload)
	if c.bridge != nil {
		if err := c.bridge.PublishToRoom(ctx, msg.RoomID, socketID, frame); err != nil {
			log.Printf("delivery: bridge publish to room %s failed, delivering locally: %v", msg.RoomID, err)
		} else {
			return nil
		}
	}
	for _, peer := range c.registry.RoomPeers(msg.RoomID) {
		if peer.ID() == socketID {
			continue
		}
		c.enqueue(peer, frame)
	}
	return nil
}

// MarkRead handles a mark_read frame: flip the (sender, reader) pair's
// unread rows and notify the sender's live sockets. Idempotent; a repeat
// produces the same notification with no further state change.
func (c *Coordinator) MarkRead(ctx context.Context, session *registry.Session, msg *protocol.MarkRead) error {
	senderID, err := storage.StrToUint(msg.SenderID)
	if err != nil {
		return &protocol.ValidationError{Field: "senderId", Reason: "not a valid user id"}
	}
	if _, err := c.messages.MarkRead(ctx, senderID, session.UserID); err != nil {
		return &protocol.PersistenceError{Op: "mark messages read", Err: err}
	}
	c.fanOutToUserExcept(ctx, senderID, "", protocol.NewMessagesRead(session.UserIDString()))
	return nil
}

// fanOutToUserExcept delivers one frame to every live socket of a user,
// minus one originating socket. With the bridge enabled the frame travels
// through the outgoing topic so sockets on other instances are reached
// too; otherwise delivery is local only. An offline user is not an error:
// the message is already durably stored.
func (c *Coordinator) fanOutToUserExcept(ctx context.Context, userID uint, exceptSocket string, frame protocol.Outgoing) {
	if c.bridge != nil {
		wireID := storage.UintToStr(userID)
		if err := c.bridge.PublishToUser(ctx, wireID, exceptSocket, frame); err == nil {
			return
		} else {
			log.Printf("delivery: bridge publish to user %s failed, delivering locally: %v", wireID, err)
		}
	}
	c.DeliverToUser(userID, exceptSocket, frame)
}

// DeliverToUser pushes a frame to the user's local sockets, skipping
// originSocket if present. The Kafka consumer calls this when the bridge
// replays outgoing frames.
func (c *Coordinator) DeliverToUser(userID uint, originSocket string, frame protocol.Outgoing) {
	for _, peer := range c.registry.SocketsFor(userID) {
		if originSocket != "" && peer.ID() == originSocket {
			continue
		}
		c.enqueue(peer, frame)
	}
}

// DeliverToRoom pushes a bridged frame to the room's local members.
func (c *Coordinator) DeliverToRoom(roomID protocol.RoomID, originSocket string, frame protocol.Outgoing) {
	for _, peer := range c.registry.RoomPeers(roomID) {
		if peer.ID() == originSocket {
			continue
		}
		c.enqueue(peer, frame)
	}
}

func (c *Coordinator) enqueue(peer registry.Peer, frame protocol.Outgoing) {
	if err := peer.Enqueue(frame); err != nil {
		// A dead or slow socket is the transport's problem; the message is
		// stored and other recipients are unaffected.
		log.Printf("delivery: enqueue to socket %s failed: %v", peer.ID(), err)
	}
}

func directPayload(m *models.DirectMessage) protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:         m.IDString(),
		Content:    m.Content,
		SenderID:   storage.UintToStr(m.SenderID),
		ReceiverID: storage.UintToStr(m.ReceiverID),
		CreatedAt:  m.CreatedAt,
		IsRead:     m.IsRead,
		Sender:     senderInfo(&m.Sender),
	}
}

func channelPayload(m *models.ChannelMessage) protocol.MessagePayload {
	payload := protocol.MessagePayload{
		ID:        m.IDString(),
		Content:   m.Content,
		SenderID:  storage.UintToStr(m.SenderID),
		CreatedAt: m.CreatedAt,
		Sender:    senderInfo(&m.Sender),
	}
	switch m.ChannelKind {
	case models.GroupChannel:
		payload.GroupID = m.ChannelID
	case models.RoomChannel:
		payload.RoomID = protocol.RoomID(m.ChannelID)
	}
	return payload
}

func senderInfo(u *models.User) *protocol.SenderInfo {
	if u == nil || u.ID == 0 {
		return nil
	}
	return &protocol.SenderInfo{
		ID:       u.IDString(),
		Username: u.Username,
		Avatar:   u.AvatarURL,
	}
}
