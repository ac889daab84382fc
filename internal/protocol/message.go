package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the wire discriminant carried in every frame's "type" field.
type Kind string

// Incoming kinds are the frames a server consumes.
const (
	KindAuth         Kind = "auth"
	KindChatMessage  Kind = "chat_message"
	KindGroupMessage Kind = "group_message"
	KindRoomMessage  Kind = "room_message"
	KindJoinRoom     Kind = "join_room"
	KindLeaveRoom    Kind = "leave_room"
	KindMarkRead     Kind = "mark_read"
	KindPing         Kind = "ping"
)

// Outgoing kinds are the frames a client consumes. The two sets are
// disjoint: the dispatcher never routes an outgoing kind and handlers never
// send an incoming one.
const (
	KindAuthSuccess      Kind = "auth_success"
	KindError            Kind = "error"
	KindMessageSent      Kind = "message_sent"
	KindNewMessage       Kind = "new_message"
	KindGroupMessageSent Kind = "group_message_sent"
	KindMessagesRead     Kind = "messages_read"
	KindPong             Kind = "pong"
)

// RoomID is a room identifier. Clients send it as either a JSON string or a
// JSON number; both forms normalize to the same canonical string so that
// membership-set comparisons see one value.
type RoomID string

// UnmarshalJSON accepts "42" and 42 interchangeably.
func (r *RoomID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = RoomID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*r = RoomID(n.String())
		return nil
	}
	return fmt.Errorf("roomId must be a string or a number, got %s", string(b))
}

func (r RoomID) String() string { return string(r) }

// Incoming is the closed set of server-consumable frames. DecodeIncoming is
// the only constructor; the kind tag is fixed at decode time.
type Incoming interface {
	IncomingKind() Kind
}

// Auth carries the bearer token for the in-band handshake. It is one of the
// two kinds (with Ping) accepted on an unauthenticated socket.
type Auth struct {
	Type  Kind   `json:"type"`
	Token string `json:"token"`
}

func (Auth) IncomingKind() Kind { return KindAuth }

// ChatMessage is a direct one-to-one send. TempID is the caller-chosen
// correlation token echoed back in the message_sent acknowledgement.
type ChatMessage struct {
	Type       Kind   `json:"type"`
	Content    string `json:"content"`
	ReceiverID string `json:"receiverId"`
	TempID     string `json:"tempId"`
	UserID     string `json:"userId,omitempty"`
}

func (ChatMessage) IncomingKind() Kind { return KindChatMessage }

// GroupMessage fans out to all members of a persisted group.
type GroupMessage struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
	GroupID string `json:"groupId"`
	TempID  string `json:"tempId"`
	UserID  string `json:"userId,omitempty"`
}

func (GroupMessage) IncomingKind() Kind { return KindGroupMessage }

// RoomMessage fans out to the current members of an ephemeral room.
type RoomMessage struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
	RoomID  RoomID `json:"roomId"`
	TempID  string `json:"tempId"`
	UserID  string `json:"userId,omitempty"`
}

func (RoomMessage) IncomingKind() Kind { return KindRoomMessage }

// JoinRoom adds the session to a room's membership set. Joining a room the
// session already joined is a no-op.
type JoinRoom struct {
	Type   Kind   `json:"type"`
	RoomID RoomID `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

func (JoinRoom) IncomingKind() Kind { return KindJoinRoom }

// LeaveRoom removes the session from a room's membership set. Leaving a room
// the session never joined is a no-op.
type LeaveRoom struct {
	Type   Kind   `json:"type"`
	RoomID RoomID `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

func (LeaveRoom) IncomingKind() Kind { return KindLeaveRoom }

// MarkRead records that the reader has read everything the given sender sent
// them, and notifies the sender's live sockets.
type MarkRead struct {
	Type     Kind   `json:"type"`
	SenderID string `json:"senderId"`
	UserID   string `json:"userId,omitempty"`
}

func (MarkRead) IncomingKind() Kind { return KindMarkRead }

// Ping is the client heartbeat. Timestamp is an opaque client-chosen value
// (unix milliseconds by convention) echoed back unchanged in the pong.
type Ping struct {
	Type      Kind  `json:"type"`
	Timestamp int64 `json:"timestamp"`
}

func (Ping) IncomingKind() Kind { return KindPing }

// envelope is the first-pass peek used to pick the variant.
type envelope struct {
	Type Kind `json:"type"`
}

// DecodeIncoming turns a raw text frame into exactly one typed incoming
// message. The decode is strict: an unrecognized discriminant, a field of
// the wrong shape, or a field outside the variant's contract all fail with
// a *DecodeError. No variant is ever inferred from partial data.
func DecodeIncoming(raw []byte) (Incoming, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("missing type field")}
	}

	var msg Incoming
	switch env.Type {
	case KindAuth:
		msg = &Auth{}
	case KindChatMessage:
		msg = &ChatMessage{}
	case KindGroupMessage:
		msg = &GroupMessage{}
	case KindRoomMessage:
		msg = &RoomMessage{}
	case KindJoinRoom:
		msg = &JoinRoom{}
	case KindLeaveRoom:
		msg = &LeaveRoom{}
	case KindMarkRead:
		msg = &MarkRead{}
	case KindPing:
		msg = &Ping{}
	default:
		return nil, &DecodeError{Err: fmt.Errorf("%w: %q", ErrUnknownMessageKind, env.Type)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := requireFields(msg); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return msg, nil
}

// requireFields enforces presence of the variant's required fields. Semantic
// checks (empty content, unknown targets) belong to the delivery layer.
func requireFields(msg Incoming) error {
	missing := func(field string) error {
		return fmt.Errorf("%s frame missing required field %q", msg.IncomingKind(), field)
	}
	switch m := msg.(type) {
	case *Auth:
		if m.Token == "" {
			return missing("token")
		}
	case *ChatMessage:
		if m.ReceiverID == "" {
			return missing("receiverId")
		}
		if m.TempID == "" {
			return missing("tempId")
		}
	case *GroupMessage:
		if m.GroupID == "" {
			return missing("groupId")
		}
		if m.TempID == "" {
			return missing("tempId")
		}
	case *RoomMessage:
		if m.RoomID == "" {
			return missing("roomId")
		}
		if m.TempID == "" {
			return missing("tempId")
		}
	case *JoinRoom:
		if m.RoomID == "" {
			return missing("roomId")
		}
	case *LeaveRoom:
		if m.RoomID == "" {
			return missing("roomId")
		}
	case *MarkRead:
		if m.SenderID == "" {
			return missing("senderId")
		}
	}
	return nil
}
