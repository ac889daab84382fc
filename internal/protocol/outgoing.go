package protocol

import (
	"encoding/json"
	"time"
)

// Outgoing is the closed set of client-consumable frames. Construct values
// through the New* helpers so the kind tag is always set.
type Outgoing interface {
	OutgoingKind() Kind
}

// SenderInfo is the optional sender preview embedded in delivered messages.
type SenderInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// MessagePayload is the resolved message shape carried by message_sent,
// new_message and group_message_sent frames. Direct messages carry
// receiverId, group messages groupId, room messages roomId.
type MessagePayload struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId,omitempty"`
	GroupID    string      `json:"groupId,omitempty"`
	RoomID     RoomID      `json:"roomId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	IsRead     bool        `json:"isRead"`
	Sender     *SenderInfo `json:"sender,omitempty"`
}

// AuthSuccess acknowledges a completed auth handshake.
type AuthSuccess struct {
	Type    Kind   `json:"type"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (AuthSuccess) OutgoingKind() Kind { return KindAuthSuccess }

func NewAuthSuccess(userID, message string) *AuthSuccess {
	return &AuthSuccess{Type: KindAuthSuccess, UserID: userID, Message: message}
}

// ErrorFrame reports a failure to the originating socket only.
type ErrorFrame struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

func (ErrorFrame) OutgoingKind() Kind { return KindError }

func NewError(message string) *ErrorFrame {
	return &ErrorFrame{Type: KindError, Message: message}
}

// MessageSent acknowledges a direct or room send, echoing the sender's
// tempId so the client can reconcile its optimistic UI.
type MessageSent struct {
	Type    Kind           `json:"type"`
	Message MessagePayload `json:"message"`
	TempID  string         `json:"tempId"`
}

func (MessageSent) OutgoingKind() Kind { return KindMessageSent }

func NewMessageSent(msg MessagePayload, tempID string) *MessageSent {
	return &MessageSent{Type: KindMessageSent, Message: msg, TempID: tempID}
}

// NewMessageFrame delivers a stored message to a recipient's live sockets.
type NewMessageFrame struct {
	Type    Kind           `json:"type"`
	Message MessagePayload `json:"message"`
}

func (NewMessageFrame) OutgoingKind() Kind { return KindNewMessage }

func NewNewMessage(msg MessagePayload) *NewMessageFrame {
	return &NewMessageFrame{Type: KindNewMessage, Message: msg}
}

// GroupMessageSent acknowledges a group send.
type GroupMessageSent struct {
	Type    Kind           `json:"type"`
	Message MessagePayload `json:"message"`
	TempID  string         `json:"tempId"`
}

func (GroupMessageSent) OutgoingKind() Kind { return KindGroupMessageSent }

func NewGroupMessageSent(msg MessagePayload, tempID string) *GroupMessageSent {
	return &GroupMessageSent{Type: KindGroupMessageSent, Message: msg, TempID: tempID}
}

// MessagesRead notifies a sender that ReadBy has read their messages.
type MessagesRead struct {
	Type   Kind   `json:"type"`
	ReadBy string `json:"readBy"`
}

func (MessagesRead) OutgoingKind() Kind { return KindMessagesRead }

func NewMessagesRead(readBy string) *MessagesRead {
	return &MessagesRead{Type: KindMessagesRead, ReadBy: readBy}
}

// Pong answers a client heartbeat. OriginalTimestamp echoes the ping's
// timestamp unchanged; Timestamp is the server clock at reply time.
type Pong struct {
	Type              Kind  `json:"type"`
	Timestamp         int64 `json:"timestamp"`
	OriginalTimestamp int64 `json:"originalTimestamp"`
}

func (Pong) OutgoingKind() Kind { return KindPong }

func NewPong(original int64) *Pong {
	return &Pong{Type: KindPong, Timestamp: time.Now().UnixMilli(), OriginalTimestamp: original}
}

// EncodeOutgoing serializes an outgoing frame for the wire.
func EncodeOutgoing(msg Outgoing) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeOutgoing is the client-side counterpart of DecodeIncoming. It is
// used by the client SDK and by the Kafka outbound bridge, which replays
// already-validated frames, so it does not reject unknown sibling fields.
func DecodeOutgoing(raw []byte) (Outgoing, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var msg Outgoing
	switch env.Type {
	case KindAuthSuccess:
		msg = &AuthSuccess{}
	case KindError:
		msg = &ErrorFrame{}
	case KindMessageSent:
		msg = &MessageSent{}
	case KindNewMessage:
		msg = &NewMessageFrame{}
	case KindGroupMessageSent:
		msg = &GroupMessageSent{}
	case KindMessagesRead:
		msg = &MessagesRead{}
	case KindPong:
		msg = &Pong{}
	default:
		return nil, &DecodeError{Err: ErrUnknownMessageKind}
	}
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return msg, nil
}
