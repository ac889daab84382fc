package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIncomingChatMessage(t *testing.T) {
	raw := []byte(`{"type":"chat_message","content":"hi","receiverId":"7","tempId":"t1"}`)

	msg, err := DecodeIncoming(raw)
	require.NoError(t, err)

	chat, ok := msg.(*ChatMessage)
	require.True(t, ok, "expected *ChatMessage, got %T", msg)
	assert.Equal(t, "hi", chat.Content)
	assert.Equal(t, "7", chat.ReceiverID)
	assert.Equal(t, "t1", chat.TempID)
	assert.Equal(t, KindChatMessage, chat.IncomingKind())
}

func TestDecodeIncomingUnknownKind(t *testing.T) {
	_, err := DecodeIncoming([]byte(`{"type":"bogus"}`))
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.True(t, errors.Is(err, ErrUnknownMessageKind))
}

func TestDecodeIncomingRejectsOutgoingKind(t *testing.T) {
	// Outgoing kinds must never be routable through the inbound decoder.
	_, err := DecodeIncoming([]byte(`{"type":"new_message","message":{}}`))
	assert.True(t, errors.Is(err, ErrUnknownMessageKind))
}

func TestDecodeIncomingMissingRequiredField(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"chat message without tempId", `{"type":"chat_message","content":"x","receiverId":"7"}`},
		{"chat message without receiverId", `{"type":"chat_message","content":"x","tempId":"t"}`},
		{"auth without token", `{"type":"auth"}`},
		{"join_room without roomId", `{"type":"join_room"}`},
		{"mark_read without senderId", `{"type":"mark_read"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeIncoming([]byte(tc.raw))
			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "expected decode error, got %v", err)
		})
	}
}

func TestDecodeIncomingRejectsExtraFields(t *testing.T) {
	_, err := DecodeIncoming([]byte(`{"type":"ping","timestamp":1,"smuggled":true}`))
	require.Error(t, err)
}

func TestDecodeIncomingMalformedJSON(t *testing.T) {
	_, err := DecodeIncoming([]byte(`{"type":`))
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestRoomIDNormalization(t *testing.T) {
	// String "42" and numeric 42 must land on the same canonical value so
	// that join_room and a later room_message agree on membership.
	joined, err := DecodeIncoming([]byte(`{"type":"join_room","roomId":"42"}`))
	require.NoError(t, err)
	sent, err := DecodeIncoming([]byte(`{"type":"room_message","roomId":42,"content":"x","tempId":"t2"}`))
	require.NoError(t, err)

	join := joined.(*JoinRoom)
	room := sent.(*RoomMessage)
	assert.Equal(t, join.RoomID, room.RoomID)
	assert.Equal(t, RoomID("42"), room.RoomID)
}

func TestRoomIDRejectsNonScalar(t *testing.T) {
	_, err := DecodeIncoming([]byte(`{"type":"join_room","roomId":{"id":1}}`))
	require.Error(t, err)
}

func TestPongEchoesOriginalTimestamp(t *testing.T) {
	pong := NewPong(1712345678901)
	assert.Equal(t, int64(1712345678901), pong.OriginalTimestamp)
	assert.Equal(t, KindPong, pong.Type)

	raw, err := EncodeOutgoing(pong)
	require.NoError(t, err)

	decoded, err := DecodeOutgoing(raw)
	require.NoError(t, err)
	assert.Equal(t, pong.OriginalTimestamp, decoded.(*Pong).OriginalTimestamp)
}

func TestEncodeOutgoingSetsDiscriminant(t *testing.T) {
	frame := NewMessageSent(MessagePayload{ID: "m1", Content: "hi", SenderID: "1", ReceiverID: "2"}, "t1")
	raw, err := EncodeOutgoing(frame)
	require.NoError(t, err)

	decoded, err := DecodeOutgoing(raw)
	require.NoError(t, err)
	sent := decoded.(*MessageSent)
	assert.Equal(t, "t1", sent.TempID)
	assert.Equal(t, "m1", sent.Message.ID)
}
