package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"edchat/internal/config"
	"edchat/internal/delivery"
	"edchat/internal/protocol"
	"edchat/internal/storage"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	scopeUser = "user"
	scopeRoom = "room"
)

// bridgeEnvelope wraps an already-encoded outgoing frame with its routing
// scope so any instance can replay it to the right local sockets.
type bridgeEnvelope struct {
	Scope        string          `json:"scope"`
	UserID       string          `json:"userId,omitempty"`
	RoomID       protocol.RoomID `json:"roomId,omitempty"`
	OriginSocket string          `json:"originSocket,omitempty"`
	Frame        json.RawMessage `json:"frame"`
}

// Bridge publishes fan-out frames to the outgoing topic so sockets held by
// other server instances receive them too. It implements
// delivery.Publisher.
type Bridge struct {
	producer MessageProducer
	topic    string
}

// NewBridge wires the outbound half of the bridge over a producer.
func NewBridge(producer MessageProducer, cfg config.KafkaConfig) *Bridge {
	return &Bridge{producer: producer, topic: cfg.OutgoingTopic}
}

// PublishToUser publishes a frame addressed to every socket of one user.
// The partition key is the user id so a user's frames stay ordered.
func (b *Bridge) PublishToUser(ctx context.Context, userID string, originSocket string, frame protocol.Outgoing) error {
	return b.publish(ctx, bridgeEnvelope{
		Scope:        scopeUser,
		UserID:       userID,
		OriginSocket: originSocket,
	}, []byte(userID), frame)
}

// PublishToRoom publishes a frame addressed to the current members of a
// room, keyed by the room id.
func (b *Bridge) PublishToRoom(ctx context.Context, roomID protocol.RoomID, originSocket string, frame protocol.Outgoing) error {
	return b.publish(ctx, bridgeEnvelope{
		Scope:        scopeRoom,
		RoomID:       roomID,
		OriginSocket: originSocket,
	}, []byte(roomID.String()), frame)
}

func (b *Bridge) publish(ctx context.Context, env bridgeEnvelope, key []byte, frame protocol.Outgoing) error {
	raw, err := protocol.EncodeOutgoing(frame)
	if err != nil {
		return fmt.Errorf("bridge: encoding frame: %w", err)
	}
	env.Frame = raw
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bridge: encoding envelope: %w", err)
	}
	return b.producer.SendMessage(ctx, b.topic, key, payload)
}

// NewReplayHandler returns the consumer-side handler: it unwraps bridge
// envelopes and pushes the frame to the matching local sockets. Frames are
// already validated by the publishing instance, so a malformed envelope is
// dropped with an error rather than retried forever.
func NewReplayHandler(coord *delivery.Coordinator) MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		var env bridgeEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			return fmt.Errorf("bridge: decoding envelope: %w", err)
		}
		frame, err := protocol.DecodeOutgoing(env.Frame)
		if err != nil {
			return fmt.Errorf("bridge: decoding frame: %w", err)
		}

		switch env.Scope {
		case scopeUser:
			userID, err := storage.StrToUint(env.UserID)
			if err != nil {
				return fmt.Errorf("bridge: envelope user id %q: %w", env.UserID, err)
			}
			coord.DeliverToUser(userID, env.OriginSocket, frame)
		case scopeRoom:
			coord.DeliverToRoom(env.RoomID, env.OriginSocket, frame)
		default:
			return fmt.Errorf("bridge: unknown envelope scope %q", env.Scope)
		}
		return nil
	}
}
