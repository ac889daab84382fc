package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edchat/internal/auth"
	"edchat/internal/delivery"
	"edchat/internal/models"
	"edchat/internal/protocol"
	"edchat/internal/registry"
)

// --- fakes -----------------------------------------------------------------

type fakePeer struct {
	id     string
	mu     sync.Mutex
	frames []protocol.Outgoing
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }
func (p *fakePeer) Enqueue(frame protocol.Outgoing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return nil
}
func (p *fakePeer) Close() error { return nil }

func (p *fakePeer) Frames() []protocol.Outgoing {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Outgoing, len(p.frames))
	copy(out, p.frames)
	return out
}

func lastFrame(t *testing.T, p *fakePeer) protocol.Outgoing {
	t.Helper()
	frames := p.Frames()
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

type fakeValidator struct{}

func (fakeValidator) Validate(_ context.Context, token string) (*auth.Claims, error) {
	var id uint
	if _, err := fmt.Sscanf(token, "user:%d", &id); err != nil {
		return nil, fmt.Errorf("bad token %q", token)
	}
	return &auth.Claims{UserID: id, Username: fmt.Sprintf("u%d", id)}, nil
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID uint
	direct int
}

func (f *fakeMessages) CreateDirect(_ context.Context, m *models.DirectMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	f.direct++
	return nil
}
func (f *fakeMessages) CreateChannel(_ context.Context, m *models.ChannelMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	return nil
}
func (f *fakeMessages) MarkRead(_ context.Context, _, _ uint) (int64, error) { return 1, nil }

type fakeUsers struct{ known map[uint]bool }

func (f *fakeUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	return &models.User{BaseModel: models.BaseModel{ID: id}}, nil
}
func (f *fakeUsers) Exists(_ context.Context, id uint) (bool, error) { return f.known[id], nil }
func (f *fakeUsers) UpdateStatus(_ context.Context, _ uint, _ string) error {
	return nil
}

type fakeGroups struct{}

func (fakeGroups) Exists(_ context.Context, _ uint) (bool, error)       { return false, nil }
func (fakeGroups) MemberIDs(_ context.Context, _ uint) ([]uint, error)  { return nil, nil }
func (fakeGroups) IsMember(_ context.Context, _, _ uint) (bool, error)  { return false, nil }
func (fakeGroups) GroupIDsFor(_ context.Context, _ uint) ([]uint, error) { return nil, nil }

type fakePresence struct {
	mu     sync.Mutex
	status map[uint]string
}

func (f *fakePresence) SetStatus(_ context.Context, userID uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = make(map[uint]string)
	}
	f.status[userID] = status
	return nil
}

func (f *fakePresence) get(userID uint) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[userID]
}

// --- fixture ---------------------------------------------------------------

type fixture struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	presence   *fakePresence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New(fakeValidator{}, fakeGroups{})
	coord := delivery.NewCoordinator(reg, &fakeMessages{}, &fakeUsers{known: map[uint]bool{1: true, 2: true}}, fakeGroups{}, nil)
	presence := &fakePresence{}
	return &fixture{
		dispatcher: New(reg, coord, presence),
		registry:   reg,
		presence:   presence,
	}
}

func (fx *fixture) frame(peer registry.Peer, raw string) {
	fx.dispatcher.HandleFrame(context.Background(), peer, []byte(raw))
}

// --- tests -----------------------------------------------------------------

func TestAuthThenDirectMessageScenario(t *testing.T) {
	fx := newFixture(t)
	alice := newFakePeer("a1")
	bob := newFakePeer("b1")

	fx.frame(alice, `{"type":"auth","token":"user:1"}`)
	fx.frame(bob, `{"type":"auth","token":"user:2"}`)

	require.IsType(t, &protocol.AuthSuccess{}, lastFrame(t, alice))
	assert.Equal(t, "online", fx.presence.get(1))

	fx.frame(alice, `{"type":"chat_message","content":"hi","receiverId":"2","tempId":"t1"}`)

	var gotAck bool
	for _, f := range alice.Frames() {
		if ack, ok := f.(*protocol.MessageSent); ok {
			gotAck = true
			assert.Equal(t, "t1", ack.TempID)
			assert.Equal(t, "hi", ack.Message.Content)
		}
	}
	assert.True(t, gotAck, "sender got message_sent")

	delivered := lastFrame(t, bob).(*protocol.NewMessageFrame)
	assert.Equal(t, "hi", delivered.Message.Content)
	assert.Equal(t, "1", delivered.Message.SenderID)
}

func TestUnauthenticatedSocketIsRejectedWithoutSideEffects(t *testing.T) {
	fx := newFixture(t)
	stranger := newFakePeer("s1")
	bob := newFakePeer("b1")
	fx.frame(bob, `{"type":"auth","token":"user:2"}`)
	bobBefore := len(bob.Frames())

	kinds := []string{
		`{"type":"chat_message","content":"hi","receiverId":"2","tempId":"t1"}`,
		`{"type":"join_room","roomId":"42"}`,
		`{"type":"mark_read","senderId":"2"}`,
	}
	for _, raw := range kinds {
		fx.frame(stranger, raw)
		errFrame, ok := lastFrame(t, stranger).(*protocol.ErrorFrame)
		require.True(t, ok, "expected error frame for %s", raw)
		assert.Equal(t, "Not authenticated", errFrame.Message)
	}

	assert.Len(t, bob.Frames(), bobBefore, "no fan-out side effects from an unauthenticated socket")
}

func TestPingAllowedWithoutAuthAndEchoesTimestamp(t *testing.T) {
	fx := newFixture(t)
	peer := newFakePeer("s1")

	fx.frame(peer, `{"type":"ping","timestamp":1712345678901}`)

	pong, ok := lastFrame(t, peer).(*protocol.Pong)
	require.True(t, ok)
	assert.Equal(t, int64(1712345678901), pong.OriginalTimestamp)
}

func TestBogusFrameOnlyAnswersSender(t *testing.T) {
	fx := newFixture(t)
	alice := newFakePeer("a1")
	bob := newFakePeer("b1")
	fx.frame(alice, `{"type":"auth","token":"user:1"}`)
	fx.frame(bob, `{"type":"auth","token":"user:2"}`)
	bobBefore := len(bob.Frames())

	fx.frame(alice, `{"type":"bogus"}`)

	errFrame, ok := lastFrame(t, alice).(*protocol.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, "Invalid message format", errFrame.Message)
	assert.Len(t, bob.Frames(), bobBefore, "no other socket observes any effect")

	// The sender's session survives a bad frame.
	fx.frame(alice, `{"type":"chat_message","content":"still here","receiverId":"2","tempId":"t9"}`)
	assert.IsType(t, &protocol.NewMessageFrame{}, lastFrame(t, bob))
}

func TestFailedAuthKeepsSocketOpenForRetry(t *testing.T) {
	fx := newFixture(t)
	peer := newFakePeer("s1")

	fx.frame(peer, `{"type":"auth","token":"garbage"}`)
	errFrame, ok := lastFrame(t, peer).(*protocol.ErrorFrame)
	require.True(t, ok)
	assert.Contains(t, errFrame.Message, "Authentication failed")

	fx.frame(peer, `{"type":"auth","token":"user:1"}`)
	assert.IsType(t, &protocol.AuthSuccess{}, lastFrame(t, peer))
}

func TestRoomIDNormalizationAcrossJoinAndSend(t *testing.T) {
	fx := newFixture(t)
	alice := newFakePeer("a1")
	bob := newFakePeer("b1")
	fx.frame(alice, `{"type":"auth","token":"user:1"}`)
	fx.frame(bob, `{"type":"auth","token":"user:2"}`)

	// Join with a string roomId, send with a numeric one.
	fx.frame(alice, `{"type":"join_room","roomId":"42"}`)
	fx.frame(bob, `{"type":"join_room","roomId":42}`)
	fx.frame(alice, `{"type":"room_message","roomId":42,"content":"x","tempId":"t2"}`)

	delivered, ok := lastFrame(t, bob).(*protocol.NewMessageFrame)
	require.True(t, ok, "membership recorded identically for both spellings")
	assert.Equal(t, "x", delivered.Message.Content)
	assert.Equal(t, protocol.RoomID("42"), delivered.Message.RoomID)
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	fx := newFixture(t)
	alice := newFakePeer("a1")
	bob := newFakePeer("b1")
	fx.frame(alice, `{"type":"auth","token":"user:1"}`)
	fx.frame(bob, `{"type":"auth","token":"user:2"}`)
	fx.frame(alice, `{"type":"join_room","roomId":"7"}`)
	fx.frame(bob, `{"type":"join_room","roomId":"7"}`)

	fx.frame(bob, `{"type":"leave_room","roomId":"7"}`)
	bobBefore := len(bob.Frames())
	fx.frame(alice, `{"type":"room_message","roomId":"7","content":"x","tempId":"t1"}`)

	assert.Len(t, bob.Frames(), bobBefore, "no delivery after leave_room")
}

func TestDuplicateTempIDSurfacesAsErrorFrame(t *testing.T) {
	// Sequential duplicate sends resolve in between, so exercise the
	// translation layer directly.
	assert.Equal(t, "Duplicate tempId",
		clientMessage(fmt.Errorf("wrapped: %w", protocol.ErrDuplicateTempID)))
	assert.Equal(t, "Internal error", clientMessage(errors.New("boom")))
}

func TestHandleCloseFlipsPresenceOnLastSocket(t *testing.T) {
	fx := newFixture(t)
	phone := newFakePeer("p1")
	laptop := newFakePeer("p2")
	fx.frame(phone, `{"type":"auth","token":"user:1"}`)
	fx.frame(laptop, `{"type":"auth","token":"user:1"}`)

	fx.dispatcher.HandleClose(context.Background(), phone)
	assert.Equal(t, "online", fx.presence.get(1), "one device still connected")

	fx.dispatcher.HandleClose(context.Background(), laptop)
	assert.Equal(t, "offline", fx.presence.get(1))
}
