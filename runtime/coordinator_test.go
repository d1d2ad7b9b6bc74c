package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"convo/auth"
	"convo/contract"
	"convo/domain"
	"convo/domain/event"
	"convo/errors"
)

var self = auth.Identity{UserID: "self", Username: "me", DisplayName: "Me"}

type fakeChannel struct {
	mu             sync.Mutex
	conversationID string
	state          contract.ChannelState
	events         chan event.ChannelEvent
	sendErr        error
	sent           []string
	closeOnce      sync.Once
}

func newFakeChannel(conversationID string) *fakeChannel {
	return &fakeChannel{
		conversationID: conversationID,
		state:          contract.StateOpen,
		events:         make(chan event.ChannelEvent, 16),
	}
}

func (f *fakeChannel) State() contract.ChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Events() <-chan event.ChannelEvent {
	return f.events
}

func (f *fakeChannel) Send(_ context.Context, content, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeChannel) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.state = contract.StateClosed
		f.mu.Unlock()
		f.events <- event.ChannelClosed{Conversation: f.conversationID}
		close(f.events)
	})
}

func (f *fakeChannel) closed() bool {
	return f.State() == contract.StateClosed
}

type fakeDialer struct {
	mu      sync.Mutex
	openErr error
	sendErr error
	opened  []*fakeChannel
}

func (f *fakeDialer) Open(_ context.Context, conversationID string) (contract.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	ch := newFakeChannel(conversationID)
	ch.sendErr = f.sendErr
	f.opened = append(f.opened, ch)
	return ch, nil
}

func (f *fakeDialer) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[len(f.opened)-1]
}

func (f *fakeDialer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type fakeGateway struct {
	mu         sync.Mutex
	list       []domain.Conversation
	histories  map[string][]domain.Message
	historyErr error
	sendMsg    domain.Message
	sendErr    error
	sendGate   chan struct{}
	sentTo     []string
}

func (f *fakeGateway) ListConversations(context.Context) ([]domain.Conversation, error) {
	return f.list, nil
}

func (f *fakeGateway) StartConversation(_ context.Context, otherUserID string) (domain.Conversation, bool, error) {
	return domain.Conversation{
		ID:           "started-" + otherUserID,
		Participants: [2]domain.Participant{{ID: self.UserID}, {ID: otherUserID}},
	}, false, nil
}

func (f *fakeGateway) GetMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.histories[conversationID], nil
}

func (f *fakeGateway) SendMessage(_ context.Context, conversationID string, _ domain.MessageType, content string) (domain.Message, error) {
	if f.sendGate != nil {
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return domain.Message{}, f.sendErr
	}
	f.sentTo = append(f.sentTo, conversationID)
	msg := f.sendMsg
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("srv-%d", len(f.sentTo))
	}
	msg.ConversationID = conversationID
	msg.Content = content
	msg.Sender = domain.Participant{ID: self.UserID, Username: self.Username}
	msg.State = domain.StateConfirmed
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg, nil
}

type fakeCache struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
}

func newFakeCache() *fakeCache {
	return &fakeCache{messages: make(map[string][]domain.Message)}
}

func (f *fakeCache) StoreMessage(msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], msg)
	return nil
}

func (f *fakeCache) GetMessages(conversationID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[conversationID], nil
}

func twoConversations() []domain.Conversation {
	return []domain.Conversation{
		{ID: "conv-a", Participants: [2]domain.Participant{{ID: self.UserID}, {ID: "alice"}}},
		{ID: "conv-b", Participants: [2]domain.Participant{{ID: self.UserID}, {ID: "bob"}}},
	}
}

func newCoordinator(gateway contract.Gateway, dialer contract.Dialer, cache contract.MessageCache) *Coordinator {
	return NewCoordinator(slog.Default(), gateway, dialer, cache, nil, self)
}

func inbound(conversationID, id, senderID, content string) event.MessageReceived {
	return event.MessageReceived{
		Conversation: conversationID,
		Message: domain.Message{
			ID:             id,
			ConversationID: conversationID,
			Sender:         domain.Participant{ID: senderID, Username: senderID},
			Type:           domain.TypeText,
			Content:        content,
			CreatedAt:      time.Now().UTC(),
			State:          domain.StateConfirmed,
		},
	}
}

func TestCoordinator_Select_Closes_Prior_Channel_Before_Opening(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{}
	c := newCoordinator(gateway, dialer, nil)

	// When switching A -> B -> A
	req.NoError(c.Select(ctx, "conv-a"))
	req.NoError(c.Select(ctx, "conv-b"))
	req.NoError(c.Select(ctx, "conv-a"))

	// Then every superseded channel is closed and only the last is open
	req.Equal(3, dialer.count())
	req.True(dialer.opened[0].closed())
	req.True(dialer.opened[1].closed())
	req.False(dialer.opened[2].closed())
}

func TestCoordinator_Select_Active_Conversation_Is_Noop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{}
	c := newCoordinator(gateway, dialer, nil)

	req.NoError(c.Select(ctx, "conv-a"))
	req.NoError(c.Select(ctx, "conv-a"))

	// Reselecting the healthy active conversation opens nothing new
	req.Equal(1, dialer.count())
}

func TestCoordinator_Select_Seeds_Timeline_From_History(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	at := time.Now().UTC()
	gateway := &fakeGateway{histories: map[string][]domain.Message{
		"conv-a": {
			{ID: "m1", Content: "one", CreatedAt: at},
			{ID: "m2", Content: "two", CreatedAt: at.Add(time.Second)},
			{ID: "m3", Content: "three", CreatedAt: at.Add(2 * time.Second)},
		},
	}}
	c := newCoordinator(gateway, &fakeDialer{}, nil)

	req.NoError(c.Select(ctx, "conv-a"))

	timeline := c.Timeline("conv-a")
	req.Len(timeline, 3)
	req.Equal("one", timeline[0].Content)
	req.Equal("two", timeline[1].Content)
	req.Equal("three", timeline[2].Content)
	for _, msg := range timeline {
		req.Equal(domain.StateConfirmed, msg.State)
	}
}

func TestCoordinator_Select_History_Failure_Falls_Back_To_Cache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	cache := newFakeCache()
	req.NoError(cache.StoreMessage(domain.Message{
		ID: "m1", ConversationID: "conv-a", Content: "cached", CreatedAt: time.Now().UTC(),
	}))
	gateway := &fakeGateway{historyErr: fmt.Errorf("boom")}
	c := newCoordinator(gateway, &fakeDialer{}, cache)

	req.NoError(c.Select(ctx, "conv-a"))

	timeline := c.Timeline("conv-a")
	req.Len(timeline, 1)
	req.Equal("cached", timeline[0].Content)
}

func TestCoordinator_Select_Survives_Channel_Open_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{openErr: errors.ErrConnectionFailed}
	c := newCoordinator(gateway, dialer, nil)

	// A conversation without a live channel is degraded, not broken
	req.NoError(c.Select(ctx, "conv-a"))

	msg, err := c.Compose(ctx, "hello")
	req.NoError(err)
	req.Equal(domain.StateConfirmed, msg.State)
	req.Equal([]string{"conv-a"}, gateway.sentTo)
}

func TestCoordinator_Compose_Rejects_Blank_Input(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{histories: map[string][]domain.Message{}}
	c := newCoordinator(gateway, &fakeDialer{}, nil)
	req.NoError(c.Select(ctx, "conv-a"))

	_, err := c.Compose(ctx, "   \t  ")

	// Whitespace-only input never inserts a timeline entry
	req.ErrorIs(err, errors.ErrEmptyMessage)
	req.Empty(c.Timeline("conv-a"))
}

func TestCoordinator_Compose_Sends_On_Open_Channel(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{}
	c := newCoordinator(gateway, dialer, nil)
	req.NoError(c.Select(ctx, "conv-a"))

	msg, err := c.Compose(ctx, "hello")

	// The optimistic entry is visible and pending until the echo arrives
	req.NoError(err)
	req.Equal(domain.StatePending, msg.State)
	req.Equal([]string{"hello"}, dialer.last().sent)
	req.Empty(gateway.sentTo)

	timeline := c.Timeline("conv-a")
	req.Len(timeline, 1)
	req.Equal(domain.StatePending, timeline[0].State)
}

func TestCoordinator_Compose_Falls_Back_When_Channel_Send_Fails(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{sendErr: errors.ErrChannelClosed}
	c := newCoordinator(gateway, dialer, nil)
	req.NoError(c.Select(ctx, "conv-a"))

	msg, err := c.Compose(ctx, "hello")

	// Then the fallback delivered and the timeline holds exactly one
	// confirmed "hello", with no pending or failed leftovers
	req.NoError(err)
	req.Equal(domain.StateConfirmed, msg.State)
	timeline := c.Timeline("conv-a")
	req.Len(timeline, 1)
	req.Equal("hello", timeline[0].Content)
	req.Equal(domain.StateConfirmed, timeline[0].State)
}

func TestCoordinator_Compose_Marks_Failed_When_Both_Paths_Fail(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{sendErr: errors.ErrDeliveryFailed, histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{sendErr: errors.ErrChannelClosed}
	c := newCoordinator(gateway, dialer, nil)
	req.NoError(c.Select(ctx, "conv-a"))

	msg, err := c.Compose(ctx, "hello")

	// The failed entry stays visible and the content comes back so the
	// compose input can be restored for a retry
	req.ErrorIs(err, errors.ErrDeliveryFailed)
	req.Equal("hello", msg.Content)
	req.Equal(domain.StateFailed, msg.State)

	timeline := c.Timeline("conv-a")
	req.Len(timeline, 1)
	req.Equal(domain.StateFailed, timeline[0].State)
}

func TestCoordinator_Duplicate_Confirmation_And_Echo_Keep_One_Entry(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{sendMsg: domain.Message{ID: "srv-1"}, histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{sendErr: errors.ErrChannelClosed}
	c := newCoordinator(gateway, dialer, nil)
	req.NoError(c.Select(ctx, "conv-a"))

	// Given the fallback confirmed the send as srv-1
	_, err := c.Compose(ctx, "hello")
	req.NoError(err)

	// When the live echo for the same send arrives later
	c.apply(inbound("conv-a", "srv-1", self.UserID, "hello"))

	// Then exactly one entry exists for that identifier
	timeline := c.Timeline("conv-a")
	req.Len(timeline, 1)
	req.Equal("srv-1", timeline[0].ID)
}

func TestCoordinator_Echo_Resolves_Channel_Send(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{}
	c := newCoordinator(gateway, dialer, nil)
	req.NoError(c.Select(ctx, "conv-a"))

	// Given a channel send whose only confirmation is the echo
	_, err := c.Compose(ctx, "hello")
	req.NoError(err)

	// When the echo arrives
	c.apply(inbound("conv-a", "srv-9", self.UserID, "hello"))

	// Then the pending entry is settled in place, not duplicated
	timeline := c.Timeline("conv-a")
	req.Len(timeline, 1)
	req.Equal("srv-9", timeline[0].ID)
	req.Equal(domain.StateConfirmed, timeline[0].State)
}

func TestCoordinator_Unread_Increments_Only_For_Inactive_Conversations(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{list: twoConversations(), histories: map[string][]domain.Message{}}
	c := newCoordinator(gateway, &fakeDialer{}, nil)
	req.NoError(c.Refresh(ctx))
	req.NoError(c.Select(ctx, "conv-a"))

	// When messages arrive for the active and an inactive conversation
	c.apply(inbound("conv-a", "m1", "alice", "hi"))
	c.apply(inbound("conv-b", "m2", "bob", "hey"))

	conversations := c.Conversations()
	byID := map[string]domain.Conversation{}
	for _, conv := range conversations {
		byID[conv.ID] = conv
	}
	req.Zero(byID["conv-a"].UnreadCount)
	req.Equal(1, byID["conv-b"].UnreadCount)

	// And the bumped conversation moved to the front
	req.Equal("conv-b", conversations[0].ID)
}

func TestCoordinator_Own_Messages_Never_Increment_Unread(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{list: twoConversations(), histories: map[string][]domain.Message{}}
	c := newCoordinator(gateway, &fakeDialer{}, nil)
	req.NoError(c.Refresh(ctx))
	req.NoError(c.Select(ctx, "conv-a"))

	// A message authored by the local user for an inactive conversation
	c.apply(inbound("conv-b", "m1", self.UserID, "from another tab"))

	conv, ok := c.store.Get("conv-b")
	req.True(ok)
	req.Zero(conv.UnreadCount)
}

func TestCoordinator_Late_Fallback_Resolution_Targets_Origin_Conversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gate := make(chan struct{})
	gateway := &fakeGateway{sendGate: gate, histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{sendErr: errors.ErrChannelClosed}
	c := newCoordinator(gateway, dialer, nil)
	req.NoError(c.Select(ctx, "conv-a"))

	// Given a fallback send still in flight when the user navigates away
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Compose(ctx, "hello")
	}()

	req.Eventually(func() bool {
		return len(c.Timeline("conv-a")) == 1
	}, time.Second, 5*time.Millisecond)

	req.NoError(c.Select(ctx, "conv-b"))
	close(gate)
	<-done

	// Then the confirmation lands on conv-a's timeline, not the active one
	timelineA := c.Timeline("conv-a")
	req.Len(timelineA, 1)
	req.Equal(domain.StateConfirmed, timelineA[0].State)
	req.Empty(c.Timeline("conv-b"))
}

func TestCoordinator_Pump_Applies_Live_Events(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{list: twoConversations(), histories: map[string][]domain.Message{}}
	dialer := &fakeDialer{}
	c := newCoordinator(gateway, dialer, nil)
	req.NoError(c.Refresh(ctx))
	req.NoError(c.Select(ctx, "conv-a"))

	// When the live channel delivers a message event
	dialer.last().events <- inbound("conv-a", "m1", "alice", "hello there")

	req.Eventually(func() bool {
		timeline := c.Timeline("conv-a")
		return len(timeline) == 1 && timeline[0].ID == "m1"
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_Start_Registers_Without_Duplicate(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gateway := &fakeGateway{list: twoConversations(), histories: map[string][]domain.Message{}}
	c := newCoordinator(gateway, &fakeDialer{}, nil)
	req.NoError(c.Refresh(ctx))

	conv, err := c.Start(ctx, "clara")
	req.NoError(err)
	req.Equal("started-clara", conv.ID)

	list := c.Conversations()
	req.Len(list, 3)
	req.Equal("started-clara", list[0].ID)
}
