// Package runtime orchestrates conversation sessions: channel lifecycle,
// send routing, and event application. It holds no domain rules of its own;
// ordering and deduplication live in the projection package.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"convo/auth"
	"convo/contract"
	"convo/domain"
	"convo/domain/event"
	"convo/errors"
	"convo/observability"
	"convo/projection"
)

// Coordinator is the single logical owner of the live delivery path.
// It guarantees at most one open channel system-wide in this client:
// switching the active conversation is a strict close-then-open sequence,
// never two channels overlapping, never an ad hoc flag.
type Coordinator struct {
	log     *slog.Logger
	gateway contract.Gateway
	dialer  contract.Dialer
	cache   contract.MessageCache
	stats   *observability.Stats
	self    auth.Identity

	// selectMu serializes conversation switches end to end, including the
	// network part, so close-then-open can never interleave.
	selectMu sync.Mutex

	mu        sync.Mutex
	store     *projection.Conversations
	timelines map[string]*projection.Timeline
	active    string
	channel   contract.Channel
	sinks     []contract.EventSink
}

// NewCoordinator wires the coordinator. cache may be nil when no local
// persistence is configured; everything else is required.
func NewCoordinator(log *slog.Logger, gateway contract.Gateway, dialer contract.Dialer,
	cache contract.MessageCache, stats *observability.Stats, self auth.Identity) *Coordinator {
	if stats == nil {
		stats = observability.NewStats()
	}
	return &Coordinator{
		log:       log,
		gateway:   gateway,
		dialer:    dialer,
		cache:     cache,
		stats:     stats,
		self:      self,
		store:     projection.NewConversations(),
		timelines: make(map[string]*projection.Timeline),
	}
}

// AddSink registers an observer of channel events. Fan-out is best effort:
// no delivery guarantee, no retries, side effects only (UI, logs, metrics).
// Must be called before the first Select.
func (c *Coordinator) AddSink(sinks ...contract.EventSink) {
	c.sinks = append(c.sinks, sinks...)
}

// Refresh reloads the conversation listing. A failure leaves the store
// untouched and surfaces as an empty-state condition to the caller, never
// as a crash.
func (c *Coordinator) Refresh(ctx context.Context) error {
	list, err := c.gateway.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	c.store.Replace(list)
	return nil
}

// Start opens (or reuses) a conversation with another user and registers it
// in the store without duplicating an existing entry.
func (c *Coordinator) Start(ctx context.Context, otherUserID string) (domain.Conversation, error) {
	conv, existing, err := c.gateway.StartConversation(ctx, otherUserID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("starting conversation: %w", err)
	}
	c.store.Start(conv, existing)
	return conv, nil
}

// Select makes conversationID the active one: it tears down any prior
// channel, replaces the timeline with fetched history, and opens a fresh
// channel. Selecting the already-active conversation with a healthy channel
// is a no-op; with a dead channel it is the recovery path and runs fully.
//
// A channel that cannot be established is not fatal: the conversation keeps
// working through the fallback path and can be reselected later.
func (c *Coordinator) Select(ctx context.Context, conversationID string) error {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	c.mu.Lock()
	if c.active == conversationID && c.channel != nil && c.channel.State() == contract.StateOpen {
		c.mu.Unlock()
		return nil
	}
	prior := c.channel
	c.channel = nil
	c.active = conversationID
	c.ensureTimeline(conversationID)
	c.mu.Unlock()

	// Close before open, unconditionally. In-flight fallback sends are
	// unaffected: their resolution targets a timeline keyed by conversation
	// identifier, not the active one.
	if prior != nil {
		prior.Close()
	}

	c.seedHistory(ctx, conversationID)
	c.store.ClearUnread(conversationID)

	ch, err := c.dialer.Open(ctx, conversationID)
	if err != nil {
		c.log.Warn("Live channel unavailable, falling back to request/response only",
			"conversation_id", conversationID, "error", err)
		return nil
	}

	c.mu.Lock()
	if c.active != conversationID {
		// The user switched again while we were dialing; this channel lost.
		c.mu.Unlock()
		ch.Close()
		return nil
	}
	c.channel = ch
	c.mu.Unlock()

	c.stats.IncrChannelsOpened()
	go c.pump(ch)
	return nil
}

// Compose validates and delivers a message to the active conversation.
//
// The pending entry is inserted before any network round trip so the author
// sees it immediately. Delivery then tries the open channel, falls back to
// the request/response path, and on total failure marks the entry failed
// and returns it together with the error so the caller can restore the
// compose input. The failed entry stays visible until retried or dismissed.
func (c *Coordinator) Compose(ctx context.Context, text string) (domain.Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return domain.Message{}, errors.ErrEmptyMessage
	}

	c.mu.Lock()
	conversationID := c.active
	if conversationID == "" {
		c.mu.Unlock()
		return domain.Message{}, errors.ErrUnknownConversation
	}
	ch := c.channel
	tl := c.ensureTimeline(conversationID)

	pending := domain.Message{
		LocalID:        uuid.NewString(),
		ConversationID: conversationID,
		Sender: domain.Participant{
			ID:          c.self.UserID,
			Username:    c.self.Username,
			DisplayName: c.self.DisplayName,
		},
		Type:      domain.TypeText,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		State:     domain.StatePending,
	}
	tl.AppendPending(pending)
	c.mu.Unlock()

	if ch != nil && ch.State() == contract.StateOpen {
		if err := ch.Send(ctx, content, c.self.UserID); err == nil {
			// No distinguishable ack exists; the echoed message event will
			// resolve the pending entry.
			c.stats.IncrChannelSends()
			c.store.Bump(conversationID, pending, false)
			return pending, nil
		}
		c.log.Debug("Channel send failed, retrying through fallback",
			"conversation_id", conversationID)
	}

	confirmed, err := c.gateway.SendMessage(ctx, conversationID, domain.TypeText, content)
	if err != nil {
		c.stats.IncrFailedSends()
		c.mu.Lock()
		tl.Fail(pending.LocalID)
		c.mu.Unlock()
		pending.State = domain.StateFailed
		return pending, fmt.Errorf("delivering message: %w", err)
	}

	c.stats.IncrFallbackSends()
	c.mu.Lock()
	tl.Resolve(pending.LocalID, confirmed)
	c.mu.Unlock()
	c.store.Bump(conversationID, confirmed, false)
	c.cacheput(confirmed)
	return confirmed, nil
}

// Dismiss drops a locally originated (typically failed) entry on explicit
// user request.
func (c *Coordinator) Dismiss(conversationID, localID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tl, ok := c.timelines[conversationID]; ok {
		tl.Dismiss(localID)
	}
}

// Conversations returns the store snapshot in most-recent-activity order.
func (c *Coordinator) Conversations() []domain.Conversation {
	return c.store.List()
}

// Timeline returns the merged, ordered snapshot of one conversation.
func (c *Coordinator) Timeline(conversationID string) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.timelines[conversationID]
	if !ok {
		return nil
	}
	return tl.Messages()
}

// Active returns the identifier of the active conversation, or "".
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Identity returns the local user identity, read-only.
func (c *Coordinator) Identity() auth.Identity {
	return c.self
}

// Stats returns a point-in-time view of the delivery counters.
func (c *Coordinator) Stats() observability.Snapshot {
	return c.stats.Snapshot()
}

// Close tears down the live channel, if any. Pending fallback sends keep
// resolving independently.
func (c *Coordinator) Close() {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.active = ""
	c.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// seedHistory replaces the timeline contents with fetched history; on a
// fetch failure it falls back to the local cache when one is configured,
// else leaves an empty timeline (the empty-state condition).
func (c *Coordinator) seedHistory(ctx context.Context, conversationID string) {
	history, err := c.gateway.GetMessages(ctx, conversationID)
	if err != nil {
		c.log.Warn("History fetch failed", "conversation_id", conversationID, "error", err)
		if c.cache != nil {
			if cached, cerr := c.cache.GetMessages(conversationID); cerr == nil {
				history = cached
			}
		}
	}

	c.mu.Lock()
	c.ensureTimeline(conversationID).Seed(history)
	c.mu.Unlock()

	if err == nil {
		for _, msg := range history {
			c.cacheput(msg)
		}
	}
}

// pump consumes one channel's events until it closes. There is exactly one
// pump per opened channel; it outlives deselection on purpose, since a late
// event still belongs to its own conversation's timeline.
func (c *Coordinator) pump(ch contract.Channel) {
	for evt := range ch.Events() {
		for _, sink := range c.sinks {
			_ = sink.Consume(context.Background(), evt)
		}
		switch e := evt.(type) {
		case event.MessageReceived:
			c.stats.IncrEventsReceived()
			c.apply(e)
		case event.ChannelClosed:
			c.stats.IncrChannelsClosed()
			c.mu.Lock()
			if c.channel == ch {
				c.channel = nil
			}
			c.mu.Unlock()
			if e.Err != nil {
				c.log.Warn("Live channel lost, reselect the conversation to recover",
					"conversation_id", e.Conversation, "error", e.Err)
			}
		}
	}
}

// apply merges one inbound message event. Events are keyed by conversation
// identifier, so an event arriving after the user navigated away still
// lands on the right timeline.
func (c *Coordinator) apply(e event.MessageReceived) {
	msg := e.Message
	own := msg.Sender.ID == c.self.UserID

	c.mu.Lock()
	tl := c.ensureTimeline(e.Conversation)
	isActive := c.active == e.Conversation
	switch {
	case tl.Contains(msg.ID):
		// Already arrived through the fallback confirmation race.
		c.mu.Unlock()
		return
	case own && tl.ResolveEcho(msg):
		// The echo of our own channel send settles the pending entry.
	default:
		tl.Append(msg)
	}
	c.mu.Unlock()

	c.store.Bump(e.Conversation, msg, !own && !isActive)
	c.cacheput(msg)
}

func (c *Coordinator) ensureTimeline(conversationID string) *projection.Timeline {
	tl, ok := c.timelines[conversationID]
	if !ok {
		tl = projection.NewTimeline()
		c.timelines[conversationID] = tl
	}
	return tl
}

func (c *Coordinator) cacheput(msg domain.Message) {
	if c.cache == nil || !msg.Confirmed() {
		return
	}
	if err := c.cache.StoreMessage(msg); err != nil {
		c.log.Debug("Cache write failed", "message_id", msg.ID, "error", err)
	}
}
