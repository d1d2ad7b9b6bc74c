// Package transport owns the live delivery path: one websocket connection
// bound to a single conversation. The channel reports state transitions and
// inbound message events to its owner and never reconnects on its own.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"convo/contract"
	"convo/domain"
	"convo/domain/event"
	"convo/errors"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8 * 1024
	eventBuffer  = 64
)

// Dialer opens channels against the /ws/chat/{id}/ endpoint.
type Dialer struct {
	BaseURL string
	log     *slog.Logger
	dialer  *websocket.Dialer
}

func NewDialer(baseURL string, log *slog.Logger) *Dialer {
	return &Dialer{
		BaseURL: baseURL,
		log:     log,
		dialer:  websocket.DefaultDialer,
	}
}

// Open establishes a channel bound to conversationID. On success the channel
// is already open and pumping events; on failure no channel exists at all,
// so there is never a half-connected channel to leak.
func (d *Dialer) Open(ctx context.Context, conversationID string) (contract.Channel, error) {
	c := &Channel{
		conversationID: conversationID,
		log:            d.log,
		state:          contract.StateConnecting,
		events:         make(chan event.ChannelEvent, eventBuffer),
		done:           make(chan struct{}),
	}

	endpoint := fmt.Sprintf("%s/ws/chat/%s/", d.BaseURL, conversationID)
	conn, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.state = contract.StateClosed
		return nil, fmt.Errorf("%w: %v", errors.ErrConnectionFailed, err)
	}

	c.conn = conn
	c.state = contract.StateOpen
	go c.readPump()
	go c.pingLoop()
	d.log.Debug("Channel opened", "conversation_id", conversationID)
	return c, nil
}

// inboundFrame is what the duplex endpoint delivers. The only event type is
// "message", carrying a fully formed, server-confirmed message description.
type inboundFrame struct {
	Type    string       `json:"type"`
	Message *wireMessage `json:"message"`
}

type wireMessage struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	MessageType    string    `json:"message_type"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// outboundFrame is the only frame the client sends: a text payload.
type outboundFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	SenderID string `json:"sender_id"`
}

// Channel is the live connection for one conversation.
//
// States move connecting -> open -> closed only. A drop is terminal: the
// owner must create a fresh channel, since nothing guarantees a resumed
// connection would backfill missed messages.
type Channel struct {
	conversationID string
	conn           *websocket.Conn
	log            *slog.Logger

	mu       sync.Mutex
	state    contract.ChannelState
	cause    error
	events   chan event.ChannelEvent
	done     chan struct{}
	doneOnce sync.Once
}

func (c *Channel) State() contract.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Events() <-chan event.ChannelEvent {
	return c.events
}

// Send pushes a text frame over the connection. The endpoint does not
// acknowledge sends; a nil return only means the frame left this client.
func (c *Channel) Send(ctx context.Context, content, senderID string) error {
	c.mu.Lock()
	if c.state != contract.StateOpen {
		c.mu.Unlock()
		return errors.ErrChannelNotOpen
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	err := c.conn.WriteJSON(outboundFrame{Type: "text", Content: content, SenderID: senderID})
	c.mu.Unlock()

	if err != nil {
		c.fail(fmt.Errorf("%w: %v", errors.ErrChannelClosed, err))
		return fmt.Errorf("%w: %v", errors.ErrChannelClosed, err)
	}
	return nil
}

// Close tears the channel down unconditionally. Safe to call more than once.
func (c *Channel) Close() {
	c.fail(nil)
}

// fail records the closing cause, flips the state, and kicks the read pump
// out of its blocking read. The pump is the single writer of the events
// channel, so it alone emits the final ChannelClosed and closes the stream.
func (c *Channel) fail(cause error) {
	c.mu.Lock()
	if c.state == contract.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = contract.StateClosed
	c.cause = cause
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
}

func (c *Channel) readPump() {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.finish(err)
			return
		}
		if frame.Type != "message" || frame.Message == nil {
			c.log.Debug("Ignoring unknown channel frame", "type", frame.Type)
			continue
		}
		select {
		case c.events <- event.MessageReceived{
			Conversation: c.conversationID,
			Message:      toMessage(*frame.Message, c.conversationID),
		}:
		case <-c.done:
			c.finish(nil)
			return
		}
	}
}

// finish emits the terminal ChannelClosed and ends the event stream.
// Runs exactly once, always from the read pump goroutine.
func (c *Channel) finish(readErr error) {
	c.mu.Lock()
	deliberate := c.state == contract.StateClosed && c.cause == nil
	cause := c.cause
	c.state = contract.StateClosed
	c.mu.Unlock()

	_ = c.conn.Close()
	c.doneOnce.Do(func() { close(c.done) })

	var err error
	switch {
	case deliberate:
		err = nil
	case cause != nil:
		err = cause
	default:
		err = fmt.Errorf("%w: %v", errors.ErrChannelClosed, readErr)
	}

	if err != nil {
		c.log.Warn("Channel closed on error", "conversation_id", c.conversationID, "error", err)
	}
	c.events <- event.ChannelClosed{Conversation: c.conversationID, Err: err}
	close(c.events)
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			open := c.state == contract.StateOpen
			c.mu.Unlock()
			if !open {
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.fail(fmt.Errorf("%w: %v", errors.ErrChannelClosed, err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func toMessage(w wireMessage, conversationID string) domain.Message {
	return domain.Message{
		ID:             w.ID,
		ConversationID: conversationID,
		Sender: domain.Participant{
			ID:          w.SenderID,
			Username:    w.SenderUsername,
			DisplayName: w.SenderUsername,
		},
		Type:      domain.MessageType(w.MessageType),
		Content:   w.Content,
		CreatedAt: w.CreatedAt,
		State:     domain.StateConfirmed,
	}
}
