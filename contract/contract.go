//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"

	"convo/domain"
	"convo/domain/event"
)

// ChannelState is the lifecycle of a live channel.
// Open never transitions back to Connecting: a dropped connection is torn
// down and a fresh channel is created by its owner, because resumption
// semantics (missed-message backfill) are not guaranteed by the transport.
type ChannelState string

const (
	StateConnecting ChannelState = "connecting"
	StateOpen       ChannelState = "open"
	StateClosed     ChannelState = "closed"
)

// Channel is one persistent duplex connection bound to a single conversation.
// A channel has no buffered history: anything that happened before it opened
// is only recoverable through history retrieval.
type Channel interface {
	State() ChannelState
	// Events delivers inbound channel events until the channel closes,
	// at which point the stream ends with a ChannelClosed event.
	Events() <-chan event.ChannelEvent
	// Send pushes a text frame. A nil error is the only local send signal;
	// confirmation comes from the echoed message event or the fallback path.
	Send(ctx context.Context, content, senderID string) error
	Close()
}

// Dialer opens a channel bound to one conversation.
type Dialer interface {
	Open(ctx context.Context, conversationID string) (Channel, error)
}

// Gateway is the request/response collaborator surface: conversation listing,
// conversation start, history retrieval, and the fallback send.
type Gateway interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	// StartConversation returns the conversation and whether it already existed.
	StartConversation(ctx context.Context, otherUserID string) (domain.Conversation, bool, error)
	// GetMessages returns a conversation's history ordered oldest to newest.
	GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	// SendMessage performs a single request/response send and returns the
	// authoritative, server-confirmed message.
	SendMessage(ctx context.Context, conversationID string, msgType domain.MessageType, content string) (domain.Message, error)
}

// MessageCache persists confirmed messages locally so a timeline can still be
// seeded when history retrieval fails.
type MessageCache interface {
	StoreMessage(msg domain.Message) error
	GetMessages(conversationID string) ([]domain.Message, error)
}

// EventSink consumes channel events.
type EventSink interface {
	Consume(ctx context.Context, e event.ChannelEvent) error
}
