package event

import (
	"convo/domain"
)

// ChannelEvent is anything emitted by a live channel to its owner.
type ChannelEvent interface {
	ConversationID() string
}

// MessageReceived carries a fully formed, server-confirmed message that
// arrived over the live channel.
type MessageReceived struct {
	Conversation string
	Message      domain.Message
}

func (e MessageReceived) ConversationID() string {
	return e.Conversation
}

// ChannelClosed signals that the channel transitioned to closed.
// Err is nil on a deliberate close and non-nil on a transport error.
// The channel never reconnects on its own; the owner decides what follows.
type ChannelClosed struct {
	Conversation string
	Err          error
}

func (e ChannelClosed) ConversationID() string {
	return e.Conversation
}
