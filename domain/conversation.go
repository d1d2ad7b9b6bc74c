package domain

// Conversation is a strictly two-participant messaging thread.
// Created when a user starts a chat or when listed from history,
// mutated when a message arrives or is sent, never deleted.
type Conversation struct {
	ID           string         `json:"id"`
	Participants [2]Participant `json:"participants"`
	LastMessage  *Message       `json:"last_message,omitempty"`
	UnreadCount  int            `json:"unread_count"`
}

// Other returns the peer participant from the local user's perspective.
// Falls back to the first participant when selfID is not part of the pair,
// mirroring the product behavior for self-conversations.
func (c Conversation) Other(selfID string) Participant {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p
		}
	}
	return c.Participants[0]
}

// Touch records msg as the most recent activity of the conversation.
func (c *Conversation) Touch(msg Message) {
	m := msg
	c.LastMessage = &m
}
