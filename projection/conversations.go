package projection

import (
	"sync"

	"convo/domain"
)

// Conversations is the in-memory store of conversation summaries, ordered by
// most recent activity descending. New activity moves one entry to the front;
// unrelated entries keep their relative order.
type Conversations struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*domain.Conversation
}

func NewConversations() *Conversations {
	return &Conversations{
		byID: make(map[string]*domain.Conversation),
	}
}

// Replace swaps the whole store for a fresh listing, keeping the server's
// ordering.
func (c *Conversations) Replace(list []domain.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = make([]string, 0, len(list))
	c.byID = make(map[string]*domain.Conversation, len(list))
	for _, conv := range list {
		cp := conv
		c.order = append(c.order, conv.ID)
		c.byID[conv.ID] = &cp
	}
}

// List returns a snapshot in most-recent-activity order.
func (c *Conversations) List() []domain.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Conversation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.byID[id])
	}
	return out
}

// Get returns one conversation summary by identifier.
func (c *Conversations) Get(id string) (domain.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conv, ok := c.byID[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return *conv, true
}

// Start registers a conversation returned by the start endpoint. When the
// server flags it as already existing, the entry is reused in place instead
// of duplicated; otherwise it is prepended as the most recent one.
func (c *Conversations) Start(conv domain.Conversation, existing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, known := c.byID[conv.ID]; known && existing {
		cp := conv
		c.byID[conv.ID] = &cp
		return
	}
	cp := conv
	c.byID[conv.ID] = &cp
	if !c.contains(conv.ID) {
		c.order = append([]string{conv.ID}, c.order...)
	}
}

// Bump records new activity on a conversation: updates the last message,
// moves the entry to the front, and increments the unread counter when asked
// (a message not authored by the local user while the conversation is not
// the active one).
func (c *Conversations) Bump(id string, msg domain.Message, incrementUnread bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.byID[id]
	if !ok {
		return
	}
	conv.Touch(msg)
	if incrementUnread {
		conv.UnreadCount++
	}
	c.moveToFront(id)
}

// ClearUnread zeroes the unread counter, typically when the conversation
// becomes the active one.
func (c *Conversations) ClearUnread(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conv, ok := c.byID[id]; ok {
		conv.UnreadCount = 0
	}
}

func (c *Conversations) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Conversations) contains(id string) bool {
	for _, existing := range c.order {
		if existing == id {
			return true
		}
	}
	return false
}

func (c *Conversations) moveToFront(id string) {
	for i, existing := range c.order {
		if existing != id {
			continue
		}
		copy(c.order[1:i+1], c.order[:i])
		c.order[0] = id
		return
	}
	c.order = append([]string{id}, c.order...)
}
