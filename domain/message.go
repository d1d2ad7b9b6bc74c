// Package domain contains core concepts of the conversation subsystem.
// This file defines Message entities and their delivery lifecycle.
// Messages are immutable once confirmed.
package domain

import (
	"time"
)

type MessageType string

const (
	TypeText MessageType = "text"
	// TypeImage is a placeholder for a future extension; the subsystem
	// carries it on the wire but attaches no payload handling to it.
	TypeImage MessageType = "image"
)

// DeliveryState is the lifecycle of a locally visible message entry.
// A three-state lifecycle (instead of an error-or-success boolean) keeps
// retries and in-place resolution representable.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateConfirmed DeliveryState = "confirmed"
	StateFailed    DeliveryState = "failed"
)

// Message represents one entry of a conversation timeline.
//
// ID is server-assigned and empty while the message is still optimistic;
// LocalID is the locally generated temporary identifier used to resolve an
// optimistic entry once its true server outcome is known.
type Message struct {
	ID             string        `json:"id,omitempty"`
	LocalID        string        `json:"local_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	Sender         Participant   `json:"sender"`
	Type           MessageType   `json:"message_type"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	State          DeliveryState `json:"state"`
}

// Confirmed reports whether the message carries a server identifier.
func (m Message) Confirmed() bool {
	return m.ID != "" && m.State == StateConfirmed
}

// Before defines the total order of a timeline: creation timestamp first,
// ties broken by server identifier.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
