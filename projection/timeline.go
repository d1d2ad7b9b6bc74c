// Package projection builds local views from observed events.
// Handles ordering, deduplication, and in-place resolution.
// Does not emit events or interact with transports directly.
package projection

import (
	"sort"

	"convo/domain"
)

// Timeline is one conversation's ordered, de-duplicated message sequence.
//
// Two producers write into it: the live channel and the fallback confirmation
// path. Dual-path delivery is modeled as a sorted container of confirmed
// entries keyed by server identifier, plus a side list of locally originated
// entries (pending, failed, or resolved in place), merged on read. The side
// list keeps its append order so resolving an optimistic entry never makes
// the sender's own messages jump around.
//
// Timeline is not safe for concurrent use; its owner serializes access.
type Timeline struct {
	confirmed []domain.Message
	byID      map[string]struct{}
	local     []domain.Message
}

func NewTimeline() *Timeline {
	return &Timeline{
		byID: make(map[string]struct{}),
	}
}

// Seed replaces the whole timeline with a fetched history, every entry
// confirmed. History retrieval is the source of truth for anything that
// happened before the live channel opened.
func (t *Timeline) Seed(messages []domain.Message) {
	t.confirmed = make([]domain.Message, 0, len(messages))
	t.byID = make(map[string]struct{}, len(messages))
	t.local = nil
	for _, msg := range messages {
		msg.State = domain.StateConfirmed
		t.insert(msg)
	}
}

// Append merges one server-confirmed message into the timeline.
// A message whose identifier is already present arrived through the other
// delivery path first and is ignored, whatever the arrival order was.
func (t *Timeline) Append(msg domain.Message) bool {
	if msg.ID != "" {
		if _, dup := t.byID[msg.ID]; dup {
			return false
		}
	}
	msg.State = domain.StateConfirmed
	t.insert(msg)
	return true
}

// Contains reports whether a confirmed entry with this server identifier
// already exists. Entries without a server identifier are never duplicates.
func (t *Timeline) Contains(serverID string) bool {
	if serverID == "" {
		return false
	}
	_, ok := t.byID[serverID]
	return ok
}

// AppendPending adds an optimistic entry with a local temporary identifier.
// It goes to the end of the visible sequence: a pending message sorts at or
// after everything its sender could see at send time.
func (t *Timeline) AppendPending(msg domain.Message) {
	msg.State = domain.StatePending
	t.local = append(t.local, msg)
}

// Resolve replaces the pending entry carrying localID with the confirmed
// message, in place, preserving its visible position. If the live echo won
// the race and the server identifier is already present, the optimistic
// entry is simply dropped so exactly one copy remains. If the entry is gone
// (a reseed replaced the timeline while the fallback was in flight), the
// confirmed message is merged as a regular append.
func (t *Timeline) Resolve(localID string, confirmed domain.Message) {
	confirmed.State = domain.StateConfirmed
	for i, msg := range t.local {
		if msg.LocalID != localID {
			continue
		}
		if t.Contains(confirmed.ID) {
			t.local = append(t.local[:i], t.local[i+1:]...)
			return
		}
		confirmed.LocalID = localID
		t.local[i] = confirmed
		if confirmed.ID != "" {
			t.byID[confirmed.ID] = struct{}{}
		}
		return
	}
	t.Append(confirmed)
}

// ResolveEcho tries to settle a pending entry with the live echo of its own
// send. The channel gives no acknowledgement distinguishable from a regular
// message event, so the oldest pending entry with the same sender and
// content is taken as the echo's origin. Returns false when nothing matched
// and the caller should treat the message as a regular arrival.
func (t *Timeline) ResolveEcho(msg domain.Message) bool {
	for _, candidate := range t.local {
		if candidate.State != domain.StatePending {
			continue
		}
		if candidate.Sender.ID != msg.Sender.ID || candidate.Content != msg.Content {
			continue
		}
		t.Resolve(candidate.LocalID, msg)
		return true
	}
	return false
}

// Fail marks the pending entry carrying localID as failed, in place.
// A failed entry is never auto-removed; it leaves the timeline only through
// a later successful retry or an explicit dismissal.
func (t *Timeline) Fail(localID string) {
	for i, msg := range t.local {
		if msg.LocalID == localID {
			t.local[i].State = domain.StateFailed
			return
		}
	}
}

// Dismiss removes a locally originated entry on explicit user request.
func (t *Timeline) Dismiss(localID string) {
	for i, msg := range t.local {
		if msg.LocalID == localID {
			t.local = append(t.local[:i], t.local[i+1:]...)
			return
		}
	}
}

// Messages returns the merged, ordered snapshot: confirmed entries by
// (timestamp, identifier), then locally originated entries in send order.
func (t *Timeline) Messages() []domain.Message {
	out := make([]domain.Message, 0, len(t.confirmed)+len(t.local))
	out = append(out, t.confirmed...)
	out = append(out, t.local...)
	return out
}

func (t *Timeline) Len() int {
	return len(t.confirmed) + len(t.local)
}

// insert places msg into the confirmed sequence in timestamp order,
// identifier as tie-breaker.
func (t *Timeline) insert(msg domain.Message) {
	at := sort.Search(len(t.confirmed), func(i int) bool {
		return msg.Before(t.confirmed[i])
	})
	t.confirmed = append(t.confirmed, domain.Message{})
	copy(t.confirmed[at+1:], t.confirmed[at:])
	t.confirmed[at] = msg
	if msg.ID != "" {
		t.byID[msg.ID] = struct{}{}
	}
}
