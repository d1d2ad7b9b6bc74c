// Package observability tracks delivery telemetry for the client.
package observability

import (
	"sync/atomic"
)

// Stats aggregates delivery counters. All methods are safe for concurrent
// use; counters are atomics so the hot paths never contend on a lock.
type Stats struct {
	channelSends   uint64
	fallbackSends  uint64
	failedSends    uint64
	eventsReceived uint64
	channelsOpened uint64
	channelsClosed uint64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) IncrChannelSends()   { atomic.AddUint64(&s.channelSends, 1) }
func (s *Stats) IncrFallbackSends()  { atomic.AddUint64(&s.fallbackSends, 1) }
func (s *Stats) IncrFailedSends()    { atomic.AddUint64(&s.failedSends, 1) }
func (s *Stats) IncrEventsReceived() { atomic.AddUint64(&s.eventsReceived, 1) }
func (s *Stats) IncrChannelsOpened() { atomic.AddUint64(&s.channelsOpened, 1) }
func (s *Stats) IncrChannelsClosed() { atomic.AddUint64(&s.channelsClosed, 1) }

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	ChannelSends   uint64 `json:"channel_sends"`
	FallbackSends  uint64 `json:"fallback_sends"`
	FailedSends    uint64 `json:"failed_sends"`
	EventsReceived uint64 `json:"events_received"`
	ChannelsOpened uint64 `json:"channels_opened"`
	ChannelsClosed uint64 `json:"channels_closed"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ChannelSends:   atomic.LoadUint64(&s.channelSends),
		FallbackSends:  atomic.LoadUint64(&s.fallbackSends),
		FailedSends:    atomic.LoadUint64(&s.failedSends),
		EventsReceived: atomic.LoadUint64(&s.eventsReceived),
		ChannelsOpened: atomic.LoadUint64(&s.channelsOpened),
		ChannelsClosed: atomic.LoadUint64(&s.channelsClosed),
	}
}
