// Package events provides the broadcast bus that decouples the WebSocket
// pipeline and downloader from cache invalidation and the HTTP event stream.
// Delivery is fire-and-forget: no replay, and slow subscribers drop events
// rather than block publishers.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind identifies the event type
type Kind string

const (
	KindUserDataChanged      Kind = "user_data_changed"
	KindBatchUserDataChanged Kind = "batch_user_data_changed"
	KindLibraryChanged       Kind = "library_changed"
	KindServerRestarting     Kind = "server_restarting"
	KindServerShuttingDown   Kind = "server_shutting_down"
	KindPlayCommand          Kind = "play_command"
	KindPlaystateCommand     Kind = "playstate_command"

	KindDownloadQueued    Kind = "download_queued"
	KindDownloadProgress  Kind = "download_progress"
	KindDownloadCompleted Kind = "download_completed"
	KindDownloadFailed    Kind = "download_failed"

	KindSessionChanged Kind = "session_changed"
)

// Priority orders UI reaction, not delivery; the bus itself makes no
// ordering guarantee across kinds.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityImmediate
)

// Event is a single bus notification
type Event struct {
	Kind      Kind      `json:"kind"`
	Priority  Priority  `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
	ServerID  string    `json:"server_id,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// subscriber buffers delivery per consumer
type subscriber struct {
	ch chan Event
}

// Bus fans events out to all subscribers
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a consumer. The returned cancel function must be called
// to release the subscription; the channel is closed by cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, 32)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full, drop the event for that consumer
			log.Warn().Str("kind", string(event.Kind)).Msg("Event subscriber buffer full, dropping event")
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
