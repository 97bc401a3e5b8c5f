// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the conversation engine and the
// knowledge store to subscribers such as the MQTT forwarder or a CLI
// trace printer. The bus is nil-safe: calling Publish on a nil *Bus is
// a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceConversation identifies events from the per-turn engine.
	SourceConversation = "conversation"
	// SourceBrain identifies events from knowledge authoring.
	SourceBrain = "brain"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a turn.
	// Data: agent_id, session_id, stage, utterance_len.
	KindTurnStart = "turn_start"
	// KindExtraction reports what the extractor learned.
	// Data: session_id, source, accepted, rejected, confidence.
	KindExtraction = "extraction"
	// KindRetrieval reports the knowledge lookup for a turn.
	// Data: session_id, mode, items, topics, top_score.
	KindRetrieval = "retrieval"
	// KindTransition signals a stage change.
	// Data: session_id, from, to.
	KindTransition = "transition"
	// KindConfigError reports a workflow problem found at runtime.
	// Data: session_id, stage, error.
	KindConfigError = "config_error"
	// KindSummarized signals that older history was compressed.
	// Data: session_id, messages, summary_len.
	KindSummarized = "summarized"
	// KindTurnComplete signals the end of a committed turn.
	// Data: session_id, stage, model, tokens_in, tokens_out, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindTurnFailed signals a turn that was not committed.
	// Data: session_id, error.
	KindTurnFailed = "turn_failed"

	// KindKnowledgeAdded signals a new knowledge item.
	// Data: agent_id, id, topic.
	KindKnowledgeAdded = "knowledge_added"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event rather than block.
		}
	}
}

// Emit stamps and publishes an event built from its parts.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
