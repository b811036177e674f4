package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventReceived       EventType = "event_received"
	EventFiltered       EventType = "event_filtered"
	EventStageDegraded  EventType = "stage_degraded"
	EventReplyPublished EventType = "reply_published"
	EventPipelineFailed EventType = "pipeline_failed"
)

type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	RequestID string            `json:"request_id,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	ThreadTS  string            `json:"thread_ts,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// PublishEvent is safe on a nil bus, which drops every event.
func (b *Bus) PublishEvent(ctx context.Context, event Event) bool {
	if b == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

func (b *Bus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextSubscriberID
	b.nextSubscriberID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if eventCh, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(eventCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
