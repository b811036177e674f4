// Package bus fans pipeline lifecycle events out to in-process subscribers.
package bus

import (
	"sync"
)

const defaultBufferSize = 100

type Bus struct {
	subscribers      map[uint64]chan Event
	nextSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

// Close stops the bus and closes every subscription channel.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		for id, ch := range b.subscribers {
			close(ch)
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
	})
}
