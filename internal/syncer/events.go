package syncer

import (
	"context"
	"sync"
)

// Dispatcher fans sync pass results out to context-scoped subscribers. Sends
// never block; a slow subscriber drops results rather than stalling a pass.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Result
	nextID      int64
	bufferSize  int
}

// NewDispatcher constructs an empty result dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]chan Result),
		bufferSize:  16,
	}
}

// Subscribe registers a listener that receives every published pass result
// until the context ends or the cleanup function runs.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Result, func()) {
	d.mu.Lock()
	d.nextID++
	subscriberID := d.nextID
	stream := make(chan Result, d.bufferSize)
	d.subscribers[subscriberID] = stream
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, subscriberID)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers a pass result to every live subscriber.
func (d *Dispatcher) Publish(result Result) {
	d.mu.RLock()
	streams := make([]chan Result, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- result:
		default:
		}
	}
}
