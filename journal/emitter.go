package journal

import (
	"context"
	"sync"
)

// emitter fans appended entry IDs out to subscribers. Subscribers that are
// not ready to receive miss the notification; the next one carries a newer
// ID anyway.
type emitter struct {
	mu   sync.RWMutex
	subs map[uint64]chan uint64
	next uint64
	buf  int
}

func newEmitter(bufferPerSub int) *emitter {
	return &emitter{
		subs: make(map[uint64]chan uint64),
		buf:  bufferPerSub,
	}
}

func (e *emitter) subscribe(ctx context.Context) <-chan uint64 {
	ch := make(chan uint64, e.buf)

	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	context.AfterFunc(ctx, func() {
		e.mu.Lock()
		c, ok := e.subs[id]
		if ok {
			delete(e.subs, id)
		}
		e.mu.Unlock()
		if ok {
			close(c)
		}
	})

	return ch
}

func (e *emitter) emit(latestID uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.subs {
		select {
		case ch <- latestID:
		default:
		}
	}
}
