package engine

import "sync"

// feed fans values out to subscribers. Slow subscribers miss values rather
// than stall the publisher.
type feed[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	closed bool
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{subs: make(map[chan T]struct{})}
}

// subscribe registers a buffered channel. The cancel func unregisters and
// closes it; it is safe to call more than once and after close.
func (f *feed[T]) subscribe(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
		})
	}
}

func (f *feed[T]) broadcast(value T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs {
		select {
		case ch <- value:
		default:
		}
	}
}

func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
