package stream

import "sync"

// loop serializes every supervisor event. The goroutine that finds the loop
// idle drains it, including events queued while draining; other goroutines
// only enqueue. Handlers may therefore call back into the supervisor without
// deadlocking, and no two handlers ever run at the same time.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (l *loop) dispatch(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		next()
	}
}
