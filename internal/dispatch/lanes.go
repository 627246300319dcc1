package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Lanes runs submitted work serially per key and concurrently across keys.
// A lane's goroutine exits once its queue drains.
type Lanes struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

type lane struct {
	queue []func()
}

// NewLanes caps the number of lanes executing at once (<= 0 = unlimited).
func NewLanes(maxConcurrent int) *Lanes {
	l := &Lanes{lanes: make(map[string]*lane)}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return l
}

// Submit queues fn behind earlier work for key. It reports false, and
// drops fn, once Close has been called.
func (l *Lanes) Submit(key string, fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if ln, ok := l.lanes[key]; ok {
		ln.queue = append(ln.queue, fn)
		l.mu.Unlock()
		return true
	}
	ln := &lane{queue: []func(){fn}}
	l.lanes[key] = ln
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(key, ln)
	return true
}

func (l *Lanes) run(key string, ln *lane) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(ln.queue) == 0 {
			delete(l.lanes, key)
			l.mu.Unlock()
			return
		}
		fn := ln.queue[0]
		ln.queue[0] = nil
		ln.queue = ln.queue[1:]
		l.mu.Unlock()

		if l.sem != nil {
			// Background context: Acquire only fails on cancellation.
			_ = l.sem.Acquire(context.Background(), 1)
		}
		fn()
		if l.sem != nil {
			l.sem.Release(1)
		}
	}
}

// Active returns the number of lanes with queued or running work.
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// Wait blocks until every lane has drained.
func (l *Lanes) Wait() {
	l.wg.Wait()
}

// Close refuses further submissions and waits for queued work to finish.
func (l *Lanes) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}
