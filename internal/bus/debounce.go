package bus

import (
	"strings"
	"sync"
	"time"
)

// Debouncer merges rapid messages for the same key into one turn.
// Each key has at most one pending entry; a push before the window elapses
// appends to the buffer and restarts the timer.
type Debouncer struct {
	mu      sync.Mutex
	entries map[string]*debounceEntry
	stopped bool
}

type debounceEntry struct {
	parts []string
	timer *time.Timer
	gen   uint64
	flush func(string)
}

// NewDebouncer creates an empty debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{entries: make(map[string]*debounceEntry)}
}

// DebounceKey builds the per-conversation key. Conversation identifiers are
// only unique within an instance.
func DebounceKey(instance, remoteJID string) string {
	return instance + "|" + remoteJID
}

// Push adds content under key. With window <= 0, flush runs synchronously
// with content alone. Otherwise the merged buffer (space-joined) is passed
// to the most recently pushed flush once window elapses without another push.
func (d *Debouncer) Push(key, content string, window time.Duration, flush func(string)) {
	if window <= 0 {
		flush(content)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	e, ok := d.entries[key]
	if !ok {
		e = &debounceEntry{}
		d.entries[key] = e
	} else if e.timer != nil {
		e.timer.Stop()
	}
	e.parts = append(e.parts, content)
	e.flush = flush
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(window, func() { d.fire(key, gen) })
}

// fire delivers the buffer if gen is still the latest push for key.
// A timer that lost the race with Stop() or a newer Push observes a stale
// generation and does nothing.
func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.entries, key)
	content := strings.Join(e.parts, " ")
	flush := e.flush
	d.mu.Unlock()

	flush(content)
}

// Cancel drops the pending entry for key without flushing it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok {
		e.timer.Stop()
		delete(d.entries, key)
	}
}

// Pending returns the number of open windows.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stop cancels every pending timer. Buffered content is discarded and
// later pushes with a positive window are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, e := range d.entries {
		e.timer.Stop()
		delete(d.entries, key)
	}
}
