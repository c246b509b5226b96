// Package eventlog keeps a bounded in-memory ring of recent debug events that
// observers (the CLI --debug view, tests) can subscribe to.
package eventlog

import (
	"sync"
	"time"
)

const DefaultCapacity = 200

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Event struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  map[string]any
}

// Ring is a fixed-capacity event buffer. When full, the oldest event is dropped.
type Ring struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	nextID   int
	subs     map[int]func(Event)
	now      func() time.Time
}

func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		subs:     make(map[int]func(Event)),
		now:      time.Now,
	}
}

var (
	defaultOnce sync.Once
	defaultRing *Ring
)

// Default returns the process-wide ring.
func Default() *Ring {
	defaultOnce.Do(func() {
		defaultRing = New(DefaultCapacity)
	})
	return defaultRing
}

// Publish appends an event and fans it out to subscribers. Subscribers run
// outside the lock and must not block.
func (r *Ring) Publish(e Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	if len(r.events) == r.capacity {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, e)
	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Log is shorthand for publishing a message with alternating key/value fields.
func (r *Ring) Log(level Level, msg string, kv ...any) {
	var fields map[string]any
	if len(kv) > 0 {
		fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				fields[k] = kv[i+1]
			}
		}
	}
	r.Publish(Event{Level: level, Message: msg, Fields: fields})
}

// Subscribe registers fn for future events and returns a cancel function.
func (r *Ring) Subscribe(fn func(Event)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Snapshot returns the buffered events, oldest first.
func (r *Ring) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Ring) Clear() {
	r.mu.Lock()
	r.events = r.events[:0]
	r.mu.Unlock()
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
