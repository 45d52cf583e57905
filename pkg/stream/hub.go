package stream

import (
	"encoding/json"
	"sync"
	"time"
)

// Session lifecycle event types.
const (
	SessionInvalidated   = "session.invalidated"
	SessionAuthenticated = "session.authenticated"
	SessionLoggedOut     = "session.logged_out"
)

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

// Publisher is the narrow interface emitters depend on.
type Publisher interface {
	Publish(evt Event)
}

// Hub fans events out to synchronous listeners and buffered channel subscribers.
// Listeners run inline inside Publish, so a listener's side effects are complete
// before Publish returns. Channel delivery is best effort and drops on a full buffer.
type Hub struct {
	mu        sync.RWMutex
	subs      map[chan Event]struct{}
	listeners map[uint64]func(Event)
	nextID    uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}, listeners: map[uint64]func(Event){}}
}

func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

// Listen registers fn for every published event and returns a cancel func.
func (h *Hub) Listen(fn func(Event)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	// listeners may call back into the hub
	for _, fn := range fns {
		fn(evt)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
