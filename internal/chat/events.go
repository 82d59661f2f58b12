package chat

import "sync"

// Unsubscribe detaches a handler registered with Emitter.On.
type Unsubscribe func()

// Emitter is a typed topic -> handler registry. Handlers receive the
// raw frame bytes for wire topics, or nil for lifecycle topics.
// Emit runs handlers synchronously on the caller's goroutine.
type Emitter struct {
	mu       sync.RWMutex
	next     int
	handlers map[string]map[int]func(data []byte)
}

func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[string]map[int]func(data []byte)),
	}
}

// On registers a handler for a topic and returns its unsubscribe
// handle. Unsubscribing twice is harmless.
func (e *Emitter) On(topic string, fn func(data []byte)) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handlers[topic]; !ok {
		e.handlers[topic] = make(map[int]func(data []byte))
	}
	id := e.next
	e.next++
	e.handlers[topic][id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if hs, ok := e.handlers[topic]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(e.handlers, topic)
			}
		}
	}
}

// Emit invokes every handler currently registered for the topic.
func (e *Emitter) Emit(topic string, data []byte) {
	e.mu.RLock()
	hs := make([]func(data []byte), 0, len(e.handlers[topic]))
	for _, fn := range e.handlers[topic] {
		hs = append(hs, fn)
	}
	e.mu.RUnlock()

	for _, fn := range hs {
		fn(data)
	}
}
