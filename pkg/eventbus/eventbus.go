package eventbus

import (
	"reflect"
	"sync"
)

// Handler is a function that handles an event
type Handler func(event any)

// EventBus provides in-process pub/sub keyed on the event's concrete type.
// Pointer and value forms of the same struct reach the same subscribers; the
// handler always receives the value form.
type EventBus struct {
	handlers map[reflect.Type][]Handler
	mu       sync.RWMutex
	inflight sync.WaitGroup
}

// New creates a new EventBus
func New() *EventBus {
	return &EventBus{
		handlers: make(map[reflect.Type][]Handler),
	}
}

// Subscribe registers a handler for the type of eventType (value or pointer).
func (e *EventBus) Subscribe(eventType any, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := baseType(eventType)
	e.handlers[t] = append(e.handlers[t], handler)
}

// Publish delivers an event to every subscriber on its own goroutine.
func (e *EventBus) Publish(event any) {
	if event == nil {
		return
	}
	value, handlers := e.lookup(event)
	for _, handler := range handlers {
		e.inflight.Add(1)
		go func(h Handler) {
			defer e.inflight.Done()
			h(value)
		}(handler)
	}
}

// PublishSync publishes an event synchronously to all subscribers
func (e *EventBus) PublishSync(event any) {
	if event == nil {
		return
	}
	value, handlers := e.lookup(event)
	for _, handler := range handlers {
		handler(value)
	}
}

// Wait blocks until every asynchronously delivered event has been handled.
func (e *EventBus) Wait() {
	e.inflight.Wait()
}

// HasSubscribers returns true if there are subscribers for the event type
func (e *EventBus) HasSubscribers(eventType any) bool {
	return e.SubscriberCount(eventType) > 0
}

// SubscriberCount returns the number of subscribers for an event type
func (e *EventBus) SubscriberCount(eventType any) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[baseType(eventType)])
}

func (e *EventBus) lookup(event any) (any, []Handler) {
	v := reflect.ValueOf(event)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	handlers := e.handlers[v.Type()]
	out := make([]Handler, len(handlers))
	copy(out, handlers)
	return v.Interface(), out
}

func baseType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}
