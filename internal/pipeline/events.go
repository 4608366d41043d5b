package pipeline

import "sync"

// EventType identifies run progress events.
type EventType int

const (
	EventExtracted EventType = iota // data: Extracted
	EventExcluded                   // data: Excluded
	EventReduced                    // data: Reduced
	EventRanked                     // data: Ranked
)

// EventListener is called when an event occurs. Extraction events fire from
// worker goroutines.
type EventListener func(data interface{})

// Extracted reports one walnut's tensor.
type Extracted struct {
	ID     string
	Cached bool
	Angles int
}

// Excluded reports a walnut dropped from the corpus.
type Excluded struct {
	ID  string
	Err error
}

// Reduced reports the fitted corpus.
type Reduced struct {
	Walnuts int
	Dim     int
}

// Ranked reports the final ranking.
type Ranked struct {
	Pairs int
}

// Events holds registered listeners.
type Events struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
}

// On registers an event listener for the specified event type.
func (e *Events) On(event EventType, listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]EventListener)
	}
	e.listeners[event] = append(e.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (e *Events) Emit(event EventType, data interface{}) {
	e.mu.RLock()
	listeners := e.listeners[event]
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}
