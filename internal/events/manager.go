package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler is called for every event a subscriber is registered for.
type Handler func(EventWithData)

// Manager is an in-process fan-out event bus. Every workflow, job runner, and
// the drift observer emit through it; the HTTP admin surface and the
// notification dispatcher subscribe to it.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewManager creates an event Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type. Handlers run
// synchronously, in registration order, on the emitting goroutine.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// EmitTyped publishes a typed EventData value, deriving the EventType and
// timestamp automatically.
func (m *Manager) EmitTyped(module string, data EventData) {
	m.dispatch(EventWithData{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	})
}

// Emit publishes an untyped map payload, wrapped in GenericEventData. Used
// for ad-hoc diagnostic events that don't warrant a dedicated type.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	m.dispatch(EventWithData{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      &GenericEventData{Type: eventType, Data: data},
	})
}

func (m *Manager) dispatch(event EventWithData) {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[event.Type]...)
	m.mu.RUnlock()

	m.log.Debug().Str("event_type", string(event.Type)).Str("module", event.Module).Msg("event emitted")

	for _, h := range handlers {
		h(event)
	}
}
