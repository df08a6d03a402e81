package http

import (
	"sync"

	"go.uber.org/zap"

	"sarkari-sahayak/internal/service"
)

const subscriberQueueSize = 256

// EventHub reparte los eventos de render a los suscriptores SSE de cada sesion.
// Render nunca bloquea: con la cola llena descarta el evento mas viejo.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	logger *zap.Logger
}

type subscriber struct {
	ch chan service.RenderEvent
}

func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{subs: make(map[string]map[*subscriber]struct{}), logger: logger}
}

// Subscribe devuelve el canal de eventos de la sesion y la funcion para darse de baja.
func (h *EventHub) Subscribe(sessionID string) (<-chan service.RenderEvent, func()) {
	sub := &subscriber{ch: make(chan service.RenderEvent, subscriberQueueSize)}
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], sub)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

func (h *EventHub) Render(ev service.RenderEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		h.logger.Warn("event queue full, dropping oldest", zap.String("session_id", ev.SessionID))
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribers devuelve cuantos suscriptores tiene la sesion.
func (h *EventHub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
