package service

import (
	"sync"
)

// AssistantFactory crea un Assistant para una sesion nueva.
type AssistantFactory func(language string) (*Assistant, error)

// AssistantRegistry mantiene las sesiones vivas del BFF.
type AssistantRegistry struct {
	mu      sync.RWMutex
	factory AssistantFactory
	items   map[string]*Assistant
}

func NewAssistantRegistry(factory AssistantFactory) *AssistantRegistry {
	return &AssistantRegistry{factory: factory, items: make(map[string]*Assistant)}
}

func (r *AssistantRegistry) Create(language string) (*Assistant, error) {
	if r == nil || r.factory == nil {
		return nil, ErrNotConfigured
	}
	a, err := r.factory(language)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.items[a.Session().ID] = a
	r.mu.Unlock()
	return a, nil
}

func (r *AssistantRegistry) Get(id string) (*Assistant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	return a, ok
}

// Remove cierra la sesion y la descarta.
func (r *AssistantRegistry) Remove(id string) bool {
	r.mu.Lock()
	a, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if ok {
		a.Close()
	}
	return ok
}

func (r *AssistantRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// CloseAll cierra todas las sesiones; se usa en el apagado del servidor.
func (r *AssistantRegistry) CloseAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*Assistant)
	r.mu.Unlock()
	for _, a := range items {
		a.Close()
	}
}
