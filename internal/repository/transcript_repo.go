package repository

import (
	"context"
	"errors"
	"sync"

	"sarkari-sahayak/internal/domain"
)

var ErrMessageNotFound = errors.New("message not found")

// TranscriptRepository guarda la conversacion de una sesion en orden de insercion.
type TranscriptRepository interface {
	Append(ctx context.Context, message domain.Message) error
	Update(ctx context.Context, id string, fn func(*domain.Message)) (domain.Message, error)
	Get(ctx context.Context, id string) (domain.Message, error)
	List(ctx context.Context) ([]domain.Message, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// MemoryTranscriptRepository vive lo que vive la sesion; no persiste nada.
type MemoryTranscriptRepository struct {
	mu       sync.RWMutex
	messages []domain.Message
	index    map[string]int
}

func NewMemoryTranscriptRepository() *MemoryTranscriptRepository {
	return &MemoryTranscriptRepository{index: make(map[string]int)}
}

func (r *MemoryTranscriptRepository) Append(ctx context.Context, message domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[message.ID]; ok {
		return errors.New("message already exists")
	}
	r.index[message.ID] = len(r.messages)
	r.messages = append(r.messages, cloneMessage(message))
	return nil
}

// Update aplica fn sobre el mensaje y devuelve la copia resultante.
func (r *MemoryTranscriptRepository) Update(ctx context.Context, id string, fn func(*domain.Message)) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return domain.Message{}, ErrMessageNotFound
	}
	fn(&r.messages[i])
	r.messages[i].ID = id
	return cloneMessage(r.messages[i]), nil
}

func (r *MemoryTranscriptRepository) Get(ctx context.Context, id string) (domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return domain.Message{}, ErrMessageNotFound
	}
	return cloneMessage(r.messages[i]), nil
}

func (r *MemoryTranscriptRepository) List(ctx context.Context) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (r *MemoryTranscriptRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return ErrMessageNotFound
	}
	r.messages = append(r.messages[:i], r.messages[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.messages); j++ {
		r.index[r.messages[j].ID] = j
	}
	return nil
}

func (r *MemoryTranscriptRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.index = make(map[string]int)
	return nil
}

func cloneMessage(m domain.Message) domain.Message {
	if m.Reactions != nil {
		m.Reactions = append([]domain.Reaction(nil), m.Reactions...)
	}
	return m
}
