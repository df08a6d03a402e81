package backend

import (
	"context"
	"sync"

	"sarkari-sahayak/internal/domain"
)

// MockGateway permite tests y demos sin llamar al backend real.
type MockGateway struct {
	mu sync.Mutex

	ChatAnswer        domain.RawAnswer
	ChatErr           error
	DocumentAnswer    domain.RawAnswer
	DocumentErr       error
	EligibilityAnswer domain.RawAnswer
	EligibilityErr    error
	Notifications     []domain.Notification
	NotificationsErr  error

	// Block, si no es nil, retiene cada llamada hasta que se cierre o llegue un valor.
	Block chan struct{}

	ChatCalls        []ChatCall
	DocumentCalls    []domain.Document
	EligibilityCalls []domain.EligibilityProfile
	NotificationHits int
}

// ChatCall registra los argumentos de SendChatMessage.
type ChatCall struct {
	Text      string
	Language  string
	SessionID string
}

func (m *MockGateway) SendChatMessage(ctx context.Context, text, language, sessionID string) (domain.RawAnswer, error) {
	m.mu.Lock()
	m.ChatCalls = append(m.ChatCalls, ChatCall{Text: text, Language: language, SessionID: sessionID})
	answer, err := m.ChatAnswer, m.ChatErr
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return domain.RawAnswer{}, err
	}
	return answer, err
}

func (m *MockGateway) AnalyzeDocument(ctx context.Context, doc domain.Document, sessionID, language string) (domain.RawAnswer, error) {
	m.mu.Lock()
	m.DocumentCalls = append(m.DocumentCalls, doc)
	answer, err := m.DocumentAnswer, m.DocumentErr
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return domain.RawAnswer{}, err
	}
	return answer, err
}

func (m *MockGateway) CheckEligibility(ctx context.Context, profile domain.EligibilityProfile) (domain.RawAnswer, error) {
	if field := profile.MissingField(); field != "" {
		return domain.RawAnswer{}, NewValidationError(OpEligibility, field)
	}
	m.mu.Lock()
	m.EligibilityCalls = append(m.EligibilityCalls, profile)
	answer, err := m.EligibilityAnswer, m.EligibilityErr
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return domain.RawAnswer{}, err
	}
	return answer, err
}

func (m *MockGateway) FetchNotifications(ctx context.Context) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NotificationHits++
	return m.Notifications, m.NotificationsErr
}

// Calls devuelve cuantas llamadas de chat, documento y elegibilidad se registraron.
func (m *MockGateway) Calls() (chat, document, eligibility int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatCalls), len(m.DocumentCalls), len(m.EligibilityCalls)
}

func (m *MockGateway) wait(ctx context.Context) error {
	if m.Block == nil {
		return nil
	}
	select {
	case <-m.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
