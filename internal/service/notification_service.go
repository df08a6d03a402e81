package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sarkari-sahayak/internal/domain"
)

const DefaultNotificationInterval = 60 * time.Second

// fallbackNotifications se sirven cuando el feed no responde.
var fallbackNotifications = []domain.Notification{
	{ID: "1", Title: "New Scheme Alert: Digital India", Time: "2h ago", Question: "What is the new Digital India scheme?"},
	{ID: "2", Title: "Tax Deadline Approaching", Time: "1d ago", Question: "When is the next tax deadline?"},
	{ID: "3", Title: "Your passport renewal status is pending", Time: "3d ago", Question: "Check passport renewal status."},
}

type notificationFetcher interface {
	FetchNotifications(ctx context.Context) ([]domain.Notification, error)
}

// NotificationService consulta el feed periodicamente y guarda el ultimo resultado.
type NotificationService struct {
	fetcher  notificationFetcher
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	items    []domain.Notification
	fallback bool
}

func NewNotificationService(fetcher notificationFetcher, interval time.Duration, logger *zap.Logger) *NotificationService {
	if interval <= 0 {
		interval = DefaultNotificationInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{fetcher: fetcher, interval: interval, logger: logger}
}

// Refresh consulta el feed una vez; ante error deja el feed de respaldo.
func (s *NotificationService) Refresh(ctx context.Context) []domain.Notification {
	items, err := s.fetcher.FetchNotifications(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn("notifications fetch failed, using fallback feed", zap.Error(err))
		s.items = cloneNotifications(fallbackNotifications)
		s.fallback = true
	} else {
		s.items = cloneNotifications(items)
		s.fallback = false
	}
	return cloneNotifications(s.items)
}

// Run refresca de inmediato y luego cada intervalo hasta que ctx se cancele.
func (s *NotificationService) Run(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Latest devuelve el ultimo feed; antes del primer refresco, el de respaldo.
func (s *NotificationService) Latest() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.items == nil {
		return cloneNotifications(fallbackNotifications)
	}
	return cloneNotifications(s.items)
}

// UsingFallback indica si el ultimo refresco fallo.
func (s *NotificationService) UsingFallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items == nil || s.fallback
}

func (s *NotificationService) Find(id string) (domain.Notification, bool) {
	for _, n := range s.Latest() {
		if n.ID == id {
			return n, true
		}
	}
	return domain.Notification{}, false
}

func cloneNotifications(in []domain.Notification) []domain.Notification {
	out := make([]domain.Notification, len(in))
	copy(out, in)
	return out
}
