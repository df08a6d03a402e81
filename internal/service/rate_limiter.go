package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RequestLimiter limita cuantas peticiones al backend puede originar una sesion por ventana.
type RequestLimiter interface {
	Allow(ctx context.Context, key string) bool
}

const redisRequestAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisRequestLimiter struct {
	client redisEvaler
	window time.Duration
	limit  int
	prefix string
}

func NewRedisRequestLimiter(client *redis.Client, window time.Duration, limit int) RequestLimiter {
	if client == nil {
		return nil
	}
	return newRedisRequestLimiter(client, window, limit)
}

func newRedisRequestLimiter(client redisEvaler, window time.Duration, limit int) *redisRequestLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 1
	}
	return &redisRequestLimiter{
		client: client,
		window: window,
		limit:  limit,
		prefix: "session:rl:",
	}
}

// Allow falla abierto si Redis no responde.
func (l *redisRequestLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisRequestAllowScript, []string{l.prefix + normalizedKey}, seconds).Int()
	if err != nil {
		return true
	}
	return count <= l.limit
}

type windowCount struct {
	start time.Time
	count int
}

type memoryRequestLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	items  map[string]windowCount
	now    func() time.Time
}

// NewMemoryRequestLimiter usa ventanas fijas en memoria, igual que la variante Redis.
func NewMemoryRequestLimiter(window time.Duration, limit int) RequestLimiter {
	return newMemoryRequestLimiter(window, limit)
}

func newMemoryRequestLimiter(window time.Duration, limit int) *memoryRequestLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 1
	}
	return &memoryRequestLimiter{
		window: window,
		limit:  limit,
		items:  make(map[string]windowCount),
		now:    time.Now,
	}
}

func (l *memoryRequestLimiter) Allow(_ context.Context, key string) bool {
	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.items[normalizedKey]
	if !ok || now.Sub(w.start) >= l.window {
		w = windowCount{start: now}
	}
	w.count++
	l.items[normalizedKey] = w
	if len(l.items) > 1024 {
		l.sweep(now)
	}
	return w.count <= l.limit
}

func (l *memoryRequestLimiter) sweep(now time.Time) {
	for k, w := range l.items {
		if now.Sub(w.start) >= l.window {
			delete(l.items, k)
		}
	}
}
