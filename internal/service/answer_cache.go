package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sarkari-sahayak/internal/domain"
)

// AnswerCache guarda respuestas de elegibilidad por perfil normalizado.
type AnswerCache interface {
	Get(ctx context.Context, profile domain.EligibilityProfile) (domain.Answer, bool, error)
	Set(ctx context.Context, profile domain.EligibilityProfile, answer domain.Answer) error
}

// ProfileKey es el sha256 del perfil en minusculas y sin espacios extremos.
func ProfileKey(p domain.EligibilityProfile) string {
	parts := []string{p.State, p.Caste, p.Gender, p.Occupation}
	for i, v := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(v))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

type cachedAnswer struct {
	answer  domain.Answer
	expires time.Time
}

type memoryAnswerCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]cachedAnswer
}

func NewMemoryAnswerCache(ttl time.Duration) AnswerCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &memoryAnswerCache{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cachedAnswer),
	}
}

func (c *memoryAnswerCache) Get(_ context.Context, profile domain.EligibilityProfile) (domain.Answer, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ProfileKey(profile)
	item, ok := c.items[key]
	if !ok {
		return domain.Answer{}, false, nil
	}
	if c.now().After(item.expires) {
		delete(c.items, key)
		return domain.Answer{}, false, nil
	}
	return item.answer, true, nil
}

func (c *memoryAnswerCache) Set(_ context.Context, profile domain.EligibilityProfile, answer domain.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[ProfileKey(profile)] = cachedAnswer{answer: answer, expires: c.now().Add(c.ttl)}
	return nil
}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type redisAnswerCache struct {
	client redisKV
	ttl    time.Duration
	prefix string
}

func NewRedisAnswerCache(client *redis.Client, ttl time.Duration) AnswerCache {
	if client == nil {
		return nil
	}
	return newRedisAnswerCache(client, ttl)
}

func newRedisAnswerCache(client redisKV, ttl time.Duration) *redisAnswerCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisAnswerCache{
		client: client,
		ttl:    ttl,
		prefix: "eligibility:answer:",
	}
}

func (c *redisAnswerCache) Get(ctx context.Context, profile domain.EligibilityProfile) (domain.Answer, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := c.client.Get(ctx, c.prefix+ProfileKey(profile)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, err
	}
	var answer domain.Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return domain.Answer{}, false, err
	}
	return answer, true, nil
}

func (c *redisAnswerCache) Set(ctx context.Context, profile domain.EligibilityProfile, answer domain.Answer) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return c.client.Set(ctx, c.prefix+ProfileKey(profile), payload, c.ttl).Err()
}
