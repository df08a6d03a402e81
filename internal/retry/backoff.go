// Package retry ejecuta operaciones con reintentos y backoff exponencial con jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultJitter      = time.Second
)

// ErrInvalidAttempts se devuelve cuando MaxAttempts < 1.
var ErrInvalidAttempts = errors.New("retry: max attempts must be at least 1")

// Policy describe cuantas veces y con que espera se reintenta una operacion.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration

	// Retryable decide si un error merece otro intento. nil reintenta todo.
	Retryable func(error) bool
	// OnRetry se invoca antes de cada espera.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep y RandInt64N permiten tests deterministas.
	Sleep      func(ctx context.Context, d time.Duration) error
	RandInt64N func(n int64) int64
}

// DefaultPolicy es la politica generica: 5 intentos, base 1s, jitter hasta 1s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Jitter:      DefaultJitter,
	}
}

// WithMaxAttempts devuelve una copia con otro limite de intentos.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// Delay calcula la espera tras el intento fallido `attempt` (indice desde 0):
// 2^attempt * BaseDelay + uniforme en [0, Jitter).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay << uint(attempt)
	if p.Jitter > 0 {
		randN := p.RandInt64N
		if randN == nil {
			randN = rand.Int64N
		}
		d += time.Duration(randN(int64(p.Jitter)))
	}
	return d
}

// ExhaustedError envuelve el error del ultimo intento cuando se agotaron los reintentos.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do ejecuta op hasta MaxAttempts veces. Devuelve el primer exito sin mas intentos;
// un error no reintentable se devuelve tal cual y el fallo del ultimo intento se
// devuelve envuelto en *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, ErrInvalidAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts-1 {
			if p.MaxAttempts == 1 {
				return zero, err
			}
			return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: err}
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, ErrInvalidAttempts
}

// Execute es el atajo con la politica por defecto y un limite de intentos explicito.
func Execute[T any](ctx context.Context, op func(ctx context.Context) (T, error), maxRetries int) (T, error) {
	return Do(ctx, DefaultPolicy().WithMaxAttempts(maxRetries), op)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
