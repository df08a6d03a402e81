package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind clasifica los fallos del gateway para que el caller pueda ramificar.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNetwork
	KindUnauthorized
	KindClient
	KindServer
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindNetwork:
		return "network error"
	case KindUnauthorized:
		return "unauthorized"
	case KindClient:
		return "client error"
	case KindServer:
		return "server error"
	case KindMalformed:
		return "malformed response"
	default:
		return "unknown error"
	}
}

var (
	ErrValidation   = errors.New("backend: validation error")
	ErrNetwork      = errors.New("backend: network error")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrClient       = errors.New("backend: client error")
	ErrServer       = errors.New("backend: server error")
	ErrMalformed    = errors.New("backend: malformed response")
	// ErrUnavailable marca un fallo tras agotar todos los reintentos.
	ErrUnavailable = errors.New("backend: unavailable")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:   ErrValidation,
	KindNetwork:      ErrNetwork,
	KindUnauthorized: ErrUnauthorized,
	KindClient:       ErrClient,
	KindServer:       ErrServer,
	KindMalformed:    ErrMalformed,
}

// GatewayError es el error tipado de todas las operaciones del gateway.
type GatewayError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Field      string
	Attempts   int
	Exhausted  bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Kind == KindValidation {
		if e.Err != nil {
			return fmt.Sprintf("%s: invalid field %q: %v", e.Op, e.Field, e.Err)
		}
		return fmt.Sprintf("%s: missing required field %q", e.Op, e.Field)
	}
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Exhausted {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	if target == ErrUnavailable {
		return e.Exhausted
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// NewValidationError construye el error de campo requerido ausente.
func NewValidationError(op, field string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Op: op, Field: field}
}

// KindOf devuelve la clasificacion de err, o 0 si no es un GatewayError.
func KindOf(err error) ErrorKind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return 0
}

// IsRetryable solo acepta fallos que otro intento puede arreglar: red, 5xx, 408 y 429.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	switch gwErr.Kind {
	case KindNetwork, KindServer:
		return true
	case KindClient:
		return gwErr.StatusCode == http.StatusRequestTimeout || gwErr.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case code >= 500:
		return KindServer
	default:
		return KindClient
	}
}
