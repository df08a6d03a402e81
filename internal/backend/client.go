package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"sarkari-sahayak/internal/config"
	"sarkari-sahayak/internal/domain"
	"sarkari-sahayak/internal/retry"
)

const (
	DefaultBaseURL = "https://sarkari-sahayek-1.onrender.com/api"

	OpChat          = "chat"
	OpDocument      = "upload_document"
	OpEligibility   = "eligibility"
	OpNotifications = "notifications"

	maxResponseBytes = 4 << 20
)

// Gateway define las operaciones remotas del asistente.
type Gateway interface {
	SendChatMessage(ctx context.Context, text, language, sessionID string) (domain.RawAnswer, error)
	AnalyzeDocument(ctx context.Context, doc domain.Document, sessionID, language string) (domain.RawAnswer, error)
	CheckEligibility(ctx context.Context, profile domain.EligibilityProfile) (domain.RawAnswer, error)
	FetchNotifications(ctx context.Context) ([]domain.Notification, error)
}

// Policies agrupa la politica de reintentos de cada operacion.
type Policies struct {
	Chat          retry.Policy
	Document      retry.Policy
	Eligibility   retry.Policy
	Notifications retry.Policy
}

// DefaultPolicies: chat y documento un solo intento, elegibilidad 3, notificaciones 5.
func DefaultPolicies() Policies {
	base := retry.DefaultPolicy()
	return Policies{
		Chat:          base.WithMaxAttempts(1),
		Document:      base.WithMaxAttempts(1),
		Eligibility:   base.WithMaxAttempts(3),
		Notifications: base,
	}
}

// PoliciesFromConfig arma las politicas con los intentos y retardos configurados.
func PoliciesFromConfig(cfg *config.Config) Policies {
	base := retry.DefaultPolicy()
	base.BaseDelay = cfg.RetryBaseDelay
	base.Jitter = cfg.RetryJitter
	return Policies{
		Chat:          base.WithMaxAttempts(cfg.ChatMaxAttempts),
		Document:      base.WithMaxAttempts(cfg.DocumentMaxAttempts),
		Eligibility:   base.WithMaxAttempts(cfg.EligibilityMaxAttempts),
		Notifications: base.WithMaxAttempts(cfg.RetryMaxAttempts),
	}
}

// HTTPClient implementa Gateway contra el backend de Sarkari Sahayak.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	policies Policies
	logger   *zap.Logger
}

// NewHTTPClient construye un cliente HTTP apuntando a la API del backend.
func NewHTTPClient(baseURL string, timeout time.Duration, policies Policies, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		policies: policies,
		logger:   logger,
	}
}

func (c *HTTPClient) SendChatMessage(ctx context.Context, text, language, sessionID string) (domain.RawAnswer, error) {
	if strings.TrimSpace(text) == "" {
		return domain.RawAnswer{}, NewValidationError(OpChat, "message")
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.RawAnswer{}, NewValidationError(OpChat, "session_id")
	}

	body, err := json.Marshal(chatRequest{Message: text, Language: language, SessionID: sessionID})
	if err != nil {
		return domain.RawAnswer{}, fmt.Errorf("marshal request: %w", err)
	}
	return execute(ctx, c, OpChat, c.policies.Chat, func(ctx context.Context) (domain.RawAnswer, error) {
		respBody, err := c.do(ctx, OpChat, http.MethodPost, "/chat", "application/json", body)
		if err != nil {
			return domain.RawAnswer{}, err
		}
		return c.decodeAnswer(OpChat, respBody)
	})
}

func (c *HTTPClient) AnalyzeDocument(ctx context.Context, doc domain.Document, sessionID, language string) (domain.RawAnswer, error) {
	if len(doc.Data) == 0 {
		return domain.RawAnswer{}, NewValidationError(OpDocument, "file")
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.RawAnswer{}, NewValidationError(OpDocument, "session_id")
	}

	body, contentType, err := buildDocumentForm(doc, sessionID, language)
	if err != nil {
		return domain.RawAnswer{}, fmt.Errorf("build multipart form: %w", err)
	}
	return execute(ctx, c, OpDocument, c.policies.Document, func(ctx context.Context) (domain.RawAnswer, error) {
		respBody, err := c.do(ctx, OpDocument, http.MethodPost, "/upload_document", contentType, body)
		if err != nil {
			return domain.RawAnswer{}, err
		}
		return c.decodeAnswer(OpDocument, respBody)
	})
}

func (c *HTTPClient) CheckEligibility(ctx context.Context, profile domain.EligibilityProfile) (domain.RawAnswer, error) {
	if field := profile.MissingField(); field != "" {
		return domain.RawAnswer{}, NewValidationError(OpEligibility, field)
	}

	body, err := json.Marshal(profile)
	if err != nil {
		return domain.RawAnswer{}, fmt.Errorf("marshal request: %w", err)
	}
	return execute(ctx, c, OpEligibility, c.policies.Eligibility, func(ctx context.Context) (domain.RawAnswer, error) {
		respBody, err := c.do(ctx, OpEligibility, http.MethodPost, "/eligibility", "application/json", body)
		if err != nil {
			return domain.RawAnswer{}, err
		}
		return c.decodeAnswer(OpEligibility, respBody)
	})
}

func (c *HTTPClient) FetchNotifications(ctx context.Context) ([]domain.Notification, error) {
	return execute(ctx, c, OpNotifications, c.policies.Notifications, func(ctx context.Context) ([]domain.Notification, error) {
		respBody, err := c.do(ctx, OpNotifications, http.MethodGet, "/notifications", "", nil)
		if err != nil {
			return nil, err
		}
		items, err := decodeNotifications(respBody)
		if err != nil {
			return nil, &GatewayError{Kind: KindMalformed, Op: OpNotifications, Err: err}
		}
		return items, nil
	})
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &GatewayError{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &GatewayError{Kind: KindNetwork, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("backend error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", snippet(respBody)),
		)
		return nil, &GatewayError{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("http status %d", resp.StatusCode),
		}
	}
	return respBody, nil
}

func (c *HTTPClient) decodeAnswer(op string, body []byte) (domain.RawAnswer, error) {
	raw, err := DecodeRawAnswer(body)
	if err != nil {
		return domain.RawAnswer{}, &GatewayError{Kind: KindMalformed, Op: op, Err: err}
	}
	return raw, nil
}

// execute aplica la politica con clasificacion de errores y traduce el agotamiento
// de reintentos a un GatewayError con Exhausted.
func execute[T any](ctx context.Context, c *HTTPClient, op string, policy retry.Policy, call func(ctx context.Context) (T, error)) (T, error) {
	policy.Retryable = IsRetryable
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("backend retry scheduled",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	out, err := retry.Do(ctx, policy, call)
	if err == nil {
		return out, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		var gwErr *GatewayError
		if errors.As(exhausted.Err, &gwErr) {
			wrapped := *gwErr
			wrapped.Exhausted = true
			wrapped.Attempts = exhausted.Attempts
			return out, &wrapped
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			return out, &GatewayError{Kind: KindNetwork, Op: op, Err: err}
		}
	}
	return out, err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func buildDocumentForm(doc domain.Document, sessionID, language string) ([]byte, string, error) {
	name := doc.Name
	if strings.TrimSpace(name) == "" {
		name = "document"
	}
	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("session_id", sessionID); err != nil {
		return nil, "", err
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

type chatRequest struct {
	Message   string `json:"message"`
	Language  string `json:"language"`
	SessionID string `json:"session_id"`
}
