package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sarkari-sahayak/internal/backend"
	"sarkari-sahayak/internal/domain"
	"sarkari-sahayak/internal/repository"
	"sarkari-sahayak/internal/service"
)

// SessionHandler expone cada Assistant de sesion sobre HTTP.
type SessionHandler struct {
	logger         *zap.Logger
	registry       *service.AssistantRegistry
	notifications  *service.NotificationService
	hub            *EventHub
	tokens         *service.SessionTokenService
	maxUploadBytes int64
}

func NewSessionHandler(
	logger *zap.Logger,
	registry *service.AssistantRegistry,
	notifications *service.NotificationService,
	hub *EventHub,
	tokens *service.SessionTokenService,
	maxUploadBytes int64,
) *SessionHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &SessionHandler{
		logger:         logger,
		registry:       registry,
		notifications:  notifications,
		hub:            hub,
		tokens:         tokens,
		maxUploadBytes: maxUploadBytes,
	}
}

// CreateSession maneja POST /session.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		Language string `json:"language"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Warn("invalid create session request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	if req.Language != "" {
		if _, ok := service.SupportedLanguage(req.Language); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported language", "languages": service.Languages})
			return
		}
	}

	a, err := h.registry.Create(req.Language)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	session := a.Session()
	if h.tokens == nil {
		c.JSON(http.StatusCreated, gin.H{"session": session})
		return
	}
	token, err := h.tokens.Issue(session.ID, session.Language)
	if err != nil {
		h.logger.Error("issue session token failed", zap.Error(err))
		h.registry.Remove(session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session":    session,
		"token":      token,
		"expires_in": int64(h.tokens.TTL().Seconds()),
	})
}

// CloseSession maneja DELETE /session/:id.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	if !h.registry.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// PostChat maneja POST /session/:id/chat. Con ?wait=true espera la respuesta final.
func (h *SessionHandler) PostChat(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	reply, err := a.Ask(c.Request.Context(), req.Message)
	h.respondTurn(c, a, reply, err)
}

// PostDocument maneja POST /session/:id/document (multipart, campo "file").
func (h *SessionHandler) PostDocument(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "field": "file"})
		return
	}
	if fh.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.logger.Warn("open uploaded file failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload"})
		return
	}

	reply, err := a.UploadDocument(c.Request.Context(), fh.Filename, data, fh.Header.Get("Content-Type"))
	h.respondTurn(c, a, reply, err)
}

// PostEligibility maneja POST /session/:id/eligibility.
func (h *SessionHandler) PostEligibility(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	var profile domain.EligibilityProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	reply, err := a.CheckEligibility(c.Request.Context(), profile)
	h.respondTurn(c, a, reply, err)
}

// AskNotification maneja POST /session/:id/notifications/:nid.
func (h *SessionHandler) AskNotification(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	reply, err := a.AskNotification(c.Request.Context(), c.Param("nid"))
	h.respondTurn(c, a, reply, err)
}

// AskFAQ maneja POST /session/:id/faqs/:fid.
func (h *SessionHandler) AskFAQ(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	reply, err := a.AskFAQ(c.Request.Context(), c.Param("fid"))
	h.respondTurn(c, a, reply, err)
}

// SetLanguage maneja PUT /session/:id/language.
func (h *SessionHandler) SetLanguage(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	var req struct {
		Language string `json:"language" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := a.SetLanguage(req.Language); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": a.Session()})
}

// GetTranscript maneja GET /session/:id/transcript.
func (h *SessionHandler) GetTranscript(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	msgs, err := a.Transcript(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// ClearTranscript maneja DELETE /session/:id/transcript.
func (h *SessionHandler) ClearTranscript(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	if err := a.Clear(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteMessage maneja DELETE /session/:id/messages/:mid.
func (h *SessionHandler) DeleteMessage(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	if err := a.Delete(c.Request.Context(), c.Param("mid")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// React maneja POST /session/:id/messages/:mid/reactions.
func (h *SessionHandler) React(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	msg, err := a.React(c.Request.Context(), c.Param("mid"), req.Emoji)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// ReplyDraft maneja GET /session/:id/messages/:mid/reply.
func (h *SessionHandler) ReplyDraft(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	draft, err := a.ReplyDraft(c.Request.Context(), c.Param("mid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	share, err := a.ShareText(c.Request.Context(), c.Param("mid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": draft, "share_text": share})
}

// Events maneja GET /session/:id/events como stream SSE de eventos de render.
func (h *SessionHandler) Events(c *gin.Context) {
	a, ok := h.assistant(c)
	if !ok {
		return
	}
	events, unsubscribe := h.hub.Subscribe(a.Session().ID)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// ListNotifications maneja GET /notifications.
func (h *SessionHandler) ListNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []domain.Notification{}, "fallback": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": h.notifications.Latest(),
		"fallback":      h.notifications.UsingFallback(),
	})
}

// ListFAQs maneja GET /faqs.
func (h *SessionHandler) ListFAQs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"faqs": service.FAQs()})
}

func (h *SessionHandler) respondTurn(c *gin.Context, a *service.Assistant, reply service.Reply, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	if c.Query("wait") == "true" {
		msg, err := a.Await(c.Request.Context(), reply)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_message_id": reply.UserMessageID, "message": msg})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"user_message_id": reply.UserMessageID, "seq": reply.Turn.Seq})
}

func (h *SessionHandler) assistant(c *gin.Context) (*service.Assistant, bool) {
	a, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return a, true
}

func (h *SessionHandler) writeError(c *gin.Context, err error) {
	var gwErr *backend.GatewayError
	switch {
	case errors.As(err, &gwErr) && gwErr.Kind == backend.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "field": gwErr.Field, "detail": gwErr.Error()})
	case errors.Is(err, repository.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, service.ErrUnknownNotification):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case errors.Is(err, service.ErrUnknownFAQ):
		c.JSON(http.StatusNotFound, gin.H{"error": "faq not found"})
	case errors.Is(err, service.ErrUnsupportedLanguage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported language", "languages": service.Languages})
	case errors.Is(err, service.ErrAssistantClosed):
		c.JSON(http.StatusGone, gin.H{"error": "session closed"})
	case errors.Is(err, service.ErrTurnAborted):
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
