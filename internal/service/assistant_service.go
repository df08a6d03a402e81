package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sarkari-sahayak/internal/backend"
	"sarkari-sahayak/internal/document"
	"sarkari-sahayak/internal/domain"
	"sarkari-sahayak/internal/repository"
)

// ConversationSlot es el unico slot de conversacion: chat, documento y elegibilidad lo comparten.
const ConversationSlot = "conversation"

var (
	ErrAssistantClosed     = errors.New("assistant closed")
	ErrTurnAborted         = errors.New("turn aborted")
	ErrUnknownNotification = errors.New("unknown notification")
	ErrUnknownFAQ          = errors.New("unknown faq")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrNotConfigured       = errors.New("assistant not configured")
)

type RenderKind string

const (
	RenderMessage   RenderKind = "message"
	RenderPending   RenderKind = "pending"
	RenderRevealing RenderKind = "revealing"
	RenderSettled   RenderKind = "settled"
	RenderAborted   RenderKind = "aborted"
	RenderUpdated   RenderKind = "updated"
	RenderDeleted   RenderKind = "deleted"
	RenderCleared   RenderKind = "cleared"
)

// RenderEvent es lo que una vista externa necesita para dibujar la conversacion.
type RenderEvent struct {
	Kind      RenderKind      `json:"kind"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Partial   string          `json:"partial,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
}

// Renderer recibe eventos de render. Puede invocarse con locks internos tomados:
// no debe bloquear ni llamar de vuelta al Assistant.
type Renderer interface {
	Render(ev RenderEvent)
}

type RenderFunc func(ev RenderEvent)

func (f RenderFunc) Render(ev RenderEvent) { f(ev) }

// AssistantDeps agrupa los colaboradores de un Assistant. Solo Gateway es obligatorio.
type AssistantDeps struct {
	Gateway       backend.Gateway
	Transcript    repository.TranscriptRepository
	Cache         AnswerCache
	Inspector     *document.Inspector
	Notifications *NotificationService
	Renderer      Renderer
	Timing        Timing
	Clock         Clock
	Logger        *zap.Logger
	Language      string
	// SessionID fija el id de sesion; vacio genera un uuid.
	SessionID     string
}

// Reply identifica el turno despachado por una operacion.
type Reply struct {
	Turn          *Turn
	UserMessageID string
}

// Assistant orquesta una sesion: transcript, gateway, normalizacion y revelacion.
type Assistant struct {
	gateway       backend.Gateway
	normalizer    AnswerNormalizer
	transcript    repository.TranscriptRepository
	cache         AnswerCache
	inspector     *document.Inspector
	notifications *NotificationService
	renderer      Renderer
	logger        *zap.Logger
	seq           *Sequencer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	session      domain.Session
	closed       bool
	placeholders map[uint64]string
	outcomes     map[uint64]domain.MessageStatus
}

func NewAssistant(deps AssistantDeps) (*Assistant, error) {
	if deps.Gateway == nil {
		return nil, ErrNotConfigured
	}
	lang, ok := SupportedLanguage(deps.Language)
	if !ok {
		lang = DefaultLanguage
	}
	if deps.Transcript == nil {
		deps.Transcript = repository.NewMemoryTranscriptRepository()
	}
	if deps.Inspector == nil {
		deps.Inspector = document.NewInspector(0, deps.Logger)
	}
	if deps.Renderer == nil {
		deps.Renderer = RenderFunc(func(RenderEvent) {})
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Timing == (Timing{}) {
		deps.Timing = DefaultTiming()
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		deps.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Assistant{
		gateway:       deps.Gateway,
		normalizer:    NewAnswerNormalizer(),
		transcript:    deps.Transcript,
		cache:         deps.Cache,
		inspector:     deps.Inspector,
		notifications: deps.Notifications,
		renderer:      deps.Renderer,
		ctx:           ctx,
		cancel:        cancel,
		session: domain.Session{
			ID:        deps.SessionID,
			Language:  lang,
			CreatedAt: time.Now().UTC(),
		},
		placeholders: make(map[uint64]string),
		outcomes:     make(map[uint64]domain.MessageStatus),
	}
	a.logger = deps.Logger.With(zap.String("session_id", a.session.ID))
	a.seq = NewSequencer(assistantView{a: a}, deps.Timing, deps.Clock, a.logger)
	return a, nil
}

func (a *Assistant) Session() domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *Assistant) SetLanguage(lang string) error {
	normalized, ok := SupportedLanguage(lang)
	if !ok {
		return ErrUnsupportedLanguage
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session.Language = normalized
	return nil
}

// Ask envia un mensaje de chat. La respuesta llega de forma asincrona por el Renderer.
func (a *Assistant) Ask(ctx context.Context, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, backend.NewValidationError(backend.OpChat, "message")
	}
	session := a.Session()
	userMsg, err := a.appendUserMessage(ctx, text, nil)
	if err != nil {
		return Reply{}, err
	}
	return a.dispatch(userMsg.ID, func(ctx context.Context) (domain.Answer, domain.MessageStatus) {
		raw, err := a.gateway.SendChatMessage(ctx, text, session.Language, session.ID)
		if err != nil {
			a.logger.Warn("chat request failed", zap.Error(err))
			return a.failureAnswer(err, messagesFor(session.Language).ServerError, session.Language), domain.MessageFailed
		}
		return a.normalizer.Normalize(raw), domain.MessageSettled
	})
}

// AskNotification envia como chat la pregunta asociada a una notificacion.
func (a *Assistant) AskNotification(ctx context.Context, id string) (Reply, error) {
	if a.notifications == nil {
		return Reply{}, ErrUnknownNotification
	}
	n, ok := a.notifications.Find(id)
	if !ok {
		return Reply{}, ErrUnknownNotification
	}
	return a.Ask(ctx, n.Question)
}

// AskFAQ envia como chat una de las preguntas sugeridas.
func (a *Assistant) AskFAQ(ctx context.Context, id string) (Reply, error) {
	faq, ok := FindFAQ(id)
	if !ok {
		return Reply{}, ErrUnknownFAQ
	}
	return a.Ask(ctx, faq.Question)
}

// UploadDocument valida el archivo localmente y lo envia para analisis.
func (a *Assistant) UploadDocument(ctx context.Context, name string, data []byte, mimeType string) (Reply, error) {
	doc, err := a.inspector.Inspect(name, data, mimeType)
	if err != nil {
		return Reply{}, err
	}
	session := a.Session()
	attachment := &domain.Attachment{Name: doc.Name, MimeType: doc.MimeType, Size: len(doc.Data)}
	userMsg, err := a.appendUserMessage(ctx, "📄 "+doc.Name, attachment)
	if err != nil {
		return Reply{}, err
	}
	return a.dispatch(userMsg.ID, func(ctx context.Context) (domain.Answer, domain.MessageStatus) {
		raw, err := a.gateway.AnalyzeDocument(ctx, doc, session.ID, session.Language)
		if err != nil {
			a.logger.Warn("document analysis failed", zap.String("name", doc.Name), zap.Error(err))
			return a.failureAnswer(err, messagesFor(session.Language).UploadFailed, session.Language), domain.MessageFailed
		}
		return a.normalizer.Normalize(raw), domain.MessageSettled
	})
}

// CheckEligibility rechaza perfiles incompletos de forma sincrona, sin tocar la red.
func (a *Assistant) CheckEligibility(ctx context.Context, profile domain.EligibilityProfile) (Reply, error) {
	if field := profile.MissingField(); field != "" {
		return Reply{}, backend.NewValidationError(backend.OpEligibility, field)
	}
	session := a.Session()
	userMsg, err := a.appendUserMessage(ctx, eligibilityRequestText(profile), nil)
	if err != nil {
		return Reply{}, err
	}
	return a.dispatch(userMsg.ID, func(ctx context.Context) (domain.Answer, domain.MessageStatus) {
		answer, err := a.eligibilityAnswer(ctx, profile)
		if err != nil {
			a.logger.Warn("eligibility check failed, using fallback schemes", zap.Error(err))
			return eligibilityFallback(session.Language), domain.MessageFailed
		}
		if answer.Summary == "" {
			answer.Summary = messagesFor(session.Language).EligibilityIntro
		}
		return answer, domain.MessageSettled
	})
}

func (a *Assistant) eligibilityAnswer(ctx context.Context, profile domain.EligibilityProfile) (domain.Answer, error) {
	if a.cache != nil {
		cached, ok, err := a.cache.Get(ctx, profile)
		if err != nil {
			a.logger.Warn("eligibility cache read failed", zap.Error(err))
		}
		if ok {
			a.logger.Debug("eligibility cache hit")
			return cached, nil
		}
	}
	raw, err := a.gateway.CheckEligibility(ctx, profile)
	if err != nil {
		return domain.Answer{}, err
	}
	answer := a.normalizer.Normalize(raw)
	if a.cache != nil {
		if err := a.cache.Set(ctx, profile, answer); err != nil {
			a.logger.Warn("eligibility cache write failed", zap.Error(err))
		}
	}
	return answer, nil
}

func (a *Assistant) failureAnswer(err error, generic, lang string) domain.Answer {
	if errors.Is(err, backend.ErrUnauthorized) {
		return domain.Answer{Summary: messagesFor(lang).Unauthorized}
	}
	return domain.Answer{Summary: generic}
}

// Await espera a que el turno termine y devuelve el mensaje del asistente.
func (a *Assistant) Await(ctx context.Context, reply Reply) (domain.Message, error) {
	if reply.Turn == nil {
		return domain.Message{}, ErrTurnAborted
	}
	select {
	case <-reply.Turn.Done():
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
	if reply.Turn.State() != TurnSettled {
		return domain.Message{}, ErrTurnAborted
	}
	msgs, err := a.transcript.List(ctx)
	if err != nil {
		return domain.Message{}, err
	}
	for _, m := range msgs {
		if m.Sender == domain.SenderAssistant && m.TurnSeq == reply.Turn.Seq {
			return m, nil
		}
	}
	return domain.Message{}, repository.ErrMessageNotFound
}

func (a *Assistant) Transcript(ctx context.Context) ([]domain.Message, error) {
	return a.transcript.List(ctx)
}

// React alterna la reaccion emoji del mensaje.
func (a *Assistant) React(ctx context.Context, messageID, emoji string) (domain.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return domain.Message{}, backend.NewValidationError("react", "emoji")
	}
	msg, err := a.transcript.Update(ctx, messageID, func(m *domain.Message) {
		for i, r := range m.Reactions {
			if r.Emoji == emoji {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return
			}
		}
		m.Reactions = append(m.Reactions, domain.Reaction{Emoji: emoji, Count: 1})
	})
	if err != nil {
		return domain.Message{}, err
	}
	a.render(RenderEvent{Kind: RenderUpdated, MessageID: msg.ID, Message: &msg})
	return msg, nil
}

// ReplyDraft arma el texto inicial para responder a un mensaje.
func (a *Assistant) ReplyDraft(ctx context.Context, messageID string) (string, error) {
	msg, err := a.transcript.Get(ctx, messageID)
	if err != nil {
		return "", err
	}
	sender := "You"
	if msg.Sender == domain.SenderAssistant {
		sender = "Sahayak"
	}
	preview := "[AI Response]"
	if !hasStructuredContent(msg.Answer) {
		preview = truncateRunes(msg.Text, 30) + "..."
	}
	return `> Replying to ` + sender + `: "` + preview + `"` + "\n", nil
}

// CopyText devuelve el contenido completo del mensaje como texto plano.
func (a *Assistant) CopyText(ctx context.Context, messageID string) (string, error) {
	msg, err := a.transcript.Get(ctx, messageID)
	if err != nil {
		return "", err
	}
	if msg.Answer != nil {
		return FormatAnswerText(*msg.Answer), nil
	}
	return msg.Text, nil
}

// ShareText es como CopyText pero nunca vacio.
func (a *Assistant) ShareText(ctx context.Context, messageID string) (string, error) {
	text, err := a.CopyText(ctx, messageID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "AI response content", nil
	}
	return text, nil
}

// Delete borra un mensaje; si se esta revelando, aborta su turno primero.
func (a *Assistant) Delete(ctx context.Context, messageID string) error {
	msg, err := a.transcript.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Sender == domain.SenderAssistant && msg.Status == domain.MessageRevealing {
		if turn := a.seq.Active(ConversationSlot); turn != nil && turn.Seq == msg.TurnSeq {
			a.seq.Cancel(turn)
		}
	}
	if err := a.transcript.Delete(ctx, messageID); err != nil && !errors.Is(err, repository.ErrMessageNotFound) {
		return err
	}
	a.render(RenderEvent{Kind: RenderDeleted, MessageID: messageID})
	return nil
}

// Clear aborta el turno en curso y vacia el transcript.
func (a *Assistant) Clear(ctx context.Context) error {
	a.seq.Abort(ConversationSlot)
	if err := a.transcript.Clear(ctx); err != nil {
		return err
	}
	a.render(RenderEvent{Kind: RenderCleared})
	return nil
}

// Close cancela las solicitudes en vuelo, aborta los turnos y espera a las goroutines.
func (a *Assistant) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.seq.Close()
	a.wg.Wait()
	a.logger.Info("assistant session closed")
}

func (a *Assistant) appendUserMessage(ctx context.Context, text string, attachment *domain.Attachment) (domain.Message, error) {
	a.mu.Lock()
	closed := a.closed
	sessionID := a.session.ID
	a.mu.Unlock()
	if closed {
		return domain.Message{}, ErrAssistantClosed
	}

	msg := domain.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Sender:     domain.SenderUser,
		Text:       text,
		Attachment: attachment,
		Reactions:  []domain.Reaction{},
		Status:     domain.MessageSettled,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.transcript.Append(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	a.render(RenderEvent{Kind: RenderMessage, MessageID: msg.ID, Message: &msg})
	return msg, nil
}

type turnWork func(ctx context.Context) (domain.Answer, domain.MessageStatus)

func (a *Assistant) dispatch(userMessageID string, work turnWork) (Reply, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Reply{}, ErrAssistantClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	turn, err := a.seq.Dispatch(ConversationSlot)
	if err != nil {
		a.wg.Done()
		if errors.Is(err, ErrSequencerClosed) {
			return Reply{}, ErrAssistantClosed
		}
		return Reply{}, err
	}

	go func() {
		defer a.wg.Done()
		answer, status := work(a.ctx)

		a.mu.Lock()
		a.outcomes[turn.Seq] = status
		a.mu.Unlock()

		if !a.seq.Deliver(turn, answer) {
			a.mu.Lock()
			delete(a.outcomes, turn.Seq)
			a.mu.Unlock()
			a.logger.Debug("discarded superseded answer", zap.Uint64("seq", turn.Seq))
		}
	}()
	return Reply{Turn: turn, UserMessageID: userMessageID}, nil
}

func (a *Assistant) render(ev RenderEvent) {
	a.mu.Lock()
	ev.SessionID = a.session.ID
	a.mu.Unlock()
	a.renderer.Render(ev)
}

// assistantView conecta el Sequencer con el transcript. Corre con el lock del Sequencer.
type assistantView struct {
	a *Assistant
}

func (v assistantView) Pending(t *Turn) {
	v.a.render(RenderEvent{Kind: RenderPending, Seq: t.Seq})
}

func (v assistantView) Revealing(t *Turn, partial string) {
	a := v.a
	ctx := context.Background()

	a.mu.Lock()
	id, ok := a.placeholders[t.Seq]
	sessionID := a.session.ID
	a.mu.Unlock()

	if !ok {
		msg := domain.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Sender:    domain.SenderAssistant,
			Reactions: []domain.Reaction{},
			Status:    domain.MessageRevealing,
			TurnSeq:   t.Seq,
			CreatedAt: time.Now().UTC(),
		}
		if err := a.transcript.Append(ctx, msg); err != nil {
			a.logger.Error("append assistant placeholder", zap.Error(err))
			return
		}
		a.mu.Lock()
		a.placeholders[t.Seq] = msg.ID
		a.mu.Unlock()
		a.render(RenderEvent{Kind: RenderRevealing, Seq: t.Seq, MessageID: msg.ID, Message: &msg})
		return
	}

	if _, err := a.transcript.Update(ctx, id, func(m *domain.Message) { m.Text = partial }); err != nil {
		return
	}
	a.render(RenderEvent{Kind: RenderRevealing, Seq: t.Seq, MessageID: id, Partial: partial})
}

func (v assistantView) Settled(t *Turn, answer domain.Answer) {
	a := v.a
	ctx := context.Background()

	a.mu.Lock()
	id, hasPlaceholder := a.placeholders[t.Seq]
	status, ok := a.outcomes[t.Seq]
	delete(a.placeholders, t.Seq)
	delete(a.outcomes, t.Seq)
	sessionID := a.session.ID
	a.mu.Unlock()
	if !ok {
		status = domain.MessageSettled
	}

	final := answer
	var msg domain.Message
	var err error
	if hasPlaceholder {
		msg, err = a.transcript.Update(ctx, id, func(m *domain.Message) {
			m.Text = final.Summary
			m.Answer = &final
			m.Status = status
		})
	} else {
		msg = domain.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Sender:    domain.SenderAssistant,
			Text:      final.Summary,
			Answer:    &final,
			Reactions: []domain.Reaction{},
			Status:    status,
			TurnSeq:   t.Seq,
			CreatedAt: time.Now().UTC(),
		}
		err = a.transcript.Append(ctx, msg)
	}
	if err != nil {
		a.logger.Warn("commit settled answer", zap.Uint64("seq", t.Seq), zap.Error(err))
		return
	}
	a.render(RenderEvent{Kind: RenderSettled, Seq: t.Seq, MessageID: msg.ID, Message: &msg})
}

func (v assistantView) Aborted(t *Turn) {
	a := v.a

	a.mu.Lock()
	id, ok := a.placeholders[t.Seq]
	delete(a.placeholders, t.Seq)
	delete(a.outcomes, t.Seq)
	a.mu.Unlock()

	if ok {
		_ = a.transcript.Delete(context.Background(), id)
	}
	a.render(RenderEvent{Kind: RenderAborted, Seq: t.Seq, MessageID: id})
}

func hasStructuredContent(a *domain.Answer) bool {
	if a == nil {
		return false
	}
	return len(a.Steps) > 0 || len(a.Tables) > 0 || len(a.Links) > 0 || len(a.Schemes) > 0
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
