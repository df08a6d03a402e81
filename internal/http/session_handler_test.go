package http

import (
	"bufio"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sarkari-sahayak/internal/backend"
	"sarkari-sahayak/internal/domain"
	"sarkari-sahayak/internal/service"
)

type handlerFixture struct {
	router   *gin.Engine
	gateway  *backend.MockGateway
	registry *service.AssistantRegistry
	hub      *EventHub
}

func newHandlerFixture(t *testing.T, gw *backend.MockGateway) *handlerFixture {
	t.Helper()
	return newSecuredHandlerFixture(t, gw, nil, nil)
}

func newSecuredHandlerFixture(t *testing.T, gw *backend.MockGateway, tokens *service.SessionTokenService, limiter service.RequestLimiter) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	hub := NewEventHub(logger)
	notifications := service.NewNotificationService(gw, time.Minute, logger)
	fast := service.Timing{CharInterval: time.Millisecond, Minimum: time.Millisecond}

	var n int
	registry := service.NewAssistantRegistry(func(language string) (*service.Assistant, error) {
		n++
		return service.NewAssistant(service.AssistantDeps{
			Gateway:       gw,
			Notifications: notifications,
			Renderer:      hub,
			Timing:        fast,
			Logger:        logger,
			Language:      language,
			SessionID:     "session-" + string(rune('0'+n)),
		})
	})
	t.Cleanup(registry.CloseAll)

	h := NewSessionHandler(logger, registry, notifications, hub, tokens, 1<<20)
	return &handlerFixture{router: NewRouter(logger, h, limiter), gateway: gw, registry: registry, hub: hub}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) createSession(t *testing.T, language string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/session", map[string]string{"language": language})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Session domain.Session `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return resp.Session.ID
}

func TestSessionHandler_CreateSession(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{})

	id := f.createSession(t, "hindi")
	if id == "" {
		t.Fatalf("expected session id")
	}
	a, ok := f.registry.Get(id)
	if !ok {
		t.Fatalf("session not registered")
	}
	if a.Session().Language != "Hindi" {
		t.Fatalf("expected normalized language, got %q", a.Session().Language)
	}

	w := f.do(t, http.MethodPost, "/session", map[string]string{"language": "Klingon"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported language, got %d", w.Code)
	}
}

func TestSessionHandler_ChatWaitReturnsSettledMessage(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("Apply at the nearest ration office.")}
	f := newHandlerFixture(t, gw)
	id := f.createSession(t, "English")

	w := f.do(t, http.MethodPost, "/session/"+id+"/chat?wait=true", map[string]string{"message": "ration card?"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		UserMessageID string         `json:"user_message_id"`
		Message       domain.Message `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserMessageID == "" {
		t.Fatalf("expected user message id")
	}
	if resp.Message.Answer == nil || resp.Message.Answer.Summary != "Apply at the nearest ration office." {
		t.Fatalf("unexpected message: %+v", resp.Message)
	}

	w = f.do(t, http.MethodGet, "/session/"+id+"/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var transcript struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &transcript); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(transcript.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(transcript.Messages))
	}
}

func TestSessionHandler_ChatAcceptedWithoutWait(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("ok")})
	id := f.createSession(t, "")

	w := f.do(t, http.MethodPost, "/session/"+id+"/chat", map[string]string{"message": "hello"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"seq":1`) {
		t.Fatalf("expected first turn seq, got %s", w.Body.String())
	}
}

func TestSessionHandler_ValidationErrors(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{})
	id := f.createSession(t, "English")

	w := f.do(t, http.MethodPost, "/session/"+id+"/chat", map[string]string{"message": "   "})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"field":"message"`) {
		t.Fatalf("expected message validation error, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/session/"+id+"/eligibility", map[string]string{"state": "Bihar"})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"field":"caste"`) {
		t.Fatalf("expected caste validation error, got %d: %s", w.Code, w.Body.String())
	}
	if _, _, elig := f.gateway.Calls(); elig != 0 {
		t.Fatalf("expected no eligibility call, got %d", elig)
	}
}

func TestSessionHandler_UnknownSessionAndMessage(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{})

	w := f.do(t, http.MethodPost, "/session/nope/chat", map[string]string{"message": "hi"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", w.Code)
	}

	id := f.createSession(t, "English")
	w = f.do(t, http.MethodDelete, "/session/"+id+"/messages/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown message, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/session/"+id+"/notifications/99", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown notification, got %d", w.Code)
	}
}

func TestSessionHandler_ReactionsAndReplyDraft(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("Visit the portal.")})
	id := f.createSession(t, "English")

	w := f.do(t, http.MethodPost, "/session/"+id+"/chat?wait=true", map[string]string{"message": "How do I apply?"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		UserMessageID string `json:"user_message_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	w = f.do(t, http.MethodPost, "/session/"+id+"/messages/"+resp.UserMessageID+"/reactions", map[string]string{"emoji": "👍"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "👍") {
		t.Fatalf("expected reaction, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/session/"+id+"/messages/"+resp.UserMessageID+"/reply", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Replying to You") {
		t.Fatalf("expected reply draft, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodDelete, "/session/"+id+"/transcript", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestSessionHandler_UploadDocument(t *testing.T) {
	gw := &backend.MockGateway{DocumentAnswer: domain.PlainTextAnswer("This is an income certificate.")}
	f := newHandlerFixture(t, gw)
	id := f.createSession(t, "English")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="scan.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/session/"+id+"/document?wait=true", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, docs, _ := gw.Calls(); docs != 1 {
		t.Fatalf("expected one document call, got %d", docs)
	}
	if !strings.Contains(w.Body.String(), "income certificate") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSessionHandler_NotificationsAndLanguage(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("ok")})

	w := f.do(t, http.MethodGet, "/notifications", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"fallback":true`) {
		t.Fatalf("expected fallback feed, got %d: %s", w.Code, w.Body.String())
	}

	id := f.createSession(t, "English")
	w = f.do(t, http.MethodPut, "/session/"+id+"/language", map[string]string{"language": "tamil"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"language":"Tamil"`) {
		t.Fatalf("expected Tamil, got %d: %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPut, "/session/"+id+"/language", map[string]string{"language": "Latin"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/session/"+id+"/notifications/1?wait=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.gateway.ChatCalls) != 1 || f.gateway.ChatCalls[0].Language != "Tamil" {
		t.Fatalf("unexpected chat calls: %+v", f.gateway.ChatCalls)
	}
}

func TestSessionHandler_FAQs(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("ok")})

	w := f.do(t, http.MethodGet, "/faqs", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "How can I apply for a voter ID?") {
		t.Fatalf("expected faq list, got %d: %s", w.Code, w.Body.String())
	}

	id := f.createSession(t, "English")
	w = f.do(t, http.MethodPost, "/session/"+id+"/faqs/3?wait=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.gateway.ChatCalls) != 1 || f.gateway.ChatCalls[0].Text != "Tell me about income tax filing." {
		t.Fatalf("unexpected chat calls: %+v", f.gateway.ChatCalls)
	}

	w = f.do(t, http.MethodPost, "/session/"+id+"/faqs/42", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSessionHandler_CloseSession(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{})
	id := f.createSession(t, "English")

	if w := f.do(t, http.MethodDelete, "/session/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/session/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second close, got %d", w.Code)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestSessionHandler_EventsStream(t *testing.T) {
	f := newHandlerFixture(t, &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("hi")})
	id := f.createSession(t, "English")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/session/" + id + "/events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	chat, err := http.Post(srv.URL+"/session/"+id+"/chat", "application/json", strings.NewReader(`{"message":"hello"}`))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	chat.Body.Close()

	seen := make(chan []string, 1)
	go func() {
		var events []string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if name, ok := strings.CutPrefix(line, "event:"); ok {
				events = append(events, name)
				if name == string(service.RenderSettled) {
					break
				}
			}
		}
		seen <- events
	}()

	select {
	case events := <-seen:
		if len(events) < 3 || events[0] != string(service.RenderMessage) || events[1] != string(service.RenderPending) {
			t.Fatalf("unexpected event sequence: %v", events)
		}
		if events[len(events)-1] != string(service.RenderSettled) {
			t.Fatalf("expected settled last, got %v", events)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for settled event")
	}
}

func TestSessionHandler_SessionTokenRequired(t *testing.T) {
	tokens := service.NewSessionTokenService("secret", time.Hour)
	f := newSecuredHandlerFixture(t, &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("ok")}, tokens, nil)

	w := f.do(t, http.MethodPost, "/session", map[string]string{"language": "English"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var created struct {
		Session domain.Session `json:"session"`
		Token   string         `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Token == "" {
		t.Fatalf("expected session token")
	}
	other, err := tokens.Issue("someone-else", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	transcript := "/session/" + created.Session.ID + "/transcript"
	if w := f.do(t, http.MethodGet, transcript, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	for _, tc := range []struct {
		token string
		want  int
	}{
		{token: "garbage", want: http.StatusUnauthorized},
		{token: other, want: http.StatusForbidden},
		{token: created.Token, want: http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, transcript, nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("token %q: expected %d, got %d", tc.token, tc.want, rec.Code)
		}
	}

	if w := f.do(t, http.MethodGet, transcript+"?token="+created.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("expected query token to be accepted on GET, got %d", w.Code)
	}
}

func TestSessionHandler_RateLimitedBackendRoutes(t *testing.T) {
	limiter := service.NewMemoryRequestLimiter(time.Minute, 1)
	f := newSecuredHandlerFixture(t, &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("ok")}, nil, limiter)
	id := f.createSession(t, "English")

	if w := f.do(t, http.MethodPost, "/session/"+id+"/chat", map[string]string{"message": "one"}); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/session/"+id+"/chat", map[string]string{"message": "two"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/session/"+id+"/transcript", nil); w.Code != http.StatusOK {
		t.Fatalf("expected transcript to stay available, got %d", w.Code)
	}
}
