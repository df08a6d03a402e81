package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sarkari-sahayak/internal/backend"
	"sarkari-sahayak/internal/domain"
)

type eventLog struct {
	mu     sync.Mutex
	events []RenderEvent
}

func (l *eventLog) Render(ev RenderEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []RenderKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RenderKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

type assistantFixture struct {
	assistant *Assistant
	gateway   *backend.MockGateway
	clock     *fakeClock
	events    *eventLog
}

func newAssistantFixture(t *testing.T, gw *backend.MockGateway, mutate func(*AssistantDeps)) *assistantFixture {
	t.Helper()
	clock := &fakeClock{}
	events := &eventLog{}
	deps := AssistantDeps{
		Gateway:   gw,
		Renderer:  events,
		Clock:     clock,
		Timing:    DefaultTiming(),
		Language:  "English",
		SessionID: "s1",
	}
	if mutate != nil {
		mutate(&deps)
	}
	a, err := NewAssistant(deps)
	if err != nil {
		t.Fatalf("new assistant: %v", err)
	}
	t.Cleanup(a.Close)
	return &assistantFixture{assistant: a, gateway: gw, clock: clock, events: events}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDelivered(t *testing.T, turn *Turn) {
	t.Helper()
	waitFor(t, "turn delivery", func() bool { return turn.State() != TurnPending })
}

func settle(t *testing.T, f *assistantFixture, reply Reply) domain.Message {
	t.Helper()
	waitDelivered(t, reply.Turn)
	f.clock.Advance(30 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := f.assistant.Await(ctx, reply)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return msg
}

func TestAssistant_ChatEndToEnd(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.StructuredAnswer(domain.AnswerFields{Answer: strPtr("PMAY gives housing support.")})}
	f := newAssistantFixture(t, gw, func(d *AssistantDeps) { d.Language = "Hindi" })

	reply, err := f.assistant.Ask(context.Background(), "What is PM Awas Yojana?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	msg := settle(t, f, reply)

	if len(gw.ChatCalls) != 1 {
		t.Fatalf("expected one chat call, got %d", len(gw.ChatCalls))
	}
	call := gw.ChatCalls[0]
	if call.Text != "What is PM Awas Yojana?" || call.Language != "Hindi" || call.SessionID != "s1" {
		t.Fatalf("unexpected chat call: %+v", call)
	}
	if msg.Answer == nil || msg.Answer.Summary != "PMAY gives housing support." || msg.Status != domain.MessageSettled {
		t.Fatalf("unexpected assistant message: %+v", msg)
	}

	transcript, _ := f.assistant.Transcript(context.Background())
	if len(transcript) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(transcript))
	}
	if transcript[0].Sender != domain.SenderUser || transcript[1].Sender != domain.SenderAssistant {
		t.Fatalf("unexpected senders: %s, %s", transcript[0].Sender, transcript[1].Sender)
	}

	kinds := f.events.kinds()
	if kinds[0] != RenderMessage || kinds[1] != RenderPending || kinds[len(kinds)-1] != RenderSettled {
		t.Fatalf("unexpected render sequence: %v", kinds)
	}
}

func TestAssistant_ChatFailureProducesApology(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"server", &backend.GatewayError{Kind: backend.KindServer, Op: backend.OpChat, StatusCode: 500}, "⚠️ Server error. Check connection."},
		{"unauthorized", &backend.GatewayError{Kind: backend.KindUnauthorized, Op: backend.OpChat, StatusCode: 401}, "⚠️ You are not authorized to use this service."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAssistantFixture(t, &backend.MockGateway{ChatErr: tc.err}, nil)
			reply, err := f.assistant.Ask(context.Background(), "hello")
			if err != nil {
				t.Fatalf("ask: %v", err)
			}
			msg := settle(t, f, reply)
			if msg.Text != tc.want || msg.Status != domain.MessageFailed {
				t.Fatalf("unexpected failure message: %q %s", msg.Text, msg.Status)
			}
		})
	}
}

func TestAssistant_EmptyMessageIsRejected(t *testing.T) {
	f := newAssistantFixture(t, &backend.MockGateway{}, nil)
	if _, err := f.assistant.Ask(context.Background(), "  "); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	transcript, _ := f.assistant.Transcript(context.Background())
	if len(transcript) != 0 {
		t.Fatalf("expected empty transcript")
	}
}

func TestAssistant_EligibilityValidationIsSynchronous(t *testing.T) {
	gw := &backend.MockGateway{}
	f := newAssistantFixture(t, gw, nil)
	profile := domain.EligibilityProfile{State: "Goa", Caste: "General", Occupation: "Farmer"}

	_, err := f.assistant.CheckEligibility(context.Background(), profile)
	var gwErr *backend.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != backend.KindValidation || gwErr.Field != "gender" {
		t.Fatalf("expected validation error on gender, got %v", err)
	}
	if _, _, eligibility := gw.Calls(); eligibility != 0 {
		t.Fatalf("expected no network call, got %d", eligibility)
	}
	transcript, _ := f.assistant.Transcript(context.Background())
	if len(transcript) != 0 {
		t.Fatalf("validation failure must not touch the transcript")
	}
}

func TestAssistant_EligibilityDefaultSummaryAndCache(t *testing.T) {
	gw := &backend.MockGateway{EligibilityAnswer: domain.StructuredAnswer(domain.AnswerFields{
		Schemes: []domain.RawScheme{{Name: "PM Kisan", Description: "Income support"}},
	})}
	f := newAssistantFixture(t, gw, func(d *AssistantDeps) { d.Cache = NewMemoryAnswerCache(time.Minute) })

	reply, err := f.assistant.CheckEligibility(context.Background(), testProfile)
	if err != nil {
		t.Fatalf("check eligibility: %v", err)
	}
	msg := settle(t, f, reply)
	if msg.Answer.Summary != "Based on your inputs, you are eligible for the following key schemes:" {
		t.Fatalf("expected default summary, got %q", msg.Answer.Summary)
	}
	if len(msg.Answer.Schemes) != 1 || msg.Answer.Schemes[0].Name != "PM Kisan" {
		t.Fatalf("unexpected schemes: %+v", msg.Answer.Schemes)
	}

	transcript, _ := f.assistant.Transcript(context.Background())
	if !strings.HasPrefix(transcript[0].Text, "Checking eligibility for: Farmer in Maharashtra") {
		t.Fatalf("unexpected user message %q", transcript[0].Text)
	}

	reply, err = f.assistant.CheckEligibility(context.Background(), testProfile)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	settle(t, f, reply)
	if _, _, eligibility := gw.Calls(); eligibility != 1 {
		t.Fatalf("expected cache hit to skip the network, got %d calls", eligibility)
	}
}

func TestAssistant_EligibilityFailureUsesFallbackSchemes(t *testing.T) {
	gw := &backend.MockGateway{EligibilityErr: &backend.GatewayError{Kind: backend.KindServer, Op: backend.OpEligibility, Exhausted: true, Attempts: 3}}
	f := newAssistantFixture(t, gw, nil)

	reply, err := f.assistant.CheckEligibility(context.Background(), testProfile)
	if err != nil {
		t.Fatalf("check eligibility: %v", err)
	}
	msg := settle(t, f, reply)
	if msg.Status != domain.MessageFailed || len(msg.Answer.Schemes) != 3 {
		t.Fatalf("expected fallback schemes, got %+v", msg)
	}
}

func TestAssistant_NewRequestSupersedesRevealingTurn(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("a fairly long answer")}
	f := newAssistantFixture(t, gw, nil)
	ctx := context.Background()

	r1, _ := f.assistant.Ask(ctx, "first")
	waitDelivered(t, r1.Turn)
	f.clock.Advance(60 * time.Millisecond)

	r2, err := f.assistant.Ask(ctx, "second")
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if r1.Turn.State() != TurnAborted {
		t.Fatalf("expected r1 aborted, got %s", r1.Turn.State())
	}
	if _, err := f.assistant.Await(ctx, r1); !errors.Is(err, ErrTurnAborted) {
		t.Fatalf("expected ErrTurnAborted for r1, got %v", err)
	}

	msg := settle(t, f, r2)
	if msg.TurnSeq != r2.Turn.Seq {
		t.Fatalf("expected r2 message, got seq %d", msg.TurnSeq)
	}
	transcript, _ := f.assistant.Transcript(ctx)
	assistants := 0
	for _, m := range transcript {
		if m.Sender == domain.SenderAssistant {
			assistants++
		}
	}
	if len(transcript) != 3 || assistants != 1 {
		t.Fatalf("expected two user messages and one answer, got %+v", transcript)
	}
}

func TestAssistant_LateResultOfSupersededTurnIsDiscarded(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("answer"), Block: make(chan struct{})}
	f := newAssistantFixture(t, gw, nil)
	ctx := context.Background()

	r1, _ := f.assistant.Ask(ctx, "first")
	r2, _ := f.assistant.Ask(ctx, "second")
	close(gw.Block)

	msg := settle(t, f, r2)
	if msg.TurnSeq != r2.Turn.Seq {
		t.Fatalf("expected only r2 committed, got seq %d", msg.TurnSeq)
	}
	if r1.Turn.State() != TurnAborted {
		t.Fatalf("expected r1 aborted, got %s", r1.Turn.State())
	}
	transcript, _ := f.assistant.Transcript(ctx)
	for _, m := range transcript {
		if m.Sender == domain.SenderAssistant && m.TurnSeq == r1.Turn.Seq {
			t.Fatalf("late r1 result was committed: %+v", m)
		}
	}
}

func TestAssistant_DeleteMidRevealAbortsTurn(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("streaming answer")}
	f := newAssistantFixture(t, gw, nil)
	ctx := context.Background()

	reply, _ := f.assistant.Ask(ctx, "hello")
	waitDelivered(t, reply.Turn)
	f.clock.Advance(40 * time.Millisecond)

	transcript, _ := f.assistant.Transcript(ctx)
	var revealing domain.Message
	for _, m := range transcript {
		if m.Status == domain.MessageRevealing {
			revealing = m
		}
	}
	if revealing.ID == "" || revealing.Text != "st" {
		t.Fatalf("expected revealing placeholder with partial text, got %+v", revealing)
	}

	if err := f.assistant.Delete(ctx, revealing.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if reply.Turn.State() != TurnAborted {
		t.Fatalf("expected aborted turn, got %s", reply.Turn.State())
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", f.clock.Pending())
	}
	transcript, _ = f.assistant.Transcript(ctx)
	if len(transcript) != 1 || transcript[0].Sender != domain.SenderUser {
		t.Fatalf("expected only the user message left, got %+v", transcript)
	}
}

func TestAssistant_MessageActions(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.StructuredAnswer(domain.AnswerFields{
		Answer: strPtr("Apply online"),
		Steps:  []string{"Register", "Upload documents"},
	})}
	f := newAssistantFixture(t, gw, nil)
	ctx := context.Background()

	reply, _ := f.assistant.Ask(ctx, "How do I apply for a ration card in Maharashtra?")
	answer := settle(t, f, reply)

	draft, err := f.assistant.ReplyDraft(ctx, reply.UserMessageID)
	if err != nil {
		t.Fatalf("reply draft: %v", err)
	}
	if draft != "> Replying to You: \"How do I apply for a ration ca...\"\n" {
		t.Fatalf("unexpected draft %q", draft)
	}
	draft, _ = f.assistant.ReplyDraft(ctx, answer.ID)
	if draft != "> Replying to Sahayak: \"[AI Response]\"\n" {
		t.Fatalf("unexpected assistant draft %q", draft)
	}

	msg, err := f.assistant.React(ctx, answer.ID, "👍")
	if err != nil || len(msg.Reactions) != 1 || msg.Reactions[0].Count != 1 {
		t.Fatalf("expected reaction added, got %+v %v", msg.Reactions, err)
	}
	msg, _ = f.assistant.React(ctx, answer.ID, "👍")
	if len(msg.Reactions) != 0 {
		t.Fatalf("expected reaction toggled off, got %+v", msg.Reactions)
	}

	text, _ := f.assistant.CopyText(ctx, answer.ID)
	if text != "Apply online\n1. Register\n2. Upload documents" {
		t.Fatalf("unexpected copy text %q", text)
	}
	share, _ := f.assistant.ShareText(ctx, answer.ID)
	if share != text {
		t.Fatalf("expected share text to match copy text")
	}

	if _, err := f.assistant.ReplyDraft(ctx, "missing"); err == nil {
		t.Fatalf("expected error for unknown message")
	}
}

func TestAssistant_ClearAbortsAndEmpties(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("answer")}
	f := newAssistantFixture(t, gw, nil)
	ctx := context.Background()

	reply, _ := f.assistant.Ask(ctx, "hello")
	waitDelivered(t, reply.Turn)
	if err := f.assistant.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if reply.Turn.State() != TurnAborted {
		t.Fatalf("expected aborted turn")
	}
	transcript, _ := f.assistant.Transcript(ctx)
	if len(transcript) != 0 || f.clock.Pending() != 0 {
		t.Fatalf("expected empty transcript and no timers")
	}
}

func TestAssistant_UploadDocument(t *testing.T) {
	gw := &backend.MockGateway{DocumentAnswer: domain.PlainTextAnswer("Name: Ravi Kumar")}
	f := newAssistantFixture(t, gw, nil)
	ctx := context.Background()

	if _, err := f.assistant.UploadDocument(ctx, "empty.png", nil, "image/png"); !errors.Is(err, backend.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, doc, _ := gw.Calls(); doc != 0 {
		t.Fatalf("expected no upload for invalid file")
	}

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	reply, err := f.assistant.UploadDocument(ctx, "aadhaar.png", png, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	msg := settle(t, f, reply)
	if msg.Text != "Name: Ravi Kumar" {
		t.Fatalf("unexpected analysis %q", msg.Text)
	}
	if len(gw.DocumentCalls) != 1 || gw.DocumentCalls[0].MimeType != "image/png" {
		t.Fatalf("unexpected document calls %+v", gw.DocumentCalls)
	}
	user, _ := f.assistant.Transcript(ctx)
	if user[0].Attachment == nil || user[0].Attachment.Name != "aadhaar.png" {
		t.Fatalf("expected attachment on user message, got %+v", user[0])
	}
}

func TestAssistant_AskNotification(t *testing.T) {
	gw := &backend.MockGateway{NotificationsErr: errors.New("offline"), ChatAnswer: domain.PlainTextAnswer("ok")}
	notifications := NewNotificationService(gw, time.Minute, nil)
	f := newAssistantFixture(t, gw, func(d *AssistantDeps) { d.Notifications = notifications })

	reply, err := f.assistant.AskNotification(context.Background(), "2")
	if err != nil {
		t.Fatalf("ask notification: %v", err)
	}
	settle(t, f, reply)
	if gw.ChatCalls[0].Text != "When is the next tax deadline?" {
		t.Fatalf("unexpected question %q", gw.ChatCalls[0].Text)
	}
	if _, err := f.assistant.AskNotification(context.Background(), "404"); !errors.Is(err, ErrUnknownNotification) {
		t.Fatalf("expected ErrUnknownNotification, got %v", err)
	}
}

func TestAssistant_AskFAQ(t *testing.T) {
	gw := &backend.MockGateway{ChatAnswer: domain.PlainTextAnswer("ok")}
	f := newAssistantFixture(t, gw, nil)

	reply, err := f.assistant.AskFAQ(context.Background(), " 2 ")
	if err != nil {
		t.Fatalf("ask faq: %v", err)
	}
	settle(t, f, reply)
	if len(gw.ChatCalls) != 1 || gw.ChatCalls[0].Text != "How can I apply for a voter ID?" {
		t.Fatalf("unexpected chat calls: %+v", gw.ChatCalls)
	}
	if _, err := f.assistant.AskFAQ(context.Background(), "9"); !errors.Is(err, ErrUnknownFAQ) {
		t.Fatalf("expected ErrUnknownFAQ, got %v", err)
	}
	if len(gw.ChatCalls) != 1 {
		t.Fatalf("unknown faq must not reach the backend, got %d calls", len(gw.ChatCalls))
	}
}

func TestFAQs_ReturnsCopy(t *testing.T) {
	list := FAQs()
	if len(list) != 3 {
		t.Fatalf("expected 3 faqs, got %d", len(list))
	}
	list[0].Question = "changed"
	if f, ok := FindFAQ("1"); !ok || f.Question != "What is Pradhan Mantri Awas Yojana?" {
		t.Fatalf("catalog was mutated through FAQs(): %+v", f)
	}
}

func TestAssistant_LanguageAndClose(t *testing.T) {
	f := newAssistantFixture(t, &backend.MockGateway{}, nil)
	if err := f.assistant.SetLanguage("klingon"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected unsupported language, got %v", err)
	}
	if err := f.assistant.SetLanguage("tamil"); err != nil || f.assistant.Session().Language != "Tamil" {
		t.Fatalf("expected Tamil, got %q %v", f.assistant.Session().Language, err)
	}

	f.assistant.Close()
	if _, err := f.assistant.Ask(context.Background(), "hello"); !errors.Is(err, ErrAssistantClosed) {
		t.Fatalf("expected ErrAssistantClosed, got %v", err)
	}
}

func TestNewAssistant_RequiresGateway(t *testing.T) {
	if _, err := NewAssistant(AssistantDeps{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
