package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sarkari-sahayak/internal/backend"
	"sarkari-sahayak/internal/config"
	"sarkari-sahayak/internal/document"
	"sarkari-sahayak/internal/domain"
	"sarkari-sahayak/internal/service"
)

const helpText = `Commands:
  /lang <language>         change response language
  /upload <path>           analyze a PDF or image
  /eligibility             check scheme eligibility
  /notifications           list latest notifications
  /ask <notification id>   ask about a notification
  /faq [n]                 list suggested questions or ask question n
  /transcript              show the conversation
  /react <n> <emoji>       toggle a reaction on message n
  /reply <n>               draft a reply quoting message n
  /copy <n>                copy text of message n
  /delete <n>              delete message n
  /clear                   clear the conversation
  /exit                    quit`

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	defer logger.Sync()

	gateway := backend.NewHTTPClient(cfg.BackendBaseURL, cfg.BackendTimeout, backend.PoliciesFromConfig(cfg), logger)

	notifications := service.NewNotificationService(gateway, cfg.NotificationInterval, logger)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go notifications.Run(runCtx)

	assistant, err := service.NewAssistant(service.AssistantDeps{
		Gateway:       gateway,
		Cache:         service.NewMemoryAnswerCache(cfg.EligibilityCacheTTL),
		Inspector:     document.NewInspector(cfg.MaxUploadBytes, logger),
		Notifications: notifications,
		Renderer:      service.RenderFunc(printEvent),
		Timing: service.Timing{
			CharInterval: cfg.RevealCharInterval,
			PerChar:      cfg.RevealPerChar,
			Minimum:      cfg.RevealMinimum,
			Buffer:       cfg.RevealBuffer,
		},
		Logger:   logger,
		Language: cfg.DefaultLanguage,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer assistant.Close()

	fmt.Println("===== Sarkari Sahayak =====")
	fmt.Printf("Session %s (%s). Type /help for commands.\n", assistant.Session().ID, assistant.Session().Language)

	for {
		fmt.Print("You > ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			reply, err := assistant.Ask(ctx, line)
			showReply(ctx, assistant, reply, err)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/help":
			fmt.Println(helpText)
		case "/exit", "/quit":
			return
		case "/lang":
			if err := assistant.SetLanguage(arg); err != nil {
				fmt.Printf("Supported languages: %s\n", strings.Join(service.Languages, ", "))
				continue
			}
			fmt.Printf("Language set to %s\n", assistant.Session().Language)
		case "/upload":
			data, err := os.ReadFile(arg)
			if err != nil {
				fmt.Printf("error reading file: %v\n", err)
				continue
			}
			reply, err := assistant.UploadDocument(ctx, arg, data, "")
			showReply(ctx, assistant, reply, err)
		case "/eligibility":
			profile := domain.EligibilityProfile{
				State:      prompt(reader, "State: "),
				Caste:      prompt(reader, "Caste category: "),
				Gender:     prompt(reader, "Gender: "),
				Occupation: prompt(reader, "Occupation: "),
			}
			reply, err := assistant.CheckEligibility(ctx, profile)
			showReply(ctx, assistant, reply, err)
		case "/notifications":
			items := notifications.Latest()
			if notifications.UsingFallback() {
				fmt.Println("(offline feed)")
			}
			for _, n := range items {
				fmt.Printf("[%s] %s (%s)\n", n.ID, n.Title, n.Time)
			}
		case "/ask":
			reply, err := assistant.AskNotification(ctx, arg)
			showReply(ctx, assistant, reply, err)
		case "/faq":
			if arg == "" {
				for _, f := range service.FAQs() {
					fmt.Printf("[%s] %s\n", f.ID, f.Question)
				}
				continue
			}
			reply, err := assistant.AskFAQ(ctx, arg)
			showReply(ctx, assistant, reply, err)
		case "/transcript":
			printTranscript(ctx, assistant)
		case "/react":
			ref, emoji, _ := strings.Cut(arg, " ")
			id, err := messageRef(ctx, assistant, ref)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if _, err := assistant.React(ctx, id, strings.TrimSpace(emoji)); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "/reply", "/copy", "/delete":
			id, err := messageRef(ctx, assistant, arg)
			if err != nil {
				fmt.Println(err)
				continue
			}
			messageAction(ctx, assistant, cmd, id)
		case "/clear":
			if err := assistant.Clear(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		default:
			fmt.Println("Unknown command. Type /help.")
		}
	}
}

func messageAction(ctx context.Context, a *service.Assistant, cmd, id string) {
	switch cmd {
	case "/reply":
		draft, err := a.ReplyDraft(ctx, id)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Print(draft)
	case "/copy":
		text, err := a.CopyText(ctx, id)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Println(text)
	case "/delete":
		if err := a.Delete(ctx, id); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

// showReply espera el turno y muestra la respuesta ya revelada.
func showReply(ctx context.Context, a *service.Assistant, reply service.Reply, err error) {
	if err != nil {
		var gwErr *backend.GatewayError
		if errors.As(err, &gwErr) && gwErr.Kind == backend.KindValidation {
			fmt.Printf("Please provide %s.\n", gwErr.Field)
			return
		}
		fmt.Printf("error: %v\n", err)
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	msg, err := a.Await(waitCtx, reply)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if msg.Answer == nil {
		fmt.Printf("Sahayak > %s\n", msg.Text)
		return
	}
	fmt.Printf("Sahayak > %s\n", service.FormatAnswerText(*msg.Answer))
}

func printEvent(ev service.RenderEvent) {
	if ev.Kind == service.RenderPending {
		fmt.Println("Sahayak is typing...")
	}
}

func printTranscript(ctx context.Context, a *service.Assistant) {
	msgs, err := a.Transcript(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for i, m := range msgs {
		who := "You"
		if m.Sender == domain.SenderAssistant {
			who = "Sahayak"
		}
		var reactions []string
		for _, r := range m.Reactions {
			reactions = append(reactions, fmt.Sprintf("%s %d", r.Emoji, r.Count))
		}
		fmt.Printf("[%d] %s: %s", i+1, who, m.Text)
		if len(reactions) > 0 {
			fmt.Printf("  (%s)", strings.Join(reactions, ", "))
		}
		fmt.Println()
	}
}

func messageRef(ctx context.Context, a *service.Assistant, ref string) (string, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(ref))
	if err != nil {
		return "", errors.New("usage: message number from /transcript")
	}
	msgs, err := a.Transcript(ctx)
	if err != nil {
		return "", err
	}
	if idx < 1 || idx > len(msgs) {
		return "", fmt.Errorf("no message %d", idx)
	}
	return msgs[idx-1].ID, nil
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
