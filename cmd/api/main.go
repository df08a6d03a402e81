package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sarkari-sahayak/internal/backend"
	"sarkari-sahayak/internal/config"
	"sarkari-sahayak/internal/document"
	apihttp "sarkari-sahayak/internal/http"
	"sarkari-sahayak/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	gateway := backend.NewHTTPClient(cfg.BackendBaseURL, cfg.BackendTimeout, backend.PoliciesFromConfig(cfg), logger)

	cache := service.NewMemoryAnswerCache(cfg.EligibilityCacheTTL)
	limiter := service.NewMemoryRequestLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory cache and limiter", zap.Error(err))
		} else {
			cache = service.NewRedisAnswerCache(redisClient, cfg.EligibilityCacheTTL)
			limiter = service.NewRedisRequestLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
		}
		cancel()
	}

	notifications := service.NewNotificationService(gateway, cfg.NotificationInterval, logger)
	go notifications.Run(ctx)

	inspector := document.NewInspector(cfg.MaxUploadBytes, logger)
	hub := apihttp.NewEventHub(logger)
	timing := service.Timing{
		CharInterval: cfg.RevealCharInterval,
		PerChar:      cfg.RevealPerChar,
		Minimum:      cfg.RevealMinimum,
		Buffer:       cfg.RevealBuffer,
	}
	language := cfg.DefaultLanguage

	registry := service.NewAssistantRegistry(func(lang string) (*service.Assistant, error) {
		if lang == "" {
			lang = language
		}
		return service.NewAssistant(service.AssistantDeps{
			Gateway:       gateway,
			Cache:         cache,
			Inspector:     inspector,
			Notifications: notifications,
			Renderer:      hub,
			Timing:        timing,
			Logger:        logger,
			Language:      lang,
		})
	})
	defer registry.CloseAll()

	tokens := service.NewSessionTokenService(cfg.SessionTokenSecret, cfg.SessionTokenTTL)
	if tokens == nil {
		logger.Warn("session token secret not configured, session routes are open")
	}

	sessionHandler := apihttp.NewSessionHandler(logger, registry, notifications, hub, tokens, cfg.MaxUploadBytes)
	router := apihttp.NewRouter(logger, sessionHandler, limiter)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("backend", cfg.BackendBaseURL),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped", zap.Int("open_sessions", registry.Len()))
}
