package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sarkari-sahayak/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas de sesion.
func NewRouter(logger *zap.Logger, sessionH *SessionHandler, limiter service.RequestLimiter) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/notifications", sessionH.ListNotifications)
	r.GET("/faqs", sessionH.ListFAQs)

	r.POST("/session", sessionH.CreateSession)

	session := r.Group("/session/:id", SessionAuthMiddleware(sessionH.tokens))
	session.DELETE("", sessionH.CloseSession)

	// Rutas que generan llamadas al backend.
	limited := session.Group("", rateLimitMiddleware(limiter))
	limited.POST("/chat", sessionH.PostChat)
	limited.POST("/document", sessionH.PostDocument)
	limited.POST("/eligibility", sessionH.PostEligibility)
	limited.POST("/notifications/:nid", sessionH.AskNotification)
	limited.POST("/faqs/:fid", sessionH.AskFAQ)

	session.PUT("/language", sessionH.SetLanguage)
	session.GET("/transcript", sessionH.GetTranscript)
	session.DELETE("/transcript", sessionH.ClearTranscript)
	session.DELETE("/messages/:mid", sessionH.DeleteMessage)
	session.POST("/messages/:mid/reactions", sessionH.React)
	session.GET("/messages/:mid/reply", sessionH.ReplyDraft)
	session.GET("/events", sessionH.Events)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
