package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del cliente y del BFF.
type Config struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	BackendBaseURL  string        `env:"BACKEND_BASE_URL" envDefault:"https://sarkari-sahayek-1.onrender.com/api"`
	BackendTimeout  time.Duration `env:"BACKEND_TIMEOUT" envDefault:"60s"`
	DefaultLanguage string        `env:"DEFAULT_LANGUAGE" envDefault:"English"`

	RetryMaxAttempts       int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay         time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	RetryJitter            time.Duration `env:"RETRY_JITTER" envDefault:"1s"`
	ChatMaxAttempts        int           `env:"CHAT_MAX_ATTEMPTS" envDefault:"1"`
	DocumentMaxAttempts    int           `env:"DOCUMENT_MAX_ATTEMPTS" envDefault:"1"`
	EligibilityMaxAttempts int           `env:"ELIGIBILITY_MAX_ATTEMPTS" envDefault:"3"`

	RevealCharInterval time.Duration `env:"REVEAL_CHAR_INTERVAL" envDefault:"20ms"`
	RevealPerChar      time.Duration `env:"REVEAL_PER_CHAR" envDefault:"18ms"`
	RevealMinimum      time.Duration `env:"REVEAL_MINIMUM" envDefault:"1500ms"`
	RevealBuffer       time.Duration `env:"REVEAL_BUFFER" envDefault:"600ms"`

	NotificationInterval time.Duration `env:"NOTIFICATION_INTERVAL" envDefault:"60s"`
	EligibilityCacheTTL  time.Duration `env:"ELIGIBILITY_CACHE_TTL" envDefault:"10m"`
	MaxUploadBytes       int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	SessionTokenSecret string        `env:"SESSION_TOKEN_SECRET"`
	SessionTokenTTL    time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"24h"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMax       int           `env:"RATE_LIMIT_MAX" envDefault:"20"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	attempts := []struct {
		name  string
		value int
	}{
		{"RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts},
		{"CHAT_MAX_ATTEMPTS", c.ChatMaxAttempts},
		{"DOCUMENT_MAX_ATTEMPTS", c.DocumentMaxAttempts},
		{"ELIGIBILITY_MAX_ATTEMPTS", c.EligibilityMaxAttempts},
	}
	for _, a := range attempts {
		if a.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", a.name, a.value)
		}
	}
	return nil
}
