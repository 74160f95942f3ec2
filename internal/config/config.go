// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the service.
type Config struct {
	Addr            string        `envconfig:"IDGATE_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"IDGATE_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"IDGATE_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDGATE_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"IDGATE_SHUTDOWN_TIMEOUT" default:"10s"`

	// Empty DSN selects the in-memory store, for local runs and demos.
	PGDSN string `envconfig:"IDGATE_PG_DSN"`

	TokenSecret string        `envconfig:"IDGATE_TOKEN_SECRET" required:"true"`
	TokenIssuer string        `envconfig:"IDGATE_TOKEN_ISSUER" default:"idgate"`
	TokenTTL    time.Duration `envconfig:"IDGATE_TOKEN_TTL" default:"24h"`

	// MFAIssuer is the label shown in authenticator apps.
	MFAIssuer string `envconfig:"IDGATE_MFA_ISSUER" default:"idgate"`

	// LoginSecret, when set, is required from the OAuth callback service on
	// every call to the login endpoint.
	LoginSecret string `envconfig:"IDGATE_LOGIN_SECRET"`

	RateLimitRPS   float64 `envconfig:"IDGATE_RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"IDGATE_RATE_LIMIT_BURST" default:"40"`

	MaxBodyBytes int64 `envconfig:"IDGATE_MAX_BODY_BYTES" default:"1048576"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.TokenSecret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	return &cfg, nil
}
