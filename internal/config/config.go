package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the API and the admin CLI read from the environment.
type Config struct {
	Port     string `env:"PORT" envDefault:"5000"`
	GRPCAddr string `env:"CODELAB_GRPC_ADDR"`

	PostgresDSN string `env:"CODELAB_PG_DSN"`

	AuthSecret string        `env:"CODELAB_AUTH_SECRET"`
	TokenTTL   time.Duration `env:"CODELAB_TOKEN_TTL" envDefault:"1h"`

	Gateway GatewayConfig

	RedisAddr string        `env:"CODELAB_REDIS_ADDR"`
	CacheTTL  time.Duration `env:"CODELAB_CACHE_TTL" envDefault:"30s"`

	KafkaBrokers []string `env:"CODELAB_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"CODELAB_KAFKA_TOPIC" envDefault:"enrollment.settled"`

	RateBurst  int `env:"CODELAB_RATE_BURST" envDefault:"20"`
	RatePerSec int `env:"CODELAB_RATE_PER_SEC" envDefault:"10"`
}

// GatewayConfig configures the external charge-intent service.
type GatewayConfig struct {
	SecretKey string        `env:"CODELAB_GATEWAY_SECRET_KEY"`
	BaseURL   string        `env:"CODELAB_GATEWAY_URL" envDefault:"https://api.stripe.com"`
	Currency  string        `env:"CODELAB_GATEWAY_CURRENCY" envDefault:"usd"`
	Timeout   time.Duration `env:"CODELAB_GATEWAY_TIMEOUT" envDefault:"10s"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	return cfg, nil
}

// Validate checks the settings the API server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("CODELAB_AUTH_SECRET is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("CODELAB_TOKEN_TTL must be positive"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("CODELAB_GATEWAY_TIMEOUT must be positive"))
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("rate limit settings must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPAddr is the listen address derived from PORT.
func (c Config) HTTPAddr() string {
	return net.JoinHostPort("", c.Port)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
