package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CODELAB_AUTH_SECRET", "s3cret")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "5000" {
		t.Fatalf("unexpected port %q", cfg.Port)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %v", cfg.TokenTTL)
	}
	if cfg.Gateway.Currency != "usd" || cfg.Gateway.Timeout != 10*time.Second {
		t.Fatalf("unexpected gateway defaults: %+v", cfg.Gateway)
	}
	if cfg.HTTPAddr() != ":5000" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("CODELAB_KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("CODELAB_GATEWAY_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8088" {
		t.Fatalf("unexpected port %q", cfg.Port)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.Gateway.Timeout != 3*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Gateway.Timeout)
	}
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg := Config{TokenTTL: time.Hour, Gateway: GatewayConfig{Timeout: time.Second}, RateBurst: 1, RatePerSec: 1}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "CODELAB_AUTH_SECRET") {
		t.Fatalf("expected secret error, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("CODELAB_TOKEN_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
