package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Workers != 8 || cfg.RebalanceMaxMoves != 20 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RebalanceInterval != 5*time.Minute || cfg.ProviderTimeout != 5*time.Second {
		t.Fatalf("unexpected duration defaults %+v", cfg)
	}
	if cfg.OverloadThreshold != 0.9 || cfg.UnderloadThreshold != 0.5 {
		t.Fatalf("unexpected thresholds %+v", cfg)
	}
	if len(cfg.Brokers()) != 0 {
		t.Fatalf("expected kafka disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WORKERS", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REBALANCE_INTERVAL", "0s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workers != 3 || cfg.RebalanceInterval != 0 {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	brokers := cfg.Brokers()
	if len(brokers) != 2 || brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", brokers)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("UNDERLOAD_THRESHOLD", "0.95")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
