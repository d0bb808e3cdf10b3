package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 6379 {
		t.Errorf("Expected port 6379, got %d", cfg.Port)
	}
	if cfg.PoolSize != 50 {
		t.Errorf("Expected pool size 50, got %d", cfg.PoolSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "redis.example.com", Port: 6380}

	if got := cfg.Addr(); got != "redis.example.com:6380" {
		t.Errorf("Expected addr 'redis.example.com:6380', got '%s'", got)
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &Config{
		Host:          "invalid-host-that-does-not-exist",
		Port:          9999,
		MaxRetries:    0,
		RetryInterval: 10 * time.Millisecond,
		DialTimeout:   200 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewClient(ctx, cfg); err == nil {
		t.Error("Expected error for unreachable host")
	}
}

func TestClient_JSONRoundTrip(t *testing.T) {
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("TEST_REDIS_HOST not set")
	}

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Password = os.Getenv("TEST_REDIS_PASSWORD")

	ctx := context.Background()
	client, err := NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	type snapshot struct {
		Remaining int `json:"remaining"`
	}

	key := "test:availability:json"
	if err := client.SetJSON(ctx, key, snapshot{Remaining: 7}, time.Minute); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var got snapshot
	if err := client.GetJSON(ctx, key, &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got.Remaining != 7 {
		t.Errorf("Remaining = %d, want 7", got.Remaining)
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := client.GetJSON(ctx, key, &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("GetJSON() after delete error = %v, want ErrCacheMiss", err)
	}
}
