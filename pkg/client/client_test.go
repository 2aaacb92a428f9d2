package client

import (
	"testing"
	"time"
)

func TestClientConfig(t *testing.T) {
	cfg := ClientConfig{
		Address:      "localhost:50051",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}

	if cfg.Address != "localhost:50051" {
		t.Errorf("Address = %s, want localhost:50051", cfg.Address)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}
