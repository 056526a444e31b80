package resilience

import (
	"testing"
	"time"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{}.normalize()
	def := DefaultConfig()

	if cfg.RetryMaxAttempts != def.RetryMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", def.RetryMaxAttempts, cfg.RetryMaxAttempts)
	}
	if cfg.RetryJitter != def.RetryJitter {
		t.Fatalf("expected default jitter %v, got %v", def.RetryJitter, cfg.RetryJitter)
	}
}

func TestNormalizeClampsJitter(t *testing.T) {
	cfg := Config{RetryJitter: 1.5}.normalize()
	if cfg.RetryJitter != DefaultConfig().RetryJitter {
		t.Fatalf("out-of-range jitter should fall back to default, got %v", cfg.RetryJitter)
	}
}

func TestNormalizeKeepsBackoffOrdering(t *testing.T) {
	cfg := Config{
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     100 * time.Millisecond,
	}.normalize()
	if cfg.RetryMaxBackoff < cfg.RetryInitialBackoff {
		t.Fatalf("max backoff %v below initial %v", cfg.RetryMaxBackoff, cfg.RetryInitialBackoff)
	}
}
