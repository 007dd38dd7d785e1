package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/reel")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PricePerItem != 10 {
		t.Fatalf("price_per_item = %d, want 10", cfg.PricePerItem)
	}
	if cfg.MaxBatchSize != 10 {
		t.Fatalf("max_batch_size = %d, want 10", cfg.MaxBatchSize)
	}
	if cfg.DescribePollInterval != 2*time.Second || cfg.DescribeMaxAttempts != 30 {
		t.Fatalf("describe polling = %s x %d, want 2s x 30", cfg.DescribePollInterval, cfg.DescribeMaxAttempts)
	}
	if cfg.AnimatePollInterval != 5*time.Second || cfg.AnimateMaxAttempts != 720 {
		t.Fatalf("animate polling = %s x %d, want 5s x 720", cfg.AnimatePollInterval, cfg.AnimateMaxAttempts)
	}
	if cfg.StorageDriver != "filesystem" {
		t.Fatalf("storage driver = %q, want filesystem", cfg.StorageDriver)
	}
	if cfg.FFmpegBin != "ffmpeg" {
		t.Fatalf("ffmpeg bin = %q", cfg.FFmpegBin)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRICE_PER_ITEM", "25")
	t.Setenv("DESCRIBE_MAX_ATTEMPTS", "3")
	t.Setenv("ANIMATE_POLL_INTERVAL_SECONDS", "1")
	t.Setenv("STORAGE_DRIVER", "s3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PricePerItem != 25 {
		t.Fatalf("price_per_item = %d, want 25", cfg.PricePerItem)
	}
	if cfg.DescribeMaxAttempts != 3 {
		t.Fatalf("describe_max_attempts = %d, want 3", cfg.DescribeMaxAttempts)
	}
	if cfg.AnimatePollInterval != time.Second {
		t.Fatalf("animate_poll_interval = %s, want 1s", cfg.AnimatePollInterval)
	}
	if cfg.StorageDriver != "s3" {
		t.Fatalf("storage_driver = %q, want s3", cfg.StorageDriver)
	}
}

func TestLoadConfigRequiredVars(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{name: "missing database url", unset: "DATABASE_URL"},
		{name: "missing jwt secret", unset: "JWT_SECRET"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.unset, "")
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error when %s is unset", tc.unset)
			}
		})
	}
}

func TestLoadConfigRejectsNonPositivePrice(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRICE_PER_ITEM", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for zero price per item")
	}
}
