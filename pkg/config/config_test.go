package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.GetChunkSizeBytes() != 64*1024*1024 {
		t.Errorf("expected 64MB chunk size, got %d", cfg.GetChunkSizeBytes())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown engine", func(c *Config) { c.Engine = "rsync" }},
		{"negative level", func(c *Config) { c.CompressionLevel = -1 }},
		{"level too high", func(c *Config) { c.CompressionLevel = 10 }},
		{"zero chunk size", func(c *Config) { c.ChunkSizeMB = 0 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }},
		{"zero timeout", func(c *Config) { c.OperationTimeout = 0 }},
		{"unknown codec", func(c *Config) { c.Codec = "lz4" }},
		{"non-increasing thresholds", func(c *Config) { c.HugeFileBytes = c.LargeFileBytes }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PATCHFORGE_ENGINE", "bsdiff")
	t.Setenv("PATCHFORGE_COMPRESSION_LEVEL", "3")
	t.Setenv("PATCHFORGE_CHUNK_SIZE_MB", "16")
	t.Setenv("PATCHFORGE_MAX_CONCURRENCY", "2")
	t.Setenv("PATCHFORGE_OPERATION_TIMEOUT", "90s")
	t.Setenv("PATCHFORGE_CODEC", "xz")
	t.Setenv("PATCHFORGE_LARGE_FILE_MB", "20")

	cfg := LoadFromEnv()

	if cfg.Engine != "bsdiff" {
		t.Errorf("expected engine bsdiff, got %s", cfg.Engine)
	}
	if cfg.CompressionLevel != 3 {
		t.Errorf("expected level 3, got %d", cfg.CompressionLevel)
	}
	if cfg.ChunkSizeMB != 16 {
		t.Errorf("expected 16MB chunks, got %d", cfg.ChunkSizeMB)
	}
	if cfg.MaxConcurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", cfg.MaxConcurrency)
	}
	if cfg.OperationTimeout != 90*time.Second {
		t.Errorf("expected 90s timeout, got %v", cfg.OperationTimeout)
	}
	if cfg.Codec != "xz" {
		t.Errorf("expected codec xz, got %s", cfg.Codec)
	}
	if cfg.LargeFileBytes != 20*1024*1024 {
		t.Errorf("expected 20MB large threshold, got %d", cfg.LargeFileBytes)
	}
}

func TestLoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("PATCHFORGE_COMPRESSION_LEVEL", "fast")
	t.Setenv("PATCHFORGE_MAX_CONCURRENCY", "-3")

	cfg := LoadFromEnv()
	def := DefaultConfig()

	if cfg.CompressionLevel != def.CompressionLevel {
		t.Errorf("garbage level should keep default %d, got %d", def.CompressionLevel, cfg.CompressionLevel)
	}
	if cfg.MaxConcurrency != def.MaxConcurrency {
		t.Errorf("negative concurrency should keep default %d, got %d", def.MaxConcurrency, cfg.MaxConcurrency)
	}
}

func TestEffectiveConcurrencyClamps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 10000
	if n := cfg.EffectiveConcurrency(); n > 10000 || n < 1 {
		t.Errorf("effective concurrency out of range: %d", n)
	}

	cfg.MaxConcurrency = 1
	if n := cfg.EffectiveConcurrency(); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
}
