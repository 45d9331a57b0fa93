package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds configuration for patch creation and application.
type Config struct {
	// Engine selects the delta engine ("xdelta" subprocess or embedded "bsdiff")
	Engine string

	// ToolPath is an explicit path to the external delta executable.
	// Empty means discover via PATH lookup.
	ToolPath string

	// CompressionLevel is the requested delta compression level (0-9).
	// Large-file tiers may override it downward.
	CompressionLevel int

	// ChunkSizeMB is the segment size in megabytes for chunked processing
	ChunkSizeMB int

	// MaxConcurrency caps concurrent encode/decode subprocesses
	MaxConcurrency int

	// OperationTimeout bounds each subprocess invocation
	OperationTimeout time.Duration

	// Codec selects the raw-payload codec inside patch containers
	// ("zstd", "xz" or "none")
	Codec string

	// ScratchDir is where per-operation temp files live; empty uses os.TempDir
	ScratchDir string

	// StateDir, when set, enables the Pebble operation journal
	StateDir string

	// Thresholds for size-tier classification
	LargeFileBytes   int64
	HugeFileBytes    int64
	ExtremeFileBytes int64
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Engine:           "xdelta",
		CompressionLevel: 6,
		ChunkSizeMB:      64,
		MaxConcurrency:   4,
		OperationTimeout: 5 * time.Minute,
		Codec:            "zstd",
		LargeFileBytes:   10 * 1024 * 1024,
		HugeFileBytes:    500 * 1024 * 1024,
		ExtremeFileBytes: 1 * 1024 * 1024 * 1024,
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if engine := os.Getenv("PATCHFORGE_ENGINE"); engine != "" {
		cfg.Engine = engine
	}

	if tool := os.Getenv("PATCHFORGE_TOOL_PATH"); tool != "" {
		cfg.ToolPath = tool
	}

	if level := os.Getenv("PATCHFORGE_COMPRESSION_LEVEL"); level != "" {
		if l, err := strconv.Atoi(level); err == nil {
			cfg.CompressionLevel = l
		}
	}

	if chunkSize := os.Getenv("PATCHFORGE_CHUNK_SIZE_MB"); chunkSize != "" {
		if size, err := strconv.Atoi(chunkSize); err == nil {
			cfg.ChunkSizeMB = size
		}
	}

	if workers := os.Getenv("PATCHFORGE_MAX_CONCURRENCY"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.MaxConcurrency = n
		}
	}

	if timeout := os.Getenv("PATCHFORGE_OPERATION_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.OperationTimeout = d
		}
	}

	if codec := os.Getenv("PATCHFORGE_CODEC"); codec != "" {
		cfg.Codec = codec
	}

	if scratch := os.Getenv("PATCHFORGE_SCRATCH_DIR"); scratch != "" {
		cfg.ScratchDir = scratch
	}

	if state := os.Getenv("PATCHFORGE_STATE_DIR"); state != "" {
		cfg.StateDir = state
	}

	if v := os.Getenv("PATCHFORGE_LARGE_FILE_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			cfg.LargeFileBytes = int64(mb) * 1024 * 1024
		}
	}
	if v := os.Getenv("PATCHFORGE_HUGE_FILE_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			cfg.HugeFileBytes = int64(mb) * 1024 * 1024
		}
	}
	if v := os.Getenv("PATCHFORGE_EXTREME_FILE_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			cfg.ExtremeFileBytes = int64(mb) * 1024 * 1024
		}
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine != "xdelta" && c.Engine != "bsdiff" {
		return fmt.Errorf("invalid engine: %s (must be 'xdelta' or 'bsdiff')", c.Engine)
	}

	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("compression level must be 0-9, got: %d", c.CompressionLevel)
	}

	if c.ChunkSizeMB <= 0 {
		return fmt.Errorf("chunk size must be positive, got: %d", c.ChunkSizeMB)
	}

	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got: %d", c.MaxConcurrency)
	}

	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got: %v", c.OperationTimeout)
	}

	if c.Codec != "zstd" && c.Codec != "xz" && c.Codec != "none" {
		return fmt.Errorf("invalid codec: %s (must be 'zstd', 'xz' or 'none')", c.Codec)
	}

	if !(c.LargeFileBytes < c.HugeFileBytes && c.HugeFileBytes < c.ExtremeFileBytes) {
		return fmt.Errorf("size thresholds must be strictly increasing: %d, %d, %d",
			c.LargeFileBytes, c.HugeFileBytes, c.ExtremeFileBytes)
	}

	return nil
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// EffectiveConcurrency clamps the worker count to the host CPU count.
func (c *Config) EffectiveConcurrency() int {
	n := c.MaxConcurrency
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	if n < 1 {
		n = 1
	}
	return n
}
