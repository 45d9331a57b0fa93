// Package patcher wires classification, chunk planning, segment encoding
// and the container format into the top-level create/apply/verify
// operations.
package patcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/saworbit/patchforge/internal/platform"
	"github.com/saworbit/patchforge/pkg/config"
	"github.com/saworbit/patchforge/pkg/container"
	"github.com/saworbit/patchforge/pkg/delta"
	"github.com/saworbit/patchforge/pkg/tier"
)

// Patcher executes patch operations under one configuration. The external
// tool probe runs at most once per instance; its outcome is carried as an
// immutable capability into every pipeline rather than re-read from ambient
// state.
type Patcher struct {
	cfg     *config.Config
	engine  delta.Engine
	codec   container.Codec
	journal *Journal

	probeOnce sync.Once
	probeErr  error
}

// New builds a Patcher, validating configuration before any I/O.
func New(cfg *config.Config) (*Patcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, opErr(KindInvalidConfiguration, err)
	}

	engine, err := delta.NewEngine(cfg.Engine, cfg.ToolPath)
	if err != nil {
		return nil, opErr(KindInvalidConfiguration, err)
	}

	codec, err := container.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, opErr(KindInvalidConfiguration, err)
	}

	p := &Patcher{cfg: cfg, engine: engine, codec: codec}

	if cfg.StateDir != "" {
		journal, err := OpenJournal(cfg.StateDir)
		if err != nil {
			return nil, opErr(KindInvalidConfiguration, fmt.Errorf("open journal: %w", err))
		}
		p.journal = journal
	}

	return p, nil
}

// Close releases the journal, if open.
func (p *Patcher) Close() error {
	if p.journal != nil {
		return p.journal.Close()
	}
	return nil
}

// Engine exposes the configured delta engine name.
func (p *Patcher) Engine() string { return p.engine.Name() }

// Journal exposes the operation journal; nil when no state dir is set.
func (p *Patcher) Journal() *Journal { return p.journal }

// probe checks tool availability once per instance.
func (p *Patcher) probe(ctx context.Context) error {
	p.probeOnce.Do(func() {
		p.probeErr = p.engine.Probe(ctx)
	})
	if p.probeErr != nil {
		return opErr(KindToolUnavailable, p.probeErr)
	}
	return nil
}

// statInput validates that an input file exists and is readable.
func statInput(path string) (fs.FileInfo, error) {
	info, err := os.Stat(platform.LongPathname(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, opErr(KindMissingInput, fmt.Errorf("input file not found: %s", path))
		}
		return nil, opErr(KindMissingInput, fmt.Errorf("stat input %s: %w", path, err))
	}
	if info.IsDir() {
		return nil, opErr(KindMissingInput, fmt.Errorf("input is a directory: %s", path))
	}
	if err := ensureReadable(path, info); err != nil {
		return nil, opErr(KindMissingInput, err)
	}
	return info, nil
}

// newScratchDir creates the per-operation scratch directory. The caller
// removes it unconditionally before returning, success or failure.
func (p *Patcher) newScratchDir() (string, error) {
	dir, err := os.MkdirTemp(p.cfg.ScratchDir, "patchforge-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// classifyAndProfile picks the tier and profile for a file pair, keyed by
// the larger of the two sizes.
func (p *Patcher) classifyAndProfile(oldSize, newSize int64) (tier.Tier, tier.Profile) {
	size := oldSize
	if newSize > size {
		size = newSize
	}

	thresholds := tier.Thresholds{
		Large:   p.cfg.LargeFileBytes,
		Huge:    p.cfg.HugeFileBytes,
		Extreme: p.cfg.ExtremeFileBytes,
	}

	t := thresholds.Classify(size)
	return t, tier.ProfileFor(t, p.cfg.CompressionLevel)
}

// planChunkSize picks the chunk size for an operation: the configured size
// when the profile calls for chunking, otherwise one chunk spanning the
// larger input so the container always has a uniform shape.
func (p *Patcher) planChunkSize(profile tier.Profile, oldSize, newSize int64) int64 {
	if profile.UseChunking {
		return p.cfg.GetChunkSizeBytes()
	}

	size := oldSize
	if newSize > size {
		size = newSize
	}
	if size < 1 {
		size = 1 // empty pair still needs a valid plan parameter
	}
	return size
}
