package delta

import (
	"context"
	"fmt"
)

// Options tunes a single encode invocation.
type Options struct {
	// CompressionLevel 0-9, passed through to the underlying tool
	CompressionLevel int

	// DisableChecksum skips the tool's internal integrity checksum; used
	// for huge inputs where the container performs its own verification
	DisableChecksum bool
}

// Engine produces and applies binary deltas between files on disk.
// Implementations must honor context cancellation on every call.
type Engine interface {
	// Encode writes a delta transforming oldPath into newPath at patchPath
	Encode(ctx context.Context, oldPath, newPath, patchPath string, opts Options) error

	// Decode applies the delta at patchPath to oldPath, writing outPath
	Decode(ctx context.Context, oldPath, patchPath, outPath string) error

	// Probe checks that the engine is usable on this host
	Probe(ctx context.Context) error

	// Name returns the name of the engine
	Name() string
}

// NewEngine creates a delta engine. toolPath is only meaningful for the
// subprocess-backed engine; empty means PATH discovery.
func NewEngine(name, toolPath string) (Engine, error) {
	switch name {
	case "xdelta":
		return NewXdeltaEngine(toolPath), nil
	case "bsdiff":
		return NewBsdiffEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported delta engine: %s (must be 'xdelta' or 'bsdiff')", name)
	}
}
