package delta

import (
	"context"
	"fmt"
	"os"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// BsdiffEngine is the embedded in-process fallback used when no external
// tool is installed. It trades xdelta3's streaming for simplicity: inputs
// are materialized in memory, which is acceptable because the encode
// pipeline only ever hands it single bounded-size chunks.
type BsdiffEngine struct{}

// NewBsdiffEngine creates a new bsdiff-based engine
func NewBsdiffEngine() *BsdiffEngine {
	return &BsdiffEngine{}
}

// Name returns the name of the engine
func (e *BsdiffEngine) Name() string { return "bsdiff" }

// Probe always succeeds; the engine is compiled in.
func (e *BsdiffEngine) Probe(ctx context.Context) error { return nil }

// Encode computes a bsdiff patch between the two input files.
func (e *BsdiffEngine) Encode(ctx context.Context, oldPath, newPath, patchPath string, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	oldData, err := os.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("read old input: %w", err)
	}

	newData, err := os.ReadFile(newPath)
	if err != nil {
		return fmt.Errorf("read new input: %w", err)
	}

	patch, err := bsdiff.Bytes(oldData, newData)
	if err != nil {
		return fmt.Errorf("bsdiff computation failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.WriteFile(patchPath, patch, 0o644); err != nil {
		return fmt.Errorf("write patch: %w", err)
	}

	return nil
}

// Decode applies a bsdiff patch to the old file.
func (e *BsdiffEngine) Decode(ctx context.Context, oldPath, patchPath, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	oldData, err := os.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("read base input: %w", err)
	}

	patchData, err := os.ReadFile(patchPath)
	if err != nil {
		return fmt.Errorf("read patch: %w", err)
	}

	newData, err := bspatch.Bytes(oldData, patchData)
	if err != nil {
		return fmt.Errorf("bspatch application failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.WriteFile(outPath, newData, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}
