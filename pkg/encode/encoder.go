// Package encode runs the per-chunk delta encoding stage: a bounded pool of
// workers that drive the external encoder once per aligned chunk pair and
// hand back container-ready records in index order.
package encode

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/saworbit/patchforge/pkg/chunk"
	"github.com/saworbit/patchforge/pkg/container"
	"github.com/saworbit/patchforge/pkg/delta"
	"github.com/saworbit/patchforge/pkg/tier"
)

// Result is one encoded chunk ready for the container writer. PayloadPath
// points at a scratch file holding the stored (post-codec) payload; it is
// empty for DeletedWhole records.
type Result struct {
	Index       int
	Kind        chunk.Kind
	Codec       container.Codec
	PayloadPath string
	PayloadLen  int64
}

// ChunkError identifies the chunk that sank an encode operation, carrying
// the underlying tool diagnostics.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Encoder fans chunk pairs out over a bounded worker pool. The semaphore is
// the only shared mutable state; a slot is held for the full lifetime of a
// subprocess and released on every exit path.
type Encoder struct {
	engine     delta.Engine
	scratchDir string
	workers    int
	timeout    time.Duration
	codec      container.Codec

	// OnChunkDone, when set, receives cumulative encoded bytes after each
	// chunk completes; used for byte-accurate progress.
	OnChunkDone func(doneBytes, totalBytes int64)
}

// New builds an encoder writing intermediate artifacts under scratchDir.
func New(engine delta.Engine, scratchDir string, workers int, timeout time.Duration, codec container.Codec) *Encoder {
	if workers < 1 {
		workers = 1
	}
	return &Encoder{
		engine:     engine,
		scratchDir: scratchDir,
		workers:    workers,
		timeout:    timeout,
		codec:      codec,
	}
}

// EncodeAll encodes every aligned pair, bounded by the worker cap. Chunk
// failures are all-or-nothing: the first failure cancels the remaining
// queue, running subprocesses are killed through their contexts, and the
// error names the failing chunk. Results come back sorted by index.
func (e *Encoder) EncodeAll(ctx context.Context, oldPath, newPath string, pairs []chunk.Pair, profile tier.Profile) ([]Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	totalBytes := chunk.TotalBytes(pairs)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		results   []Result
		firstErr  error
		doneBytes int64
	)

	sem := make(chan struct{}, e.workers)

	for _, pair := range pairs {
		if ctx.Err() != nil {
			break // a failed sibling cancelled the queue
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(p chunk.Pair) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := e.encodeOne(ctx, oldPath, newPath, p, profile)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if firstErr == nil {
					firstErr = &ChunkError{Index: p.Index, Err: err}
				}
				cancel()
				return
			}

			results = append(results, res)
			doneBytes += pairBytes(p)
			if e.OnChunkDone != nil {
				e.OnChunkDone(doneBytes, totalBytes)
			}
		}(pair)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

func (e *Encoder) encodeOne(ctx context.Context, oldPath, newPath string, p chunk.Pair, profile tier.Profile) (Result, error) {
	switch p.Kind {
	case chunk.DeletedWhole:
		// Old-only chunk: contributes no output bytes, no subprocess.
		return Result{Index: p.Index, Kind: chunk.DeletedWhole, Codec: container.CodecNone}, nil

	case chunk.InsertedWhole:
		return e.insertChunk(newPath, p)

	default:
		return e.diffChunk(ctx, oldPath, newPath, p, profile)
	}
}

// insertChunk carries a new-only chunk raw (compressed by the container
// codec); no delta subprocess is involved.
func (e *Encoder) insertChunk(newPath string, p chunk.Pair) (Result, error) {
	data, err := readRange(newPath, p.New.StartByte, p.New.SizeBytes)
	if err != nil {
		return Result{}, err
	}

	stored, err := container.Compress(e.codec, data)
	if err != nil {
		return Result{}, fmt.Errorf("compress insert payload: %w", err)
	}

	payloadPath := e.scratchFile("insert", p.Index)
	if err := os.WriteFile(payloadPath, stored, 0o644); err != nil {
		return Result{}, fmt.Errorf("spool insert payload: %w", err)
	}

	return Result{
		Index:       p.Index,
		Kind:        chunk.InsertedWhole,
		Codec:       e.codec,
		PayloadPath: payloadPath,
		PayloadLen:  int64(len(stored)),
	}, nil
}

// diffChunk extracts both sides to scratch files and runs one encode
// subprocess under the per-invocation timeout.
func (e *Encoder) diffChunk(ctx context.Context, oldPath, newPath string, p chunk.Pair, profile tier.Profile) (Result, error) {
	oldChunk := e.scratchFile("old", p.Index)
	newChunk := e.scratchFile("new", p.Index)
	patchChunk := e.scratchFile("patch", p.Index)

	if err := extractRange(oldPath, p.Old.StartByte, p.Old.SizeBytes, oldChunk); err != nil {
		return Result{}, err
	}
	if err := extractRange(newPath, p.New.StartByte, p.New.SizeBytes, newChunk); err != nil {
		return Result{}, err
	}

	encCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		encCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	opts := delta.Options{
		CompressionLevel: profile.CompressionLevel,
		DisableChecksum:  profile.SkipVerification,
	}
	if err := e.engine.Encode(encCtx, oldChunk, newChunk, patchChunk, opts); err != nil {
		return Result{}, err
	}

	info, err := os.Stat(patchChunk)
	if err != nil {
		return Result{}, fmt.Errorf("stat sub-patch: %w", err)
	}

	// The chunk extracts are only needed by the subprocess; drop them
	// eagerly so scratch usage stays near one chunk per worker.
	os.Remove(oldChunk)
	os.Remove(newChunk)

	return Result{
		Index:       p.Index,
		Kind:        chunk.Diffed,
		Codec:       container.CodecNone, // tool output is already compressed
		PayloadPath: patchChunk,
		PayloadLen:  info.Size(),
	}, nil
}

func (e *Encoder) scratchFile(stem string, index int) string {
	return filepath.Join(e.scratchDir, fmt.Sprintf("%s-%06d.tmp", stem, index))
}

func pairBytes(p chunk.Pair) int64 {
	if p.New != nil {
		return p.New.SizeBytes
	}
	if p.Old != nil {
		return p.Old.SizeBytes
	}
	return 0
}

// readRange materializes one chunk's bytes; bounded by the chunk size.
func readRange(path string, start, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(f, start, length), buf); err != nil {
		return nil, fmt.Errorf("read range [%d,%d): %w", start, start+length, err)
	}

	return buf, nil
}

// extractRange streams one chunk's bytes to a scratch file without holding
// more than the copy buffer in memory.
func extractRange(src string, start, length int64, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create chunk extract: %w", err)
	}

	_, err = io.Copy(out, io.NewSectionReader(in, start, length))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("extract range [%d,%d): %w", start, start+length, err)
	}

	return nil
}
