package encode

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saworbit/patchforge/pkg/chunk"
	"github.com/saworbit/patchforge/pkg/container"
	"github.com/saworbit/patchforge/pkg/delta"
	"github.com/saworbit/patchforge/pkg/tier"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func alignFiles(t *testing.T, oldSize, newSize, chunkSize int64) []chunk.Pair {
	t.Helper()
	oldPlan, err := chunk.Plan(oldSize, chunkSize)
	if err != nil {
		t.Fatalf("plan old: %v", err)
	}
	newPlan, err := chunk.Plan(newSize, chunkSize)
	if err != nil {
		t.Fatalf("plan new: %v", err)
	}
	return chunk.Align(oldPlan, newPlan)
}

func TestEncodeAllProducesOrderedRecords(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()

	oldData := bytes.Repeat([]byte("AAAA"), 64) // 256 bytes, 4 chunks of 64
	newData := append(bytes.Repeat([]byte("AAAA"), 64), bytes.Repeat([]byte("BBBB"), 16)...)

	oldPath := writeFile(t, dir, "old.bin", oldData)
	newPath := writeFile(t, dir, "new.bin", newData)
	pairs := alignFiles(t, int64(len(oldData)), int64(len(newData)), 64)

	enc := New(delta.NewBsdiffEngine(), scratch, 4, time.Minute, container.CodecZstd)

	var lastDone, lastTotal int64
	enc.OnChunkDone = func(done, total int64) { lastDone, lastTotal = done, total }

	results, err := enc.EncodeAll(context.Background(), oldPath, newPath, pairs, tier.Profile{CompressionLevel: 6})
	if err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}

	if len(results) != len(pairs) {
		t.Fatalf("expected %d results, got %d", len(pairs), len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d, expected sorted order", i, r.Index)
		}
	}

	// First four chunks exist on both sides, fifth is new-only.
	for _, r := range results[:4] {
		if r.Kind != chunk.Diffed {
			t.Errorf("chunk %d should be diffed, got %s", r.Index, r.Kind)
		}
		if r.PayloadLen <= 0 {
			t.Errorf("diffed chunk %d has no payload", r.Index)
		}
	}
	last := results[4]
	if last.Kind != chunk.InsertedWhole {
		t.Errorf("tail chunk should be a whole insert, got %s", last.Kind)
	}
	if last.Codec != container.CodecZstd {
		t.Errorf("insert payload should use the container codec, got %s", last.Codec)
	}

	// Insert payload must decompress back to the raw tail bytes.
	stored, err := os.ReadFile(last.PayloadPath)
	if err != nil {
		t.Fatalf("read insert payload: %v", err)
	}
	raw, err := container.Decompress(container.CodecZstd, stored)
	if err != nil {
		t.Fatalf("decompress insert payload: %v", err)
	}
	if !bytes.Equal(raw, newData[256:]) {
		t.Error("insert payload does not match tail bytes")
	}

	if lastDone != lastTotal || lastTotal != int64(len(newData)) {
		t.Errorf("progress callback ended at %d/%d, expected %d/%d",
			lastDone, lastTotal, len(newData), len(newData))
	}
}

func TestEncodeAllDeletedTail(t *testing.T) {
	dir := t.TempDir()

	oldData := bytes.Repeat([]byte("x"), 128)
	newData := bytes.Repeat([]byte("y"), 64)

	oldPath := writeFile(t, dir, "old.bin", oldData)
	newPath := writeFile(t, dir, "new.bin", newData)
	pairs := alignFiles(t, 128, 64, 64)

	enc := New(delta.NewBsdiffEngine(), t.TempDir(), 2, time.Minute, container.CodecNone)
	results, err := enc.EncodeAll(context.Background(), oldPath, newPath, pairs, tier.Profile{})
	if err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	del := results[1]
	if del.Kind != chunk.DeletedWhole {
		t.Errorf("tail should be deleted, got %s", del.Kind)
	}
	if del.PayloadLen != 0 || del.PayloadPath != "" {
		t.Errorf("deleted record should carry no payload, got %+v", del)
	}
}

// failAfterEngine wraps the bsdiff engine, failing every encode past the
// first n to exercise the all-or-nothing path.
type failAfterEngine struct {
	delta.Engine
	calls chan struct{}
	limit int
}

func (e *failAfterEngine) Encode(ctx context.Context, oldPath, newPath, patchPath string, opts delta.Options) error {
	select {
	case e.calls <- struct{}{}:
	default:
	}
	if len(e.calls) > e.limit {
		return errors.New("simulated tool failure")
	}
	return e.Engine.Encode(ctx, oldPath, newPath, patchPath, opts)
}

func TestEncodeAllStopsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()

	oldData := bytes.Repeat([]byte("a"), 512)
	newData := bytes.Repeat([]byte("b"), 512)
	oldPath := writeFile(t, dir, "old.bin", oldData)
	newPath := writeFile(t, dir, "new.bin", newData)
	pairs := alignFiles(t, 512, 512, 64) // 8 diffed chunks

	eng := &failAfterEngine{
		Engine: delta.NewBsdiffEngine(),
		calls:  make(chan struct{}, 64),
		limit:  2,
	}

	enc := New(eng, t.TempDir(), 2, time.Minute, container.CodecNone)
	_, err := enc.EncodeAll(context.Background(), oldPath, newPath, pairs, tier.Profile{})
	if err == nil {
		t.Fatal("expected encode failure")
	}

	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected *ChunkError, got %T: %v", err, err)
	}
}

func TestEncodeAllHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeFile(t, dir, "old.bin", bytes.Repeat([]byte("a"), 128))
	newPath := writeFile(t, dir, "new.bin", bytes.Repeat([]byte("b"), 128))
	pairs := alignFiles(t, 128, 128, 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enc := New(delta.NewBsdiffEngine(), t.TempDir(), 2, time.Minute, container.CodecNone)
	if _, err := enc.EncodeAll(ctx, oldPath, newPath, pairs, tier.Profile{}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestGrowingFileShape(t *testing.T) {
	// old "AAAA" + new "AAAABBBB" at 4-byte chunks must yield one diffed
	// record for the shared prefix and one whole insert for the tail.
	dir := t.TempDir()
	oldPath := writeFile(t, dir, "old.bin", []byte("AAAA"))
	newPath := writeFile(t, dir, "new.bin", []byte("AAAABBBB"))
	pairs := alignFiles(t, 4, 8, 4)

	enc := New(delta.NewBsdiffEngine(), t.TempDir(), 2, time.Minute, container.CodecNone)
	results, err := enc.EncodeAll(context.Background(), oldPath, newPath, pairs, tier.Profile{})
	if err != nil {
		t.Fatalf("EncodeAll failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 records, got %d", len(results))
	}
	if results[0].Kind != chunk.Diffed {
		t.Errorf("record 0 should be diffed, got %s", results[0].Kind)
	}
	if results[1].Kind != chunk.InsertedWhole {
		t.Errorf("record 1 should be a whole insert, got %s", results[1].Kind)
	}

	tail, err := os.ReadFile(results[1].PayloadPath)
	if err != nil {
		t.Fatalf("read insert payload: %v", err)
	}
	if !bytes.Equal(tail, []byte("BBBB")) {
		t.Errorf("insert payload is %q, expected BBBB", tail)
	}
}

// stuckEngine blocks until its context expires, simulating a hung tool.
type stuckEngine struct {
	delta.Engine
}

func (e *stuckEngine) Encode(ctx context.Context, oldPath, newPath, patchPath string, opts delta.Options) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEncodeAllSubprocessTimeout(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeFile(t, dir, "old.bin", []byte("old"))
	newPath := writeFile(t, dir, "new.bin", []byte("new"))
	pairs := alignFiles(t, 3, 3, 4)

	enc := New(&stuckEngine{Engine: delta.NewBsdiffEngine()}, t.TempDir(), 1, 10*time.Millisecond, container.CodecNone)
	_, err := enc.EncodeAll(context.Background(), oldPath, newPath, pairs, tier.Profile{})

	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected *ChunkError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("timeout should surface the deadline, got %v", chunkErr.Err)
	}
}

func TestEncodeAllEmptyPairList(t *testing.T) {
	enc := New(delta.NewBsdiffEngine(), t.TempDir(), 2, time.Minute, container.CodecNone)
	results, err := enc.EncodeAll(context.Background(), "unused", "unused", nil, tier.Profile{})
	if err != nil {
		t.Fatalf("empty input should succeed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
