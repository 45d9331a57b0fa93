package patcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/saworbit/patchforge/internal/metrics"
	"github.com/saworbit/patchforge/pkg/chunk"
	"github.com/saworbit/patchforge/pkg/container"
	"github.com/saworbit/patchforge/pkg/encode"
	"github.com/saworbit/patchforge/pkg/progress"
)

// Create builds a patch container at patchPath that transforms oldPath into
// newPath. The operation is all-or-nothing: nothing it wrote survives a
// failure, a destination that predates the operation is never deleted, and
// the returned Result carries the classified error.
func (p *Patcher) Create(ctx context.Context, oldPath, newPath, patchPath string, observer progress.Observer) (*Result, error) {
	start := time.Now()
	est := progress.NewEstimator(progress.CreatePhases, observer)

	res, err := p.runCreate(ctx, est, start, oldPath, newPath, patchPath)
	if err != nil {
		oe := opErr(KindInternal, err)
		est.Fail(oe.Error())

		res = failureResult("create", start, oe)
		metrics.ObserveOperation(start, "create", "failure")
		p.record(res)
		return res, oe
	}

	est.Finish(fmt.Sprintf("Patch created: %s", patchPath))
	metrics.ObserveOperation(start, "create", "success")
	metrics.ObservePatch(res.NewSize, res.PatchSize)
	p.record(res)
	return res, nil
}

func (p *Patcher) runCreate(ctx context.Context, est *progress.Estimator, start time.Time, oldPath, newPath, patchPath string) (*Result, error) {
	est.EnterPhase("validating")

	oldInfo, err := statInput(oldPath)
	if err != nil {
		return nil, err
	}
	newInfo, err := statInput(newPath)
	if err != nil {
		return nil, err
	}
	oldSize, newSize := oldInfo.Size(), newInfo.Size()

	est.EnterPhase("checking-tool")
	if err := p.probe(ctx); err != nil {
		return nil, err
	}

	est.EnterPhase("planning")
	fileTier, profile := p.classifyAndProfile(oldSize, newSize)
	chunkSize := p.planChunkSize(profile, oldSize, newSize)

	oldPlan, err := chunk.Plan(oldSize, chunkSize)
	if err != nil {
		return nil, opErr(KindInvalidConfiguration, err)
	}
	newPlan, err := chunk.Plan(newSize, chunkSize)
	if err != nil {
		return nil, opErr(KindInvalidConfiguration, err)
	}
	pairs := chunk.Align(oldPlan, newPlan)

	log.Printf("[create] %s -> %s: tier=%s chunks=%d (old %d, new %d) level=%d",
		oldPath, newPath, fileTier, len(pairs), len(oldPlan), len(newPlan), profile.CompressionLevel)

	scratch, err := p.newScratchDir()
	if err != nil {
		return nil, opErr(KindInternal, err)
	}
	defer os.RemoveAll(scratch)

	est.EnterPhase("encoding")
	enc := encode.New(p.engine, scratch, p.cfg.EffectiveConcurrency(), p.cfg.OperationTimeout, p.codec)
	enc.OnChunkDone = est.Observe

	results, err := enc.EncodeAll(ctx, oldPath, newPath, pairs, profile)
	if err != nil {
		return nil, classifyEncode(err)
	}
	for _, r := range results {
		metrics.ObserveChunk("create", r.Kind.String())
	}

	est.EnterPhase("combining")

	// The CID anchors post-apply verification; huge tiers skip the extra
	// sequential read and leave the slot empty.
	var cid string
	if !profile.SkipVerification {
		cid, err = fileCID(newPath)
		if err != nil {
			return nil, opErr(KindInternal, err)
		}
	}

	writer, err := container.NewWriter(patchPath, container.Header{
		Codec:       p.codec,
		ChunkSize:   chunkSize,
		OldFileSize: oldSize,
		NewFileSize: newSize,
		NewFileCID:  cid,
	})
	if err != nil {
		return nil, opErr(KindInternal, err)
	}

	// From here on the destination exists; no failure path below may leave
	// it behind, while failures above never touch a pre-existing file there.
	for _, r := range results {
		if err := appendResult(writer, r); err != nil {
			writer.Abort()
			return nil, opErr(KindInternal, err)
		}
		est.Tick()
	}

	if err := writer.Finalize(cid); err != nil {
		os.Remove(patchPath)
		return nil, opErr(KindInternal, err)
	}

	patchInfo, err := os.Stat(patchPath)
	if err != nil {
		os.Remove(patchPath)
		return nil, opErr(KindInternal, fmt.Errorf("stat patch artifact: %w", err))
	}

	res := successResult("create", start)
	res.OldSize = oldSize
	res.NewSize = newSize
	res.PatchSize = patchInfo.Size()
	res.ChunkCount = len(pairs)
	res.Tier = fileTier.String()
	if newSize > 0 {
		res.CompressionRatio = float64(res.PatchSize) / float64(newSize)
	}

	return res, nil
}

// appendResult streams one encoded chunk's payload from scratch into the
// container.
func appendResult(w *container.Writer, r encode.Result) error {
	if r.PayloadPath == "" {
		return w.Append(r.Index, r.Kind, r.Codec, nil, 0)
	}

	f, err := os.Open(r.PayloadPath)
	if err != nil {
		return fmt.Errorf("open chunk %d payload: %w", r.Index, err)
	}
	defer f.Close()

	return w.Append(r.Index, r.Kind, r.Codec, f, r.PayloadLen)
}

// fileCID hashes a whole file into its container content ID.
func fileCID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	return container.ComputeCID(f)
}

// record appends the result to the journal when one is open.
func (p *Patcher) record(res *Result) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Record(res); err != nil {
		log.Printf("[journal] failed to record %s result: %v", res.Operation, err)
	}
}
