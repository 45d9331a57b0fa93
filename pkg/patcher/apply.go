package patcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/saworbit/patchforge/internal/metrics"
	"github.com/saworbit/patchforge/pkg/chunk"
	"github.com/saworbit/patchforge/pkg/container"
	"github.com/saworbit/patchforge/pkg/progress"
)

// Apply reconstructs the new file at outPath from oldPath plus the patch
// container at patchPath. Chunk records replay in index order; the restored
// output is verified against the container's content ID when present.
func (p *Patcher) Apply(ctx context.Context, oldPath, patchPath, outPath string, observer progress.Observer) (*Result, error) {
	start := time.Now()
	est := progress.NewEstimator(progress.ApplyPhases, observer)

	res, err := p.runApply(ctx, est, start, oldPath, patchPath, outPath)
	if err != nil {
		oe := opErr(KindInternal, err)
		est.Fail(oe.Error())
		// Output is built at outPath+".partial" and only renamed into place
		// on success, so a pre-existing destination is left untouched; the
		// deferred partial cleanup in runApply removes everything this
		// operation wrote.

		res = failureResult("apply", start, oe)
		metrics.ObserveOperation(start, "apply", "failure")
		p.record(res)
		return res, oe
	}

	est.Finish(fmt.Sprintf("File restored: %s", outPath))
	metrics.ObserveOperation(start, "apply", "success")
	p.record(res)
	return res, nil
}

func (p *Patcher) runApply(ctx context.Context, est *progress.Estimator, start time.Time, oldPath, patchPath, outPath string) (*Result, error) {
	est.EnterPhase("validating")

	oldInfo, err := statInput(oldPath)
	if err != nil {
		return nil, err
	}

	if _, err := statInput(patchPath); err != nil {
		return nil, err
	}

	// Structural and merkle validation happen here, before any decode
	// subprocess is spawned.
	cont, err := container.Open(patchPath)
	if err != nil {
		return nil, opErr(KindCorruptContainer, err)
	}
	defer cont.Close()

	if cont.Header.OldFileSize != oldInfo.Size() {
		return nil, opErr(KindCorruptContainer, fmt.Errorf(
			"%w: container expects old file of %d bytes, got %d",
			container.ErrCorrupt, cont.Header.OldFileSize, oldInfo.Size()))
	}

	est.EnterPhase("checking-tool")
	if hasDiffed(cont.Records) {
		if err := p.probe(ctx); err != nil {
			return nil, err
		}
	}

	est.EnterPhase("decoding")

	scratch, err := p.newScratchDir()
	if err != nil {
		return nil, opErr(KindInternal, err)
	}
	defer os.RemoveAll(scratch)

	oldPlan, err := chunk.Plan(cont.Header.OldFileSize, cont.Header.ChunkSize)
	if err != nil {
		return nil, opErr(KindCorruptContainer, err)
	}

	// Build the output beside its destination so the final publish is a
	// rename, never a partially written target.
	partial := outPath + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return nil, opErr(KindInternal, fmt.Errorf("create output: %w", err))
	}
	defer func() {
		out.Close()
		os.Remove(partial)
	}()

	digest := container.NewCIDDigest()
	sink := io.MultiWriter(out, digest)

	var written int64
	for _, ref := range cont.Records {
		n, err := p.applyRecord(ctx, cont, ref, oldPlan, oldPath, scratch, sink)
		if err != nil {
			return nil, classifyDecode(err)
		}
		written += n
		metrics.ObserveChunk("apply", ref.Kind.String())
		est.Observe(written, cont.Header.NewFileSize)
	}

	if written != cont.Header.NewFileSize {
		return nil, opErr(KindCorruptContainer, fmt.Errorf(
			"%w: reconstructed %d bytes, container declares %d",
			container.ErrCorrupt, written, cont.Header.NewFileSize))
	}

	est.EnterPhase("verifying")
	if cont.Header.NewFileCID != "" {
		gotCID, err := container.EncodeCIDFromDigest(digest)
		if err != nil {
			return nil, opErr(KindInternal, err)
		}
		if gotCID != cont.Header.NewFileCID {
			return nil, opErr(KindVerificationMismatch, fmt.Errorf(
				"restored file hash %s does not match container %s", gotCID, cont.Header.NewFileCID))
		}
	}

	if err := out.Sync(); err != nil {
		return nil, opErr(KindInternal, fmt.Errorf("sync output: %w", err))
	}
	if err := out.Close(); err != nil {
		return nil, opErr(KindInternal, fmt.Errorf("close output: %w", err))
	}
	if err := os.Rename(partial, outPath); err != nil {
		return nil, opErr(KindInternal, fmt.Errorf("publish output: %w", err))
	}

	log.Printf("[apply] %s + %s -> %s (%d chunks, %d bytes)",
		oldPath, patchPath, outPath, len(cont.Records), written)

	patchInfo, _ := os.Stat(patchPath)

	res := successResult("apply", start)
	res.OldSize = oldInfo.Size()
	res.NewSize = written
	if patchInfo != nil {
		res.PatchSize = patchInfo.Size()
	}
	res.ChunkCount = len(cont.Records)
	return res, nil
}

// applyRecord replays one chunk record, returning the output bytes it
// contributed.
func (p *Patcher) applyRecord(ctx context.Context, cont *container.Container, ref container.RecordRef, oldPlan []chunk.Descriptor, oldPath, scratch string, sink io.Writer) (int64, error) {
	switch ref.Kind {
	case chunk.DeletedWhole:
		return 0, nil

	case chunk.InsertedWhole:
		data, err := cont.ReadPayload(ref)
		if err != nil {
			return 0, err
		}
		n, err := sink.Write(data)
		return int64(n), err

	default: // chunk.Diffed
		if ref.Index >= len(oldPlan) {
			return 0, fmt.Errorf("%w: diffed record %d has no old chunk", container.ErrCorrupt, ref.Index)
		}
		desc := oldPlan[ref.Index]

		oldChunk := filepath.Join(scratch, fmt.Sprintf("old-%06d.tmp", ref.Index))
		patchChunk := filepath.Join(scratch, fmt.Sprintf("patch-%06d.tmp", ref.Index))
		outChunk := filepath.Join(scratch, fmt.Sprintf("out-%06d.tmp", ref.Index))

		if err := extractRange(oldPath, desc.StartByte, desc.SizeBytes, oldChunk); err != nil {
			return 0, err
		}
		if err := cont.WritePayloadTo(ref, patchChunk); err != nil {
			return 0, err
		}

		decCtx := ctx
		if p.cfg.OperationTimeout > 0 {
			var cancel context.CancelFunc
			decCtx, cancel = context.WithTimeout(ctx, p.cfg.OperationTimeout)
			defer cancel()
		}

		if err := p.engine.Decode(decCtx, oldChunk, patchChunk, outChunk); err != nil {
			return 0, err
		}

		f, err := os.Open(outChunk)
		if err != nil {
			return 0, fmt.Errorf("open decoded chunk: %w", err)
		}
		defer f.Close()

		n, err := io.Copy(sink, f)
		if err != nil {
			return n, fmt.Errorf("append decoded chunk %d: %w", ref.Index, err)
		}

		// Bound scratch usage to roughly one record at a time.
		os.Remove(oldChunk)
		os.Remove(patchChunk)
		os.Remove(outChunk)
		return n, nil
	}
}

// Verify streams both files and fails with a verification mismatch on the
// first differing byte or length difference.
func (p *Patcher) Verify(ctx context.Context, gotPath, wantPath string) (*Result, error) {
	start := time.Now()

	res, err := p.runVerify(ctx, start, gotPath, wantPath)
	if err != nil {
		oe := opErr(KindInternal, err)
		res = failureResult("verify", start, oe)
		metrics.ObserveOperation(start, "verify", "failure")
		p.record(res)
		return res, oe
	}

	metrics.ObserveOperation(start, "verify", "success")
	p.record(res)
	return res, nil
}

func (p *Patcher) runVerify(ctx context.Context, start time.Time, gotPath, wantPath string) (*Result, error) {
	gotInfo, err := statInput(gotPath)
	if err != nil {
		return nil, err
	}
	wantInfo, err := statInput(wantPath)
	if err != nil {
		return nil, err
	}

	if gotInfo.Size() != wantInfo.Size() {
		return nil, opErr(KindVerificationMismatch, fmt.Errorf(
			"size mismatch: %s is %d bytes, %s is %d bytes",
			gotPath, gotInfo.Size(), wantPath, wantInfo.Size()))
	}

	got, err := os.Open(gotPath)
	if err != nil {
		return nil, opErr(KindInternal, err)
	}
	defer got.Close()

	want, err := os.Open(wantPath)
	if err != nil {
		return nil, opErr(KindInternal, err)
	}
	defer want.Close()

	const bufSize = 1 << 20
	gotBuf := make([]byte, bufSize)
	wantBuf := make([]byte, bufSize)
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, opErr(KindInternal, err)
		}

		gn, gerr := io.ReadFull(got, gotBuf)
		wn, werr := io.ReadFull(want, wantBuf)

		if gn != wn || !bytes.Equal(gotBuf[:gn], wantBuf[:wn]) {
			return nil, opErr(KindVerificationMismatch, fmt.Errorf(
				"content mismatch within bytes [%d,%d)", offset, offset+int64(max(gn, wn))))
		}
		offset += int64(gn)

		if gerr == io.EOF || gerr == io.ErrUnexpectedEOF {
			if werr == io.EOF || werr == io.ErrUnexpectedEOF {
				break
			}
		}
		if gerr != nil && gerr != io.ErrUnexpectedEOF && gerr != io.EOF {
			return nil, opErr(KindInternal, gerr)
		}
		if werr != nil && werr != io.ErrUnexpectedEOF && werr != io.EOF {
			return nil, opErr(KindInternal, werr)
		}
	}

	res := successResult("verify", start)
	res.NewSize = gotInfo.Size()
	return res, nil
}

func hasDiffed(records []container.RecordRef) bool {
	for _, r := range records {
		if r.Kind == chunk.Diffed {
			return true
		}
	}
	return false
}

// extractRange streams one chunk of a file to a scratch path.
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
