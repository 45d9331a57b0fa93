package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/saworbit/patchforge/pkg/chunk"
)

// Writer streams chunk records into a container file in index order.
// Records must be appended strictly by index; the header is written
// provisionally up front and patched in place on Finalize once the merkle
// root over all record checksums is known. Payloads are never buffered
// beyond the single record being appended.
type Writer struct {
	f         *os.File
	path      string
	hdr       Header
	next      int
	contents  []recordContent
	finalized bool
}

// NewWriter opens a container for writing at path. hdr.ChunkCount,
// MerkleRoot and NewFileCID may be zero; they are completed at Finalize.
func NewWriter(path string, hdr Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	hdr.Version = FormatVersion

	w := &Writer{f: f, path: path, hdr: hdr}
	if err := w.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	return w, nil
}

func (w *Writer) writeHeader() error {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek header: %w", err)
	}

	if len(w.hdr.NewFileCID) > cidSlotLen {
		return fmt.Errorf("cid exceeds header slot: %d bytes", len(w.hdr.NewFileCID))
	}

	buf := make([]byte, 0, headerLen)
	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, w.hdr.Version)
	buf = append(buf, byte(w.hdr.Codec), 0)
	buf = binary.BigEndian.AppendUint64(buf, uint64(w.hdr.ChunkSize))
	buf = binary.BigEndian.AppendUint32(buf, uint32(w.hdr.ChunkCount))
	buf = binary.BigEndian.AppendUint64(buf, uint64(w.hdr.OldFileSize))
	buf = binary.BigEndian.AppendUint64(buf, uint64(w.hdr.NewFileSize))
	buf = append(buf, w.hdr.MerkleRoot[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(w.hdr.NewFileCID)))
	var cidSlot [cidSlotLen]byte
	copy(cidSlot[:], w.hdr.NewFileCID)
	buf = append(buf, cidSlot[:]...)

	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	return nil
}

// Append streams one record's payload into the container. Records must
// arrive in index order; the encode scheduler reorders completions before
// calling. length is the stored (post-codec) payload size and payload may be
// nil for DeletedWhole records.
func (w *Writer) Append(index int, kind chunk.Kind, codec Codec, payload io.Reader, length int64) error {
	if w.finalized {
		return fmt.Errorf("append after finalize")
	}
	if index != w.next {
		return fmt.Errorf("record index %d out of order, want %d", index, w.next)
	}
	if kind == chunk.DeletedWhole && length != 0 {
		return fmt.Errorf("deleted record %d must carry no payload, got %d bytes", index, length)
	}

	// The checksum lives in the record header but is only known after the
	// payload streams through, so write a zero slot and patch it after.
	hdrOff, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locate record %d: %w", index, err)
	}

	head := make([]byte, 0, recordHeaderLen)
	head = binary.BigEndian.AppendUint32(head, uint32(index))
	head = append(head, byte(kind), byte(codec))
	head = binary.BigEndian.AppendUint64(head, uint64(length))
	head = binary.BigEndian.AppendUint64(head, 0) // checksum, patched below

	if _, err := w.f.Write(head); err != nil {
		return fmt.Errorf("write record %d header: %w", index, err)
	}

	digest := xxhash.New()
	if length > 0 {
		n, err := io.Copy(io.MultiWriter(w.f, digest), io.LimitReader(payload, length))
		if err != nil {
			return fmt.Errorf("write record %d payload: %w", index, err)
		}
		if n != length {
			return fmt.Errorf("record %d payload short: wrote %d of %d bytes", index, n, length)
		}
	}

	sum := digest.Sum64()
	var sumBuf [8]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	if _, err := w.f.WriteAt(sumBuf[:], hdrOff+recordHeaderLen-8); err != nil {
		return fmt.Errorf("patch record %d checksum: %w", index, err)
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("reposition after record %d: %w", index, err)
	}

	w.contents = append(w.contents, recordContent{index: index, checksum: sum})
	w.next++

	return nil
}

// Finalize completes the header with the record count, merkle root and the
// new-file CID, then syncs and closes the file.
func (w *Writer) Finalize(newFileCID string) error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	root, err := merkleRoot(w.contents)
	if err != nil {
		w.f.Close()
		return err
	}

	w.hdr.ChunkCount = w.next
	w.hdr.MerkleRoot = root
	if newFileCID != "" {
		w.hdr.NewFileCID = newFileCID
	}

	if err := w.writeHeader(); err != nil {
		w.f.Close()
		return err
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync container: %w", err)
	}

	return w.f.Close()
}

// Abort discards the partially written container. Safe to call after a
// failed Append; the destination never survives a failed operation.
func (w *Writer) Abort() {
	if w.finalized {
		return
	}
	w.finalized = true
	w.f.Close()
	os.Remove(w.path)
}
