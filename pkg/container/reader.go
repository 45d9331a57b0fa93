package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/saworbit/patchforge/pkg/chunk"
)

// Container is a parsed patch container opened for reading. Records carry
// only offsets into the source file; payloads are streamed on demand.
type Container struct {
	Header  Header
	Records []RecordRef

	f *os.File
}

// Open parses the container at path, validating structure and the merkle
// commitment before returning. Any defect surfaces as ErrCorrupt so apply
// can reject the artifact before invoking a single decode subprocess.
func Open(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}

	c := &Container{f: f}
	if err := c.parse(); err != nil {
		f.Close()
		return nil, err
	}

	return c, nil
}

// Close releases the underlying file.
func (c *Container) Close() error { return c.f.Close() }

func (c *Container) parse() error {
	var head [headerLen]byte
	if _, err := io.ReadFull(c.f, head[:]); err != nil {
		return fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}

	if string(head[:4]) != Magic {
		return fmt.Errorf("%w: bad magic %q", ErrCorrupt, head[:4])
	}

	off := 4
	c.Header.Version = binary.BigEndian.Uint16(head[off:])
	off += 2
	if c.Header.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, c.Header.Version)
	}

	c.Header.Codec = Codec(head[off])
	off += 2 // codec + reserved byte
	c.Header.ChunkSize = int64(binary.BigEndian.Uint64(head[off:]))
	off += 8
	c.Header.ChunkCount = int(binary.BigEndian.Uint32(head[off:]))
	off += 4
	c.Header.OldFileSize = int64(binary.BigEndian.Uint64(head[off:]))
	off += 8
	c.Header.NewFileSize = int64(binary.BigEndian.Uint64(head[off:]))
	off += 8
	copy(c.Header.MerkleRoot[:], head[off:off+32])
	off += 32
	cidLen := int(binary.BigEndian.Uint16(head[off:]))
	off += 2
	if cidLen > cidSlotLen {
		return fmt.Errorf("%w: cid length %d exceeds slot", ErrCorrupt, cidLen)
	}
	c.Header.NewFileCID = strings.TrimRight(string(head[off:off+cidLen]), "\x00")

	if c.Header.ChunkSize <= 0 {
		return fmt.Errorf("%w: non-positive chunk size %d", ErrCorrupt, c.Header.ChunkSize)
	}

	fileSize, err := c.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("size container: %w", err)
	}

	// Walk the record headers, collecting lazy payload refs.
	pos := int64(headerLen)
	contents := make([]recordContent, 0, c.Header.ChunkCount)
	c.Records = make([]RecordRef, 0, c.Header.ChunkCount)

	var recHead [recordHeaderLen]byte
	for pos < fileSize {
		if _, err := c.f.ReadAt(recHead[:], pos); err != nil {
			return fmt.Errorf("%w: truncated record header at %d: %v", ErrCorrupt, pos, err)
		}

		ref := RecordRef{
			Index:         int(binary.BigEndian.Uint32(recHead[0:])),
			Kind:          chunk.Kind(recHead[4]),
			Codec:         Codec(recHead[5]),
			PayloadLen:    int64(binary.BigEndian.Uint64(recHead[6:])),
			Checksum:      binary.BigEndian.Uint64(recHead[14:]),
			PayloadOffset: pos + recordHeaderLen,
		}

		if ref.Kind != chunk.Diffed && ref.Kind != chunk.InsertedWhole && ref.Kind != chunk.DeletedWhole {
			return fmt.Errorf("%w: record %d has unknown kind %d", ErrCorrupt, ref.Index, recHead[4])
		}
		if ref.Index != len(c.Records) {
			return fmt.Errorf("%w: record index %d out of order, want %d", ErrCorrupt, ref.Index, len(c.Records))
		}
		if ref.PayloadLen < 0 || ref.PayloadOffset+ref.PayloadLen > fileSize {
			return fmt.Errorf("%w: record %d payload overruns file", ErrCorrupt, ref.Index)
		}
		if ref.Kind == chunk.DeletedWhole && ref.PayloadLen != 0 {
			return fmt.Errorf("%w: deleted record %d carries payload", ErrCorrupt, ref.Index)
		}

		c.Records = append(c.Records, ref)
		contents = append(contents, recordContent{index: ref.Index, checksum: ref.Checksum})
		pos = ref.PayloadOffset + ref.PayloadLen
	}

	if len(c.Records) != c.Header.ChunkCount {
		return fmt.Errorf("%w: header declares %d chunks, found %d",
			ErrCorrupt, c.Header.ChunkCount, len(c.Records))
	}

	root, err := merkleRoot(contents)
	if err != nil {
		return err
	}
	if root != c.Header.MerkleRoot {
		return fmt.Errorf("%w: merkle root mismatch", ErrCorrupt)
	}

	return nil
}

// Payload returns a reader over one record's stored payload bytes.
func (c *Container) Payload(ref RecordRef) io.Reader {
	return io.NewSectionReader(c.f, ref.PayloadOffset, ref.PayloadLen)
}

// ReadPayload materializes and checksums one record's stored payload,
// decompressing it per the record codec.
func (c *Container) ReadPayload(ref RecordRef) ([]byte, error) {
	stored := make([]byte, ref.PayloadLen)
	if _, err := c.f.ReadAt(stored, ref.PayloadOffset); err != nil {
		return nil, fmt.Errorf("%w: record %d payload read: %v", ErrCorrupt, ref.Index, err)
	}

	if sum := xxhash.Sum64(stored); sum != ref.Checksum {
		return nil, fmt.Errorf("%w: record %d checksum mismatch", ErrCorrupt, ref.Index)
	}

	data, err := Decompress(ref.Codec, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: record %d payload decode: %v", ErrCorrupt, ref.Index, err)
	}

	return data, nil
}

// WritePayloadTo spools one record's verified, decoded payload to a file,
// for handing to the external decoder.
func (c *Container) WritePayloadTo(ref RecordRef, path string) error {
	data, err := c.ReadPayload(ref)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("spool record %d payload: %w", ref.Index, err)
	}
	return nil
}

// IsCorrupt reports whether err is a container corruption error.
func IsCorrupt(err error) bool { return errors.Is(err, ErrCorrupt) }
