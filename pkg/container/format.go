// Package container defines the on-disk patch container: a header followed
// by length-prefixed chunk records that, replayed in index order against the
// old file, reconstruct the new file exactly.
package container

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/cbergoon/merkletree"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"
	"github.com/ulikunitz/xz"

	"github.com/saworbit/patchforge/pkg/chunk"
)

// Magic identifies a patch container file.
const Magic = "PFC1"

// FormatVersion is the current container format version.
const FormatVersion = 1

// Fixed layout sizes. The header is written provisionally when a container
// is opened for writing and patched in place on finalize, so it must not
// change length.
const (
	cidSlotLen      = 64 // length-prefixed, zero-padded CID slot
	headerLen       = 4 + 2 + 1 + 1 + 8 + 4 + 8 + 8 + 32 + 2 + cidSlotLen
	recordHeaderLen = 4 + 1 + 1 + 8 + 8
)

// ErrCorrupt marks any structural defect detected while reading a container:
// bad magic, truncated records, count mismatch, or a merkle root that does
// not match the records. It is always detected before any decode subprocess
// is invoked.
var ErrCorrupt = errors.New("corrupt patch container")

// Codec identifies how a record payload is compressed on disk.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecXz
)

// ParseCodec maps a configuration string to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "xz":
		return CodecXz, nil
	default:
		return CodecNone, fmt.Errorf("unknown codec: %s", name)
	}
}

// String returns the configuration name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecXz:
		return "xz"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// Header describes the chunking scheme the container was created with plus
// the integrity anchors for the reassembled output.
type Header struct {
	Version     uint16
	Codec       Codec
	ChunkSize   int64
	ChunkCount  int
	OldFileSize int64
	NewFileSize int64

	// MerkleRoot commits to the ordered record checksums.
	MerkleRoot [32]byte

	// NewFileCID is the base58 multihash of the fully reassembled new file,
	// verified after apply unless the profile skips verification.
	NewFileCID string
}

// RecordRef is a lazy reference to one chunk record inside a container:
// offsets and lengths only, never materialized payload.
type RecordRef struct {
	Index         int
	Kind          chunk.Kind
	Codec         Codec
	PayloadOffset int64
	PayloadLen    int64
	Checksum      uint64 // xxhash64 of the stored payload bytes
}

// recordContent adapts a record's identity to the merkletree.Content
// interface, hashing "index:checksum" the same way on write and read.
type recordContent struct {
	index    int
	checksum uint64
}

func (c recordContent) CalculateHash() ([]byte, error) {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%016x", c.index, c.checksum)
	return h.Sum(nil), nil
}

func (c recordContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(recordContent)
	if !ok {
		return false, fmt.Errorf("content type mismatch")
	}
	return c == o, nil
}

// merkleRoot computes the root over the ordered record checksums. An empty
// record list (both inputs empty) commits to the zero root.
func merkleRoot(checksums []recordContent) ([32]byte, error) {
	var root [32]byte
	if len(checksums) == 0 {
		return root, nil
	}

	contents := make([]merkletree.Content, len(checksums))
	for i, c := range checksums {
		contents[i] = c
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return root, fmt.Errorf("build merkle tree: %w", err)
	}

	copy(root[:], tree.MerkleRoot())
	return root, nil
}

// ComputeCID produces the base58 multihash (SHA2-256) of everything in r.
func ComputeCID(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}

	mh, err := multihash.Encode(h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("encode multihash: %w", err)
	}

	return multihash.Multihash(mh).B58String(), nil
}

// NewCIDDigest returns a hasher for incremental CID computation; apply uses
// it to hash output while writing it.
func NewCIDDigest() hash.Hash { return sha256.New() }

// EncodeCIDFromDigest finishes a digest started with NewCIDDigest.
func EncodeCIDFromDigest(h hash.Hash) (string, error) {
	mh, err := multihash.Encode(h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("encode multihash: %w", err)
	}
	return multihash.Multihash(mh).B58String(), nil
}

var (
	zstdEncoderOnce sync.Once
	zstdDecoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdDecoder     *zstd.Decoder
	zstdInitErr     error
)

func getZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			zstdInitErr = err
			return
		}
		zstdEncoder = enc
	})
	return zstdEncoder, zstdInitErr
}

func getZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			zstdInitErr = err
			return
		}
		zstdDecoder = dec
	})
	return zstdDecoder, zstdInitErr
}

// Compress encodes a raw payload with the given codec.
func Compress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	case CodecXz:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("init xz writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("xz compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("finish xz stream: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown codec: %d", codec)
	}
}

// Decompress decodes a stored payload with the given codec.
func Decompress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	case CodecXz:
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("init xz reader: %w", err)
		}
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown codec: %d", codec)
	}
}
