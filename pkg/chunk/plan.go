package chunk

import (
	"errors"
	"fmt"
)

// ErrInvalidChunkSize is returned when a plan is requested with a
// non-positive chunk size.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Descriptor identifies one contiguous byte range of a file.
// Boundaries are deterministic: Start(i) = i*C, End(i) = min((i+1)*C, size),
// so two independently computed plans for the same inputs always agree.
type Descriptor struct {
	Index     int
	StartByte int64
	EndByte   int64 // exclusive
	SizeBytes int64
}

// Plan splits a file of fileSize bytes into fixed-size chunk descriptors.
// A zero-length file yields an empty plan; callers handle empty files as
// whole-insert or whole-delete at the container level.
func Plan(fileSize, chunkSize int64) ([]Descriptor, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	if fileSize < 0 {
		return nil, fmt.Errorf("file size must be non-negative, got %d", fileSize)
	}
	if fileSize == 0 {
		return []Descriptor{}, nil
	}

	count := int((fileSize + chunkSize - 1) / chunkSize)
	plan := make([]Descriptor, 0, count)

	for i := 0; i < count; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > fileSize {
			end = fileSize
		}
		plan = append(plan, Descriptor{
			Index:     i,
			StartByte: start,
			EndByte:   end,
			SizeBytes: end - start,
		})
	}

	return plan, nil
}

// Kind describes how an aligned chunk pair is processed.
type Kind int

const (
	// Diffed means both sides exist and are delta-encoded against each other.
	Diffed Kind = iota
	// InsertedWhole means only the new side exists; its bytes are carried raw.
	InsertedWhole
	// DeletedWhole means only the old side exists; no output bytes.
	DeletedWhole
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Diffed:
		return "diffed"
	case InsertedWhole:
		return "inserted-whole"
	case DeletedWhole:
		return "deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Pair is an index-aligned chunk pair from the old and new plans.
// Old and New are nil when the respective side has no chunk at that index.
// Chunks are comparable across files only by index; their byte ranges may
// differ in size at the same index when file lengths diverge.
type Pair struct {
	Index int
	Kind  Kind
	Old   *Descriptor
	New   *Descriptor
}

// Align combines the independently computed old and new plans by index.
// Indices present in both plans become Diffed pairs; a longer new plan
// contributes InsertedWhole tails, a longer old plan DeletedWhole tails.
// Mismatched byte ranges at a shared index are still diffed as a pair.
func Align(oldPlan, newPlan []Descriptor) []Pair {
	n := len(oldPlan)
	if len(newPlan) > n {
		n = len(newPlan)
	}

	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		p := Pair{Index: i}
		if i < len(oldPlan) {
			d := oldPlan[i]
			p.Old = &d
		}
		if i < len(newPlan) {
			d := newPlan[i]
			p.New = &d
		}

		switch {
		case p.Old != nil && p.New != nil:
			p.Kind = Diffed
		case p.New != nil:
			p.Kind = InsertedWhole
		default:
			p.Kind = DeletedWhole
		}

		pairs = append(pairs, p)
	}

	return pairs
}

// TotalBytes sums each pair's contributing side: the new chunk when present,
// otherwise the old. It is the byte total progress reporting divides against
// during encoding.
func TotalBytes(pairs []Pair) int64 {
	var total int64
	for _, p := range pairs {
		if p.New != nil {
			total += p.New.SizeBytes
		} else if p.Old != nil {
			total += p.Old.SizeBytes
		}
	}
	return total
}
