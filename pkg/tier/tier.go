package tier

import "fmt"

// Tier classifies a file size into a processing class.
type Tier int

const (
	Normal Tier = iota
	Large
	Huge
	Extreme
)

// String returns the lowercase name of the tier.
func (t Tier) String() string {
	switch t {
	case Normal:
		return "normal"
	case Large:
		return "large"
	case Huge:
		return "huge"
	case Extreme:
		return "extreme"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Thresholds holds the byte boundaries between tiers.
// A size below Large is Normal, below Huge is Large, below Extreme is Huge,
// anything at or above Extreme is Extreme.
type Thresholds struct {
	Large   int64
	Huge    int64
	Extreme int64
}

// DefaultThresholds returns the stock 10MB/500MB/1GB boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Large:   10 * 1024 * 1024,
		Huge:    500 * 1024 * 1024,
		Extreme: 1 * 1024 * 1024 * 1024,
	}
}

// Valid reports whether the thresholds are strictly increasing.
func (t Thresholds) Valid() bool {
	return 0 < t.Large && t.Large < t.Huge && t.Huge < t.Extreme
}

// Classify maps a byte size to exactly one tier.
func (t Thresholds) Classify(sizeBytes int64) Tier {
	switch {
	case sizeBytes >= t.Extreme:
		return Extreme
	case sizeBytes >= t.Huge:
		return Huge
	case sizeBytes >= t.Large:
		return Large
	default:
		return Normal
	}
}

// Profile is the optimization profile derived from a tier.
type Profile struct {
	CompressionLevel int
	SkipVerification bool
	UseStreaming     bool
	UseChunking      bool
}

// ProfileFor derives the processing profile for a tier. requestedLevel is the
// caller's compression level; tiers above Normal may cap it to keep encode
// time bounded, and Extreme always forces chunking with minimum compression.
func ProfileFor(t Tier, requestedLevel int) Profile {
	switch t {
	case Large:
		return Profile{
			CompressionLevel: capLevel(requestedLevel, 6),
			UseStreaming:     true,
		}
	case Huge:
		return Profile{
			CompressionLevel: capLevel(requestedLevel, 3),
			SkipVerification: true,
			UseStreaming:     true,
			UseChunking:      true,
		}
	case Extreme:
		return Profile{
			CompressionLevel: 1,
			SkipVerification: true,
			UseStreaming:     true,
			UseChunking:      true,
		}
	default:
		return Profile{CompressionLevel: requestedLevel}
	}
}

func capLevel(requested, max int) int {
	if requested > max {
		return max
	}
	if requested < 0 {
		return 0
	}
	return requested
}
