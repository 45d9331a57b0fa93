package tier

import "testing"

const mb = 1024 * 1024

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		size int64
		want Tier
	}{
		{0, Normal},
		{5 * mb, Normal},
		{10*mb - 1, Normal},
		{10 * mb, Large},
		{100 * mb, Large},
		{500 * mb, Huge},
		{1024*mb - 1, Huge},
		{1024 * mb, Extreme},
		{50 * 1024 * mb, Extreme},
	}

	for _, tc := range cases {
		if got := th.Classify(tc.size); got != tc.want {
			t.Errorf("Classify(%d) = %s, want %s", tc.size, got, tc.want)
		}
	}
}

func TestThresholdsValid(t *testing.T) {
	if !DefaultThresholds().Valid() {
		t.Error("default thresholds should be valid")
	}
	if (Thresholds{Large: 100, Huge: 100, Extreme: 200}).Valid() {
		t.Error("equal boundaries should be invalid")
	}
	if (Thresholds{Large: 0, Huge: 10, Extreme: 20}).Valid() {
		t.Error("zero large boundary should be invalid")
	}
}

func TestProfileFor(t *testing.T) {
	// Normal keeps whatever the caller asked for.
	if p := ProfileFor(Normal, 9); p.CompressionLevel != 9 || p.UseChunking {
		t.Errorf("unexpected normal profile: %+v", p)
	}

	// Large caps the level at 6 and streams, but does not chunk.
	p := ProfileFor(Large, 9)
	if p.CompressionLevel != 6 || !p.UseStreaming || p.UseChunking || p.SkipVerification {
		t.Errorf("unexpected large profile: %+v", p)
	}
	if p := ProfileFor(Large, 2); p.CompressionLevel != 2 {
		t.Errorf("large should keep level below the cap, got %d", p.CompressionLevel)
	}

	// Huge caps at 3, chunks, and skips whole-file verification.
	p = ProfileFor(Huge, 9)
	if p.CompressionLevel != 3 || !p.UseChunking || !p.SkipVerification {
		t.Errorf("unexpected huge profile: %+v", p)
	}

	// Extreme ignores the requested level entirely.
	p = ProfileFor(Extreme, 9)
	if p.CompressionLevel != 1 || !p.UseChunking || !p.UseStreaming {
		t.Errorf("unexpected extreme profile: %+v", p)
	}
}

func TestTierString(t *testing.T) {
	if Normal.String() != "normal" || Extreme.String() != "extreme" {
		t.Error("unexpected tier names")
	}
	if Tier(42).String() != "tier(42)" {
		t.Errorf("unexpected fallback name: %s", Tier(42))
	}
}
