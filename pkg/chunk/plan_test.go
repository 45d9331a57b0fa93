package chunk

import (
	"errors"
	"testing"
)

func TestPlanCoversFileExactly(t *testing.T) {
	cases := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		want      int
	}{
		{"empty file", 0, 64, 0},
		{"smaller than chunk", 10, 64, 1},
		{"exact multiple", 256, 64, 4},
		{"ragged tail", 260, 64, 5},
		{"single byte", 1, 64, 1},
		{"chunk of one", 5, 1, 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Plan(tc.fileSize, tc.chunkSize)
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if len(plan) != tc.want {
				t.Fatalf("expected %d chunks, got %d", tc.want, len(plan))
			}

			// Chunks must tile the file with no gaps or overlap.
			var pos int64
			for i, d := range plan {
				if d.Index != i {
					t.Errorf("chunk %d has index %d", i, d.Index)
				}
				if d.StartByte != pos {
					t.Errorf("chunk %d starts at %d, expected %d", i, d.StartByte, pos)
				}
				if d.SizeBytes != d.EndByte-d.StartByte {
					t.Errorf("chunk %d size %d != range %d", i, d.SizeBytes, d.EndByte-d.StartByte)
				}
				pos = d.EndByte
			}
			if pos != tc.fileSize {
				t.Errorf("plan covers %d bytes, file has %d", pos, tc.fileSize)
			}
		})
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	if _, err := Plan(100, 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := Plan(100, -5); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := Plan(-1, 64); err == nil {
		t.Error("expected error for negative file size")
	}
}

func TestAlignGrowingFile(t *testing.T) {
	// Old file one chunk, new file two: second chunk is a whole insert.
	oldPlan, _ := Plan(4, 4)
	newPlan, _ := Plan(8, 4)

	pairs := Align(oldPlan, newPlan)
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].Kind != Diffed || pairs[0].Old == nil || pairs[0].New == nil {
		t.Errorf("pair 0 should be diffed, got %+v", pairs[0])
	}
	if pairs[1].Kind != InsertedWhole || pairs[1].Old != nil {
		t.Errorf("pair 1 should be a whole insert, got %+v", pairs[1])
	}
}

func TestAlignShrinkingFile(t *testing.T) {
	oldPlan, _ := Plan(12, 4)
	newPlan, _ := Plan(4, 4)

	pairs := Align(oldPlan, newPlan)
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
	if pairs[0].Kind != Diffed {
		t.Errorf("pair 0 should be diffed, got %s", pairs[0].Kind)
	}
	for _, p := range pairs[1:] {
		if p.Kind != DeletedWhole || p.New != nil {
			t.Errorf("pair %d should be a whole delete, got %+v", p.Index, p)
		}
	}
}

func TestAlignRaggedTails(t *testing.T) {
	// Same chunk index, different sizes: still diffed as a pair.
	oldPlan, _ := Plan(6, 4)
	newPlan, _ := Plan(7, 4)

	pairs := Align(oldPlan, newPlan)
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	last := pairs[1]
	if last.Kind != Diffed {
		t.Fatalf("ragged tail should be diffed, got %s", last.Kind)
	}
	if last.Old.SizeBytes != 2 || last.New.SizeBytes != 3 {
		t.Errorf("unexpected tail sizes: old=%d new=%d", last.Old.SizeBytes, last.New.SizeBytes)
	}
}

func TestTotalBytes(t *testing.T) {
	oldPlan, _ := Plan(12, 4)
	newPlan, _ := Plan(8, 4)

	// Two diffed pairs count the new side, the deleted tail counts the old.
	if got := TotalBytes(Align(oldPlan, newPlan)); got != 12 {
		t.Errorf("expected 12 bytes, got %d", got)
	}

	if got := TotalBytes(nil); got != 0 {
		t.Errorf("empty pair list should total 0, got %d", got)
	}
}
