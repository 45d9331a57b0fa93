package delta

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewEngine(t *testing.T) {
	cases := []struct {
		name    string
		engine  string
		wantErr bool
	}{
		{"xdelta", "xdelta", false},
		{"bsdiff", "bsdiff", false},
		{"unknown", "rsync", true},
		{"empty", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, err := NewEngine(tc.engine, "")
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for engine %q", tc.engine)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			if eng.Name() != tc.engine {
				t.Errorf("expected name %q, got %q", tc.engine, eng.Name())
			}
		})
	}
}

func TestBsdiffRoundTrip(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.bin")
	newPath := filepath.Join(dir, "new.bin")
	patchPath := filepath.Join(dir, "delta.bin")
	outPath := filepath.Join(dir, "restored.bin")

	oldData := bytes.Repeat([]byte("AAAA"), 256)
	newData := append(bytes.Repeat([]byte("AAAA"), 256), bytes.Repeat([]byte("BBBB"), 64)...)

	if err := os.WriteFile(oldPath, oldData, 0o644); err != nil {
		t.Fatalf("write old file: %v", err)
	}
	if err := os.WriteFile(newPath, newData, 0o644); err != nil {
		t.Fatalf("write new file: %v", err)
	}

	eng := NewBsdiffEngine()
	ctx := context.Background()

	if err := eng.Probe(ctx); err != nil {
		t.Fatalf("probe failed: %v", err)
	}

	if err := eng.Encode(ctx, oldPath, newPath, patchPath, Options{CompressionLevel: 6}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if err := eng.Decode(ctx, oldPath, patchPath, outPath); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	restored, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if !bytes.Equal(restored, newData) {
		t.Errorf("restored file does not match: %d bytes vs %d expected", len(restored), len(newData))
	}
}

func TestBsdiffHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.bin")
	if err := os.WriteFile(oldPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write old file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := NewBsdiffEngine()
	err := eng.Encode(ctx, oldPath, oldPath, filepath.Join(dir, "p"), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestXdeltaProbeMissingBinary(t *testing.T) {
	eng := NewXdeltaEngine(filepath.Join(t.TempDir(), "no-such-tool"))
	err := eng.Probe(context.Background())
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestXdeltaRunReportsFailure(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}

	eng := NewXdeltaEngine("/bin/false")
	err := eng.Decode(context.Background(), "a", "b", "c")
	if err == nil {
		t.Fatal("expected failure from /bin/false")
	}

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T: %v", err, err)
	}
	if toolErr.Timeout {
		t.Error("plain exit failure should not be flagged as timeout")
	}
	if toolErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", toolErr.ExitCode)
	}
}

func TestToolErrorMessage(t *testing.T) {
	e := &ToolError{Args: []string{"xdelta3", "-e"}, ExitCode: 2, Output: "bad input\n"}
	msg := e.Error()
	if !strings.Contains(msg, "exited 2") || !strings.Contains(msg, "bad input") {
		t.Errorf("unexpected message: %s", msg)
	}

	e.Timeout = true
	if !strings.Contains(e.Error(), "timed out") {
		t.Errorf("timeout message missing: %s", e.Error())
	}
}

func TestClampLevel(t *testing.T) {
	cases := []struct{ in, want int }{
		{-1, 0}, {0, 0}, {5, 5}, {9, 9}, {15, 9},
	}
	for _, tc := range cases {
		if got := clampLevel(tc.in); got != tc.want {
			t.Errorf("clampLevel(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
