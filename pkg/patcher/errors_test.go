package patcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/saworbit/patchforge/pkg/container"
	"github.com/saworbit/patchforge/pkg/delta"
	"github.com/saworbit/patchforge/pkg/encode"
)

func TestClassifySubprocess(t *testing.T) {
	cases := []struct {
		name string
		err  error
		fn   func(error) *OpError
		want Kind
	}{
		{
			"encode deadline",
			fmt.Errorf("chunk wait: %w", context.DeadlineExceeded),
			classifyEncode,
			KindEncodingTimeout,
		},
		{
			"decode deadline",
			context.DeadlineExceeded,
			classifyDecode,
			KindDecodingTimeout,
		},
		{
			"tool timeout flag",
			&delta.ToolError{Timeout: true, Err: context.DeadlineExceeded},
			classifyEncode,
			KindEncodingTimeout,
		},
		{
			"tool exit failure",
			&delta.ToolError{ExitCode: 2, Output: "bad input"},
			classifyEncode,
			KindSubprocessFailure,
		},
		{
			"chunk error keeps inner kind",
			&encode.ChunkError{Index: 3, Err: &delta.ToolError{Timeout: true}},
			classifyEncode,
			KindEncodingTimeout,
		},
		{
			"chunk error with exit failure",
			&encode.ChunkError{Index: 1, Err: &delta.ToolError{ExitCode: 1}},
			classifyEncode,
			KindSubprocessFailure,
		},
		{
			"missing tool",
			fmt.Errorf("probe: %w", delta.ErrToolNotFound),
			classifyDecode,
			KindToolUnavailable,
		},
		{
			"corrupt container",
			fmt.Errorf("open: %w", container.ErrCorrupt),
			classifyDecode,
			KindCorruptContainer,
		},
		{
			"unknown error",
			errors.New("disk on fire"),
			classifyEncode,
			KindInternal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			oe := tc.fn(tc.err)
			if oe.Kind != tc.want {
				t.Errorf("classified as %s, want %s", oe.Kind, tc.want)
			}
		})
	}
}

func TestOpErrPassesThroughClassification(t *testing.T) {
	orig := &OpError{Kind: KindMissingInput, Err: errors.New("gone")}
	wrapped := fmt.Errorf("while validating: %w", orig)

	oe := opErr(KindInternal, wrapped)
	if oe.Kind != KindMissingInput {
		t.Errorf("expected original kind to survive, got %s", oe.Kind)
	}
}

func TestKindOf(t *testing.T) {
	if k := KindOf(&OpError{Kind: KindCorruptContainer}); k != KindCorruptContainer {
		t.Errorf("expected corrupt-container, got %s", k)
	}
	if k := KindOf(errors.New("plain")); k != KindInternal {
		t.Errorf("plain errors should be internal, got %s", k)
	}
}
