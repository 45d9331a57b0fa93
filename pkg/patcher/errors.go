package patcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/saworbit/patchforge/pkg/chunk"
	"github.com/saworbit/patchforge/pkg/container"
	"github.com/saworbit/patchforge/pkg/delta"
	"github.com/saworbit/patchforge/pkg/encode"
)

// Kind classifies an operation failure. Expected failure modes are modeled
// as typed results rather than panics so batch orchestration can inspect
// them uniformly.
type Kind string

const (
	KindInvalidConfiguration  Kind = "invalid-configuration"
	KindMissingInput          Kind = "missing-input"
	KindToolUnavailable       Kind = "tool-unavailable"
	KindEncodingTimeout       Kind = "encoding-timeout"
	KindDecodingTimeout       Kind = "decoding-timeout"
	KindSubprocessFailure     Kind = "subprocess-failure"
	KindCorruptContainer      Kind = "corrupt-container"
	KindVerificationMismatch  Kind = "verification-mismatch"
	KindInternal              Kind = "internal"
)

// OpError is a classified operation failure.
type OpError struct {
	Kind Kind
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// opErr wraps err with a kind, passing through an existing classification.
func opErr(kind Kind, err error) *OpError {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe
	}
	return &OpError{Kind: kind, Err: err}
}

// classifyEncode maps an encode-stage failure onto the taxonomy.
func classifyEncode(err error) *OpError {
	return classifySubprocess(err, KindEncodingTimeout)
}

// classifyDecode maps a decode-stage failure onto the taxonomy.
func classifyDecode(err error) *OpError {
	return classifySubprocess(err, KindDecodingTimeout)
}

func classifySubprocess(err error, timeoutKind Kind) *OpError {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &OpError{Kind: timeoutKind, Err: err}
	}

	var toolErr *delta.ToolError
	if errors.As(err, &toolErr) {
		if toolErr.Timeout {
			return &OpError{Kind: timeoutKind, Err: err}
		}
		return &OpError{Kind: KindSubprocessFailure, Err: err}
	}

	var chunkErr *encode.ChunkError
	if errors.As(err, &chunkErr) {
		// re-classify on the wrapped cause, keeping the chunk context
		inner := classifySubprocess(chunkErr.Err, timeoutKind)
		return &OpError{Kind: inner.Kind, Err: err}
	}

	if errors.Is(err, delta.ErrToolNotFound) {
		return &OpError{Kind: KindToolUnavailable, Err: err}
	}
	if errors.Is(err, container.ErrCorrupt) {
		return &OpError{Kind: KindCorruptContainer, Err: err}
	}
	if errors.Is(err, chunk.ErrInvalidChunkSize) {
		return &OpError{Kind: KindInvalidConfiguration, Err: err}
	}

	return &OpError{Kind: KindInternal, Err: err}
}

// KindOf extracts the failure kind from an error, or KindInternal.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInternal
}
