package patcher

import "time"

// Status is the terminal state of an operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result is the immutable outcome of one top-level operation. On success it
// carries size and compression metrics; on failure the error classification
// plus whatever timing had elapsed.
type Result struct {
	Operation string        `json:"operation"` // create | apply | verify
	Status    Status        `json:"status"`
	Kind      Kind          `json:"kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`

	OldSize   int64 `json:"old_size,omitempty"`
	NewSize   int64 `json:"new_size,omitempty"`
	PatchSize int64 `json:"patch_size,omitempty"`

	// CompressionRatio is patch size over new size; lower is better.
	CompressionRatio float64 `json:"compression_ratio,omitempty"`

	ChunkCount int    `json:"chunk_count,omitempty"`
	Tier       string `json:"tier,omitempty"`
	Timestamp  int64  `json:"ts"`
}

// Failed reports whether the operation failed.
func (r *Result) Failed() bool { return r.Status == StatusFailure }

func successResult(op string, start time.Time) *Result {
	return &Result{
		Operation: op,
		Status:    StatusSuccess,
		Duration:  time.Since(start),
		Timestamp: start.UnixNano(),
	}
}

func failureResult(op string, start time.Time, err *OpError) *Result {
	return &Result{
		Operation: op,
		Status:    StatusFailure,
		Kind:      err.Kind,
		Message:   err.Error(),
		Duration:  time.Since(start),
		Timestamp: start.UnixNano(),
	}
}
