package delta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolNotFound indicates the external delta executable could not be
// located on this host.
var ErrToolNotFound = errors.New("xdelta3 executable not found")

// ToolError carries the diagnostic output of a failed subprocess invocation.
type ToolError struct {
	Args     []string
	ExitCode int
	Output   string // combined stdout/stderr, surfaced verbatim
	Timeout  bool
	Err      error
}

func (e *ToolError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("xdelta3 timed out: %s", strings.Join(e.Args, " "))
	}
	msg := fmt.Sprintf("xdelta3 exited %d: %s", e.ExitCode, strings.Join(e.Args, " "))
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// XdeltaEngine drives the xdelta3 executable as a subprocess. The tool is a
// black box: exit code 0 means success, anything else is failure, and its
// stderr is preserved verbatim for diagnostics.
type XdeltaEngine struct {
	toolPath string
}

// NewXdeltaEngine creates a subprocess-backed engine. toolPath may be empty,
// in which case the executable is discovered via PATH at probe time.
func NewXdeltaEngine(toolPath string) *XdeltaEngine {
	if toolPath == "" {
		toolPath = "xdelta3"
	}
	return &XdeltaEngine{toolPath: toolPath}
}

// Name returns the name of the engine
func (e *XdeltaEngine) Name() string { return "xdelta" }

// Probe verifies the executable exists and responds. The version invocation
// legitimately exits 1 on some builds, so only a missing binary or a
// start failure counts as unavailable.
func (e *XdeltaEngine) Probe(ctx context.Context) error {
	resolved, err := exec.LookPath(e.toolPath)
	if err != nil {
		return fmt.Errorf("%w: install xdelta3 (e.g. 'apt install xdelta3' or 'brew install xdelta') or set PATCHFORGE_TOOL_PATH: %v", ErrToolNotFound, err)
	}

	cmd := exec.CommandContext(ctx, resolved, "-V")
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			// Usage/version output exits 1 on older releases.
			return nil
		}
		return fmt.Errorf("%w: probe invocation failed: %v", ErrToolNotFound, err)
	}

	return nil
}

// Encode writes a delta transforming oldPath into newPath at patchPath.
func (e *XdeltaEngine) Encode(ctx context.Context, oldPath, newPath, patchPath string, opts Options) error {
	args := []string{"-e", "-f", fmt.Sprintf("-%d", clampLevel(opts.CompressionLevel))}
	if opts.DisableChecksum {
		args = append(args, "-n")
	}
	args = append(args, "-s", oldPath, newPath, patchPath)
	return e.run(ctx, args)
}

// Decode applies the delta at patchPath to oldPath, writing outPath.
func (e *XdeltaEngine) Decode(ctx context.Context, oldPath, patchPath, outPath string) error {
	return e.run(ctx, []string{"-d", "-f", "-s", oldPath, patchPath, outPath})
}

// run invokes the tool with a discrete argument vector; arguments are never
// joined through a shell, so paths with spaces or metacharacters are safe.
func (e *XdeltaEngine) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.toolPath, args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return nil
	}

	toolErr := &ToolError{
		Args:   append([]string{e.toolPath}, args...),
		Output: output.String(),
		Err:    err,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// CommandContext killed the process; report the deadline, not
		// the synthetic exit status.
		toolErr.Timeout = errors.Is(ctxErr, context.DeadlineExceeded)
		toolErr.Err = ctxErr
		return toolErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		toolErr.ExitCode = exitErr.ExitCode()
	}

	return toolErr
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 9 {
		return 9
	}
	return level
}
