package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/reelcast/internal/ffmpeg"
)

// Stage names used in errors and logs.
const (
	StageValidate  = "validate"
	StageMerge     = "merge"
	StageProbe     = "probe"
	StageEncode    = "encode"
	StagePublish   = "publish"
	StageThumbnail = "thumbnail"
)

// InputError is a failure that retrying cannot fix: a missing source file,
// an empty file list, a mismatched merge layout or an unusable plan.
type InputError struct {
	Stage  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.Err
}

// NewInputError creates an InputError for stage with a formatted reason.
func NewInputError(stage, format string, args ...any) *InputError {
	return &InputError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// ExecError is a transient execution failure: spawn errors, unexplained
// nonzero exits, probe or publish failures.
type ExecError struct {
	Stage string
	Err   error
}

// Error implements the error interface. The wrapped text is kept as is so
// the encoder's own diagnostics reach the asset.
func (e *ExecError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return false
	}
	if errors.Is(err, ffmpeg.ErrInvalidPlan) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// StageOf returns the stage an error was raised in, or "" when unknown.
func StageOf(err error) string {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return inputErr.Stage
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Stage
	}
	return ""
}

// badInputSignatures are ffmpeg stderr fragments that mean the input itself
// is unusable.
var badInputSignatures = []string{
	"No such file or directory",
	"Invalid data found when processing input",
	"moov atom not found",
	"does not contain any stream",
}

// classifyRunError maps an engine failure into the error taxonomy.
func classifyRunError(stage string, err error) error {
	var runErr *ffmpeg.RunError
	if !errors.As(err, &runErr) || !runErr.Started {
		return &ExecError{Stage: stage, Err: err}
	}
	for _, line := range runErr.Stderr {
		for _, sig := range badInputSignatures {
			if strings.Contains(line, sig) {
				return &InputError{Stage: stage, Err: err}
			}
		}
	}
	return &ExecError{Stage: stage, Err: err}
}
