package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stderrTailSize is how many trailing stderr lines a Command keeps for
// error reporting.
const stderrTailSize = 100

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary        string
	logLevel      string
	globalArgs    []string
	inputs        []input
	videoFilters  []string
	audioFilters  []string
	filterComplex string
	maps          []string
	outputArgs    []string
	output        string
	overwrite     bool
}

type input struct {
	args []string
	path string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats enables periodic progress lines on stderr.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// Input appends an input file. Inputs are numbered in the order added.
func (b *CommandBuilder) Input(path string, args ...string) *CommandBuilder {
	b.inputs = append(b.inputs, input{args: args, path: path})
	return b
}

// VideoFilter appends filters to the -vf chain.
func (b *CommandBuilder) VideoFilter(filters ...string) *CommandBuilder {
	b.videoFilters = append(b.videoFilters, filters...)
	return b
}

// AudioFilter appends filters to the -af chain.
func (b *CommandBuilder) AudioFilter(filters ...string) *CommandBuilder {
	b.audioFilters = append(b.audioFilters, filters...)
	return b
}

// FilterComplex sets a -filter_complex graph. It replaces -vf and -af.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.filterComplex = graph
	return b
}

// Map selects a stream or filter graph label for the output.
func (b *CommandBuilder) Map(spec string) *CommandBuilder {
	b.maps = append(b.maps, spec)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// NoAudio drops all audio streams from the output.
func (b *CommandBuilder) NoAudio() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-an")
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	for _, in := range b.inputs {
		args = append(args, in.args...)
		args = append(args, "-i", in.path)
	}

	if b.filterComplex != "" {
		args = append(args, "-filter_complex", b.filterComplex)
	} else {
		if len(b.videoFilters) > 0 {
			args = append(args, "-vf", strings.Join(b.videoFilters, ","))
		}
		if len(b.audioFilters) > 0 {
			args = append(args, "-af", strings.Join(b.audioFilters, ","))
		}
	}

	for _, m := range b.maps {
		args = append(args, "-map", m)
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary: b.binary,
		Args:   args,
		Output: b.output,
	}
}

// Command is a built FFmpeg invocation.
type Command struct {
	Binary string
	Args   []string
	Output string

	mu          sync.Mutex
	started     time.Time
	stderrLines []string
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// RunError is returned when the process could not be started or exited
// unsuccessfully. Stderr holds the trailing diagnostic lines verbatim.
type RunError struct {
	// Started is false when the binary could not be spawned at all.
	Started  bool
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *RunError) Error() string {
	if !e.Started {
		return fmt.Sprintf("starting ffmpeg: %v", e.Err)
	}
	if tail := e.Tail(5); tail != "" {
		return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, tail)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Tail joins the last n non-empty stderr lines.
func (e *RunError) Tail(n int) string {
	lines := e.Stderr
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Run starts the command, calls onLine for every stderr line (progress
// lines included) and waits for it to exit.
func (c *Command) Run(ctx context.Context, onLine func(line string)) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.WaitDelay = 5 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &RunError{Err: fmt.Errorf("getting stderr pipe: %w", err)}
	}

	c.mu.Lock()
	c.started = time.Now()
	c.stderrLines = c.stderrLines[:0]
	c.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return &RunError{Err: err}
	}

	c.captureStderr(stderr, onLine)

	if err := cmd.Wait(); err != nil {
		runErr := &RunError{Started: true, ExitCode: -1, Stderr: c.StderrLines(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			runErr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			runErr.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return runErr
	}
	return nil
}

func (c *Command) captureStderr(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(ScanProgressLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		c.mu.Lock()
		if len(c.stderrLines) >= stderrTailSize {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.mu.Unlock()

		if onLine != nil {
			onLine(line)
		}
	}
}

// StderrLines returns a copy of the retained stderr lines.
func (c *Command) StderrLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stderrLines...)
}

// Elapsed returns how long ago the command was started.
func (c *Command) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}
