package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/reelcast/internal/ffmpeg"
)

// partialSuffix marks an output that is still being written.
const partialSuffix = ".partial"

// PartialPath returns the in-progress sibling of output.
func PartialPath(output string) string {
	return output + partialSuffix
}

// Encoder runs the final filtered re-encode.
type Encoder struct {
	ffmpegPath string
	logLevel   string
	logger     *slog.Logger
}

// NewEncoder creates an encoder for the given ffmpeg binary.
func NewEncoder(ffmpegPath string) *Encoder {
	return &Encoder{
		ffmpegPath: ffmpegPath,
		logLevel:   "error",
		logger:     slog.Default(),
	}
}

// WithLogLevel sets the ffmpeg -loglevel. Progress lines are requested with
// -stats independently of it.
func (e *Encoder) WithLogLevel(level string) *Encoder {
	if level != "" {
		e.logLevel = level
	}
	return e
}

// WithLogger sets the logger.
func (e *Encoder) WithLogger(logger *slog.Logger) *Encoder {
	e.logger = logger
	return e
}

// Command builds the encode invocation writing to the partial path.
func (e *Encoder) Command(input, output string, graph ffmpeg.Graph) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder(e.ffmpegPath).
		LogLevel(e.logLevel).
		HideBanner().
		Stats().
		Overwrite().
		Input(input)
	if graph.HasMusic() {
		b.Input(graph.MusicTrack, "-stream_loop", "-1").
			FilterComplex(graph.FilterComplex()).
			Map("[vout]").
			Map("[aout]")
	} else {
		b.VideoFilter(graph.VideoFilters...)
		if graph.KeepsAudio() {
			b.AudioFilter(graph.AudioFilters...)
		}
	}
	return b.OutputArgs(graph.CodecArgs...).
		OutputArgs(graph.OutputArgs...).
		Output(PartialPath(output)).
		Build()
}

// Encode runs the encode and reports stage-local progress in [0,1] through
// report. output only appears on success; on failure the partial file is
// removed and the error carries the engine's stderr tail.
func (e *Encoder) Encode(
	ctx context.Context,
	input, output string,
	graph ffmpeg.Graph,
	parser ffmpeg.ProgressParser,
	report func(fraction float64),
) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return &ExecError{Stage: StageEncode, Err: fmt.Errorf("creating output directory: %w", err)}
	}
	cmd := e.Command(input, output, graph)
	e.logger.DebugContext(ctx, "starting encode", slog.String("command", cmd.String()))

	return runToFile(ctx, StageEncode, cmd, output, parser, report)
}

// runToFile runs cmd, which writes to PartialPath(output), and promotes the
// partial file on exit 0.
func runToFile(
	ctx context.Context,
	stage string,
	cmd *ffmpeg.Command,
	output string,
	parser ffmpeg.ProgressParser,
	report func(float64),
) error {
	partial := PartialPath(output)

	err := cmd.Run(ctx, func(line string) {
		if parser == nil || report == nil {
			return
		}
		if fraction, ok := parser.Parse(line); ok {
			report(fraction)
		}
	})
	if err != nil {
		_ = os.Remove(partial)
		return classifyRunError(stage, err)
	}

	if err := os.Rename(partial, output); err != nil {
		_ = os.Remove(partial)
		return &ExecError{Stage: stage, Err: fmt.Errorf("promoting %s output: %w", stage, err)}
	}
	return nil
}
