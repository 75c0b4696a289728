package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmylchreest/reelcast/internal/ffmpeg"
	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/style"
)

// Merge normalization targets. Every segment is brought to the same frame
// rate and sample rate so concat accepts them.
const (
	mergeFrameRate  = 30
	mergeSampleRate = 48000
)

// Merger concatenates the source files of a multi-file job into one stream.
type Merger struct {
	ffmpegPath string
	prober     *ffmpeg.Prober
	logLevel   string
	logger     *slog.Logger
}

// NewMerger creates a merger.
func NewMerger(ffmpegPath string, prober *ffmpeg.Prober) *Merger {
	return &Merger{
		ffmpegPath: ffmpegPath,
		prober:     prober,
		logLevel:   "error",
		logger:     slog.Default(),
	}
}

// WithLogLevel sets the ffmpeg -loglevel.
func (m *Merger) WithLogLevel(level string) *Merger {
	if level != "" {
		m.logLevel = level
	}
	return m
}

// WithLogger sets the logger.
func (m *Merger) WithLogger(logger *slog.Logger) *Merger {
	m.logger = logger
	return m
}

// Inspect checks the concat precondition: at least two inputs, each with
// exactly one video and one audio stream. It returns the summed duration.
func (m *Merger) Inspect(ctx context.Context, files []models.SourceFile) (float64, error) {
	if len(files) < 2 {
		return 0, NewInputError(StageMerge, "merge requires at least 2 source files, got %d", len(files))
	}

	var total float64
	for i, f := range files {
		probe, err := m.prober.Probe(ctx, f.Path)
		if err != nil {
			return 0, &ExecError{Stage: StageMerge, Err: fmt.Errorf("probing %s: %w", f.Path, err)}
		}

		video, audio := probe.CountStreams("video"), probe.CountStreams("audio")
		if video != 1 || audio != 1 {
			return 0, NewInputError(StageMerge,
				"source file %d (%s) has %d video and %d audio streams; merge needs exactly 1 of each",
				i+1, displayName(f), video, audio)
		}

		if d, ok := probe.FormatDuration(); ok {
			total += d
		} else if d, ok := probe.StreamDuration(); ok {
			total += d
		}
	}
	return total, nil
}

// FilterGraph returns the -filter_complex graph that normalizes n inputs to
// res and concatenates them into [outv] and [outa].
func FilterGraph(n int, res style.Resolution) string {
	w, h := strconv.Itoa(res.Width), strconv.Itoa(res.Height)

	var (
		parts  = make([]string, 0, 2*n+1)
		joined strings.Builder
	)
	for i := range n {
		parts = append(parts,
			fmt.Sprintf("[%d:v:0]scale=%s:%s:force_original_aspect_ratio=decrease,pad=%s:%s:(ow-iw)/2:(oh-ih)/2,fps=%d,setsar=1[v%d]",
				i, w, h, w, h, mergeFrameRate, i),
			fmt.Sprintf("[%d:a:0]aresample=%d,aformat=channel_layouts=stereo[a%d]", i, mergeSampleRate, i),
		)
		fmt.Fprintf(&joined, "[v%d][a%d]", i, i)
	}
	parts = append(parts, fmt.Sprintf("%sconcat=n=%d:v=1:a=1[outv][outa]", joined.String(), n))
	return strings.Join(parts, ";")
}

// Command builds the merge invocation writing to the partial path.
func (m *Merger) Command(files []models.SourceFile, output string, res style.Resolution) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder(m.ffmpegPath).
		LogLevel(m.logLevel).
		HideBanner().
		Stats().
		Overwrite()
	for _, f := range files {
		b.Input(f.Path)
	}
	return b.FilterComplex(FilterGraph(len(files), res)).
		Map("[outv]").
		Map("[outa]").
		VideoCodec("libx264").
		OutputArgs("-preset", "veryfast", "-crf", "18").
		AudioCodec("aac").
		OutputArgs("-b:a", "192k", "-f", "mp4").
		Output(PartialPath(output)).
		Build()
}

// Merge validates the inputs and concatenates them into output. Progress is
// reported as a fraction of the merge stage.
func (m *Merger) Merge(
	ctx context.Context,
	files []models.SourceFile,
	output string,
	res style.Resolution,
	report func(fraction float64),
) error {
	total, err := m.Inspect(ctx, files)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return &ExecError{Stage: StageMerge, Err: fmt.Errorf("creating work directory: %w", err)}
	}

	cmd := m.Command(files, output, res)
	m.logger.DebugContext(ctx, "starting merge",
		slog.Int("inputs", len(files)),
		slog.Float64("total_seconds", total),
		slog.String("command", cmd.String()),
	)

	parser := ffmpeg.TimeMarkerParser{Total: secondsToDuration(total)}
	if err := runToFile(ctx, StageMerge, cmd, output, parser, report); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "merge finished", slog.Duration("elapsed", cmd.Elapsed()))
	return nil
}

func displayName(f models.SourceFile) string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	return filepath.Base(f.Path)
}
