package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"
)

const (
	// minThumbnailOffset is the earliest offset a snapshot is taken at.
	minThumbnailOffset = 0.5
	// lateFallbackOffset is the last rung of the ladder.
	lateFallbackOffset = 2.0
)

// ThumbnailOffsets returns the snapshot offsets to try, in order: the
// optimal point at 10% of the duration (never earlier than 0.5s), then
// 0.5s, 20%, 50% and a fixed 2.0s.
func ThumbnailOffsets(duration float64) []float64 {
	return []float64{
		max(minThumbnailOffset, duration*0.10),
		minThumbnailOffset,
		duration * 0.20,
		duration * 0.50,
		lateFallbackOffset,
	}
}

// ThumbnailResult describes the outcome of a snapshot ladder.
type ThumbnailResult struct {
	Path   string
	Offset float64
	// Verified is true when Path holds a readable, non-empty image.
	Verified bool
	// Err is the last extraction error when nothing was verified.
	Err error
}

// Thumbnailer extracts single-frame snapshots.
type Thumbnailer struct {
	ffmpegPath string
	width      int
	timeout    time.Duration
	runner     Runner
	logger     *slog.Logger
}

// NewThumbnailer creates a thumbnailer.
func NewThumbnailer(ffmpegPath string) *Thumbnailer {
	return &Thumbnailer{
		ffmpegPath: ffmpegPath,
		width:      640,
		timeout:    15 * time.Second,
		runner:     ExecRunner{},
		logger:     slog.Default(),
	}
}

// WithTimeout sets the per-rung timeout.
func (t *Thumbnailer) WithTimeout(d time.Duration) *Thumbnailer {
	t.timeout = d
	return t
}

// WithRunner replaces the command runner.
func (t *Thumbnailer) WithRunner(r Runner) *Thumbnailer {
	t.runner = r
	return t
}

// WithLogger sets the logger.
func (t *Thumbnailer) WithLogger(logger *slog.Logger) *Thumbnailer {
	t.logger = logger
	return t
}

// SnapshotArgs returns the ffmpeg arguments for a single frame at offset.
func (t *Thumbnailer) SnapshotArgs(src, dst string, offset float64) []string {
	return []string{
		"-loglevel", "error",
		"-y",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", src,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", t.width),
		"-q:v", "2",
		dst,
	}
}

// Extract walks the offset ladder for a file of the given duration and
// returns the first rung that produced a readable image. When none did, the
// 0.5s rung is run once more so dst holds that rung's output, and it is
// returned unverified unless that run now checks out. Each rung is bounded
// by the timeout so the call always returns.
func (t *Thumbnailer) Extract(ctx context.Context, src, dst string, duration float64) ThumbnailResult {
	var lastErr error
	for i, offset := range ThumbnailOffsets(duration) {
		if ctx.Err() != nil {
			return ThumbnailResult{Path: dst, Offset: minThumbnailOffset, Err: ctx.Err()}
		}

		err := t.snapshot(ctx, src, dst, offset)
		if err == nil {
			return ThumbnailResult{Path: dst, Offset: offset, Verified: true}
		}
		lastErr = err

		t.logger.DebugContext(ctx, "thumbnail rung failed",
			slog.Int("rung", i),
			slog.Float64("offset_seconds", offset),
			slog.String("source", src),
			slog.Any("error", err),
		)
	}

	if ctx.Err() != nil {
		return ThumbnailResult{Path: dst, Offset: minThumbnailOffset, Err: ctx.Err()}
	}
	if err := t.snapshot(ctx, src, dst, minThumbnailOffset); err != nil {
		return ThumbnailResult{Path: dst, Offset: minThumbnailOffset, Err: errors.Join(lastErr, err)}
	}
	return ThumbnailResult{Path: dst, Offset: minThumbnailOffset, Verified: true}
}

// Optimal probes src for its duration and extracts a thumbnail.
func (t *Thumbnailer) Optimal(ctx context.Context, prober *Prober, src, dst string) ThumbnailResult {
	return t.Extract(ctx, src, dst, prober.Duration(ctx, src))
}

func (t *Thumbnailer) snapshot(ctx context.Context, src, dst string, offset float64) error {
	_ = os.Remove(dst)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if _, err := t.runner.Run(ctx, t.ffmpegPath, t.SnapshotArgs(src, dst, offset)...); err != nil {
		return err
	}
	return verifyReadable(dst)
}

// verifyReadable checks that path exists, is non-empty and can be read.
func verifyReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("snapshot not written: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 1)
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("snapshot unreadable: %w", err)
	}
	return nil
}
