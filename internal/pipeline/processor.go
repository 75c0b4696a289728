// Package pipeline turns a processing job into a published output: merge
// when there are several inputs, probe, plan, encode, snapshot and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/reelcast/internal/ffmpeg"
	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/progress"
	"github.com/jmylchreest/reelcast/internal/storage"
	"github.com/jmylchreest/reelcast/internal/style"
)

const (
	mergedFileName  = "merged.mp4"
	encodedFileName = "encoded.mp4"
	outputExt       = ".mp4"
	thumbnailExt    = ".jpg"
)

// Result describes a successful run.
type Result struct {
	OutputPath    string
	ThumbnailPath string
	Plan          style.Plan
	InputDuration float64
	Elapsed       time.Duration
}

// Processor runs the merge/encode sequence for one job. A Processor holds no
// per-job state and is shared by all workers.
type Processor struct {
	merger      *Merger
	encoder     *Encoder
	prober      *ffmpeg.Prober
	thumbnailer *ffmpeg.Thumbnailer
	publisher   storage.Publisher
	music       *MusicLibrary
	work        *storage.Sandbox
	thumbnails  *storage.Sandbox
	logger      *slog.Logger
}

// Dependencies bundles what a Processor needs.
type Dependencies struct {
	Merger       *Merger
	Encoder      *Encoder
	Prober       *ffmpeg.Prober
	Thumbnailer  *ffmpeg.Thumbnailer
	Publisher    storage.Publisher
	WorkDir      string
	ThumbnailDir string
	Logger       *slog.Logger
	// MusicDir holds background tracks named by music category; "" disables
	// music beds.
	MusicDir string
}

// NewProcessor creates a processor, preparing its work directories.
func NewProcessor(deps Dependencies) (*Processor, error) {
	if deps.Merger == nil || deps.Encoder == nil || deps.Prober == nil || deps.Publisher == nil {
		return nil, errors.New("pipeline: merger, encoder, prober and publisher are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	work, err := storage.NewSandbox(deps.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("preparing work directory: %w", err)
	}
	thumbs, err := storage.NewSandbox(deps.ThumbnailDir)
	if err != nil {
		return nil, fmt.Errorf("preparing thumbnail directory: %w", err)
	}

	return &Processor{
		merger:      deps.Merger,
		encoder:     deps.Encoder,
		prober:      deps.Prober,
		thumbnailer: deps.Thumbnailer,
		publisher:   deps.Publisher,
		music:       NewMusicLibrary(deps.MusicDir),
		work:        work,
		thumbnails:  thumbs,
		logger:      logger,
	}, nil
}

// Process runs job to completion. report receives overall percentages:
// 0-15 while merging, then the encode range. job.MergedPath is set once a
// merge succeeds so a later attempt starts from the merged file.
func (p *Processor) Process(ctx context.Context, job *models.ProcessingJob, report func(pct int)) (*Result, error) {
	start := time.Now()
	if report == nil {
		report = func(int) {}
	}
	logger := observability.WithJob(p.logger, job.ID.String(), job.AssetID.String())

	if err := checkInputs(job); err != nil {
		return nil, err
	}

	plan := style.ResolvePreferences(job.Preferences)
	logger.DebugContext(ctx, "resolved encoding plan",
		slog.String("style", plan.Style.String()),
		slog.String("quality", plan.Quality.String()),
		slog.String("transition", plan.Transition.String()),
		slog.Float64("pacing", plan.Pacing.Factor()),
		slog.String("resolution", plan.Resolution.String()),
	)

	jobDir, err := p.work.MkdirAll(job.AssetID.String())
	if err != nil {
		return nil, &ExecError{Stage: StageValidate, Err: err}
	}

	input, encodeRange, err := p.mergeIfNeeded(ctx, job, plan, jobDir, report, logger)
	if err != nil {
		return nil, err
	}

	media := p.prober.Inspect(ctx, input)
	if media.ProbeErr != nil {
		logger.WarnContext(ctx, "probe failed, assuming audio present", slog.String("error", media.ProbeErr.Error()))
	}
	duration, known := media.Duration, media.DurationKnown

	graph, err := ffmpeg.BuildGraph(plan, ffmpeg.GraphOptions{
		HasAudio:     media.HasAudio(),
		IncludeAudio: job.Preferences.WantsAudio(),
		Duration:     duration,
		MusicTrack:   p.music.Track(plan.Music),
	})
	if err != nil {
		return nil, &InputError{Stage: StageEncode, Err: err}
	}

	outDuration := duration / plan.Pacing.Factor()
	parser := ffmpeg.TimeMarkerParser{}
	if known {
		parser.Total = secondsToDuration(outDuration)
	}

	encoded := filepath.Join(jobDir, encodedFileName)
	report(encodeRange.Start)
	var encodeErr error
	done := observability.TimedOperationWithError(ctx, logger, "encode", &encodeErr)
	encodeErr = p.encoder.Encode(ctx, input, encoded, graph, parser, func(f float64) {
		report(encodeRange.Scale(f))
	})
	done()
	if encodeErr != nil {
		return nil, encodeErr
	}

	thumbnail := p.snapshot(ctx, job, encoded, outDuration, logger)

	ref, err := p.publisher.Publish(ctx, encoded, storage.ObjectKey(job.AssetID.String(), job.ID.String(), outputExt))
	if err != nil {
		_ = os.Remove(encoded)
		return nil, &ExecError{Stage: StagePublish, Err: err}
	}

	if err := p.work.RemoveAll(job.AssetID.String()); err != nil {
		logger.WarnContext(ctx, "failed to clean work directory", slog.String("error", err.Error()))
	}
	job.MergedPath = ""

	return &Result{
		OutputPath:    ref,
		ThumbnailPath: thumbnail,
		Plan:          plan,
		InputDuration: duration,
		Elapsed:       time.Since(start),
	}, nil
}

// Withdraw removes a published output and its thumbnail, used when the run
// succeeded but the asset could not be marked ready.
func (p *Processor) Withdraw(ctx context.Context, result *Result) error {
	if result == nil {
		return nil
	}
	var errs []error
	if result.OutputPath != "" {
		errs = append(errs, p.publisher.Remove(ctx, result.OutputPath))
	}
	if result.ThumbnailPath != "" {
		if err := os.Remove(result.ThumbnailPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing thumbnail: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Discard removes the job's staged files once it has settled as failed.
func (p *Processor) Discard(job *models.ProcessingJob) error {
	job.MergedPath = ""
	return p.work.RemoveAll(job.AssetID.String())
}

func (p *Processor) mergeIfNeeded(
	ctx context.Context,
	job *models.ProcessingJob,
	plan style.Plan,
	jobDir string,
	report func(int),
	logger *slog.Logger,
) (string, progress.StageRange, error) {
	if !job.NeedsMerge() {
		return job.SourceFiles[0].Path, progress.EncodeRange, nil
	}

	if job.MergedPath != "" {
		if info, err := os.Stat(job.MergedPath); err == nil && info.Size() > 0 {
			logger.InfoContext(ctx, "resuming from merged file", slog.String("path", job.MergedPath))
			report(progress.MergeCeiling)
			return job.MergedPath, progress.MergedEncodeRange, nil
		}
		job.MergedPath = ""
	}

	merged := filepath.Join(jobDir, mergedFileName)
	err := p.merger.Merge(ctx, job.SourceFiles, merged, plan.Resolution, func(f float64) {
		report(progress.MergeRange.Scale(f))
	})
	if err != nil {
		return "", progress.StageRange{}, err
	}

	job.MergedPath = merged
	report(progress.MergeCeiling)
	logger.InfoContext(ctx, "merged source files", slog.Int("inputs", len(job.SourceFiles)))
	return merged, progress.MergedEncodeRange, nil
}

// snapshot extracts a thumbnail from the encoded file. It never fails the
// job; an unverified snapshot is reported as "".
func (p *Processor) snapshot(ctx context.Context, job *models.ProcessingJob, encoded string, duration float64, logger *slog.Logger) string {
	if p.thumbnailer == nil {
		return ""
	}
	dst, err := p.thumbnails.ResolvePath(job.AssetID.String() + thumbnailExt)
	if err != nil {
		logger.WarnContext(ctx, "thumbnail path rejected", slog.String("error", err.Error()))
		return ""
	}

	res := p.thumbnailer.Extract(ctx, encoded, dst, duration)
	if !res.Verified {
		logger.WarnContext(ctx, "thumbnail not verified",
			slog.Float64("offset_seconds", res.Offset),
			slog.Any("error", res.Err))
		return ""
	}
	logger.DebugContext(ctx, "thumbnail extracted", slog.Float64("offset_seconds", res.Offset))
	return res.Path
}

// checkInputs rejects jobs that no retry could fix.
func checkInputs(job *models.ProcessingJob) error {
	if len(job.SourceFiles) == 0 {
		return &InputError{Stage: StageValidate, Err: models.ErrNoSourceFiles}
	}
	for i, f := range job.SourceFiles {
		if err := f.Validate(); err != nil {
			return &InputError{Stage: StageValidate, Reason: fmt.Sprintf("source file %d: %v", i+1, err), Err: err}
		}
		info, err := os.Stat(f.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return NewInputError(StageValidate, "source file missing: %s", f.Path)
		case err != nil:
			return NewInputError(StageValidate, "source file unreadable: %s: %v", f.Path, err)
		case info.IsDir():
			return NewInputError(StageValidate, "source file is a directory: %s", f.Path)
		case info.Size() == 0:
			return NewInputError(StageValidate, "source file is empty: %s", f.Path)
		}
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
