// Package progress owns the pipeline's writes to an asset: status, the
// monotonic progress percentage, output and error fields.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/jmylchreest/reelcast/internal/models"
)

// Progress landmarks, in percent.
const (
	MergeCeiling  = 15
	EncodeCeiling = 90
	Done          = 100
)

// AssetUpdater applies an atomic partial update to an asset row.
type AssetUpdater interface {
	UpdateFields(ctx context.Context, id models.ULID, fields map[string]any) error
}

// StageRange is the slice of overall progress a stage occupies.
type StageRange struct {
	Start int
	End   int
}

// Merge and encode ranges. Encode begins at the merge ceiling when a merge ran.
var (
	MergeRange        = StageRange{Start: 0, End: MergeCeiling}
	EncodeRange       = StageRange{Start: 0, End: EncodeCeiling}
	MergedEncodeRange = StageRange{Start: MergeCeiling, End: EncodeCeiling}
)

// Scale maps a stage-local fraction in [0,1] onto the range.
func (r StageRange) Scale(fraction float64) int {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return r.Start + int(math.Floor(fraction*float64(r.End-r.Start)))
}

// Sink is the single writer of pipeline-owned fields for one asset while a
// worker holds its job. Safe for concurrent use by the stderr reader.
type Sink struct {
	updater  AssetUpdater
	assetID  models.ULID
	attempts int
	logger   *slog.Logger

	mu   sync.Mutex
	last int
}

// NewSink creates a sink seeded from the asset's current row so a retry
// never writes a lower percentage than the one already shown.
func NewSink(updater AssetUpdater, asset *models.Asset, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	last := 0
	if asset.Status.Normalize() == models.AssetStatusProcessing {
		last = asset.Progress
	}
	return &Sink{
		updater:  updater,
		assetID:  asset.ID,
		attempts: asset.ProcessingAttempts,
		logger:   logger,
		last:     last,
	}
}

// Last returns the most recently written percentage.
func (s *Sink) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start moves the asset into processing at max(current, baseline) and counts
// the attempt.
func (s *Sink) Start(ctx context.Context, baseline int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pct := max(s.last, min(baseline, EncodeCeiling))
	s.attempts++
	now := models.Now()
	err := s.updater.UpdateFields(ctx, s.assetID, map[string]any{
		models.AssetColumnStatus:             models.AssetStatusProcessing,
		models.AssetColumnProgress:           pct,
		models.AssetColumnProcessingAttempts: s.attempts,
		models.AssetColumnStartedAt:          &now,
		models.AssetColumnErrorMessage:       "",
	})
	if err != nil {
		return fmt.Errorf("marking asset processing: %w", err)
	}
	s.last = pct
	return nil
}

// Advance writes pct when it is strictly greater than the last written value.
// Values are clamped to the encode ceiling; only Complete writes 100.
func (s *Sink) Advance(ctx context.Context, pct int) error {
	pct = min(pct, EncodeCeiling)

	s.mu.Lock()
	defer s.mu.Unlock()

	if pct <= s.last {
		return nil
	}
	if err := s.updater.UpdateFields(ctx, s.assetID, map[string]any{
		models.AssetColumnProgress: pct,
	}); err != nil {
		return fmt.Errorf("advancing progress: %w", err)
	}
	s.last = pct
	return nil
}

// Reporter returns a callback that advances the sink and logs write
// failures instead of returning them, for use from a subprocess reader.
func (s *Sink) Reporter(ctx context.Context) func(pct int) {
	return func(pct int) {
		if err := s.Advance(ctx, pct); err != nil {
			s.logger.WarnContext(ctx, "progress write failed",
				slog.Int("progress", pct),
				slog.String("error", err.Error()))
		}
	}
}

// Complete sets the asset ready with its output reference.
func (s *Sink) Complete(ctx context.Context, output, thumbnail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := models.Now()
	if err := s.updater.UpdateFields(ctx, s.assetID, map[string]any{
		models.AssetColumnStatus:        models.AssetStatusReady,
		models.AssetColumnProgress:      Done,
		models.AssetColumnOutputPath:    output,
		models.AssetColumnThumbnailPath: thumbnail,
		models.AssetColumnErrorMessage:  "",
		models.AssetColumnCompletedAt:   &now,
	}); err != nil {
		return fmt.Errorf("marking asset ready: %w", err)
	}
	s.last = Done
	return nil
}

// Fail sets the asset failed with reason stored verbatim. Progress is left
// where it stopped.
func (s *Sink) Fail(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := models.Now()
	if err := s.updater.UpdateFields(ctx, s.assetID, map[string]any{
		models.AssetColumnStatus:       models.AssetStatusFailed,
		models.AssetColumnErrorMessage: reason,
		models.AssetColumnOutputPath:   "",
		models.AssetColumnCompletedAt:  &now,
	}); err != nil {
		return fmt.Errorf("marking asset failed: %w", err)
	}
	return nil
}

// AssetClaimer applies a partial update only while no job owns the asset.
type AssetClaimer interface {
	UpdateFieldsIfIdle(ctx context.Context, id models.ULID, fields map[string]any) (bool, error)
}

// Claim moves an idle asset to queued at zero progress ahead of a new job.
// It fails with models.ErrAssetBusy when the asset is already queued or
// processing.
func Claim(ctx context.Context, claimer AssetClaimer, assetID models.ULID) error {
	claimed, err := claimer.UpdateFieldsIfIdle(ctx, assetID, map[string]any{
		models.AssetColumnStatus:        models.AssetStatusQueued,
		models.AssetColumnProgress:      0,
		models.AssetColumnOutputPath:    "",
		models.AssetColumnThumbnailPath: "",
		models.AssetColumnErrorMessage:  "",
		models.AssetColumnStartedAt:     nil,
		models.AssetColumnCompletedAt:   nil,
	})
	if err != nil {
		return fmt.Errorf("claiming asset: %w", err)
	}
	if !claimed {
		return models.ErrAssetBusy
	}
	return nil
}

// Release puts back the processing fields of prev after a Claim whose job
// was never handed to a queue or worker.
func Release(ctx context.Context, updater AssetUpdater, prev *models.Asset) error {
	if err := updater.UpdateFields(ctx, prev.ID, map[string]any{
		models.AssetColumnStatus:        prev.Status,
		models.AssetColumnProgress:      prev.Progress,
		models.AssetColumnOutputPath:    prev.OutputPath,
		models.AssetColumnThumbnailPath: prev.ThumbnailPath,
		models.AssetColumnErrorMessage:  prev.ErrorMessage,
		models.AssetColumnStartedAt:     prev.StartedAt,
		models.AssetColumnCompletedAt:   prev.CompletedAt,
	}); err != nil {
		return fmt.Errorf("releasing asset: %w", err)
	}
	return nil
}
