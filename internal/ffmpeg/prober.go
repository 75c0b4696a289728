package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// DefaultDuration is reported when no strategy can determine a file's length.
const DefaultDuration = 10.0

// ProbeResult contains the ffprobe output fields the pipeline uses.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"` // video, audio, subtitle, data
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// CountStreams returns how many streams of codecType the file has.
func (r *ProbeResult) CountStreams(codecType string) int {
	n := 0
	for _, s := range r.Streams {
		if s.CodecType == codecType {
			n++
		}
	}
	return n
}

// HasAudio reports whether the file has at least one audio stream.
func (r *ProbeResult) HasAudio() bool { return r.CountStreams("audio") > 0 }

// GetVideoStream returns the first video stream, or nil.
func (r *ProbeResult) GetVideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// FormatDuration returns the container duration in seconds.
func (r *ProbeResult) FormatDuration() (float64, bool) {
	return parseSeconds(r.Format.Duration)
}

// StreamDuration returns the longest stream duration in seconds.
func (r *ProbeResult) StreamDuration() (float64, bool) {
	best, found := 0.0, false
	for _, s := range r.Streams {
		if d, ok := parseSeconds(s.Duration); ok && d > best {
			best, found = d, true
		}
	}
	return best, found
}

func parseSeconds(s string) (float64, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

var errNoDuration = errors.New("no duration in probe output")

// DurationStrategy is one way of determining a file's length.
type DurationStrategy struct {
	Name string
	Fn   func(ctx context.Context, path string) (float64, error)
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	runner      Runner
	logger      *slog.Logger
}

// NewProber creates a new prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
		runner:      ExecRunner{},
		logger:      slog.Default(),
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// WithRunner replaces the command runner.
func (p *Prober) WithRunner(r Runner) *Prober {
	p.runner = r
	return p
}

// WithLogger sets the logger.
func (p *Prober) WithLogger(logger *slog.Logger) *Prober {
	p.logger = logger
	return p
}

// Probe runs ffprobe on a local file and returns its parsed output.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// DurationStrategies returns the ordered strategies Duration tries. The
// ffprobe result is shared between the format and stream strategies.
func (p *Prober) DurationStrategies() []DurationStrategy {
	var (
		cached   *ProbeResult
		probeErr error
		probed   bool
	)
	return durationStrategies(func(ctx context.Context, path string) (*ProbeResult, error) {
		if !probed {
			cached, probeErr = p.Probe(ctx, path)
			probed = true
		}
		return cached, probeErr
	})
}

func durationStrategies(probe func(ctx context.Context, path string) (*ProbeResult, error)) []DurationStrategy {
	return []DurationStrategy{
		{Name: "format", Fn: func(ctx context.Context, path string) (float64, error) {
			r, err := probe(ctx, path)
			if err != nil {
				return 0, err
			}
			if d, ok := r.FormatDuration(); ok {
				return d, nil
			}
			return 0, errNoDuration
		}},
		{Name: "stream", Fn: func(ctx context.Context, path string) (float64, error) {
			r, err := probe(ctx, path)
			if err != nil {
				return 0, err
			}
			if d, ok := r.StreamDuration(); ok {
				return d, nil
			}
			return 0, errNoDuration
		}},
	}
}

// MediaInfo is what a single ffprobe run says about a file.
type MediaInfo struct {
	// Result is nil when the probe failed; ProbeErr then says why.
	Result   *ProbeResult
	ProbeErr error
	// Duration is DefaultDuration unless DurationKnown.
	Duration      float64
	DurationKnown bool
}

// HasAudio reports whether the file carries audio. A failed probe is taken
// to mean audio is present.
func (m *MediaInfo) HasAudio() bool {
	return m.Result == nil || m.Result.HasAudio()
}

// Inspect probes path once and derives both the stream layout and the
// duration from that result.
func (p *Prober) Inspect(ctx context.Context, path string) *MediaInfo {
	result, err := p.Probe(ctx, path)
	probe := func(context.Context, string) (*ProbeResult, error) { return result, err }
	d, known := FirstDuration(ctx, path, durationStrategies(probe), p.logger)
	return &MediaInfo{Result: result, ProbeErr: err, Duration: d, DurationKnown: known}
}

// Duration returns a best-effort length in seconds. It never fails: when
// every strategy fails DefaultDuration is returned.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	d, _ := FirstDuration(ctx, path, p.DurationStrategies(), p.logger)
	return d
}

// FirstDuration runs strategies in order and returns the first success. The
// bool is false when DefaultDuration was used.
func FirstDuration(ctx context.Context, path string, strategies []DurationStrategy, logger *slog.Logger) (float64, bool) {
	for _, s := range strategies {
		d, err := s.Fn(ctx, path)
		if err == nil && d > 0 {
			return d, true
		}
		if logger != nil {
			logger.DebugContext(ctx, "duration strategy failed",
				slog.String("strategy", s.Name),
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
	if logger != nil {
		logger.WarnContext(ctx, "using default duration",
			slog.String("path", path),
			slog.Float64("duration_seconds", DefaultDuration),
		)
	}
	return DefaultDuration, false
}
