package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/reelcast/internal/style"
)

// ErrInvalidPlan is returned when an encoding plan holds values outside the
// fixed catalogs.
var ErrInvalidPlan = errors.New("invalid encoding plan")

// QualitySettings is the encoder configuration for one quality tier.
type QualitySettings struct {
	Preset string
	CRF    int
	// BitrateKbps is the target video bitrate; 0 leaves rate control to CRF.
	BitrateKbps int
}

// CinematicBitrateFloorKbps is the minimum target bitrate for cinematic plans.
const CinematicBitrateFloorKbps = 16000

var qualityTable = map[style.QualityTier]QualitySettings{
	style.QualityLow:    {Preset: "veryfast", CRF: 28},
	style.QualityMedium: {Preset: "medium", CRF: 23},
	style.QualityHigh:   {Preset: "slow", CRF: 20, BitrateKbps: 6000},
	style.QualityUltra:  {Preset: "slower", CRF: 18, BitrateKbps: 12000},
}

// effectFilters holds the ffmpeg filter for each catalog effect.
var effectFilters = map[style.Effect]string{
	style.EffectColorGrade:     "eq=contrast=1.05:brightness=0.01:saturation=1.10",
	style.EffectSharpen:        "unsharp=5:5:0.8:5:5:0.0",
	style.EffectVignette:       "vignette=PI/5",
	style.EffectGrain:          "noise=alls=8:allf=t",
	style.EffectStabilization:  "deshake",
	style.EffectNoiseReduction: "hqdn3d=1.5:1.5:6:6",
}

// transitionSeconds is the fade length used to bracket the output for each
// transition kind. A cut has no fade.
var transitionSeconds = map[style.Transition]float64{
	style.TransitionFade:     0.5,
	style.TransitionDissolve: 1.0,
	style.TransitionCut:      0,
	style.TransitionSlide:    0.5,
	style.TransitionZoom:     0.3,
}

const (
	videoCodec       = "libx264"
	audioCodec       = "aac"
	audioBitrate     = "192k"
	audioSampleRate  = 48000
	outputFormat     = "mp4"
	outputPixelFmt   = "yuv420p"
	bufsizeMultiple  = 2
	maxrateNumerator = 3 // maxrate = 1.5x target
	musicBedVolume   = "0.25"
)

// Quality returns the encoder settings for a tier, with the cinematic
// bitrate floor applied.
func Quality(tier style.QualityTier, cinematic bool) (QualitySettings, error) {
	q, ok := qualityTable[tier]
	if !ok {
		return QualitySettings{}, fmt.Errorf("%w: unmapped quality tier %d", ErrInvalidPlan, tier)
	}
	if cinematic {
		q.BitrateKbps = max(q.BitrateKbps, CinematicBitrateFloorKbps)
	}
	return q, nil
}

// GraphOptions are structural facts about the input that shape the graph.
type GraphOptions struct {
	// HasAudio is true when the input carries an audio stream.
	HasAudio bool
	// IncludeAudio is the user's choice to keep audio.
	IncludeAudio bool
	// Duration is the input length in seconds; 0 when unknown. Fade-out is
	// only placed when it is known.
	Duration float64
	// MusicTrack is the background track for plans that call for music; ""
	// leaves the output without a bed.
	MusicTrack string
}

// Graph is the fully resolved set of encode arguments for one plan.
type Graph struct {
	VideoFilters []string
	// AudioFilters is nil when the output carries no audio.
	AudioFilters []string
	CodecArgs    []string
	OutputArgs   []string
	Format       string
	// MusicTrack is looped as input 1 and mixed under the program audio.
	MusicTrack   string
	MusicFilters []string
}

// KeepsAudio reports whether the output has an audio stream.
func (g Graph) KeepsAudio() bool { return g.AudioFilters != nil || g.HasMusic() }

// HasMusic reports whether a background bed is mixed in.
func (g Graph) HasMusic() bool { return g.MusicTrack != "" }

// FilterComplex returns the graph used when a music bed is present, with
// outputs labelled [vout] and [aout]. It is "" otherwise, in which case the
// simple -vf and -af chains apply.
func (g Graph) FilterComplex() string {
	if !g.HasMusic() {
		return ""
	}
	video := "[0:v]" + strings.Join(g.VideoFilters, ",") + "[vout]"
	bed := "[1:a]" + strings.Join(g.MusicFilters, ",")
	if g.AudioFilters == nil {
		return video + ";" + bed + "[aout]"
	}
	return video + ";" +
		"[0:a]" + strings.Join(g.AudioFilters, ",") + "[prog];" +
		bed + "[bed];" +
		"[prog][bed]amix=inputs=2:duration=first:dropout_transition=0[aout]"
}

// Args flattens the graph into ffmpeg output arguments, for callers not
// using CommandBuilder.
func (g Graph) Args() []string {
	var args []string
	if fc := g.FilterComplex(); fc != "" {
		args = append(args, "-filter_complex", fc, "-map", "[vout]", "-map", "[aout]")
	} else if len(g.VideoFilters) > 0 {
		args = append(args, "-vf", strings.Join(g.VideoFilters, ","))
	}
	if len(g.AudioFilters) > 0 && !g.HasMusic() {
		args = append(args, "-af", strings.Join(g.AudioFilters, ","))
	}
	args = append(args, g.CodecArgs...)
	return append(args, g.OutputArgs...)
}

// BuildGraph turns a plan into filter chains and codec arguments.
//
// Video order: resolution normalization, catalog-order effects, pacing,
// fades. Audio order: resample, pacing, fades. A music bed is resampled,
// attenuated, trimmed to the output length and faded. Only table values
// reach the output; nothing from user free text does.
func BuildGraph(plan style.Plan, opts GraphOptions) (Graph, error) {
	quality, err := Quality(plan.Quality, plan.Cinematic())
	if err != nil {
		return Graph{}, err
	}
	fadeSeconds, ok := transitionSeconds[plan.Transition]
	if !ok {
		return Graph{}, fmt.Errorf("%w: unmapped transition %d", ErrInvalidPlan, plan.Transition)
	}
	if plan.Resolution.Width <= 0 || plan.Resolution.Height <= 0 {
		return Graph{}, fmt.Errorf("%w: resolution %s", ErrInvalidPlan, plan.Resolution)
	}

	factor := plan.Pacing.Factor()
	outDuration := 0.0
	if opts.Duration > 0 {
		outDuration = opts.Duration / factor
	}

	g := Graph{Format: outputFormat}

	w, h := plan.Resolution.Width, plan.Resolution.Height
	g.VideoFilters = append(g.VideoFilters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", w, h),
		"setsar=1",
	)

	for _, e := range plan.Effects {
		if !e.Valid() {
			return Graph{}, fmt.Errorf("%w: unknown effect %d", ErrInvalidPlan, e)
		}
	}
	selected := style.NewEffectSet(plan.Effects...)
	for _, e := range style.Effects() {
		if !selected.Has(e) {
			continue
		}
		f, ok := effectFilters[e]
		if !ok {
			return Graph{}, fmt.Errorf("%w: unmapped effect %s", ErrInvalidPlan, e)
		}
		g.VideoFilters = append(g.VideoFilters, f)
	}
	if factor != 1.0 {
		g.VideoFilters = append(g.VideoFilters, "setpts=PTS/"+formatFactor(factor))
	}
	g.VideoFilters = append(g.VideoFilters, fades("fade", fadeSeconds, outDuration)...)

	keepAudio := opts.HasAudio && opts.IncludeAudio
	if keepAudio {
		g.AudioFilters = []string{fmt.Sprintf("aresample=%d", audioSampleRate)}
		if factor != 1.0 {
			g.AudioFilters = append(g.AudioFilters, "atempo="+formatFactor(factor))
		}
		g.AudioFilters = append(g.AudioFilters, fades("afade", fadeSeconds, outDuration)...)
	}

	if opts.MusicTrack != "" && plan.HasMusic() {
		g.MusicTrack = opts.MusicTrack
		g.MusicFilters = []string{
			fmt.Sprintf("aresample=%d", audioSampleRate),
			"volume=" + musicBedVolume,
		}
		if outDuration > 0 {
			g.MusicFilters = append(g.MusicFilters, "atrim=duration="+formatSeconds(outDuration))
		}
		g.MusicFilters = append(g.MusicFilters, fades("afade", fadeSeconds, outDuration)...)
	}

	g.CodecArgs = []string{
		"-c:v", videoCodec,
		"-preset", quality.Preset,
		"-crf", strconv.Itoa(quality.CRF),
	}
	if quality.BitrateKbps > 0 {
		g.CodecArgs = append(g.CodecArgs,
			"-b:v", kbps(quality.BitrateKbps),
			"-maxrate", kbps(quality.BitrateKbps*maxrateNumerator/2),
			"-bufsize", kbps(quality.BitrateKbps*bufsizeMultiple),
		)
	}
	if g.KeepsAudio() {
		g.CodecArgs = append(g.CodecArgs, "-c:a", audioCodec, "-b:a", audioBitrate)
	} else {
		g.CodecArgs = append(g.CodecArgs, "-an")
	}

	g.OutputArgs = []string{
		"-pix_fmt", outputPixelFmt,
		"-movflags", "+faststart",
		"-f", outputFormat,
	}
	if g.HasMusic() {
		// The bed input loops forever; the video sets the length.
		g.OutputArgs = append(g.OutputArgs, "-shortest")
	}

	return g, nil
}

// fades returns the fade-in and, when the output length allows it,
// fade-out filters.
func fades(name string, seconds, outDuration float64) []string {
	if seconds <= 0 {
		return nil
	}
	out := []string{fmt.Sprintf("%s=t=in:st=0:d=%s", name, formatSeconds(seconds))}
	if outDuration > 2*seconds {
		out = append(out, fmt.Sprintf("%s=t=out:st=%s:d=%s",
			name, formatSeconds(outDuration-seconds), formatSeconds(seconds)))
	}
	return out
}

func formatFactor(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 2, 64)
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}
