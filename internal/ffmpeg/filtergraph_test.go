package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/style"
)

func TestQualityTableComplete(t *testing.T) {
	for _, q := range style.QualityTiers() {
		s, ok := qualityTable[q]
		require.True(t, ok, "tier %s has no settings", q)
		assert.NotEmpty(t, s.Preset)
		assert.Positive(t, s.CRF)
	}
}

func TestEffectTableComplete(t *testing.T) {
	for _, e := range style.Effects() {
		assert.NotEmpty(t, effectFilters[e], "effect %s has no filter", e)
	}
}

func TestTransitionTableComplete(t *testing.T) {
	for _, tr := range style.Transitions() {
		_, ok := transitionSeconds[tr]
		assert.True(t, ok, "transition %s has no fade length", tr)
	}
}

func TestQuality_CinematicFloor(t *testing.T) {
	for _, q := range style.QualityTiers() {
		plain, err := Quality(q, false)
		require.NoError(t, err)
		cine, err := Quality(q, true)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, cine.BitrateKbps, CinematicBitrateFloorKbps)
		assert.Greater(t, cine.BitrateKbps, plain.BitrateKbps, "tier %s", q)
		assert.Equal(t, plain.Preset, cine.Preset)
		assert.Equal(t, plain.CRF, cine.CRF)
	}

	_, err := Quality(style.QualityTier(0), false)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestBuildGraph_DefaultPlan(t *testing.T) {
	g, err := BuildGraph(style.DefaultPlan(), GraphOptions{HasAudio: true, IncludeAudio: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"scale=1920:1080:force_original_aspect_ratio=decrease",
		"pad=1920:1080:(ow-iw)/2:(oh-ih)/2",
		"setsar=1",
		effectFilters[style.EffectColorGrade],
		"fade=t=in:st=0:d=0.50",
	}, g.VideoFilters)
	assert.Equal(t, []string{"aresample=48000", "afade=t=in:st=0:d=0.50"}, g.AudioFilters)
	assert.Equal(t, []string{"-c:v", "libx264", "-preset", "medium", "-crf", "23", "-c:a", "aac", "-b:a", "192k"}, g.CodecArgs)
	assert.Equal(t, "mp4", g.Format)
	assert.Contains(t, g.OutputArgs, "+faststart")
	assert.True(t, g.KeepsAudio())
}

func TestBuildGraph_CinematicScenario(t *testing.T) {
	plan := style.ResolvePreferences(models.StylePreferences{
		EditingStyle:   "cinematic",
		TargetAudience: "Adults (30-50)",
		DurationBucket: "1-2 minutes",
	})
	g, err := BuildGraph(plan, GraphOptions{HasAudio: true, IncludeAudio: true, Duration: 90})
	require.NoError(t, err)

	ultra := qualityTable[style.QualityUltra]
	assert.Equal(t, "slower", argAfter(g.CodecArgs, "-preset"))
	assert.Equal(t, "18", argAfter(g.CodecArgs, "-crf"))
	assert.Equal(t, "16000k", argAfter(g.CodecArgs, "-b:v"))
	assert.Greater(t, CinematicBitrateFloorKbps, ultra.BitrateKbps)

	joined := strings.Join(g.VideoFilters, ",")
	assert.Contains(t, joined, effectFilters[style.EffectColorGrade])
	assert.Contains(t, joined, effectFilters[style.EffectVignette])
	assert.Contains(t, joined, effectFilters[style.EffectGrain])
	// dissolve transition: one second fades at both ends
	assert.Contains(t, joined, "fade=t=in:st=0:d=1.00")
	assert.Contains(t, joined, "fade=t=out:st=89.00:d=1.00")
}

func TestBuildGraph_Ordering(t *testing.T) {
	plan := style.Plan{
		Style:      style.StyleDocumentary,
		Quality:    style.QualityHigh,
		Effects:    []style.Effect{style.EffectNoiseReduction, style.EffectGrain, style.EffectColorGrade},
		Transition: style.TransitionFade,
		Pacing:     style.PacingFast,
		Resolution: style.Resolution{Width: 1280, Height: 720},
	}
	g, err := BuildGraph(plan, GraphOptions{HasAudio: true, IncludeAudio: true, Duration: 23})
	require.NoError(t, err)

	vf := g.VideoFilters
	require.Len(t, vf, 3+3+1+2)
	assert.True(t, strings.HasPrefix(vf[0], "scale=1280:720"), "resolution first")
	assert.Equal(t, effectFilters[style.EffectColorGrade], vf[3])
	assert.Equal(t, effectFilters[style.EffectGrain], vf[4])
	assert.Equal(t, effectFilters[style.EffectNoiseReduction], vf[5])
	assert.Equal(t, "setpts=PTS/1.15", vf[6])
	assert.Equal(t, "fade=t=in:st=0:d=0.50", vf[7])
	assert.Equal(t, "fade=t=out:st=19.50:d=0.50", vf[8])

	assert.Equal(t, []string{
		"aresample=48000",
		"atempo=1.15",
		"afade=t=in:st=0:d=0.50",
		"afade=t=out:st=19.50:d=0.50",
	}, g.AudioFilters)
}

func TestBuildGraph_AudioDropped(t *testing.T) {
	tests := []struct {
		name string
		opts GraphOptions
	}{
		{"input has no audio", GraphOptions{HasAudio: false, IncludeAudio: true}},
		{"user excluded audio", GraphOptions{HasAudio: true, IncludeAudio: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := BuildGraph(style.DefaultPlan(), tt.opts)
			require.NoError(t, err)
			assert.Nil(t, g.AudioFilters)
			assert.False(t, g.KeepsAudio())
			assert.Contains(t, g.CodecArgs, "-an")
			assert.NotContains(t, g.CodecArgs, "-c:a")
		})
	}
}

func TestBuildGraph_CutHasNoFades(t *testing.T) {
	plan := style.Resolve(style.Choices{Style: style.StyleMinimal})
	g, err := BuildGraph(plan, GraphOptions{HasAudio: true, IncludeAudio: true, Duration: 30})
	require.NoError(t, err)

	for _, f := range append(g.VideoFilters, g.AudioFilters...) {
		assert.NotContains(t, f, "fade")
	}
}

func TestBuildGraph_ShortInputSkipsFadeOut(t *testing.T) {
	g, err := BuildGraph(style.DefaultPlan(), GraphOptions{Duration: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "fade=t=in:st=0:d=0.50", g.VideoFilters[len(g.VideoFilters)-1])
}

func TestBuildGraph_RejectsInvalidPlans(t *testing.T) {
	base := style.DefaultPlan()

	badQuality := base
	badQuality.Quality = 0

	badTransition := base
	badTransition.Transition = style.Transition(42)

	badEffect := base
	badEffect.Effects = []style.Effect{style.Effect(42)}

	badResolution := base
	badResolution.Resolution = style.Resolution{}

	for name, plan := range map[string]style.Plan{
		"quality":    badQuality,
		"transition": badTransition,
		"effect":     badEffect,
		"resolution": badResolution,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := BuildGraph(plan, GraphOptions{})
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestBuildGraph_NeverCarriesFreeText(t *testing.T) {
	prefs := models.StylePreferences{
		EditingStyle:    "cinematic",
		SpecialRequests: "-vf drawtext=text=pwned; rm -rf /",
	}
	g, err := BuildGraph(style.ResolvePreferences(prefs), GraphOptions{HasAudio: true, IncludeAudio: true, Duration: 60})
	require.NoError(t, err)

	for _, arg := range g.Args() {
		assert.NotContains(t, arg, "drawtext")
		assert.NotContains(t, arg, "pwned")
	}
}

func TestGraph_Args(t *testing.T) {
	g, err := BuildGraph(style.DefaultPlan(), GraphOptions{HasAudio: true, IncludeAudio: true})
	require.NoError(t, err)

	args := g.Args()
	assert.Equal(t, strings.Join(g.VideoFilters, ","), argAfter(args, "-vf"))
	assert.Equal(t, strings.Join(g.AudioFilters, ","), argAfter(args, "-af"))
	assert.Equal(t, "mp4", argAfter(args, "-f"))
}

func TestBuildGraph_MusicBed(t *testing.T) {
	plan := style.ResolvePreferences(models.StylePreferences{EditingStyle: "cinematic"})
	require.True(t, plan.HasMusic())

	g, err := BuildGraph(plan, GraphOptions{HasAudio: true, IncludeAudio: true, Duration: 60, MusicTrack: "/music/orchestral.mp3"})
	require.NoError(t, err)

	assert.True(t, g.HasMusic())
	assert.True(t, g.KeepsAudio())
	assert.Equal(t, []string{
		"aresample=48000",
		"volume=0.25",
		"atrim=duration=60.00",
		"afade=t=in:st=0:d=1.00",
		"afade=t=out:st=59.00:d=1.00",
	}, g.MusicFilters)

	fc := g.FilterComplex()
	assert.True(t, strings.HasPrefix(fc, "[0:v]scale="))
	assert.Contains(t, fc, "[vout];[0:a]aresample=48000")
	assert.Contains(t, fc, "[prog];[1:a]aresample=48000,volume=0.25")
	assert.True(t, strings.HasSuffix(fc, "[prog][bed]amix=inputs=2:duration=first:dropout_transition=0[aout]"))
	assert.Contains(t, g.CodecArgs, "-c:a")
	assert.Contains(t, g.OutputArgs, "-shortest")

	args := g.Args()
	assert.Equal(t, fc, argAfter(args, "-filter_complex"))
	assert.NotContains(t, args, "-vf")
	assert.NotContains(t, args, "-af")
}

func TestBuildGraph_MusicBedWithoutProgramAudio(t *testing.T) {
	plan := style.ResolvePreferences(models.StylePreferences{EditingStyle: "vlog"})
	g, err := BuildGraph(plan, GraphOptions{HasAudio: false, IncludeAudio: true, MusicTrack: "/music/upbeat.mp3"})
	require.NoError(t, err)

	assert.Nil(t, g.AudioFilters)
	assert.True(t, g.KeepsAudio())
	assert.NotContains(t, g.CodecArgs, "-an")
	fc := g.FilterComplex()
	assert.NotContains(t, fc, "[0:a]")
	assert.NotContains(t, fc, "amix")
	assert.True(t, strings.HasSuffix(fc, "[aout]"))
}

func TestBuildGraph_MusicIgnoredForSilentPlans(t *testing.T) {
	g, err := BuildGraph(style.DefaultPlan(), GraphOptions{HasAudio: true, IncludeAudio: true, MusicTrack: "/music/upbeat.mp3"})
	require.NoError(t, err)

	assert.False(t, g.HasMusic())
	assert.Empty(t, g.FilterComplex())
	assert.NotContains(t, g.OutputArgs, "-shortest")
}
