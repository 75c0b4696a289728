package style

import (
	"fmt"

	"github.com/jmylchreest/reelcast/internal/models"
)

// Resolution is an output frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Plan is the concrete encoding plan derived from a style selection. It is
// never persisted; Resolve regenerates it from the stored preferences.
type Plan struct {
	Style      EditingStyle  `json:"style"`
	Quality    QualityTier   `json:"quality"`
	Effects    []Effect      `json:"effects"`
	Transition Transition    `json:"transition"`
	Music      MusicCategory `json:"music"`
	Pacing     Pacing        `json:"pacing"`
	Resolution Resolution    `json:"resolution"`
}

// HasMusic reports whether the plan calls for background audio.
func (p Plan) HasMusic() bool { return p.Music != MusicNone }

// Cinematic reports whether the plan came from the cinematic style, which
// raises the bitrate floor.
func (p Plan) Cinematic() bool { return p.Style == StyleCinematic }

// Choices is a parsed style selection.
type Choices struct {
	Style    EditingStyle
	Audience Audience
	Duration DurationBucket
}

// ParseChoices folds stored preference labels onto the closed enumerations.
func ParseChoices(prefs models.StylePreferences) Choices {
	return Choices{
		Style:    ParseEditingStyle(prefs.EditingStyle),
		Audience: ParseAudience(prefs.TargetAudience),
		Duration: ParseDurationBucket(prefs.DurationBucket),
	}
}

type styleProfile struct {
	quality    QualityTier
	effects    EffectSet
	transition Transition
	music      MusicCategory
	pacing     Pacing
}

type audienceProfile struct {
	pacingShift int
	// music replaces the style's category when the style has one.
	music MusicCategory
}

type durationProfile struct {
	pacingShift  int
	qualityShift int
}

// defaultProfile is what an unrecognized style resolves to: medium quality,
// color correction only, fade, no background audio, medium pacing.
var defaultProfile = styleProfile{
	quality:    QualityMedium,
	effects:    NewEffectSet(EffectColorGrade),
	transition: TransitionFade,
	music:      MusicNone,
	pacing:     PacingMedium,
}

var styleProfiles = [numEditingStyles]styleProfile{
	StyleUnknown: defaultProfile,
	StyleCinematic: {
		quality:    QualityUltra,
		effects:    NewEffectSet(EffectColorGrade, EffectVignette, EffectGrain),
		transition: TransitionDissolve,
		music:      MusicOrchestral,
		pacing:     PacingMedium,
	},
	StyleDynamic: {
		quality:    QualityHigh,
		effects:    NewEffectSet(EffectColorGrade, EffectSharpen, EffectStabilization),
		transition: TransitionZoom,
		music:      MusicUpbeat,
		pacing:     PacingFast,
	},
	StyleVlog: {
		quality:    QualityMedium,
		effects:    NewEffectSet(EffectColorGrade, EffectStabilization),
		transition: TransitionSlide,
		music:      MusicUpbeat,
		pacing:     PacingMedium,
	},
	StyleDocumentary: {
		quality:    QualityHigh,
		effects:    NewEffectSet(EffectColorGrade, EffectStabilization, EffectNoiseReduction),
		transition: TransitionFade,
		music:      MusicAmbient,
		pacing:     PacingSlow,
	},
	StyleMinimal: {
		quality:    QualityMedium,
		effects:    NewEffectSet(EffectColorGrade),
		transition: TransitionCut,
		music:      MusicNone,
		pacing:     PacingMedium,
	},
	StyleCorporate: {
		quality:    QualityHigh,
		effects:    NewEffectSet(EffectColorGrade, EffectSharpen, EffectNoiseReduction),
		transition: TransitionFade,
		music:      MusicCorporate,
		pacing:     PacingMedium,
	},
}

var audienceProfiles = [numAudiences]audienceProfile{
	AudienceUnknown:     {},
	AudienceKids:        {pacingShift: 1, music: MusicUpbeat},
	AudienceTeens:       {pacingShift: 1, music: MusicUpbeat},
	AudienceYoungAdults: {},
	AudienceAdults:      {},
	AudienceSeniors:     {pacingShift: -1, music: MusicAcoustic},
	AudienceGeneral:     {},
}

var durationProfiles = [numDurationBuckets]durationProfile{
	DurationUnknown:  {},
	DurationUnder30s: {pacingShift: 1},
	Duration30To60s:  {},
	Duration1To2m:    {},
	Duration2To5m:    {},
	DurationOver5m:   {pacingShift: -1, qualityShift: -1},
}

var resolutions = [numQualityTiers]Resolution{
	QualityLow:    {Width: 1280, Height: 720},
	QualityMedium: {Width: 1920, Height: 1080},
	QualityHigh:   {Width: 1920, Height: 1080},
	QualityUltra:  {Width: 3840, Height: 2160},
}

// Resolve returns the encoding plan for a style selection. It is total:
// out-of-range values are treated as unknown and contribute the defaults.
func Resolve(c Choices) Plan {
	if c.Style < 0 || c.Style >= numEditingStyles {
		c.Style = StyleUnknown
	}
	if c.Audience < 0 || c.Audience >= numAudiences {
		c.Audience = AudienceUnknown
	}
	if c.Duration < 0 || c.Duration >= numDurationBuckets {
		c.Duration = DurationUnknown
	}

	sp := styleProfiles[c.Style]
	ap := audienceProfiles[c.Audience]
	dp := durationProfiles[c.Duration]

	music := sp.music
	if music != MusicNone && ap.music != MusicNone {
		music = ap.music
	}

	quality := sp.quality.shift(dp.qualityShift)

	return Plan{
		Style:      c.Style,
		Quality:    quality,
		Effects:    sp.effects.Ordered(),
		Transition: sp.transition,
		Music:      music,
		Pacing:     sp.pacing.shift(ap.pacingShift + dp.pacingShift),
		Resolution: resolutions[quality],
	}
}

// ResolvePreferences parses stored preferences and resolves them.
func ResolvePreferences(prefs models.StylePreferences) Plan {
	return Resolve(ParseChoices(prefs))
}

// DefaultPlan is the plan used when nothing recognizable was chosen.
func DefaultPlan() Plan {
	return Resolve(Choices{})
}
