// Package style maps the upload wizard's stylistic choices onto a concrete
// encoding plan.
//
// Every dimension is a closed enumeration. Lookup tables are arrays sized by
// the enumeration's variant count, so adding a variant without extending the
// tables is caught by the completeness tests. Unknown user input maps to the
// Unknown variant of each dimension, which resolves to the default plan.
package style

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// EditingStyle is the overall look the user picked.
type EditingStyle int

const (
	StyleUnknown EditingStyle = iota
	StyleCinematic
	StyleDynamic
	StyleVlog
	StyleDocumentary
	StyleMinimal
	StyleCorporate
	numEditingStyles
)

var editingStyleNames = [numEditingStyles]string{
	StyleUnknown:     "unknown",
	StyleCinematic:   "cinematic",
	StyleDynamic:     "dynamic",
	StyleVlog:        "vlog",
	StyleDocumentary: "documentary",
	StyleMinimal:     "minimal",
	StyleCorporate:   "corporate",
}

func (s EditingStyle) String() string { return enumName(editingStyleNames[:], int(s)) }

// Audience is the target audience bracket.
type Audience int

const (
	AudienceUnknown Audience = iota
	AudienceKids
	AudienceTeens
	AudienceYoungAdults
	AudienceAdults
	AudienceSeniors
	AudienceGeneral
	numAudiences
)

var audienceNames = [numAudiences]string{
	AudienceUnknown:     "unknown",
	AudienceKids:        "kids",
	AudienceTeens:       "teens",
	AudienceYoungAdults: "young_adults",
	AudienceAdults:      "adults",
	AudienceSeniors:     "seniors",
	AudienceGeneral:     "general",
}

func (a Audience) String() string { return enumName(audienceNames[:], int(a)) }

// DurationBucket is the desired length of the finished video.
type DurationBucket int

const (
	DurationUnknown DurationBucket = iota
	DurationUnder30s
	Duration30To60s
	Duration1To2m
	Duration2To5m
	DurationOver5m
	numDurationBuckets
)

var durationNames = [numDurationBuckets]string{
	DurationUnknown:  "unknown",
	DurationUnder30s: "under_30s",
	Duration30To60s:  "30_60s",
	Duration1To2m:    "1_2m",
	Duration2To5m:    "2_5m",
	DurationOver5m:   "over_5m",
}

func (d DurationBucket) String() string { return enumName(durationNames[:], int(d)) }

// Effect is one entry of the fixed effect catalog. The declaration order is
// the order effects are applied in.
type Effect int

const (
	EffectColorGrade Effect = iota
	EffectSharpen
	EffectVignette
	EffectGrain
	EffectStabilization
	EffectNoiseReduction
	numEffects
)

var effectNames = [numEffects]string{
	EffectColorGrade:     "color_grade",
	EffectSharpen:        "sharpen",
	EffectVignette:       "vignette",
	EffectGrain:          "grain",
	EffectStabilization:  "stabilization",
	EffectNoiseReduction: "noise_reduction",
}

func (e Effect) String() string { return enumName(effectNames[:], int(e)) }

// Effects returns the full catalog in application order.
func Effects() []Effect {
	out := make([]Effect, numEffects)
	for i := range out {
		out[i] = Effect(i)
	}
	return out
}

// EffectSet is an unordered selection from the catalog.
type EffectSet uint8

// NewEffectSet builds a set from effects given in any order.
func NewEffectSet(effects ...Effect) EffectSet {
	var s EffectSet
	for _, e := range effects {
		if e >= 0 && e < numEffects {
			s |= 1 << e
		}
	}
	return s
}

// Has reports whether e is selected.
func (s EffectSet) Has(e Effect) bool { return s&(1<<e) != 0 }

// Ordered returns the selected effects in catalog order.
func (s EffectSet) Ordered() []Effect {
	var out []Effect
	for _, e := range Effects() {
		if s.Has(e) {
			out = append(out, e)
		}
	}
	return out
}

// QualityTier is the ordinal encode quality. The zero value is not a tier.
type QualityTier int

const (
	QualityLow QualityTier = iota + 1
	QualityMedium
	QualityHigh
	QualityUltra
	numQualityTiers
)

var qualityNames = [numQualityTiers]string{
	QualityLow:    "low",
	QualityMedium: "medium",
	QualityHigh:   "high",
	QualityUltra:  "ultra",
}

func (q QualityTier) String() string { return enumName(qualityNames[:], int(q)) }

// Valid reports whether q is a declared tier.
func (q QualityTier) Valid() bool { return q >= QualityLow && q < numQualityTiers }

func (q QualityTier) shift(n int) QualityTier {
	return QualityTier(clamp(int(q)+n, int(QualityLow), int(QualityUltra)))
}

// Transition is how clips enter and leave. The zero value is not a transition.
type Transition int

const (
	TransitionFade Transition = iota + 1
	TransitionDissolve
	TransitionCut
	TransitionSlide
	TransitionZoom
	numTransitions
)

var transitionNames = [numTransitions]string{
	TransitionFade:     "fade",
	TransitionDissolve: "dissolve",
	TransitionCut:      "cut",
	TransitionSlide:    "slide",
	TransitionZoom:     "zoom",
}

func (t Transition) String() string { return enumName(transitionNames[:], int(t)) }

// Valid reports whether t is a declared transition.
func (t Transition) Valid() bool { return t >= TransitionFade && t < numTransitions }

// MusicCategory is the background-audio category. MusicNone means no
// background audio.
type MusicCategory int

const (
	MusicNone MusicCategory = iota
	MusicUpbeat
	MusicAmbient
	MusicOrchestral
	MusicAcoustic
	MusicCorporate
	numMusicCategories
)

var musicNames = [numMusicCategories]string{
	MusicNone:       "none",
	MusicUpbeat:     "upbeat",
	MusicAmbient:    "ambient",
	MusicOrchestral: "orchestral",
	MusicAcoustic:   "acoustic",
	MusicCorporate:  "corporate",
}

func (m MusicCategory) String() string { return enumName(musicNames[:], int(m)) }

// Pacing is the playback speed preset.
type Pacing int

const (
	PacingSlow Pacing = iota + 1
	PacingMedium
	PacingFast
	numPacings
)

var pacingNames = [numPacings]string{
	PacingSlow:   "slow",
	PacingMedium: "medium",
	PacingFast:   "fast",
}

var pacingFactors = [numPacings]float64{
	PacingSlow:   0.9,
	PacingMedium: 1.0,
	PacingFast:   1.15,
}

func (p Pacing) String() string { return enumName(pacingNames[:], int(p)) }

// Factor is the speed multiplier applied to both video and audio.
func (p Pacing) Factor() float64 {
	if p < PacingSlow || p >= numPacings {
		return 1.0
	}
	return pacingFactors[p]
}

func (p Pacing) shift(n int) Pacing {
	return Pacing(clamp(int(p)+n, int(PacingSlow), int(PacingFast)))
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) || names[i] == "" {
		return "unknown"
	}
	return names[i]
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// foldKey reduces a UI label to lowercase letters and digits so that
// "Adults (30-50)", "adults 30-50" and "ADULTS_30_50" compare equal.
func foldKey(s string) string {
	folded := cases.Fold().String(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var styleAliases = map[string]EditingStyle{
	"cinematic":    StyleCinematic,
	"cinema":       StyleCinematic,
	"film":         StyleCinematic,
	"dynamic":      StyleDynamic,
	"energetic":    StyleDynamic,
	"social":       StyleDynamic,
	"vlog":         StyleVlog,
	"documentary":  StyleDocumentary,
	"minimal":      StyleMinimal,
	"minimalist":   StyleMinimal,
	"corporate":    StyleCorporate,
	"professional": StyleCorporate,
}

var audienceAliases = map[string]Audience{
	"kids":            AudienceKids,
	"kidsunder13":     AudienceKids,
	"children":        AudienceKids,
	"teens":           AudienceTeens,
	"teens1317":       AudienceTeens,
	"youngadults":     AudienceYoungAdults,
	"youngadults1829": AudienceYoungAdults,
	"adults":          AudienceAdults,
	"adults3050":      AudienceAdults,
	"seniors":         AudienceSeniors,
	"seniors50":       AudienceSeniors,
	"general":         AudienceGeneral,
	"generalaudience": AudienceGeneral,
	"everyone":        AudienceGeneral,
}

var durationAliases = map[string]DurationBucket{
	"under30seconds": DurationUnder30s,
	"under30s":       DurationUnder30s,
	"3060seconds":    Duration30To60s,
	"3060s":          Duration30To60s,
	"12minutes":      Duration1To2m,
	"12m":            Duration1To2m,
	"25minutes":      Duration2To5m,
	"25m":            Duration2To5m,
	"5minutes":       DurationOver5m,
	"over5m":         DurationOver5m,
	"over5minutes":   DurationOver5m,
}

// ParseEditingStyle maps a UI label to a style, or StyleUnknown.
func ParseEditingStyle(s string) EditingStyle {
	return styleAliases[foldKey(s)]
}

// ParseAudience maps a UI label to an audience, or AudienceUnknown.
func ParseAudience(s string) Audience {
	return audienceAliases[foldKey(s)]
}

// ParseDurationBucket maps a UI label to a bucket, or DurationUnknown.
func ParseDurationBucket(s string) DurationBucket {
	return durationAliases[foldKey(s)]
}

// MarshalText renders enumerations by name in JSON and logs.
func (s EditingStyle) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (e Effect) MarshalText() ([]byte, error) { return []byte(e.String()), nil }
func (q QualityTier) MarshalText() ([]byte, error) { return []byte(q.String()), nil }
func (t Transition) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (m MusicCategory) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
func (p Pacing) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// QualityTiers returns every declared tier, lowest first.
func QualityTiers() []QualityTier {
	out := make([]QualityTier, 0, numQualityTiers-QualityLow)
	for q := QualityLow; q < numQualityTiers; q++ {
		out = append(out, q)
	}
	return out
}

// Transitions returns every declared transition.
func Transitions() []Transition {
	out := make([]Transition, 0, numTransitions-TransitionFade)
	for t := TransitionFade; t < numTransitions; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether e is a catalog effect.
func (e Effect) Valid() bool { return e >= 0 && e < numEffects }
