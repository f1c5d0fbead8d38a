package config

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/viper"

	"github.com/timmy/tunematch/internal/contenthash"
)

// WeightProfile holds one adaptive weighting of the six scoring tiers.
type WeightProfile struct {
	Metadata float64 `mapstructure:"metadata" json:"metadata" validate:"gte=0,lte=1"`
	Vector   float64 `mapstructure:"vector" json:"vector" validate:"gte=0,lte=1"`
	Audio    float64 `mapstructure:"audio" json:"audio" validate:"gte=0,lte=1"`
	Context  float64 `mapstructure:"context" json:"context" validate:"gte=0,lte=1"`
	Thematic float64 `mapstructure:"thematic" json:"thematic" validate:"gte=0,lte=1"`
	Flow     float64 `mapstructure:"flow" json:"flow" validate:"gte=0,lte=1"`
}

// Sum returns the total weight across all tiers.
func (w WeightProfile) Sum() float64 {
	return w.Metadata + w.Vector + w.Audio + w.Context + w.Thematic + w.Flow
}

// WeightProfiles are selected by the scorer according to data availability.
type WeightProfiles struct {
	FullData        WeightProfile `mapstructure:"full_data" json:"full_data"`
	LearnedNoAudio  WeightProfile `mapstructure:"learned_no_audio" json:"learned_no_audio"`
	DescriptionOnly WeightProfile `mapstructure:"description_only" json:"description_only"`
	DefaultBalanced WeightProfile `mapstructure:"default_balanced" json:"default_balanced"`
}

func (p WeightProfiles) named() map[string]WeightProfile {
	return map[string]WeightProfile{
		"full_data":        p.FullData,
		"learned_no_audio": p.LearnedNoAudio,
		"description_only": p.DescriptionOnly,
		"default_balanced": p.DefaultBalanced,
	}
}

// AudioFeatureWeights weight the per-feature closeness in the audio tier.
type AudioFeatureWeights struct {
	Energy           float64 `mapstructure:"energy" json:"energy" validate:"gte=0,lte=1"`
	Valence          float64 `mapstructure:"valence" json:"valence" validate:"gte=0,lte=1"`
	Danceability     float64 `mapstructure:"danceability" json:"danceability" validate:"gte=0,lte=1"`
	Tempo            float64 `mapstructure:"tempo" json:"tempo" validate:"gte=0,lte=1"`
	Acousticness     float64 `mapstructure:"acousticness" json:"acousticness" validate:"gte=0,lte=1"`
	Instrumentalness float64 `mapstructure:"instrumentalness" json:"instrumentalness" validate:"gte=0,lte=1"`
}

// FlowWeights split the flow tier between mood transition and energy/valence closeness.
type FlowWeights struct {
	Mood    float64 `mapstructure:"mood" json:"mood" validate:"gte=0,lte=1"`
	Energy  float64 `mapstructure:"energy" json:"energy" validate:"gte=0,lte=1"`
	Valence float64 `mapstructure:"valence" json:"valence" validate:"gte=0,lte=1"`
}

// MatchingConfig carries every scoring rule and threshold. Its hash is part of
// the match context, so any change here invalidates cached match results.
type MatchingConfig struct {
	Version  string         `mapstructure:"version" json:"version"`
	Profiles WeightProfiles `mapstructure:"profiles" json:"profiles"`

	DeepAnalysisThreshold float64 `mapstructure:"deep_analysis_threshold" json:"deep_analysis_threshold" validate:"gte=0,lte=1"`
	VetoThreshold         float64 `mapstructure:"veto_threshold" json:"veto_threshold" validate:"gte=0,lte=1"`
	VetoReason            string  `mapstructure:"veto_reason" json:"veto_reason" validate:"required"`
	ContradictionPenalty  float64 `mapstructure:"contradiction_penalty" json:"contradiction_penalty" validate:"gte=0,lte=1"`
	SimilarityThreshold   float64 `mapstructure:"similarity_threshold" json:"similarity_threshold" validate:"gte=0,lte=1"`

	GenreMatchWeight float64 `mapstructure:"genre_match_weight" json:"genre_match_weight" validate:"gte=0,lte=1"`
	MoodMatchWeight  float64 `mapstructure:"mood_match_weight" json:"mood_match_weight" validate:"gte=0,lte=1"`
	PerThemeWeight   float64 `mapstructure:"per_theme_weight" json:"per_theme_weight" validate:"gte=0,lte=1"`
	AudienceBonus    float64 `mapstructure:"audience_bonus" json:"audience_bonus" validate:"gte=0,lte=1"`

	AudioFeatures AudioFeatureWeights `mapstructure:"audio_features" json:"audio_features"`
	TempoRange    float64             `mapstructure:"tempo_range" json:"tempo_range" validate:"gt=0"`

	Flow       FlowWeights `mapstructure:"flow" json:"flow"`
	FlowWindow int         `mapstructure:"flow_window" json:"flow_window" validate:"gte=1"`

	// MoodGroups maps a group name to its member moods. The "positive" and
	// "negative" groups define valence for journey shapes and contradictions.
	MoodGroups map[string][]string `mapstructure:"mood_groups" json:"mood_groups"`
	// GoodTransitions maps a previous mood to moods that follow it well.
	GoodTransitions map[string][]string `mapstructure:"good_transitions" json:"good_transitions"`

	// Workers bounds the per-candidate scoring fan-out. Not part of the hash.
	Workers int `mapstructure:"workers" json:"-" validate:"gte=1"`
}

const sumTolerance = 1e-6

// Validate rejects weight profiles that do not sum to 1.0 and thresholds
// outside [0,1].
func (c *MatchingConfig) Validate() error {
	if err := validateStruct("matching", c); err != nil {
		return err
	}

	var problems []string
	for name, p := range c.Profiles.named() {
		if sum := p.Sum(); math.Abs(sum-1) > sumTolerance {
			problems = append(problems, fmt.Sprintf("matching.profiles.%s: weights sum to %.4f, want 1.0", name, sum))
		}
	}
	if sum := c.Flow.Mood + c.Flow.Energy + c.Flow.Valence; math.Abs(sum-1) > sumTolerance {
		problems = append(problems, fmt.Sprintf("matching.flow: weights sum to %.4f, want 1.0", sum))
	}
	if len(c.MoodGroups["positive"]) == 0 || len(c.MoodGroups["negative"]) == 0 {
		problems = append(problems, "matching.mood_groups: positive and negative groups are required")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return newValidationError(problems)
	}
	return nil
}

// Hash returns the version-tagged digest of every scoring-relevant setting.
func (c *MatchingConfig) Hash() string {
	return contenthash.MustHash(c)
}

// DefaultMatchingConfig returns the built-in scoring rules.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		Version: "1",
		Profiles: WeightProfiles{
			FullData:        WeightProfile{Metadata: 0.10, Vector: 0.30, Audio: 0.25, Context: 0.15, Thematic: 0.10, Flow: 0.10},
			LearnedNoAudio:  WeightProfile{Metadata: 0.10, Vector: 0.35, Audio: 0.00, Context: 0.20, Thematic: 0.25, Flow: 0.10},
			DescriptionOnly: WeightProfile{Metadata: 0.10, Vector: 0.50, Audio: 0.00, Context: 0.15, Thematic: 0.20, Flow: 0.05},
			DefaultBalanced: WeightProfile{Metadata: 0.15, Vector: 0.30, Audio: 0.15, Context: 0.15, Thematic: 0.15, Flow: 0.10},
		},
		DeepAnalysisThreshold: 0.10,
		VetoThreshold:         0.2,
		VetoReason:            "Low compatibility",
		ContradictionPenalty:  0.3,
		SimilarityThreshold:   0.65,
		GenreMatchWeight:      0.2,
		MoodMatchWeight:       0.8,
		PerThemeWeight:        0.3,
		AudienceBonus:         0.2,
		AudioFeatures: AudioFeatureWeights{
			Energy:           0.25,
			Valence:          0.25,
			Danceability:     0.20,
			Tempo:            0.15,
			Acousticness:     0.10,
			Instrumentalness: 0.05,
		},
		TempoRange: 100,
		Flow:       FlowWeights{Mood: 0.5, Energy: 0.3, Valence: 0.2},
		FlowWindow: 3,
		MoodGroups: map[string][]string{
			"positive": {"happy", "joyful", "euphoric", "uplifting", "excited", "energetic", "hopeful", "romantic", "confident", "playful"},
			"negative": {"sad", "melancholic", "angry", "anxious", "dark", "lonely", "heartbroken", "bitter", "somber"},
			"calm":     {"calm", "peaceful", "relaxed", "dreamy", "nostalgic", "reflective", "chill"},
		},
		GoodTransitions: map[string][]string{
			"happy":       {"energetic", "excited", "uplifting", "romantic", "playful"},
			"energetic":   {"happy", "excited", "euphoric", "confident"},
			"excited":     {"energetic", "euphoric", "happy"},
			"romantic":    {"happy", "dreamy", "calm"},
			"sad":         {"melancholic", "reflective", "nostalgic", "calm"},
			"melancholic": {"sad", "nostalgic", "reflective"},
			"calm":        {"peaceful", "dreamy", "relaxed", "reflective"},
			"nostalgic":   {"melancholic", "reflective", "calm"},
			"angry":       {"energetic", "dark"},
			"dark":        {"angry", "somber", "melancholic"},
		},
		Workers: 8,
	}
}

func setMatchingDefaults(v *viper.Viper) {
	d := DefaultMatchingConfig()
	v.SetDefault("matching.version", d.Version)
	for name, p := range d.Profiles.named() {
		prefix := "matching.profiles." + name + "."
		v.SetDefault(prefix+"metadata", p.Metadata)
		v.SetDefault(prefix+"vector", p.Vector)
		v.SetDefault(prefix+"audio", p.Audio)
		v.SetDefault(prefix+"context", p.Context)
		v.SetDefault(prefix+"thematic", p.Thematic)
		v.SetDefault(prefix+"flow", p.Flow)
	}
	v.SetDefault("matching.deep_analysis_threshold", d.DeepAnalysisThreshold)
	v.SetDefault("matching.veto_threshold", d.VetoThreshold)
	v.SetDefault("matching.veto_reason", d.VetoReason)
	v.SetDefault("matching.contradiction_penalty", d.ContradictionPenalty)
	v.SetDefault("matching.similarity_threshold", d.SimilarityThreshold)
	v.SetDefault("matching.genre_match_weight", d.GenreMatchWeight)
	v.SetDefault("matching.mood_match_weight", d.MoodMatchWeight)
	v.SetDefault("matching.per_theme_weight", d.PerThemeWeight)
	v.SetDefault("matching.audience_bonus", d.AudienceBonus)
	v.SetDefault("matching.audio_features.energy", d.AudioFeatures.Energy)
	v.SetDefault("matching.audio_features.valence", d.AudioFeatures.Valence)
	v.SetDefault("matching.audio_features.danceability", d.AudioFeatures.Danceability)
	v.SetDefault("matching.audio_features.tempo", d.AudioFeatures.Tempo)
	v.SetDefault("matching.audio_features.acousticness", d.AudioFeatures.Acousticness)
	v.SetDefault("matching.audio_features.instrumentalness", d.AudioFeatures.Instrumentalness)
	v.SetDefault("matching.tempo_range", d.TempoRange)
	v.SetDefault("matching.flow.mood", d.Flow.Mood)
	v.SetDefault("matching.flow.energy", d.Flow.Energy)
	v.SetDefault("matching.flow.valence", d.Flow.Valence)
	v.SetDefault("matching.flow_window", d.FlowWindow)
	v.SetDefault("matching.mood_groups", d.MoodGroups)
	v.SetDefault("matching.good_transitions", d.GoodTransitions)
	v.SetDefault("matching.workers", d.Workers)
}
