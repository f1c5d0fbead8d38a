package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/metrics"
)

// Weight profile names, recorded on each result.
const (
	ProfileFullData        = "full_data"
	ProfileLearnedNoAudio  = "learned_no_audio"
	ProfileDescriptionOnly = "description_only"
	ProfileDefaultBalanced = "default_balanced"
)

// ScoreInput is everything one candidate is scored from.
type ScoreInput struct {
	Candidate *domain.Song
	// Vector is the candidate embedding; nil scores the vector tier 0.
	Vector  []float32
	Profile *domain.PlaylistProfile
	// Existing lists the tracks already in the playlist, in order.
	Existing []*domain.Song
}

type scoreState int

const (
	stateMetadata scoreState = iota
	stateVector
	stateAudio
	stateGate
	stateContext
	stateThematic
	stateFlow
	stateCombine
	stateVeto
	stateDone
)

var stateNames = [...]string{"metadata", "vector", "audio", "gate", "context", "thematic", "flow", "combine", "veto", "done"}

func (s scoreState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HybridScorer runs the six scoring tiers for one candidate. The cheap tiers
// always run; context, thematic and flow run only when the pre-score passes
// the deep analysis threshold.
type HybridScorer struct {
	cfg     *config.MatchingConfig
	tiers   *tierScorer
	deep    DeepTiers
	metrics *metrics.Recorder
}

// ScorerOption customizes a HybridScorer.
type ScorerOption func(*HybridScorer)

// WithDeepTiers replaces the context, thematic and flow tiers.
func WithDeepTiers(deep DeepTiers) ScorerOption {
	return func(s *HybridScorer) {
		s.deep = deep
	}
}

func NewHybridScorer(matcher SimilarityMatcher, cfg *config.MatchingConfig, rec *metrics.Recorder, opts ...ScorerOption) *HybridScorer {
	tiers := newTierScorer(matcher, cfg)
	s := &HybridScorer{
		cfg:     cfg,
		tiers:   tiers,
		deep:    tiers,
		metrics: rec,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectWeights picks the weight profile the data available for a
// candidate supports.
func (s *HybridScorer) SelectWeights(in *ScoreInput) (string, config.WeightProfile) {
	profiles := s.cfg.Profiles
	switch {
	case in.Profile.Method == domain.ProfileMethodDescribed:
		return ProfileDescriptionOnly, profiles.DescriptionOnly
	case in.Candidate.Analysis != nil && !in.Candidate.Audio().IsEmpty() && !in.Profile.AudioAverages.IsEmpty():
		return ProfileFullData, profiles.FullData
	case in.Profile.Method == domain.ProfileMethodLearned:
		return ProfileLearnedNoAudio, profiles.LearnedNoAudio
	default:
		return ProfileDefaultBalanced, profiles.DefaultBalanced
	}
}

// Score runs the tier state machine for one candidate. The returned result
// has no ContextHash; the caller owns the context.
func (s *HybridScorer) Score(ctx context.Context, in *ScoreInput) (*domain.MatchResult, error) {
	if in == nil || in.Candidate == nil || in.Profile == nil {
		return nil, errors.New("score input needs a candidate and a profile")
	}

	profileName, weights := s.SelectWeights(in)
	var scores domain.ComponentScores
	var final float64
	deep := false
	result := &domain.MatchResult{
		TrackID:       in.Candidate.ID,
		WeightProfile: profileName,
	}

	for state := stateMetadata; state != stateDone; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scoring %s interrupted at %s: %w", in.Candidate.ID, state, err)
		}

		switch state {
		case stateMetadata:
			scores.Metadata = s.tiers.metadata(ctx, in)
			state = stateVector
		case stateVector:
			scores.Vector = s.tiers.vector(in)
			state = stateAudio
		case stateAudio:
			scores.Audio = s.tiers.audio(in)
			state = stateGate
		case stateGate:
			scores.PreScore = weights.Metadata*scores.Metadata + weights.Vector*scores.Vector + weights.Audio*scores.Audio
			if scores.PreScore > s.cfg.DeepAnalysisThreshold {
				deep = true
				state = stateContext
				break
			}
			scores.Context, scores.Thematic, scores.Flow = noDataContext, noDataThematic, noDataFlow
			state = stateCombine
		case stateContext:
			scores.Context = s.deep.Context(ctx, in)
			state = stateThematic
		case stateThematic:
			scores.Thematic, scores.ThematicContradiction = s.deep.Thematic(ctx, in)
			state = stateFlow
		case stateFlow:
			scores.Flow = s.deep.Flow(ctx, in)
			state = stateCombine
		case stateCombine:
			final = Combine(scores, weights, s.cfg.ContradictionPenalty)
			state = stateVeto
		case stateVeto:
			if final < s.cfg.VetoThreshold {
				result.VetoApplied = true
				result.VetoReason = s.cfg.VetoReason
			}
			state = stateDone
		}
	}

	result.Similarity = final
	result.ComponentScores = datatypes.NewJSONType(scores)
	result.DeepAnalysis = deep
	result.CreatedAt = time.Now()

	s.metrics.ScorerRun(profileName, deep)
	logger.CtxDebug(ctx, "Scored candidate: track_id=%s, profile=%s, pre_score=%.3f, similarity=%.3f, deep=%v, veto=%v",
		in.Candidate.ID, profileName, scores.PreScore, final, deep, result.VetoApplied)
	return result, nil
}

// Combine is the weighted tier sum, clamped to [0,1] and scaled down by the
// thematic contradiction.
func Combine(scores domain.ComponentScores, w config.WeightProfile, contradictionPenalty float64) float64 {
	sum := w.Metadata*scores.Metadata +
		w.Vector*scores.Vector +
		w.Audio*scores.Audio +
		w.Context*scores.Context +
		w.Thematic*scores.Thematic +
		w.Flow*scores.Flow
	return clamp01(sum) * (1 - contradictionPenalty*clamp01(scores.ThematicContradiction))
}
