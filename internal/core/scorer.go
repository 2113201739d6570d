package core

import "context"

// ---------------------------------------------------------------------------
// scorer.go — pluggable risk scoring.
//
// The decision engine normalizes heterogeneous signals into a fixed-size
// feature vector and delegates the actual scoring to a RiskScorer. The
// default is a deterministic weighted sum; a learned model is an alternate
// implementation behind the same interface, never a hard dependency.
// ---------------------------------------------------------------------------

// FeatureVector is the normalized input to a RiskScorer. Every field is
// in [0, 1]; missing source fields are 0.
type FeatureVector struct {
	AnomalyScore        float64
	Frequency           float64
	SeverityOrdinal     float64
	Impact              float64
	UserRisk            float64
	IPRisk              float64
	BehavioralDeviation float64
	TemporalDeviation   float64
	GeographicDeviation float64
	PatternNovelty      float64
}

// RiskScorer turns a feature vector into a normalized risk/confidence pair,
// both in [0, 1].
type RiskScorer interface {
	Score(ctx context.Context, fv FeatureVector) (risk, confidence float64, err error)
}

// WeightedScorer is the default deterministic scorer: a fixed weighted sum
// over the feature vector. Weights sum to 1 so the raw score stays in [0, 1].
type WeightedScorer struct {
	weights FeatureVector
}

// NewWeightedScorer returns a scorer with the default weight profile.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{
		weights: FeatureVector{
			AnomalyScore:        0.18,
			Frequency:           0.12,
			SeverityOrdinal:     0.16,
			Impact:              0.14,
			UserRisk:            0.08,
			IPRisk:              0.08,
			BehavioralDeviation: 0.08,
			TemporalDeviation:   0.05,
			GeographicDeviation: 0.05,
			PatternNovelty:      0.06,
		},
	}
}

func (s *WeightedScorer) Score(_ context.Context, fv FeatureVector) (float64, float64, error) {
	w := s.weights
	risk := w.AnomalyScore*fv.AnomalyScore +
		w.Frequency*fv.Frequency +
		w.SeverityOrdinal*fv.SeverityOrdinal +
		w.Impact*fv.Impact +
		w.UserRisk*fv.UserRisk +
		w.IPRisk*fv.IPRisk +
		w.BehavioralDeviation*fv.BehavioralDeviation +
		w.TemporalDeviation*fv.TemporalDeviation +
		w.GeographicDeviation*fv.GeographicDeviation +
		w.PatternNovelty*fv.PatternNovelty

	// Confidence grows with the number of populated features: a vector with
	// one known signal is a weaker basis than a fully populated one.
	populated := 0.0
	for _, v := range []float64{
		fv.AnomalyScore, fv.Frequency, fv.SeverityOrdinal, fv.Impact,
		fv.UserRisk, fv.IPRisk, fv.BehavioralDeviation, fv.TemporalDeviation,
		fv.GeographicDeviation, fv.PatternNovelty,
	} {
		if v > 0 {
			populated++
		}
	}
	confidence := 0.4 + 0.06*populated
	if confidence > 1 {
		confidence = 1
	}

	return clamp01(risk), confidence, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
