package scorer

import (
	"context"
	"fmt"
	"log/slog"

	"fraudguard/internal/config"
	"fraudguard/internal/detector"
	"fraudguard/internal/model"
	"fraudguard/internal/profile"
)

// Scorer fuses detector verdicts into a single assessment, adjusts for the
// identifier's stored reputation and feeds the outcome back into the
// profiles.
type Scorer struct {
	registry *detector.Registry
	profiles *profile.Service
	weights  map[string]float64
	defWt    float64
	logger   *slog.Logger
}

func New(registry *detector.Registry, profiles *profile.Service, cfg config.ScoringConfig, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	weights := cfg.DetectorWeights
	if weights == nil {
		weights = map[string]float64{}
	}
	defWt := cfg.DefaultWeight
	if defWt <= 0 {
		defWt = 0.1
	}
	return &Scorer{
		registry: registry,
		profiles: profiles,
		weights:  weights,
		defWt:    defWt,
		logger:   logger,
	}
}

// Assess runs every registered detector and returns the fused assessment.
// A detector that errors or panics is excluded from the weighted average
// entirely; it does not count as a Low vote. With no usable verdicts the
// detector score is 0 and only the reputation adjustment remains.
func (s *Scorer) Assess(ctx context.Context, event *model.Context) *model.Assessment {
	verdicts := make(map[string]model.Verdict)
	weightedScore := 0.0
	totalWeight := 0.0
	maxLevel := model.LevelLow

	for _, d := range s.registry.Detectors() {
		v, err := s.runDetector(ctx, d, event)
		if err != nil {
			s.logger.Error("detector failed", "detector", d.Name(), "error", err)
			continue
		}
		verdicts[d.Name()] = v

		weight := s.detectorWeight(d.Name())
		weightedScore += v.Level.Weight() * weight
		totalWeight += weight
		if v.Level.IsHigherThan(maxLevel) {
			maxLevel = v.Level
		}
	}

	finalScore := 0.0
	if totalWeight > 0 {
		finalScore = weightedScore / totalWeight
	}

	adjustment := s.profileAdjustment(ctx, event)
	finalScore = clamp01(finalScore + adjustment)

	finalLevel := model.LevelFromFraction(finalScore)
	// Any single Critical verdict keeps the fused result at least High even
	// when the weighted average dilutes it.
	if maxLevel == model.LevelCritical && finalLevel != model.LevelCritical {
		finalLevel = model.LevelHigh
	}

	assessment := model.NewAssessment(finalScore, finalLevel)
	assessment.Verdicts = verdicts
	assessment.Details["weighted_score"] = weightedScore
	assessment.Details["total_weight"] = totalWeight
	assessment.Details["profile_adjustment"] = adjustment
	assessment.Details["max_risk_level"] = string(maxLevel)
	for _, v := range verdicts {
		for _, reason := range v.Reasons {
			assessment.AddReason(reason)
		}
	}

	s.feedback(ctx, event, finalLevel, verdicts)

	return assessment
}

func (s *Scorer) runDetector(ctx context.Context, d detector.Detector, event *model.Context) (v model.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Detect(ctx, event)
}

func (s *Scorer) detectorWeight(name string) float64 {
	if w, ok := s.weights[name]; ok {
		return w
	}
	return s.defWt
}

// profileAdjustment folds stored reputation into the detector score. A
// blacklisted or whitelisted user short-circuits; otherwise the user's
// historical score contributes 20% and a bad IP adds on top.
func (s *Scorer) profileAdjustment(ctx context.Context, event *model.Context) float64 {
	if s.profiles == nil {
		return 0
	}
	adjustment := 0.0

	userProfile, err := s.profiles.Lookup(ctx, model.IdentifierUser, event.UserID)
	if err != nil {
		s.logger.Error("profile lookup failed", "identifier_type", "user", "error", err)
	}
	if userProfile != nil {
		if userProfile.Blacklisted {
			return 0.5
		}
		if userProfile.Whitelisted {
			return -0.3
		}
		adjustment += userProfile.RiskScore * 0.2
	}

	ipProfile, err := s.profiles.Lookup(ctx, model.IdentifierIP, event.IP)
	if err != nil {
		s.logger.Error("profile lookup failed", "identifier_type", "ip", "error", err)
	}
	if ipProfile != nil {
		if ipProfile.Blacklisted {
			adjustment += 0.3
		} else if ipProfile.RiskScore > 0.5 {
			adjustment += ipProfile.RiskScore * 0.1
		}
	}

	return adjustment
}

// feedback writes the fused outcome back into the user and IP profiles. The
// recorded action is the first detector suggestion of "block", else the
// first "throttle", else none.
func (s *Scorer) feedback(ctx context.Context, event *model.Context, level model.RiskLevel, verdicts map[string]model.Verdict) {
	if s.profiles == nil {
		return
	}
	actionTaken := ""
	for _, v := range verdicts {
		if v.Suggested == "block" {
			actionTaken = "block"
			break
		}
		if v.Suggested == "throttle" && actionTaken == "" {
			actionTaken = "throttle"
		}
	}
	if event.UserID != "" {
		if err := s.profiles.UpdateStats(ctx, model.IdentifierUser, event.UserID, level, actionTaken); err != nil {
			s.logger.Error("profile feedback failed", "identifier_type", "user", "error", err)
		}
	}
	if event.IP != "" {
		if err := s.profiles.UpdateStats(ctx, model.IdentifierIP, event.IP, level, actionTaken); err != nil {
			s.logger.Error("profile feedback failed", "identifier_type", "ip", "error", err)
		}
	}
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
