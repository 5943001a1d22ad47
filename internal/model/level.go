package model

type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// Score maps a level to its canonical integer score on the 0-100 scale.
func (l RiskLevel) Score() int {
	switch l {
	case LevelMedium:
		return 30
	case LevelHigh:
		return 70
	case LevelCritical:
		return 90
	default:
		return 0
	}
}

// Weight maps a level to the fractional score used by the weighted aggregate.
func (l RiskLevel) Weight() float64 {
	switch l {
	case LevelMedium:
		return 0.4
	case LevelHigh:
		return 0.7
	case LevelCritical:
		return 1.0
	default:
		return 0.1
	}
}

func (l RiskLevel) IsHigherThan(other RiskLevel) bool {
	return l.Score() > other.Score()
}

func (l RiskLevel) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// LevelFromScore is the inverse step function of Score. Boundaries: scores
// below 30 are low, below 70 medium, below 90 high, everything else critical.
func LevelFromScore(score int) RiskLevel {
	switch {
	case score < 30:
		return LevelLow
	case score < 70:
		return LevelMedium
	case score < 90:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// LevelFromFraction maps a 0.0-1.0 aggregate score to a level using the
// aggregator thresholds.
func LevelFromFraction(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return LevelCritical
	case score >= 0.6:
		return LevelHigh
	case score >= 0.3:
		return LevelMedium
	default:
		return LevelLow
	}
}
