package model

import "testing"

func TestLevelOrdering(t *testing.T) {
	ordered := []RiskLevel{LevelLow, LevelMedium, LevelHigh, LevelCritical}
	for i := 1; i < len(ordered); i++ {
		if !ordered[i].IsHigherThan(ordered[i-1]) {
			t.Fatalf("expected %s higher than %s", ordered[i], ordered[i-1])
		}
		if ordered[i-1].IsHigherThan(ordered[i]) {
			t.Fatalf("expected %s not higher than %s", ordered[i-1], ordered[i])
		}
	}
	if LevelHigh.IsHigherThan(LevelHigh) {
		t.Fatalf("level should not be higher than itself")
	}
}

func TestLevelScores(t *testing.T) {
	cases := map[RiskLevel]int{
		LevelLow:      0,
		LevelMedium:   30,
		LevelHigh:     70,
		LevelCritical: 90,
	}
	for level, want := range cases {
		if got := level.Score(); got != want {
			t.Fatalf("%s score = %d, want %d", level, got, want)
		}
	}
}

func TestLevelFromScoreBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  RiskLevel
	}{
		{0, LevelLow},
		{29, LevelLow},
		{30, LevelMedium},
		{69, LevelMedium},
		{70, LevelHigh},
		{89, LevelHigh},
		{90, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range cases {
		if got := LevelFromScore(tc.score); got != tc.want {
			t.Fatalf("LevelFromScore(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestScoreRoundTrip(t *testing.T) {
	for _, level := range []RiskLevel{LevelLow, LevelMedium, LevelHigh, LevelCritical} {
		if got := LevelFromScore(level.Score()); got != level {
			t.Fatalf("LevelFromScore(%s.Score()) = %s", level, got)
		}
	}
}

func TestLevelFromFraction(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, LevelLow},
		{0.29, LevelLow},
		{0.3, LevelMedium},
		{0.59, LevelMedium},
		{0.6, LevelHigh},
		{0.79, LevelHigh},
		{0.8, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tc := range cases {
		if got := LevelFromFraction(tc.score); got != tc.want {
			t.Fatalf("LevelFromFraction(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestLevelWeights(t *testing.T) {
	cases := map[RiskLevel]float64{
		LevelLow:      0.1,
		LevelMedium:   0.4,
		LevelHigh:     0.7,
		LevelCritical: 1.0,
	}
	for level, want := range cases {
		if got := level.Weight(); got != want {
			t.Fatalf("%s weight = %v, want %v", level, got, want)
		}
	}
}
