package monitor

import (
	"testing"
	"time"
)

func TestScoreBaseline(t *testing.T) {
	score := Score(HealthInputs{}, 15*time.Minute, time.Now())
	if score.Value != 100 {
		t.Fatalf("no observations should score 100, got %v", score.Value)
	}
}

func TestScorePenaltiesAndBonus(t *testing.T) {
	now := time.Now()

	score := Score(HealthInputs{UnresolvedConflicts: 2}, 15*time.Minute, now)
	if score.Value != 90 {
		t.Fatalf("2 conflicts should score 90, got %v", score.Value)
	}

	// Conflict penalty saturates at 30.
	score = Score(HealthInputs{UnresolvedConflicts: 50}, 15*time.Minute, now)
	if score.Value != 70 {
		t.Fatalf("conflict penalty must cap at 30, got %v", score.Value)
	}

	score = Score(HealthInputs{SkewAboveWarning: true}, 15*time.Minute, now)
	if score.Value != 80 {
		t.Fatalf("skew should cost 20, got %v", score.Value)
	}

	// Throughput bonus saturates at 10 and never pushes past 100.
	score = Score(HealthInputs{RecentOperations: 500}, 15*time.Minute, now)
	if score.Value != 100 {
		t.Fatalf("bonus must clamp at 100, got %v", score.Value)
	}

	score = Score(HealthInputs{UnresolvedConflicts: 50, SkewAboveWarning: true, RecentOperations: 40}, 15*time.Minute, now)
	if diff := score.Value - 54; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected 100-30-20+4 = 54, got %v", score.Value)
	}
	if score.Breakdown.ConflictPenalty != 30 || score.Breakdown.SkewPenalty != 20 {
		t.Fatalf("breakdown mismatch: %+v", score.Breakdown)
	}
}
