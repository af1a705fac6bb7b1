package monitor

import "time"

// Health score weights. The score is advisory telemetry, not a pass/fail
// gate.
const (
	conflictPenaltyPerItem = 5.0
	conflictPenaltyMax     = 30.0
	skewPenalty            = 20.0
	throughputBonusPerOp   = 0.1
	throughputBonusMax     = 10.0
)

// HealthInputs are the raw observations a health sample is computed from.
type HealthInputs struct {
	UnresolvedConflicts int
	SkewAboveWarning    bool
	RecentOperations    int
}

// HealthBreakdown itemizes the contributions to a health score.
type HealthBreakdown struct {
	Base                float64 `json:"base"`
	ConflictPenalty     float64 `json:"conflict_penalty"`
	SkewPenalty         float64 `json:"skew_penalty"`
	ThroughputBonus     float64 `json:"throughput_bonus"`
	UnresolvedConflicts int     `json:"unresolved_conflicts"`
	RecentOperations    int     `json:"recent_operations"`
}

// HealthScore is one aggregate sample in [0,100].
type HealthScore struct {
	Value     float64         `json:"value"`
	Breakdown HealthBreakdown `json:"breakdown"`
	SampledAt time.Time       `json:"sampled_at"`
	Window    time.Duration   `json:"window"`
}

// Score aggregates recent conflict rate, clock-sync status, and operation
// volume into a single clamped value.
func Score(in HealthInputs, window time.Duration, now time.Time) HealthScore {
	breakdown := HealthBreakdown{
		Base:                100,
		UnresolvedConflicts: in.UnresolvedConflicts,
		RecentOperations:    in.RecentOperations,
	}

	breakdown.ConflictPenalty = conflictPenaltyPerItem * float64(in.UnresolvedConflicts)
	if breakdown.ConflictPenalty > conflictPenaltyMax {
		breakdown.ConflictPenalty = conflictPenaltyMax
	}

	if in.SkewAboveWarning {
		breakdown.SkewPenalty = skewPenalty
	}

	breakdown.ThroughputBonus = throughputBonusPerOp * float64(in.RecentOperations)
	if breakdown.ThroughputBonus > throughputBonusMax {
		breakdown.ThroughputBonus = throughputBonusMax
	}

	value := breakdown.Base - breakdown.ConflictPenalty - breakdown.SkewPenalty + breakdown.ThroughputBonus
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	healthScore.Set(value)

	return HealthScore{
		Value:     value,
		Breakdown: breakdown,
		SampledAt: now.UTC(),
		Window:    window,
	}
}
