package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/sync-conflict-monitor/internal/types"
)

const ruleClockSkew = "clock_skew"

// Default skew thresholds. Wall-clock time is advisory only and never used to
// establish causal order; this is a freshness heuristic.
const (
	DefaultSkewWarning  = 5 * time.Minute
	DefaultSkewCritical = time.Hour
)

// SkewDetector compares a replica's embedded wall-clock timestamp against
// monitor-local time.
type SkewDetector struct {
	warning  time.Duration
	critical time.Duration
}

// NewSkewDetector constructs a detector with the provided thresholds, falling
// back to the defaults for non-positive values.
func NewSkewDetector(warning, critical time.Duration) *SkewDetector {
	if warning <= 0 {
		warning = DefaultSkewWarning
	}
	if critical <= 0 {
		critical = DefaultSkewCritical
	}
	return &SkewDetector{warning: warning, critical: critical}
}

// WarningThreshold returns the configured warning threshold.
func (d *SkewDetector) WarningThreshold() time.Duration { return d.warning }

// Check measures the absolute divergence between the operation walltime and
// the monitor reference time.
func (d *SkewDetector) Check(op types.Operation, now time.Time) types.MonitorResult {
	skew := now.Sub(op.Walltime)
	if skew < 0 {
		skew = -skew
	}

	var severity types.Severity
	switch {
	case skew > d.critical:
		severity = types.SeverityCritical
	case skew > d.warning:
		severity = types.SeverityWarning
	default:
		result := healthyResult(ruleClockSkew, op)
		return result
	}

	skewObserved.WithLabelValues(string(op.Replica)).Set(skew.Seconds())

	return types.MonitorResult{
		ID:       uuid.NewString(),
		RuleName: ruleClockSkew,
		GroupKey: op.GroupKey,
		Issue:    types.IssueClockSkew,
		HasIssue: true,
		Evidence: map[string]any{
			"operation_id": string(op.ID),
			"skew":         skew.String(),
			"walltime":     op.Walltime.UTC().Format(time.RFC3339Nano),
			"monitor_time": now.UTC().Format(time.RFC3339Nano),
		},
		Severity:         severity,
		DetectedAt:       now.UTC(),
		SuggestedAction:  "verify the replica's system clock and NTP configuration",
		AffectedReplicas: []types.ReplicaID{op.Replica},
	}
}
