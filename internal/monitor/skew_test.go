package monitor

import (
	"testing"
	"time"

	"github.com/example/sync-conflict-monitor/internal/types"
)

func TestSkewCheckGradesBySeverity(t *testing.T) {
	detector := NewSkewDetector(0, 0) // defaults: 5m warning, 1h critical
	now := time.Now()

	cases := []struct {
		name     string
		walltime time.Time
		issue    types.IssueKind
		severity types.Severity
	}{
		{"in sync", now.Add(-30 * time.Second), types.IssueHealthy, types.SeverityInfo},
		{"moderate lag", now.Add(-20 * time.Minute), types.IssueClockSkew, types.SeverityWarning},
		{"severe lag", now.Add(-2 * time.Hour), types.IssueClockSkew, types.SeverityCritical},
		{"clock running ahead", now.Add(2 * time.Hour), types.IssueClockSkew, types.SeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := testOp("op-1", "g", "phone", types.VectorClock{"phone": 1}, tc.walltime)
			result := detector.Check(op, now)
			if result.Issue != tc.issue {
				t.Fatalf("expected issue %v, got %v", tc.issue, result.Issue)
			}
			if result.Severity != tc.severity {
				t.Fatalf("expected severity %v, got %v", tc.severity, result.Severity)
			}
		})
	}
}

func TestSkewBoundaryIsExclusive(t *testing.T) {
	detector := NewSkewDetector(5*time.Minute, time.Hour)
	now := time.Now()

	// Exactly at the warning threshold stays healthy.
	op := testOp("op-1", "g", "phone", types.VectorClock{"phone": 1}, now.Add(-5*time.Minute))
	if result := detector.Check(op, now); result.HasIssue {
		t.Fatalf("skew equal to the threshold must not be flagged, got %v", result.Severity)
	}

	op = testOp("op-2", "g", "phone", types.VectorClock{"phone": 1}, now.Add(-5*time.Minute-time.Second))
	if result := detector.Check(op, now); !result.HasIssue {
		t.Fatalf("skew past the threshold must be flagged")
	}
}
