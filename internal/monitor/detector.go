package monitor

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/sync-conflict-monitor/internal/history"
	"github.com/example/sync-conflict-monitor/internal/types"
)

// DefaultDetectionWindow bounds how far back the detector scans for
// concurrent writes when no window is configured.
const DefaultDetectionWindow = 10 * time.Minute

const ruleConflictDetection = "conflict_detection"

// Detector flags operations that are causally concurrent with recent history
// and touch overlapping fields of the same record.
type Detector struct {
	history *history.Store
	window  time.Duration
}

// NewDetector constructs a detector reading from the provided history store.
func NewDetector(store *history.Store, window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultDetectionWindow
	}
	return &Detector{history: store, window: window}
}

// Window returns the detection window the detector scans.
func (d *Detector) Window() time.Duration { return d.window }

// Analyze scans recent history of the operation's group for conflicting
// writes. All conflicting operations are aggregated into a single result so a
// hot record produces one report instead of a pairwise explosion.
func (d *Detector) Analyze(op types.Operation) types.MonitorResult {
	return d.AnalyzeWindow(op, d.window)
}

// AnalyzeWindow behaves like Analyze with an explicit lookback window.
func (d *Detector) AnalyzeWindow(op types.Operation, window time.Duration) types.MonitorResult {
	candidates := d.history.Recent(op.GroupKey, window)

	var conflicting []types.Operation
	overlap := make(map[string]struct{})

	for _, candidate := range candidates {
		if candidate.ID == op.ID {
			continue
		}
		if op.VectorClock.Compare(candidate.VectorClock) != types.OrderingConcurrent {
			continue
		}
		fields := overlappingFields(op, candidate)
		if len(fields) == 0 {
			continue
		}
		conflicting = append(conflicting, candidate)
		for _, f := range fields {
			overlap[f] = struct{}{}
		}
	}

	if len(conflicting) == 0 {
		return healthyResult(ruleConflictDetection, op)
	}

	ids := make([]string, 0, len(conflicting))
	replicaSet := map[types.ReplicaID]struct{}{op.Replica: {}}
	for _, c := range conflicting {
		ids = append(ids, string(c.ID))
		replicaSet[c.Replica] = struct{}{}
	}
	sort.Strings(ids)

	fields := make([]string, 0, len(overlap))
	for f := range overlap {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	replicas := make([]types.ReplicaID, 0, len(replicaSet))
	for r := range replicaSet {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })

	detectorConflicts.WithLabelValues(string(op.GroupKey)).Inc()

	return types.MonitorResult{
		ID:       uuid.NewString(),
		RuleName: ruleConflictDetection,
		GroupKey: op.GroupKey,
		Issue:    types.IssueConflict,
		HasIssue: true,
		Evidence: map[string]any{
			"operation_id":           string(op.ID),
			"conflicting_operations": ids,
			"overlapping_fields":     fields,
		},
		Severity:         types.SeverityError,
		DetectedAt:       time.Now().UTC(),
		SuggestedAction:  "resolve with a deterministic writer-wins strategy",
		AffectedReplicas: replicas,
	}
}

func overlappingFields(a, b types.Operation) []string {
	var overlap []string
	for name := range a.Fields {
		if _, ok := b.Fields[name]; ok {
			overlap = append(overlap, name)
		}
	}
	sort.Strings(overlap)
	return overlap
}

func healthyResult(rule string, op types.Operation) types.MonitorResult {
	return types.MonitorResult{
		ID:               uuid.NewString(),
		RuleName:         rule,
		GroupKey:         op.GroupKey,
		Issue:            types.IssueHealthy,
		HasIssue:         false,
		Severity:         types.SeverityInfo,
		DetectedAt:       time.Now().UTC(),
		AffectedReplicas: []types.ReplicaID{op.Replica},
	}
}
