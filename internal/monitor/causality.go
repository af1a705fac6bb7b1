package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/sync-conflict-monitor/internal/history"
	"github.com/example/sync-conflict-monitor/internal/types"
)

const ruleCausalityValidation = "causality_validation"

// CausalityValidator checks that an operation's declared causal predecessor
// is consistent with its vector clock.
type CausalityValidator struct {
	history *history.Store
}

// NewCausalityValidator constructs a validator reading from the history store.
func NewCausalityValidator(store *history.Store) *CausalityValidator {
	return &CausalityValidator{history: store}
}

// Validate inspects the operation's causedBy reference. It returns false when
// the operation declares no predecessor or the predecessor has not been
// observed yet; out-of-order delivery is tolerated, never reported.
func (v *CausalityValidator) Validate(op types.Operation) (types.MonitorResult, bool) {
	if op.CausedBy == "" {
		return types.MonitorResult{}, false
	}

	predecessor, ok := v.history.Lookup(op.CausedBy)
	if !ok {
		// Predecessor not observed yet; cannot validate.
		return types.MonitorResult{}, false
	}

	ord := op.VectorClock.Compare(predecessor.VectorClock)
	if ord != types.OrderingBefore && ord != types.OrderingEqual {
		return types.MonitorResult{}, false
	}

	causalityViolations.Inc()

	return types.MonitorResult{
		ID:       uuid.NewString(),
		RuleName: ruleCausalityValidation,
		GroupKey: op.GroupKey,
		Issue:    types.IssueCausalityViolation,
		HasIssue: true,
		Evidence: map[string]any{
			"operation_id":        string(op.ID),
			"predecessor_id":      string(predecessor.ID),
			"operation_replica":   string(op.Replica),
			"predecessor_replica": string(predecessor.Replica),
			"ordering":            ord.String(),
		},
		Severity:         types.SeverityCritical,
		DetectedAt:       time.Now().UTC(),
		SuggestedAction:  "inspect replica clock handling; dependent claims to happen no later than its cause",
		AffectedReplicas: affectedPair(op.Replica, predecessor.Replica),
	}, true
}

func affectedPair(a, b types.ReplicaID) []types.ReplicaID {
	if a == b {
		return []types.ReplicaID{a}
	}
	if a < b {
		return []types.ReplicaID{a, b}
	}
	return []types.ReplicaID{b, a}
}
