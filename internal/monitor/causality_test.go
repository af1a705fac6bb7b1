package monitor

import (
	"testing"
	"time"

	"github.com/example/sync-conflict-monitor/internal/history"
	"github.com/example/sync-conflict-monitor/internal/types"
)

func TestCausalityFlagsInconsistentPredecessor(t *testing.T) {
	store := history.NewStore(100)
	validator := NewCausalityValidator(store)
	now := time.Now()

	predecessor := testOp("op-cause", "g", "phone", types.VectorClock{"phone": 5}, now.Add(-time.Minute))
	if err := store.Append(predecessor); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Claims to be caused by op-cause but its clock does not come after it.
	dependent := testOp("op-effect", "g", "laptop", types.VectorClock{"phone": 2, "laptop": 1}, now)
	dependent.CausedBy = "op-cause"

	result, flagged := validator.Validate(dependent)
	if !flagged {
		t.Fatalf("expected a causality violation")
	}
	if result.Issue != types.IssueCausalityViolation {
		t.Fatalf("expected causality issue, got %v", result.Issue)
	}
	if result.Severity != types.SeverityCritical {
		t.Fatalf("expected critical severity, got %v", result.Severity)
	}
	if result.Evidence["predecessor_id"] != "op-cause" {
		t.Fatalf("expected predecessor named in evidence, got %v", result.Evidence)
	}
}

func TestCausalityAcceptsConsistentPredecessor(t *testing.T) {
	store := history.NewStore(100)
	validator := NewCausalityValidator(store)
	now := time.Now()

	predecessor := testOp("op-cause", "g", "phone", types.VectorClock{"phone": 5}, now.Add(-time.Minute))
	if err := store.Append(predecessor); err != nil {
		t.Fatalf("append: %v", err)
	}

	dependent := testOp("op-effect", "g", "laptop", types.VectorClock{"phone": 5, "laptop": 1}, now)
	dependent.CausedBy = "op-cause"

	if _, flagged := validator.Validate(dependent); flagged {
		t.Fatalf("a dependent whose clock covers its cause must pass")
	}
}

func TestCausalityToleratesMissingPredecessor(t *testing.T) {
	store := history.NewStore(100)
	validator := NewCausalityValidator(store)

	dependent := testOp("op-effect", "g", "laptop", types.VectorClock{"laptop": 1}, time.Now())
	dependent.CausedBy = "never-seen"

	// Out-of-order delivery: the cause may simply not have arrived yet.
	if _, flagged := validator.Validate(dependent); flagged {
		t.Fatalf("an unobserved predecessor must not be reported")
	}
}

func TestCausalitySkipsOperationsWithoutCause(t *testing.T) {
	store := history.NewStore(100)
	validator := NewCausalityValidator(store)

	op := testOp("op-solo", "g", "phone", types.VectorClock{"phone": 1}, time.Now())
	if _, flagged := validator.Validate(op); flagged {
		t.Fatalf("operations without causedBy have nothing to validate")
	}
}
