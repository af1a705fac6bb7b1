package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/sync-conflict-monitor/internal/types"
)

type fakeAuthority struct {
	applied map[string]bool
	fail    error
	calls   int
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{applied: make(map[string]bool)}
}

func (f *fakeAuthority) ApplyResolution(_ context.Context, set ConflictSet, winner types.Operation, _ Strategy) (bool, error) {
	f.calls++
	if f.fail != nil {
		return false, f.fail
	}
	key := string(set.GroupKey) + "/" + string(winner.ID)
	if f.applied[key] {
		return false, nil
	}
	f.applied[key] = true
	return true, nil
}

func conflictPair(now time.Time) ConflictSet {
	a := testOp("op-a", "orders:42", "phone", types.VectorClock{"phone": 1}, now.Add(-10*time.Second))
	a.Fields = map[string]any{"status": "shipped"}
	b := testOp("op-b", "orders:42", "laptop", types.VectorClock{"laptop": 1}, now)
	b.Fields = map[string]any{"status": "cancelled"}
	return ConflictSet{GroupKey: "orders:42", Operations: []types.Operation{a, b}}
}

func TestPickWinnerLastWriterWins(t *testing.T) {
	now := time.Now()
	set := conflictPair(now)

	winner, err := PickWinner(set.Operations, StrategyLastWriterWins)
	if err != nil {
		t.Fatalf("pick winner: %v", err)
	}
	if winner.ID != "op-b" {
		t.Fatalf("expected the latest walltime to win, got %s", winner.ID)
	}

	winner, err = PickWinner(set.Operations, StrategyFirstWriterWins)
	if err != nil {
		t.Fatalf("pick winner: %v", err)
	}
	if winner.ID != "op-a" {
		t.Fatalf("expected the earliest walltime to win, got %s", winner.ID)
	}
}

func TestPickWinnerTieBreaksDeterministically(t *testing.T) {
	now := time.Now()
	a := testOp("op-a", "g", "alpha", types.VectorClock{"alpha": 1}, now)
	b := testOp("op-b", "g", "beta", types.VectorClock{"beta": 1}, now)

	winner, err := PickWinner([]types.Operation{a, b}, StrategyLastWriterWins)
	if err != nil {
		t.Fatalf("pick winner: %v", err)
	}
	if winner.Replica != "beta" {
		t.Fatalf("equal walltimes must break on replica id, got %s", winner.Replica)
	}

	// Same replica and walltime: the operation id decides.
	c := testOp("op-c", "g", "alpha", types.VectorClock{"alpha": 2}, now)
	winner, err = PickWinner([]types.Operation{a, c}, StrategyLastWriterWins)
	if err != nil {
		t.Fatalf("pick winner: %v", err)
	}
	if winner.ID != "op-c" {
		t.Fatalf("expected op id tie-break, got %s", winner.ID)
	}

	// Order of the input slice must not matter.
	winner2, err := PickWinner([]types.Operation{c, a}, StrategyLastWriterWins)
	if err != nil {
		t.Fatalf("pick winner: %v", err)
	}
	if winner2.ID != winner.ID {
		t.Fatalf("winner depends on input order: %s vs %s", winner.ID, winner2.ID)
	}
}

func TestPickWinnerRejectsMergeAndSmallSets(t *testing.T) {
	now := time.Now()
	set := conflictPair(now)

	if _, err := PickWinner(set.Operations, StrategyMerge); !errors.Is(err, ErrMergeUnimplemented) {
		t.Fatalf("expected ErrMergeUnimplemented, got %v", err)
	}
	if _, err := PickWinner(set.Operations[:1], StrategyLastWriterWins); !errors.Is(err, ErrConflictSetTooSmall) {
		t.Fatalf("expected ErrConflictSetTooSmall, got %v", err)
	}
}

func TestResolveAppliesOnceThenReportsAlreadyApplied(t *testing.T) {
	authority := newFakeAuthority()
	resolver := NewResolver(authority, discardLogger())
	set := conflictPair(time.Now())

	outcome := resolver.Resolve(context.Background(), set, StrategyLastWriterWins, false)
	if outcome.Status != OutcomeApplied {
		t.Fatalf("expected applied, got %v (%s)", outcome.Status, outcome.Reason)
	}
	if outcome.Winner != "op-b" {
		t.Fatalf("expected op-b to win, got %s", outcome.Winner)
	}
	if len(outcome.Losers) != 1 || outcome.Losers[0] != "op-a" {
		t.Fatalf("expected op-a as loser, got %v", outcome.Losers)
	}

	// Re-running the same resolution is a no-op, not an error.
	outcome = resolver.Resolve(context.Background(), set, StrategyLastWriterWins, false)
	if outcome.Status != OutcomeAlreadyApplied {
		t.Fatalf("expected already_applied, got %v", outcome.Status)
	}
}

func TestResolveDryRunSkipsAuthority(t *testing.T) {
	authority := newFakeAuthority()
	resolver := NewResolver(authority, discardLogger())

	outcome := resolver.Resolve(context.Background(), conflictPair(time.Now()), StrategyLastWriterWins, true)
	if outcome.Status != OutcomeDryRun {
		t.Fatalf("expected dry_run, got %v", outcome.Status)
	}
	if outcome.Winner == "" {
		t.Fatalf("dry run must still report the would-be winner")
	}
	if authority.calls != 0 {
		t.Fatalf("dry run must not touch the authority, got %d calls", authority.calls)
	}
}

func TestResolveReportsAuthorityFailure(t *testing.T) {
	authority := newFakeAuthority()
	authority.fail = errors.New("pool exhausted")
	resolver := NewResolver(authority, discardLogger())

	outcome := resolver.Resolve(context.Background(), conflictPair(time.Now()), StrategyLastWriterWins, false)
	if outcome.Status != OutcomeFailed {
		t.Fatalf("expected failed, got %v", outcome.Status)
	}
	if outcome.Reason == "" {
		t.Fatalf("failure must carry a reason")
	}
}

func TestParseStrategyRoundTrip(t *testing.T) {
	for _, strategy := range []Strategy{StrategyLastWriterWins, StrategyFirstWriterWins, StrategyMerge} {
		parsed, err := ParseStrategy(strategy.String())
		if err != nil {
			t.Fatalf("parse %q: %v", strategy.String(), err)
		}
		if parsed != strategy {
			t.Fatalf("round trip changed %v to %v", strategy, parsed)
		}
	}

	if got, err := ParseStrategy("lww"); err != nil || got != StrategyLastWriterWins {
		t.Fatalf("expected lww alias to parse, got %v, %v", got, err)
	}
	if _, err := ParseStrategy("coin-flip"); err == nil {
		t.Fatalf("unknown strategy must fail to parse")
	}
}
