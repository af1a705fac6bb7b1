package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/types"
)

// Strategy enumerates the supported conflict resolution strategies. The set
// is closed so adding a strategy is a compile-time-checked change.
type Strategy int

const (
	StrategyLastWriterWins Strategy = iota
	StrategyFirstWriterWins
	StrategyMerge
)

// String renders the strategy in wire form.
func (s Strategy) String() string {
	switch s {
	case StrategyLastWriterWins:
		return "last-writer-wins"
	case StrategyFirstWriterWins:
		return "first-writer-wins"
	case StrategyMerge:
		return "merge"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts the wire form back into a Strategy.
func ParseStrategy(raw string) (Strategy, error) {
	switch raw {
	case "last-writer-wins", "lww":
		return StrategyLastWriterWins, nil
	case "first-writer-wins", "fww":
		return StrategyFirstWriterWins, nil
	case "merge":
		return StrategyMerge, nil
	}
	return 0, fmt.Errorf("unknown resolution strategy %q", raw)
}

// ErrMergeUnimplemented is returned for the merge strategy. Field-level
// semantic merge is a data-model-specific extension point, not part of this
// monitor's contract.
var ErrMergeUnimplemented = errors.New("merge resolution is not implemented")

// ErrConflictSetTooSmall is returned when fewer than two operations remain in
// a conflict set.
var ErrConflictSetTooSmall = errors.New("conflict set requires at least two operations")

// ConflictSet is a group of operations judged concurrent and
// field-overlapping. It is derived on demand, never persisted independently.
type ConflictSet struct {
	GroupKey   types.GroupKey
	Operations []types.Operation
}

// Authority is the record store that winning values are written into. Apply
// must be idempotent per (group, winner, losers): re-applying the same
// resolution reports applied=false without side effects.
type Authority interface {
	ApplyResolution(ctx context.Context, set ConflictSet, winner types.Operation, strategy Strategy) (applied bool, err error)
}

// OutcomeStatus is the terminal state of one resolution attempt.
type OutcomeStatus string

const (
	OutcomeApplied        OutcomeStatus = "applied"
	OutcomeAlreadyApplied OutcomeStatus = "already_applied"
	OutcomeDryRun         OutcomeStatus = "dry_run"
	OutcomeFailed         OutcomeStatus = "failed"
)

// ResolutionOutcome reports how one conflict set was resolved.
type ResolutionOutcome struct {
	GroupKey types.GroupKey      `json:"group_key"`
	Strategy string              `json:"strategy"`
	Status   OutcomeStatus       `json:"status"`
	Winner   types.OperationID   `json:"winner,omitempty"`
	Losers   []types.OperationID `json:"losers,omitempty"`
	Reason   string              `json:"reason,omitempty"`
}

// ResolutionSummary aggregates the outcomes of a resolution batch.
type ResolutionSummary struct {
	Outcomes []ResolutionOutcome `json:"outcomes"`
	Applied  int                 `json:"applied"`
	Skipped  int                 `json:"skipped"`
	Failed   int                 `json:"failed"`
}

func (s *ResolutionSummary) add(outcome ResolutionOutcome) {
	s.Outcomes = append(s.Outcomes, outcome)
	switch outcome.Status {
	case OutcomeApplied:
		s.Applied++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// Resolver applies resolution strategies to detected conflict sets.
// Detection and resolution are decoupled phases; Resolve performs its own
// I/O and runs to completion or fails explicitly.
type Resolver struct {
	authority Authority
	logger    zerolog.Logger
}

// NewResolver constructs a resolver writing winners through the authority.
func NewResolver(authority Authority, logger zerolog.Logger) *Resolver {
	return &Resolver{authority: authority, logger: logger}
}

// Resolve picks a winner for the conflict set under the strategy and, unless
// dryRun is set, applies its field values through the authority and marks the
// losers superseded.
func (r *Resolver) Resolve(ctx context.Context, set ConflictSet, strategy Strategy, dryRun bool) ResolutionOutcome {
	outcome := ResolutionOutcome{GroupKey: set.GroupKey, Strategy: strategy.String()}

	winner, err := PickWinner(set.Operations, strategy)
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Reason = err.Error()
		resolutionsTotal.WithLabelValues(strategy.String(), string(OutcomeFailed)).Inc()
		return outcome
	}

	outcome.Winner = winner.ID
	for _, op := range set.Operations {
		if op.ID != winner.ID {
			outcome.Losers = append(outcome.Losers, op.ID)
		}
	}

	if dryRun {
		outcome.Status = OutcomeDryRun
		resolutionsTotal.WithLabelValues(strategy.String(), string(OutcomeDryRun)).Inc()
		return outcome
	}

	applied, err := r.authority.ApplyResolution(ctx, set, winner, strategy)
	switch {
	case err != nil:
		outcome.Status = OutcomeFailed
		outcome.Reason = err.Error()
		r.logger.Error().Err(err).
			Str("group", string(set.GroupKey)).
			Str("winner", string(winner.ID)).
			Msg("resolution apply failed")
	case !applied:
		outcome.Status = OutcomeAlreadyApplied
	default:
		outcome.Status = OutcomeApplied
		r.logger.Info().
			Str("group", string(set.GroupKey)).
			Str("winner", string(winner.ID)).
			Str("strategy", strategy.String()).
			Msg("conflict resolved")
	}

	resolutionsTotal.WithLabelValues(strategy.String(), string(outcome.Status)).Inc()
	return outcome
}

// PickWinner selects the winning operation deterministically. Last-writer-wins
// takes the greatest walltime, ties broken by lexicographically greatest
// replica id then operation id; first-writer-wins is the exact mirror.
func PickWinner(ops []types.Operation, strategy Strategy) (types.Operation, error) {
	if len(ops) < 2 {
		return types.Operation{}, ErrConflictSetTooSmall
	}

	switch strategy {
	case StrategyLastWriterWins, StrategyFirstWriterWins:
	case StrategyMerge:
		return types.Operation{}, ErrMergeUnimplemented
	default:
		return types.Operation{}, fmt.Errorf("unknown strategy %v", strategy)
	}

	winner := ops[0]
	for _, op := range ops[1:] {
		if beats(op, winner, strategy) {
			winner = op
		}
	}
	return winner, nil
}

func beats(a, b types.Operation, strategy Strategy) bool {
	if !a.Walltime.Equal(b.Walltime) {
		if strategy == StrategyLastWriterWins {
			return a.Walltime.After(b.Walltime)
		}
		return a.Walltime.Before(b.Walltime)
	}
	if a.Replica != b.Replica {
		if strategy == StrategyLastWriterWins {
			return a.Replica > b.Replica
		}
		return a.Replica < b.Replica
	}
	if strategy == StrategyLastWriterWins {
		return a.ID > b.ID
	}
	return a.ID < b.ID
}
