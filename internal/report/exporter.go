package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/types"
)

// AuditReader provides the range queries a report is built from.
type AuditReader interface {
	ResultsInRange(ctx context.Context, from, to time.Time) ([]types.MonitorResult, error)
	CountByIssue(ctx context.Context, from, to time.Time) (map[types.IssueKind]int, error)
	OperationsPerReplica(ctx context.Context, from, to time.Time) (map[types.ReplicaID]int, error)
}

// Trend compares conflict volume against the preceding window of equal
// length.
type Trend struct {
	PreviousConflicts int `json:"previous_conflicts"`
	CurrentConflicts  int `json:"current_conflicts"`
	Delta             int `json:"delta"`
}

// Statistics aggregates counters over the report range.
type Statistics struct {
	TotalResults    int `json:"total_results"`
	FlaggedResults  int `json:"flagged_results"`
	TotalOperations int `json:"total_operations"`
}

// Report is a structured summary of monitor activity over a time range.
type Report struct {
	GeneratedAt         time.Time                 `json:"generated_at"`
	From                time.Time                 `json:"from"`
	To                  time.Time                 `json:"to"`
	Totals              map[types.IssueKind]int   `json:"totals"`
	OperationsByReplica map[types.ReplicaID]int   `json:"operations_by_replica"`
	Flagged             []types.MonitorResult     `json:"flagged"`
	Trend               Trend                     `json:"trend"`
	Statistics          Statistics                `json:"statistics"`
}

// Exporter produces structured summaries from the audit log.
type Exporter struct {
	audit  AuditReader
	logger zerolog.Logger
}

// NewExporter constructs an exporter over the provided audit reader.
func NewExporter(audit AuditReader, logger zerolog.Logger) *Exporter {
	return &Exporter{audit: audit, logger: logger}
}

// Export builds a report covering [from, to).
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (Report, error) {
	if !to.After(from) {
		return Report{}, errors.New("report range must end after it starts")
	}

	results, err := e.audit.ResultsInRange(ctx, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("query results: %w", err)
	}

	totals, err := e.audit.CountByIssue(ctx, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("count issues: %w", err)
	}

	byReplica, err := e.audit.OperationsPerReplica(ctx, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("count operations per replica: %w", err)
	}

	// Trend against the preceding window of equal length. A missing previous
	// window is not fatal; the trend simply reads as all-new.
	window := to.Sub(from)
	previousTotals, err := e.audit.CountByIssue(ctx, from.Add(-window), from)
	if err != nil {
		e.logger.Warn().Err(err).Msg("previous window query failed; trend omitted")
		previousTotals = map[types.IssueKind]int{}
	}

	var flagged []types.MonitorResult
	for _, result := range results {
		if result.HasIssue {
			flagged = append(flagged, result)
		}
	}

	var totalOps int
	for _, count := range byReplica {
		totalOps += count
	}

	return Report{
		GeneratedAt:         time.Now().UTC(),
		From:                from,
		To:                  to,
		Totals:              totals,
		OperationsByReplica: byReplica,
		Flagged:             flagged,
		Trend: Trend{
			PreviousConflicts: previousTotals[types.IssueConflict],
			CurrentConflicts:  totals[types.IssueConflict],
			Delta:             totals[types.IssueConflict] - previousTotals[types.IssueConflict],
		},
		Statistics: Statistics{
			TotalResults:    len(results),
			FlaggedResults:  len(flagged),
			TotalOperations: totalOps,
		},
	}, nil
}
