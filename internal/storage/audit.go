package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/sync-conflict-monitor/internal/types"
)

// AuditLog provides append-only durable storage for observed operations and
// monitor results, queryable by group key and time range.
type AuditLog struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

// AuditOption configures the audit log.
type AuditOption func(*AuditLog)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) AuditOption {
	return func(a *AuditLog) {
		a.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) AuditOption {
	return func(a *AuditLog) {
		a.retryDelay = d
	}
}

// NewAuditLog constructs an audit log using the provided Postgres pool.
func NewAuditLog(pool *pgxpool.Pool, opts ...AuditOption) *AuditLog {
	a := &AuditLog{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AppendOperation durably stores an observed operation. Transient failures
// are retried with backoff.
func (a *AuditLog) AppendOperation(ctx context.Context, op types.Operation) error {
	start := time.Now()
	defer func() {
		auditAppendLatency.WithLabelValues("operation").Observe(time.Since(start).Seconds())
	}()

	clockBytes, err := json.Marshal(op.VectorClock)
	if err != nil {
		return fmt.Errorf("marshal vector clock: %w", err)
	}
	fieldBytes, err := json.Marshal(op.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	return a.retry(ctx, func(ctx context.Context) error {
		_, err := a.pool.Exec(ctx, `
INSERT INTO sync_operations (op_id, group_key, kind, replica_id, vector_clock, fields, walltime, caused_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), now())
ON CONFLICT (op_id) DO NOTHING`,
			op.ID, op.GroupKey, op.Kind, op.Replica, clockBytes, fieldBytes, op.Walltime, string(op.CausedBy),
		)
		return err
	})
}

// AppendResult durably stores one monitor result for audit.
func (a *AuditLog) AppendResult(ctx context.Context, result types.MonitorResult) error {
	start := time.Now()
	defer func() {
		auditAppendLatency.WithLabelValues("result").Observe(time.Since(start).Seconds())
	}()

	evidenceBytes, err := json.Marshal(result.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	replicaBytes, err := json.Marshal(result.AffectedReplicas)
	if err != nil {
		return fmt.Errorf("marshal affected replicas: %w", err)
	}

	return a.retry(ctx, func(ctx context.Context) error {
		_, err := a.pool.Exec(ctx, `
INSERT INTO monitor_results (result_id, rule_name, group_key, issue_kind, has_issue, severity, evidence, detected_at, suggested_action, affected_replicas)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (result_id) DO NOTHING`,
			result.ID, result.RuleName, result.GroupKey, result.Issue, result.HasIssue,
			result.Severity, evidenceBytes, result.DetectedAt, result.SuggestedAction, replicaBytes,
		)
		return err
	})
}

// ResultsInRange returns results detected inside [from, to), newest first.
func (a *AuditLog) ResultsInRange(ctx context.Context, from, to time.Time) ([]types.MonitorResult, error) {
	rows, err := a.pool.Query(ctx, `
SELECT result_id, rule_name, group_key, issue_kind, has_issue, severity, evidence, detected_at, suggested_action, affected_replicas
FROM monitor_results
WHERE detected_at >= $1 AND detected_at < $2
ORDER BY detected_at DESC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// ResultsByGroup returns results for one record group inside [from, to).
func (a *AuditLog) ResultsByGroup(ctx context.Context, key types.GroupKey, from, to time.Time) ([]types.MonitorResult, error) {
	rows, err := a.pool.Query(ctx, `
SELECT result_id, rule_name, group_key, issue_kind, has_issue, severity, evidence, detected_at, suggested_action, affected_replicas
FROM monitor_results
WHERE group_key = $1 AND detected_at >= $2 AND detected_at < $3
ORDER BY detected_at DESC`, key, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// CountByIssue aggregates result counts per issue kind inside [from, to).
func (a *AuditLog) CountByIssue(ctx context.Context, from, to time.Time) (map[types.IssueKind]int, error) {
	rows, err := a.pool.Query(ctx, `
SELECT issue_kind, count(*)
FROM monitor_results
WHERE detected_at >= $1 AND detected_at < $2
GROUP BY issue_kind`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.IssueKind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[types.IssueKind(kind)] = count
	}
	return counts, rows.Err()
}

// OperationsPerReplica aggregates observed operation counts per replica
// inside [from, to).
func (a *AuditLog) OperationsPerReplica(ctx context.Context, from, to time.Time) (map[types.ReplicaID]int, error) {
	rows, err := a.pool.Query(ctx, `
SELECT replica_id, count(*)
FROM sync_operations
WHERE walltime >= $1 AND walltime < $2
GROUP BY replica_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.ReplicaID]int)
	for rows.Next() {
		var replica string
		var count int
		if err := rows.Scan(&replica, &count); err != nil {
			return nil, err
		}
		counts[types.ReplicaID(replica)] = count
	}
	return counts, rows.Err()
}

// UnresolvedConflictCount counts conflicts detected since the cutoff that
// have no later resolution recorded for the same group.
func (a *AuditLog) UnresolvedConflictCount(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := a.pool.QueryRow(ctx, `
SELECT count(*)
FROM monitor_results r
WHERE r.issue_kind = 'conflict'
  AND r.has_issue
  AND r.detected_at >= $1
  AND NOT EXISTS (
    SELECT 1 FROM sync_resolutions s
    WHERE s.group_key = r.group_key AND s.resolved_at >= r.detected_at
  )`, since).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// PurgeResultsBefore deletes results older than the cutoff, returning the
// number of rows removed.
func (a *AuditLog) PurgeResultsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := a.retry(ctx, func(ctx context.Context) error {
		tag, err := a.pool.Exec(ctx, `DELETE FROM monitor_results WHERE detected_at < $1`, cutoff)
		if err != nil {
			return err
		}
		purged = tag.RowsAffected()
		return nil
	})
	return purged, err
}

// ResultCountAfter counts results detected after the cutoff, used by the
// archive worker to decide when a new archive is due.
func (a *AuditLog) ResultCountAfter(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := a.pool.QueryRow(ctx, `SELECT count(*) FROM monitor_results WHERE detected_at > $1`, cutoff).Scan(&count)
	return count, err
}

// RecordArchive persists a reference to an uploaded report archive.
func (a *AuditLog) RecordArchive(ctx context.Context, ref ArchiveRef) error {
	return a.retry(ctx, func(ctx context.Context) error {
		_, err := a.pool.Exec(ctx, `
INSERT INTO report_archives (object_path, range_from, range_to, result_count, created_at)
VALUES ($1, $2, $3, $4, now())`,
			ref.ObjectPath, ref.From, ref.To, ref.ResultCount,
		)
		return err
	})
}

// LastArchiveTime returns the upper bound of the most recent archive, or the
// zero time when no archive exists yet.
func (a *AuditLog) LastArchiveTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := a.pool.QueryRow(ctx, `SELECT range_to FROM report_archives ORDER BY range_to DESC LIMIT 1`).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts, err
}

// ArchiveRef points at a report archive in object storage.
type ArchiveRef struct {
	ObjectPath  string    `json:"object_path"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	ResultCount int64     `json:"result_count"`
}

func scanResults(rows pgx.Rows) ([]types.MonitorResult, error) {
	var results []types.MonitorResult
	for rows.Next() {
		var (
			result       types.MonitorResult
			groupKey     string
			issueKind    string
			severity     string
			evidence     []byte
			replicaBytes []byte
			suggested    *string
		)
		if err := rows.Scan(&result.ID, &result.RuleName, &groupKey, &issueKind, &result.HasIssue,
			&severity, &evidence, &result.DetectedAt, &suggested, &replicaBytes); err != nil {
			return nil, err
		}
		result.GroupKey = types.GroupKey(groupKey)
		result.Issue = types.IssueKind(issueKind)
		result.Severity = types.Severity(severity)
		if suggested != nil {
			result.SuggestedAction = *suggested
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &result.Evidence); err != nil {
				return nil, fmt.Errorf("decode evidence: %w", err)
			}
		}
		if len(replicaBytes) > 0 {
			if err := json.Unmarshal(replicaBytes, &result.AffectedReplicas); err != nil {
				return nil, fmt.Errorf("decode affected replicas: %w", err)
			}
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (a *AuditLog) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := a.retryDelay
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			if !isTransient(err) || attempt == a.maxRetries {
				return err
			}
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
