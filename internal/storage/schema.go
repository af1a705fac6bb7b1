package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the monitor's tables when they do not exist yet.
// Statements are idempotent so concurrent instances can race on startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sync_operations (
			op_id        TEXT PRIMARY KEY,
			group_key    TEXT NOT NULL,
			kind         TEXT NOT NULL,
			replica_id   TEXT NOT NULL,
			vector_clock JSONB NOT NULL,
			fields       JSONB,
			walltime     TIMESTAMPTZ NOT NULL,
			caused_by    TEXT,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_operations_group_walltime
			ON sync_operations (group_key, walltime)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_operations_replica
			ON sync_operations (replica_id, walltime)`,

		`CREATE TABLE IF NOT EXISTS monitor_results (
			result_id         TEXT PRIMARY KEY,
			rule_name         TEXT NOT NULL,
			group_key         TEXT NOT NULL,
			issue_kind        TEXT NOT NULL,
			has_issue         BOOLEAN NOT NULL,
			severity          TEXT NOT NULL,
			evidence          JSONB,
			detected_at       TIMESTAMPTZ NOT NULL,
			suggested_action  TEXT,
			affected_replicas JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_results_detected
			ON monitor_results (detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_results_group
			ON monitor_results (group_key, detected_at)`,

		`CREATE TABLE IF NOT EXISTS sync_resolutions (
			group_key    TEXT NOT NULL,
			winner_op_id TEXT NOT NULL,
			losers_hash  TEXT NOT NULL,
			strategy     TEXT NOT NULL,
			resolved_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (group_key, winner_op_id, losers_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_resolutions_group_time
			ON sync_resolutions (group_key, resolved_at)`,

		`CREATE TABLE IF NOT EXISTS records (
			group_key     TEXT PRIMARY KEY,
			fields        JSONB NOT NULL,
			updated_by_op TEXT NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS superseded_operations (
			op_id         TEXT PRIMARY KEY,
			group_key     TEXT NOT NULL,
			superseded_by TEXT NOT NULL,
			superseded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS report_archives (
			object_path  TEXT PRIMARY KEY,
			range_from   TIMESTAMPTZ NOT NULL,
			range_to     TIMESTAMPTZ NOT NULL,
			result_count BIGINT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
