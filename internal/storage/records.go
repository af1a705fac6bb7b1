package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/sync-conflict-monitor/internal/monitor"
	"github.com/example/sync-conflict-monitor/internal/types"
)

// RecordStore writes resolution winners into the authoritative record store.
// Applying the same resolution twice is a no-op: a ledger row keyed by
// (group, winner, loser set) is inserted first, and an existing row short-
// circuits the apply.
type RecordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore constructs a record store on the provided pool.
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

var _ monitor.Authority = (*RecordStore)(nil)

// ApplyResolution upserts the winner's field values into the record row and
// marks the losing operations superseded, all in one transaction.
func (r *RecordStore) ApplyResolution(ctx context.Context, set monitor.ConflictSet, winner types.Operation, strategy monitor.Strategy) (bool, error) {
	loserIDs := make([]string, 0, len(set.Operations))
	for _, op := range set.Operations {
		if op.ID != winner.ID {
			loserIDs = append(loserIDs, string(op.ID))
		}
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin resolution tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO sync_resolutions (group_key, winner_op_id, losers_hash, strategy, resolved_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (group_key, winner_op_id, losers_hash) DO NOTHING`,
		set.GroupKey, winner.ID, loserSetHash(loserIDs), strategy.String(),
	)
	if err != nil {
		return false, fmt.Errorf("record resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Same winner and loser set already applied.
		return false, tx.Commit(ctx)
	}

	fieldBytes, err := json.Marshal(winner.Fields)
	if err != nil {
		return false, fmt.Errorf("marshal winner fields: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO records (group_key, fields, updated_by_op, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (group_key)
DO UPDATE SET fields = records.fields || EXCLUDED.fields,
              updated_by_op = EXCLUDED.updated_by_op,
              updated_at = now()`,
		set.GroupKey, fieldBytes, winner.ID,
	); err != nil {
		return false, fmt.Errorf("apply winner fields: %w", err)
	}

	for _, loserID := range loserIDs {
		if _, err := tx.Exec(ctx, `
INSERT INTO superseded_operations (op_id, group_key, superseded_by, superseded_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (op_id) DO NOTHING`,
			loserID, set.GroupKey, winner.ID,
		); err != nil {
			return false, fmt.Errorf("mark operation %s superseded: %w", loserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit resolution: %w", err)
	}
	return true, nil
}

// loserSetHash fingerprints a loser set order-independently so the resolution
// ledger treats permutations of the same set as one resolution.
func loserSetHash(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}
