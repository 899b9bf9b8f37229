package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/listsweep/internal/ledger"
)

// LedgerStore implements ledger.Store on the ledger_entries table.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Load returns the ledger in insertion order.
func (s *LedgerStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT newsletter_id, unsubscribed
		FROM ledger_entries
		ORDER BY position
	`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	snap := ledger.Snapshot{ProcessedIDs: []string{}, Unsubscribed: []string{}}
	for rows.Next() {
		var id string
		var unsubscribed bool
		if err := rows.Scan(&id, &unsubscribed); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		snap.ProcessedIDs = append(snap.ProcessedIDs, id)
		if unsubscribed {
			snap.Unsubscribed = append(snap.Unsubscribed, id)
		}
	}

	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return snap, nil
}

// Save rewrites the whole ledger in a single transaction.
func (s *LedgerStore) Save(ctx context.Context, snap ledger.Snapshot) error {
	unsubscribed := make(map[string]bool, len(snap.Unsubscribed))
	for _, id := range snap.Unsubscribed {
		unsubscribed[id] = true
	}

	rows := make([][]any, 0, len(snap.ProcessedIDs))
	for _, id := range snap.ProcessedIDs {
		rows = append(rows, []any{id, unsubscribed[id]})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM ledger_entries`); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ledger_entries"},
		[]string{"newsletter_id", "unsubscribed"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}
