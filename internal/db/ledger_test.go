package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/listsweep/internal/ledger"
	"github.com/vdavid/listsweep/internal/testutil"
)

func TestLedgerStore(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	tests := []struct {
		name string
		snap ledger.Snapshot
	}{
		{
			name: "writes entries in order",
			snap: ledger.Snapshot{ProcessedIDs: []string{"b", "a"}, Unsubscribed: []string{"a"}},
		},
		{
			name: "full rewrite replaces previous entries",
			snap: ledger.Snapshot{ProcessedIDs: []string{"b", "a", "c"}, Unsubscribed: []string{"a", "c"}},
		},
		{
			name: "empty ledger",
			snap: ledger.Snapshot{ProcessedIDs: []string{}, Unsubscribed: []string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, tt.snap))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.snap, loaded)
		})
	}
}

func TestLedgerStoreWithLedger(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	l, err := ledger.Open(ctx, NewLedgerStore(pool))
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, "first", false))
	require.NoError(t, l.Record(ctx, "second", true))

	reopened, err := ledger.Open(ctx, NewLedgerStore(pool))
	require.NoError(t, err)
	assert.True(t, reopened.IsProcessed("first"))
	assert.False(t, reopened.IsUnsubscribed("first"))
	assert.True(t, reopened.IsUnsubscribed("second"))
}
