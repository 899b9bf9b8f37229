package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/listsweep/internal/models"
)

type memoryStore struct {
	snap    Snapshot
	saves   int
	saveErr error
}

func (m *memoryStore) Load(context.Context) (Snapshot, error) { return m.snap, nil }

func (m *memoryStore) Save(_ context.Context, snap Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snap = snap
	return nil
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name             string
		records          []bool
		wantProcessed    bool
		wantUnsubscribed bool
	}{
		{name: "failed attempt marks processed only", records: []bool{false}, wantProcessed: true},
		{name: "successful attempt marks both", records: []bool{true}, wantProcessed: true, wantUnsubscribed: true},
		{name: "later failure keeps unsubscribed", records: []bool{true, false}, wantProcessed: true, wantUnsubscribed: true},
		{name: "later success upgrades", records: []bool{false, true}, wantProcessed: true, wantUnsubscribed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{}
			l, err := Open(ctx, store)
			require.NoError(t, err)

			for _, unsubscribed := range tt.records {
				require.NoError(t, l.Record(ctx, "abc", unsubscribed))
			}

			assert.Equal(t, tt.wantProcessed, l.IsProcessed("abc"))
			assert.Equal(t, tt.wantUnsubscribed, l.IsUnsubscribed("abc"))
			assert.Equal(t, len(tt.records), store.saves, "every record should write through")
			assert.Equal(t, []string{"abc"}, store.snap.ProcessedIDs)
		})
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, &memoryStore{})
	require.NoError(t, err)

	require.NoError(t, l.Record(ctx, "a", true))
	before := l.Counts()
	require.NoError(t, l.Record(ctx, "a", true))

	assert.Equal(t, before, l.Counts())
	assert.Equal(t, models.LedgerCounts{Processed: 1, Unsubscribed: 1}, l.Counts())
}

func TestRecordSaveError(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{saveErr: errors.New("disk full")}
	l, err := Open(ctx, store)
	require.NoError(t, err)

	err = l.Record(ctx, "a", false)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, l.IsProcessed("a"), "a failed write leaves the ledger unchanged")

	store.saveErr = nil
	require.NoError(t, l.Record(ctx, "b", false))
	assert.Equal(t, []string{"b"}, store.snap.ProcessedIDs, "the failed id must not ride along with the next write")

	store.saveErr = errors.New("disk full")
	assert.Error(t, l.Record(ctx, "b", true))
	assert.True(t, l.IsProcessed("b"))
	assert.False(t, l.IsUnsubscribed("b"))
	assert.Equal(t, Snapshot{ProcessedIDs: []string{"b"}, Unsubscribed: []string{}}, l.Snapshot())
}

func TestReloadRepairsInvariant(t *testing.T) {
	store := &memoryStore{snap: Snapshot{
		ProcessedIDs: []string{"a", "a"},
		Unsubscribed: []string{"b"},
	}}

	l, err := Open(context.Background(), store)
	require.NoError(t, err)

	assert.True(t, l.IsProcessed("b"), "unsubscribed ids must also be processed")
	assert.Equal(t, Snapshot{ProcessedIDs: []string{"a", "b"}, Unsubscribed: []string{"b"}}, l.Snapshot())
}

func TestAnnotate(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, &memoryStore{})
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, "done", true))
	require.NoError(t, l.Record(ctx, "tried", false))

	newsletters := []models.Newsletter{{ID: "done"}, {ID: "tried"}, {ID: "new", Processed: true}}
	l.Annotate(newsletters)

	assert.True(t, newsletters[0].Processed)
	assert.True(t, newsletters[0].Unsubscribed)
	assert.True(t, newsletters[1].Processed)
	assert.False(t, newsletters[1].Unsubscribed)
	assert.False(t, newsletters[2].Processed, "stale flags are overwritten")
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed.json")

	l, err := Open(ctx, NewFileStore(path))
	require.NoError(t, err)
	assert.Equal(t, models.LedgerCounts{}, l.Counts())

	require.NoError(t, l.Record(ctx, "x", false))
	require.NoError(t, l.Record(ctx, "y", true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"processed_ids"`)
	assert.Contains(t, string(raw), `"unsubscribed"`)

	reopened, err := Open(ctx, NewFileStore(path))
	require.NoError(t, err)
	assert.Equal(t, Snapshot{ProcessedIDs: []string{"x", "y"}, Unsubscribed: []string{"y"}}, reopened.Snapshot())
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := Open(context.Background(), NewFileStore(path))
	assert.Error(t, err)
}
