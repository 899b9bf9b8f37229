// Package ledger tracks which newsletters have been processed and which were unsubscribed.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/vdavid/listsweep/internal/models"
)

// Snapshot is the durable form of the ledger. Both lists keep insertion order.
type Snapshot struct {
	ProcessedIDs []string `json:"processed_ids"`
	Unsubscribed []string `json:"unsubscribed"`
}

// Store persists ledger snapshots. Save always replaces the whole snapshot.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Ledger is the in-memory view of the processed-state ledger, written through to a Store.
type Ledger struct {
	store Store

	mu           sync.RWMutex
	processed    map[string]struct{}
	unsubscribed map[string]struct{}
	snap         Snapshot
}

// Open loads the ledger from the store.
func Open(ctx context.Context, store Store) (*Ledger, error) {
	l := &Ledger{store: store}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload replaces the in-memory state with what the store holds.
// Unsubscribed ids missing from the processed list are added to it.
func (l *Ledger) Reload(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	processed := make(map[string]struct{}, len(snap.ProcessedIDs))
	unsubscribed := make(map[string]struct{}, len(snap.Unsubscribed))
	clean := Snapshot{ProcessedIDs: []string{}, Unsubscribed: []string{}}

	for _, id := range snap.ProcessedIDs {
		if _, ok := processed[id]; ok {
			continue
		}
		processed[id] = struct{}{}
		clean.ProcessedIDs = append(clean.ProcessedIDs, id)
	}
	for _, id := range snap.Unsubscribed {
		if _, ok := unsubscribed[id]; ok {
			continue
		}
		unsubscribed[id] = struct{}{}
		clean.Unsubscribed = append(clean.Unsubscribed, id)
		if _, ok := processed[id]; !ok {
			processed[id] = struct{}{}
			clean.ProcessedIDs = append(clean.ProcessedIDs, id)
		}
	}

	l.mu.Lock()
	l.processed = processed
	l.unsubscribed = unsubscribed
	l.snap = clean
	l.mu.Unlock()
	return nil
}

func (l *Ledger) IsProcessed(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.processed[id]
	return ok
}

func (l *Ledger) IsUnsubscribed(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.unsubscribed[id]
	return ok
}

// Record marks id as processed, and as unsubscribed when unsubscribed is true,
// then writes the full ledger to the store before returning.
// A recorded unsubscribe is never taken back by a later failed attempt.
// When the write fails the in-memory ledger is left as it was.
func (l *Ledger) Record(ctx context.Context, id string, unsubscribed bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	addedProcessed, addedUnsubscribed := false, false
	if _, ok := l.processed[id]; !ok {
		l.processed[id] = struct{}{}
		l.snap.ProcessedIDs = append(l.snap.ProcessedIDs, id)
		addedProcessed = true
	}
	if unsubscribed {
		if _, ok := l.unsubscribed[id]; !ok {
			l.unsubscribed[id] = struct{}{}
			l.snap.Unsubscribed = append(l.snap.Unsubscribed, id)
			addedUnsubscribed = true
		}
	}

	if err := l.store.Save(ctx, l.copySnapshot()); err != nil {
		if addedProcessed {
			delete(l.processed, id)
			l.snap.ProcessedIDs = l.snap.ProcessedIDs[:len(l.snap.ProcessedIDs)-1]
		}
		if addedUnsubscribed {
			delete(l.unsubscribed, id)
			l.snap.Unsubscribed = l.snap.Unsubscribed[:len(l.snap.Unsubscribed)-1]
		}
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current ledger contents.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copySnapshot()
}

// Counts returns the sizes of the processed and unsubscribed sets.
func (l *Ledger) Counts() models.LedgerCounts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return models.LedgerCounts{
		Processed:    len(l.processed),
		Unsubscribed: len(l.unsubscribed),
	}
}

// Annotate sets the Processed and Unsubscribed flags of each newsletter in place.
func (l *Ledger) Annotate(newsletters []models.Newsletter) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range newsletters {
		_, newsletters[i].Processed = l.processed[newsletters[i].ID]
		_, newsletters[i].Unsubscribed = l.unsubscribed[newsletters[i].ID]
	}
}

func (l *Ledger) copySnapshot() Snapshot {
	return Snapshot{
		ProcessedIDs: append([]string{}, l.snap.ProcessedIDs...),
		Unsubscribed: append([]string{}, l.snap.Unsubscribed...),
	}
}
