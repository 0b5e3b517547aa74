// Package memory holds snapshots in process memory.
//
// Store is the default SnapshotCache. Its SnapshotArchive half is not wired
// by default: without DATABASE_URL the archive is disabled and History is
// empty. It serves tests and callers that pass it as app.Options.Archive.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
	"github.com/R3E-Network/marketpulse/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is the default cache when no Redis backend is
// configured.
type Store struct {
	mu      sync.RWMutex
	current *market.Snapshot
	history []market.Snapshot
	maxKeep int
}

var _ storage.SnapshotCache = (*Store)(nil)
var _ storage.SnapshotArchive = (*Store)(nil)

// New creates an empty store that keeps at most 500 archived snapshots.
func New() *Store {
	return &Store{maxKeep: 500}
}

// --- SnapshotCache ----------------------------------------------------------

func (s *Store) Load(_ context.Context) (market.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return market.Snapshot{}, false, nil
	}
	return cloneSnapshot(*s.current), true, nil
}

func (s *Store) Save(_ context.Context, snap market.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneSnapshot(snap)
	s.current = &cp
	return nil
}

// --- SnapshotArchive --------------------------------------------------------

func (s *Store) SaveSnapshot(_ context.Context, snap market.Snapshot) (market.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, cloneSnapshot(snap))
	if over := len(s.history) - s.maxKeep; over > 0 {
		s.history = append([]market.Snapshot(nil), s.history[over:]...)
	}
	return snap, nil
}

func (s *Store) ListSnapshots(_ context.Context, limit int) ([]market.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]market.Snapshot, 0, len(s.history))
	for _, snap := range s.history {
		out = append(out, cloneSnapshot(snap))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CollectedAt.After(out[j].CollectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (market.Snapshot, bool, error) {
	snaps, err := s.ListSnapshots(ctx, 1)
	if err != nil || len(snaps) == 0 {
		return market.Snapshot{}, false, err
	}
	return snaps[0], true, nil
}

func cloneSnapshot(snap market.Snapshot) market.Snapshot {
	if snap.Gainers != nil {
		snap.Gainers = append([]market.Gainer(nil), snap.Gainers...)
	}
	return snap
}
