package storage

import (
	"context"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
)

// SnapshotCache holds the most recent top gainers snapshot. Implementations
// never judge freshness; the caller compares CollectedAt with its TTL so an
// old snapshot can still be served when the upstream API fails.
type SnapshotCache interface {
	// Load returns the cached snapshot and whether one exists.
	Load(ctx context.Context) (market.Snapshot, bool, error)
	Save(ctx context.Context, snap market.Snapshot) error
}

// SnapshotArchive keeps the history of collected snapshots.
type SnapshotArchive interface {
	SaveSnapshot(ctx context.Context, snap market.Snapshot) (market.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]market.Snapshot, error)
	LatestSnapshot(ctx context.Context) (market.Snapshot, bool, error)
}
