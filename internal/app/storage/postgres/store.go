package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
	"github.com/R3E-Network/marketpulse/internal/app/storage"
)

// Store implements storage.SnapshotArchive backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.SnapshotArchive = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

type snapshotRow struct {
	ID          string    `db:"id"`
	Source      string    `db:"source"`
	CollectedAt time.Time `db:"collected_at"`
	Gainers     []byte    `db:"gainers"`
}

func (r snapshotRow) toDomain() (market.Snapshot, error) {
	snap := market.Snapshot{
		ID:          r.ID,
		Source:      r.Source,
		CollectedAt: r.CollectedAt.UTC(),
	}
	if len(r.Gainers) > 0 {
		if err := json.Unmarshal(r.Gainers, &snap.Gainers); err != nil {
			return market.Snapshot{}, fmt.Errorf("decode gainers for snapshot %s: %w", r.ID, err)
		}
	}
	return snap, nil
}

// --- SnapshotArchive --------------------------------------------------------

func (s *Store) SaveSnapshot(ctx context.Context, snap market.Snapshot) (market.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now().UTC()
	}
	gainers := snap.Gainers
	if gainers == nil {
		gainers = []market.Gainer{}
	}
	gainersJSON, err := json.Marshal(gainers)
	if err != nil {
		return market.Snapshot{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO market_snapshots (id, source, collected_at, gainers)
		VALUES ($1, $2, $3, $4)
	`, snap.ID, snap.Source, snap.CollectedAt, gainersJSON)
	if err != nil {
		return market.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]market.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []snapshotRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, source, collected_at, gainers
		FROM market_snapshots
		ORDER BY collected_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	result := make([]market.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (market.Snapshot, bool, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, source, collected_at, gainers
		FROM market_snapshots
		ORDER BY collected_at DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Snapshot{}, false, nil
	}
	if err != nil {
		return market.Snapshot{}, false, err
	}
	snap, err := row.toDomain()
	if err != nil {
		return market.Snapshot{}, false, err
	}
	return snap, true, nil
}
