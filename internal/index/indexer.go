// Package index provides a best-effort Postgres mirror of the Event sink
// (spec.md §4.8, §8), grounded on the teacher's pkg/database client and
// repository style (database/sql over lib/pq, sentinel errors, per-entity
// repository structs) and on the original's crates/util/cometindex
// concept of an off-chain indexer of typed chain events.
//
// The Store's correctness never depends on this package: a failed or
// unreachable indexer must never block or fail a commit.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/penumbra-zone/penumbra-core/internal/store"
)

// Config configures a Postgres connection for the indexer.
type Config struct {
	DSN          string
	MaxConns     int
	MaxIdleConns int
}

// Indexer mirrors committed block events into a Postgres table,
// best-effort. Grounded on pkg/database/client.go's Client.
type Indexer struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres and prepares the events table. A nil
// Indexer with a non-nil error means the caller should run without
// indexing rather than fail startup — the indexer is optional per
// spec_full.md §3.
func Open(cfg Config) (*Indexer, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index: dsn must not be empty")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("index: opening postgres connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: pinging postgres: %w", err)
	}

	idx := &Indexer{
		db:     db,
		logger: log.New(log.Writer(), "[index] ", log.LstdFlags),
	}
	if err := idx.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: ensuring schema: %w", err)
	}
	return idx, nil
}

func (idx *Indexer) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS chain_events (
			id           BIGSERIAL PRIMARY KEY,
			block_height BIGINT NOT NULL,
			tx_id        TEXT,
			kind         TEXT NOT NULL,
			attributes   JSONB NOT NULL,
			indexed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS chain_events_block_height_idx ON chain_events (block_height);
		CREATE INDEX IF NOT EXISTS chain_events_kind_idx ON chain_events (kind);
	`
	_, err := idx.db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying connection pool.
func (idx *Indexer) Close() error {
	return idx.db.Close()
}

// IndexBlock persists a block's drained events. Errors are returned to
// the caller for logging but must never be treated as commit failures
// (spec_full.md §3): call this after Storage.Commit has already
// succeeded, never before.
func (idx *Indexer) IndexBlock(ctx context.Context, height uint64, txID string, events []store.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chain_events (block_height, tx_id, kind, attributes)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("index: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("index: marshaling attributes for event %q: %w", e.Kind, err)
		}
		if _, err := stmt.ExecContext(ctx, int64(height), txID, e.Kind, attrs); err != nil {
			return fmt.Errorf("index: inserting event %q: %w", e.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: committing transaction: %w", err)
	}
	return nil
}

// IndexBlockBestEffort calls IndexBlock and logs rather than
// propagates any failure, for callers (the node binary) that must
// never let an indexer outage affect consensus.
func (idx *Indexer) IndexBlockBestEffort(ctx context.Context, height uint64, txID string, events []store.Event) {
	if err := idx.IndexBlock(ctx, height, txID, events); err != nil {
		idx.logger.Printf("best-effort indexing failed at height %d: %v", height, err)
	}
}

// EventRecord is a single indexed event, as read back by queries.
type EventRecord struct {
	ID          int64
	BlockHeight uint64
	TxID        string
	Kind        string
	Attributes  map[string]string
	IndexedAt   time.Time
}

// EventsByKind returns the most recent events of a given kind, newest
// first, bounded by limit.
func (idx *Indexer) EventsByKind(ctx context.Context, kind string, limit int) ([]EventRecord, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT id, block_height, COALESCE(tx_id, ''), kind, attributes, indexed_at
		FROM chain_events
		WHERE kind = $1
		ORDER BY id DESC
		LIMIT $2`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("index: querying events by kind: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var height int64
		var attrs []byte
		if err := rows.Scan(&rec.ID, &height, &rec.TxID, &rec.Kind, &attrs, &rec.IndexedAt); err != nil {
			return nil, fmt.Errorf("index: scanning event row: %w", err)
		}
		rec.BlockHeight = uint64(height)
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("index: decoding attributes: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
