//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"prunenet/internal/model"

	_ "modernc.org/sqlite"
)

const defaultStoreKind = "sqlite"

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveNetwork(ctx context.Context, snapshot model.NetworkSnapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeNetwork(snapshot)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO networks (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, snapshot.ID, snapshot.SchemaVersion, snapshot.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetNetwork(ctx context.Context, id string) (model.NetworkSnapshot, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM networks WHERE id = ?`, id)
	if err != nil || !ok {
		return model.NetworkSnapshot{}, false, err
	}
	snapshot, err := DecodeNetwork(payload)
	if err != nil {
		return model.NetworkSnapshot{}, false, fmt.Errorf("decode network %s: %w", id, err)
	}
	return snapshot, true, nil
}

func (s *SQLiteStore) SavePruneEvents(ctx context.Context, runID string, events []model.PruneEvent) error {
	payload, err := EncodePruneEvents(events)
	if err != nil {
		return err
	}
	return s.putRunPayload(ctx, "prune_events", runID, payload)
}

func (s *SQLiteStore) GetPruneEvents(ctx context.Context, runID string) ([]model.PruneEvent, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM prune_events WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	events, err := DecodePruneEvents(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode prune events %s: %w", runID, err)
	}
	return events, true, nil
}

func (s *SQLiteStore) SaveStepMetrics(ctx context.Context, runID string, metrics []model.StepMetrics) error {
	payload, err := EncodeStepMetrics(metrics)
	if err != nil {
		return err
	}
	return s.putRunPayload(ctx, "step_metrics", runID, payload)
}

func (s *SQLiteStore) GetStepMetrics(ctx context.Context, runID string) ([]model.StepMetrics, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM step_metrics WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	metrics, err := DecodeStepMetrics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode step metrics %s: %w", runID, err)
	}
	return metrics, true, nil
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRunSummary(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO run_summaries (run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, summary.RunID, summary.SchemaVersion, summary.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM run_summaries WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return model.RunSummary{}, false, err
	}
	summary, err := DecodeRunSummary(payload)
	if err != nil {
		return model.RunSummary{}, false, fmt.Errorf("decode run summary %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) ListRunSummaries(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM run_summaries ORDER BY run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		summary, err := DecodeRunSummary(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run summary %s: %w", runID, err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func (s *SQLiteStore) getPayload(ctx context.Context, query string, key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

// putRunPayload upserts a run-keyed payload; table is always a package
// constant.
func (s *SQLiteStore) putRunPayload(ctx context.Context, table, runID string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+table+` (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS networks (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS prune_events (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS step_metrics (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
