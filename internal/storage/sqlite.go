package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"deployguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:deployguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			epoch_id TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			action TEXT NOT NULL,
			reason TEXT NOT NULL,
			breaches_json TEXT NOT NULL,
			verdict_json TEXT NOT NULL,
			degraded INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_epoch_cycle ON decisions(epoch_id, cycle)`,
		`CREATE TABLE IF NOT EXISTS rollbacks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			epoch_id TEXT NOT NULL,
			target TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rollbacks_epoch ON rollbacks(epoch_id)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			epoch_id TEXT NOT NULL,
			stats_json TEXT NOT NULL,
			degraded INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_epoch ON snapshots(epoch_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveDecision(ctx context.Context, d model.Decision) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (ts, epoch_id, cycle, action, reason, breaches_json, verdict_json, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.UTC(),
		d.EpochID,
		d.Cycle,
		string(d.Action),
		d.Reason,
		encodeJSON(d.Breaches),
		encodeJSON(d.Verdict),
		boolInt(d.Degraded),
	)
	return err
}

func (s *sqliteStore) SaveRollback(ctx context.Context, r model.RollbackRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rollbacks (ts, epoch_id, target, attempts, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.CompletedAt.UTC(),
		r.EpochID,
		r.Target,
		r.Attempts,
		string(r.Outcome),
		r.Error,
	)
	return err
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if s.db == nil || snap.EpochID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (ts, epoch_id, stats_json, degraded)
		VALUES (?, ?, ?, ?)`,
		nowUTC(),
		snap.EpochID,
		encodeJSON(snap.Stats),
		boolInt(snap.Degraded),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
