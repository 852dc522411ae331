package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"deployguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/deployguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			epoch_id TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			action TEXT NOT NULL,
			reason TEXT NOT NULL,
			breaches_json JSONB NOT NULL,
			verdict_json JSONB NOT NULL,
			degraded BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_epoch_cycle ON decisions(epoch_id, cycle)`,
		`CREATE TABLE IF NOT EXISTS rollbacks (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			epoch_id TEXT NOT NULL,
			target TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rollbacks_epoch ON rollbacks(epoch_id)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			epoch_id TEXT NOT NULL,
			stats_json JSONB NOT NULL,
			degraded BOOLEAN NOT NULL
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

func (s *postgresStore) SaveDecision(ctx context.Context, d model.Decision) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (ts, epoch_id, cycle, action, reason, breaches_json, verdict_json, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.Timestamp.UTC(),
		d.EpochID,
		d.Cycle,
		string(d.Action),
		d.Reason,
		encodeJSON(d.Breaches),
		encodeJSON(d.Verdict),
		d.Degraded,
	)
	return err
}

func (s *postgresStore) SaveRollback(ctx context.Context, r model.RollbackRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rollbacks (ts, epoch_id, target, attempts, outcome, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.CompletedAt.UTC(),
		r.EpochID,
		r.Target,
		r.Attempts,
		string(r.Outcome),
		r.Error,
	)
	return err
}

func (s *postgresStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if s.db == nil || snap.EpochID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (ts, epoch_id, stats_json, degraded)
		VALUES ($1, $2, $3, $4)`,
		nowUTC(),
		snap.EpochID,
		encodeJSON(snap.Stats),
		snap.Degraded,
	)
	return err
}
