package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

// Store persists the audit trail: every decision, every rollback record,
// and the per-cycle snapshots they were based on.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDecision(ctx context.Context, d model.Decision) error
	SaveRollback(ctx context.Context, r model.RollbackRecord) error
	SaveSnapshot(ctx context.Context, s model.Snapshot) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
