// Package postgres provides an output stage that inserts records as JSONB rows.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// FieldRecordID is added to records written by Store.
const FieldRecordID = "record_id"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	CreateTable     bool          `mapstructure:"create_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes records into Postgres.
type Store struct {
	pool        execCloser
	table       string
	createTable bool
	ids         crawler.IDGenerator
}

// New creates a Postgres-backed stage using the provided config.
func New(ctx context.Context, cfg Config, ids crawler.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, cfg.CreateTable, ids)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string, createTable bool, ids crawler.IDGenerator) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if table == "" {
		table = "crawl_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, createTable: createTable, ids: ids}, nil
}

// Open creates the table when configured to.
func (s *Store) Open(ctx context.Context) error {
	if !s.createTable {
		return nil
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	url text NOT NULL DEFAULT '',
	payload jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// ProcessRecord inserts rec and returns a copy carrying the row id.
func (s *Store) ProcessRecord(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	url, _ := rec["url"].(string)

	query := fmt.Sprintf(`INSERT INTO %s (id, url, payload) VALUES ($1, $2, $3)`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, url, payload); err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	out := maps.Clone(rec)
	out[FieldRecordID] = id
	return out, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}
