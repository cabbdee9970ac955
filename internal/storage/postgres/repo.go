package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meshetl/internal/storage"
)

// upsertStmt is the name of the prepared upsert statement on every dedicated connection.
const upsertStmt = "meshetl_upsert_cell"

/*
Repo implements storage.Repository for PostgreSQL with PostGIS.

It provides:
  - Schema bootstrap (postgis extension, grid code table, level index)
  - Dedicated-connection sessions with a prepared, idempotent upsert
  - Metadata registry stored as jsonb

Geometry is built server-side from the four bounds with ST_MakeEnvelope.
*/
type Repo struct {
	pool  *pgxpool.Pool
	table string
}

// New creates a Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, table: cfg.Table}, nil
}

// poolConfig parses the DSN and raises MaxConns so every session gets its own connection
// with one left over for schema and metadata statements. An explicit pool_max_conns in the
// DSN wins.
func poolConfig(cfg storage.Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if strings.Contains(cfg.DSN, "pool_max_conns") {
		return pcfg, nil
	}
	if want := cfg.Sessions + 1; cfg.Sessions > 0 && int(pcfg.MaxConns) < want {
		if want > math.MaxInt32 {
			return nil, fmt.Errorf("postgres: %d sessions exceed the pool limit", cfg.Sessions)
		}
		pcfg.MaxConns = int32(want)
	}
	return pcfg, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureSchema creates the extension, table and index when they do not exist yet.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildSchemaSQL(r.table) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Acquire dedicates one pooled connection to a session and prepares the upsert on it.
func (r *Repo) Acquire(ctx context.Context) (storage.Session, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Conn().Prepare(ctx, upsertStmt, buildUpsertSQL(r.table)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres: prepare upsert: %w", err)
	}
	return &session{conn: conn}, nil
}

// DistinctLevels implements storage.Repository.
func (r *Repo) DistinctLevels(ctx context.Context) ([]int, error) {
	q := fmt.Sprintf(`SELECT DISTINCT level FROM %s ORDER BY level`, qualifiedIdent(r.table))
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	levels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (int, error) {
		var l int16
		err := row.Scan(&l)
		return int(l), err
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// InitMetadata implements storage.Repository.
func (r *Repo) InitMetadata(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, buildMetadataSchemaSQL())
	return err
}

// UpsertMetadata implements storage.Repository.
func (r *Repo) UpsertMetadata(ctx context.Context, table string, doc []byte) error {
	_, err := r.pool.Exec(ctx, buildMetadataUpsertSQL(), table, string(doc))
	return err
}

type session struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
}

func (s *session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("postgres: transaction already open")
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

func (s *session) Upsert(ctx context.Context, rec storage.Record) error {
	if s.tx == nil {
		return errors.New("postgres: upsert outside transaction")
	}
	_, err := s.tx.Exec(ctx, upsertStmt, rec.Code, rec.Level, rec.XMin, rec.YMin, rec.XMax, rec.YMax)
	return err
}

func (s *session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("postgres: commit outside transaction")
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback(ctx)
}

func (s *session) Release() {
	if s.tx != nil {
		_ = s.Rollback(context.Background())
	}
	s.conn.Release()
}

// ---- SQL builders (pure, unit-tested) ----

// buildSchemaSQL returns the DDL statements in execution order.
func buildSchemaSQL(table string) []string {
	ident := qualifiedIdent(table)
	_, name := splitQualifiedName(table)
	stmts := []string{`CREATE EXTENSION IF NOT EXISTS postgis`}
	if schema, _ := splitQualifiedName(table); schema != "" {
		stmts = append(stmts, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{schema}.Sanitize()))
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  code bigint PRIMARY KEY,
  level smallint NOT NULL,
  geom geometry(Polygon, %d) NOT NULL
)`, ident, storage.SRID),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (level)`, pgx.Identifier{name + "_level_idx"}.Sanitize(), ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gist (geom)`, pgx.Identifier{name + "_geom_idx"}.Sanitize(), ident),
	)
	return stmts
}

// buildUpsertSQL inserts one cell; a conflicting code is left untouched so re-runs are safe.
func buildUpsertSQL(table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (code, level, geom) VALUES ($1, $2, ST_MakeEnvelope($3, $4, $5, $6, %d)) ON CONFLICT (code) DO NOTHING`,
		qualifiedIdent(table), storage.SRID,
	)
}

func buildMetadataSchemaSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  table_name text PRIMARY KEY,
  metadata jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)`, pgx.Identifier{storage.MetadataTable}.Sanitize())
}

func buildMetadataUpsertSQL() string {
	return fmt.Sprintf(
		`INSERT INTO %s (table_name, metadata, updated_at) VALUES ($1, $2::jsonb, now()) `+
			`ON CONFLICT (table_name) DO UPDATE SET metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`,
		pgx.Identifier{storage.MetadataTable}.Sanitize(),
	)
}

// qualifiedIdent quotes a plain or schema-qualified table name.
func qualifiedIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// splitQualifiedName splits "schema.table". Anything without exactly one dot is treated as
// unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	storage.Register("postgres", New)
}
