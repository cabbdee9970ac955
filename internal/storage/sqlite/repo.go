package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"meshetl/internal/storage"
	"meshetl/internal/storage/sqldb"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - There is no spatial extension; geometry is stored as WKT text in SRID 4326.
//   - SQLite allows one writer at a time. Transactions are opened with BEGIN IMMEDIATE
//     (_txlock=immediate) so concurrent workers queue on the busy timeout instead of
//     failing on a read-to-write lock upgrade.
//   - ":memory:" gives every pooled connection its own database; use a file DSN.
type Repo struct {
	db    *sql.DB
	table string
}

// DefaultBusyTimeout is applied when the DSN does not set busy_timeout itself.
const DefaultBusyTimeout = 30 * time.Second

func init() {
	storage.Register("sqlite", New)
}

// New opens the database and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", withDefaults(cfg.DSN))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, table: cfg.Table}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema implements storage.Repository.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildSchemaSQL(r.table) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create %s: %w", r.table, err)
		}
	}
	return nil
}

// Acquire implements storage.Repository.
func (r *Repo) Acquire(ctx context.Context) (storage.Session, error) {
	return sqldb.Open(ctx, r.db, buildUpsertSQL(r.table), upsertArgs, nil)
}

// DistinctLevels implements storage.Repository.
func (r *Repo) DistinctLevels(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT level FROM %s ORDER BY level`, sqlIdent(r.table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var l int
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// InitMetadata implements storage.Repository.
func (r *Repo) InitMetadata(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, buildMetadataSchemaSQL())
	return err
}

// UpsertMetadata implements storage.Repository. Timestamps are stored as RFC3339Nano text.
func (r *Repo) UpsertMetadata(ctx context.Context, table string, doc []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, buildMetadataUpsertSQL(), table, string(doc), now)
	return err
}

func upsertArgs(rec storage.Record) []any {
	return []any{rec.Code, rec.Level, storage.EnvelopeWKT(rec)}
}

func buildSchemaSQL(table string) []string {
	ident := sqlIdent(table)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (code INTEGER PRIMARY KEY, level INTEGER NOT NULL, geom TEXT NOT NULL)`, ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (level)`, sqlIdent(indexName(table)), ident),
	}
}

func buildUpsertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (code, level, geom) VALUES (?, ?, ?) ON CONFLICT (code) DO NOTHING`, sqlIdent(table))
}

func buildMetadataSchemaSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (table_name TEXT PRIMARY KEY, metadata TEXT NOT NULL, updated_at TEXT NOT NULL)`,
		sqlIdent(storage.MetadataTable))
}

func buildMetadataUpsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (table_name, metadata, updated_at) VALUES (?, ?, ?) `+
		`ON CONFLICT (table_name) DO UPDATE SET metadata = excluded.metadata, updated_at = excluded.updated_at`,
		sqlIdent(storage.MetadataTable))
}

// sqlIdent quotes each dot-separated part; "main.codes" addresses the attached main schema.
func sqlIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// indexName keeps the schema prefix (SQLite creates the index in the table's schema) and
// suffixes the table part.
func indexName(table string) string {
	return table + "_level_idx"
}

// withDefaults adds busy_timeout and immediate transactions unless the DSN sets them.
func withDefaults(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", DefaultBusyTimeout.Milliseconds()))
	}
	if !strings.Contains(dsn, "_txlock") {
		params = append(params, "_txlock=immediate")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
