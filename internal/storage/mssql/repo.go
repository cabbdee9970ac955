package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"meshetl/internal/storage"
	"meshetl/internal/storage/sqldb"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Idempotence uses INSERT ... WHERE NOT EXISTS under UPDLOCK + HOLDLOCK, which serializes
// concurrent writers on the same code without table-wide locks. Geometry is built from WKT with
// geometry::STGeomFromText in SRID 4326.
type Repo struct {
	db    *sql.DB
	table string
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, table: cfg.Table}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureSchema creates the code table and its level index if missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildSchemaSQL(r.table) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: create %s: %w", r.table, err)
		}
	}
	return nil
}

func (r *Repo) Acquire(ctx context.Context) (storage.Session, error) {
	return sqldb.Open(ctx, r.db, buildUpsertSQL(r.table), upsertArgs, nil)
}

func (r *Repo) DistinctLevels(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT level FROM %s ORDER BY level`, mssqlTableIdent(r.table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var l int16
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, int(l))
	}
	return out, rows.Err()
}

func (r *Repo) InitMetadata(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, buildMetadataSchemaSQL())
	return err
}

// UpsertMetadata replaces the document for table using MERGE.
func (r *Repo) UpsertMetadata(ctx context.Context, table string, doc []byte) error {
	_, err := r.db.ExecContext(ctx, buildMetadataUpsertSQL(), table, string(doc), time.Now().UTC())
	return err
}

func upsertArgs(rec storage.Record) []any {
	return []any{rec.Code, rec.Level, storage.EnvelopeWKT(rec)}
}

func buildSchemaSQL(table string) []string {
	ident := mssqlTableIdent(table)
	idx := indexName(table)
	return []string{
		fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (`+
			`code BIGINT NOT NULL PRIMARY KEY, level SMALLINT NOT NULL, geom GEOMETRY NOT NULL)`,
			quoteLiteral(ident), ident),
		fmt.Sprintf(`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) `+
			`CREATE INDEX %s ON %s (level)`,
			quoteLiteral(idx), quoteLiteral(ident), mssqlIdent(idx), ident),
	}
}

func buildUpsertSQL(table string) string {
	ident := mssqlTableIdent(table)
	return fmt.Sprintf(`INSERT INTO %s (code, level, geom) `+
		`SELECT @p1, @p2, geometry::STGeomFromText(@p3, %d) `+
		`WHERE NOT EXISTS (SELECT 1 FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE code = @p1)`,
		ident, storage.SRID, ident)
}

func buildMetadataSchemaSQL() string {
	ident := mssqlTableIdent(storage.MetadataTable)
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (`+
		`table_name NVARCHAR(256) NOT NULL PRIMARY KEY, metadata NVARCHAR(MAX) NOT NULL, updated_at DATETIME2 NOT NULL)`,
		quoteLiteral(ident), ident)
}

func buildMetadataUpsertSQL() string {
	return fmt.Sprintf(`MERGE %s WITH (HOLDLOCK) AS t `+
		`USING (SELECT @p1 AS table_name, @p2 AS metadata, @p3 AS updated_at) AS s ON t.table_name = s.table_name `+
		`WHEN MATCHED THEN UPDATE SET metadata = s.metadata, updated_at = s.updated_at `+
		`WHEN NOT MATCHED THEN INSERT (table_name, metadata, updated_at) VALUES (s.table_name, s.metadata, s.updated_at);`,
		mssqlTableIdent(storage.MetadataTable))
}

// indexName derives the level index name from the table part of a qualified name.
func indexName(table string) string {
	parts := strings.Split(table, ".")
	return strings.TrimSpace(parts[len(parts)-1]) + "_level_idx"
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.codes" -> [dbo].[codes]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
