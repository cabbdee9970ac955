// Package sqldb holds the database/sql plumbing shared by the sqlite and mssql backends: a
// Session bound to one *sql.Conn with the upsert prepared once per connection.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meshetl/internal/storage"
)

// ArgsFunc maps a record to the positional arguments of a backend's upsert statement.
type ArgsFunc func(rec storage.Record) []any

// Session implements storage.Session over a dedicated *sql.Conn.
type Session struct {
	conn   *sql.Conn
	stmt   *sql.Stmt
	args   ArgsFunc
	txOpts *sql.TxOptions

	tx     *sql.Tx
	txStmt *sql.Stmt
}

// Open takes a connection out of db and prepares upsertSQL on it.
func Open(ctx context.Context, db *sql.DB, upsertSQL string, args ArgsFunc, txOpts *sql.TxOptions) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	stmt, err := conn.PrepareContext(ctx, upsertSQL)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}
	return &Session{conn: conn, stmt: stmt, args: args, txOpts: txOpts}, nil
}

func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("sqldb: transaction already open")
	}
	tx, err := s.conn.BeginTx(ctx, s.txOpts)
	if err != nil {
		return err
	}
	s.tx = tx
	s.txStmt = tx.StmtContext(ctx, s.stmt)
	return nil
}

func (s *Session) Upsert(ctx context.Context, rec storage.Record) error {
	if s.tx == nil {
		return errors.New("sqldb: upsert outside transaction")
	}
	_, err := s.txStmt.ExecContext(ctx, s.args(rec)...)
	return err
}

func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("sqldb: commit outside transaction")
	}
	tx := s.tx
	s.closeTx()
	return tx.Commit()
}

func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.closeTx()
	err := tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Release rolls back an open transaction and returns the connection to the pool.
func (s *Session) Release() {
	_ = s.Rollback(context.Background())
	_ = s.stmt.Close()
	_ = s.conn.Close()
}

func (s *Session) closeTx() {
	if s.txStmt != nil {
		_ = s.txStmt.Close()
	}
	s.tx = nil
	s.txStmt = nil
}

var _ storage.Session = (*Session)(nil)
