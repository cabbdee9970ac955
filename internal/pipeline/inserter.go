package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"meshetl/internal/mesh"
	"meshetl/internal/metrics"
	"meshetl/internal/storage"
)

// Op names the database operation a PersistError happened in.
type Op string

const (
	OpAcquire Op = "acquire"
	OpConvert Op = "convert"
	OpBegin   Op = "begin"
	OpUpsert  Op = "upsert"
	OpCommit  Op = "commit"
)

// PersistError is a fatal worker error. Code and Level are set for row-level operations.
type PersistError struct {
	Worker int
	Op     Op
	Code   uint64
	Level  mesh.Level
	Err    error
}

func (e *PersistError) Error() string {
	switch e.Op {
	case OpConvert, OpUpsert:
		return fmt.Sprintf("persist worker=%d op=%s code=%d level=%s: %v", e.Worker, e.Op, e.Code, e.Level, e.Err)
	default:
		return fmt.Sprintf("persist worker=%d op=%s: %v", e.Worker, e.Op, e.Err)
	}
}

func (e *PersistError) Unwrap() error { return e.Err }

// Acquirer hands out dedicated sessions. storage.Repository implements it.
type Acquirer interface {
	Acquire(ctx context.Context) (storage.Session, error)
}

// InserterPool drains the row channel with Workers concurrent sessions, committing every
// BatchSize rows. The first worker error cancels the others.
type InserterPool struct {
	Sessions  Acquirer
	Workers   int
	BatchSize int
	Logger    Logger
}

func (p *InserterPool) Run(ctx context.Context, rows <-chan Row, events chan<- Event) error {
	if p.Workers <= 0 || p.BatchSize <= 0 {
		return fmt.Errorf("inserter pool: workers=%d batch_size=%d must be positive", p.Workers, p.BatchSize)
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < p.Workers; w++ {
		w := w
		g.Go(func() error { return p.work(ctx, w, rows, events) })
	}
	return g.Wait()
}

// work owns one session for its whole lifetime. A transaction is opened by the first row
// after a commit, so a worker that receives N rows commits exactly ceil(N/BatchSize) times.
func (p *InserterPool) work(ctx context.Context, id int, rows <-chan Row, events chan<- Event) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("insert", time.Since(start), err) }()

	sess, err := p.Sessions.Acquire(ctx)
	if err != nil {
		return &PersistError{Worker: id, Op: OpAcquire, Err: err}
	}
	// Release rolls back a transaction left open by an error.
	defer sess.Release()

	var pending, total, commits int
	inTx := false

	commit := func() error {
		if err := sess.Commit(ctx); err != nil {
			return &PersistError{Worker: id, Op: OpCommit, Err: err}
		}
		inTx = false
		metrics.RecordBatch(pending)
		n := pending
		total += n
		commits++
		pending = 0
		return send(ctx, events, Event(Advance{N: n}))
	}

	for {
		var (
			row Row
			ok  bool
		)
		select {
		case row, ok = <-rows:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
		if !ok {
			break
		}

		rec, err := row.Record()
		if err != nil {
			return &PersistError{Worker: id, Op: OpConvert, Code: row.Code, Level: row.Level, Err: err}
		}
		if !inTx {
			if err := sess.Begin(ctx); err != nil {
				return &PersistError{Worker: id, Op: OpBegin, Err: err}
			}
			inTx = true
		}
		if err := sess.Upsert(ctx, rec); err != nil {
			return &PersistError{Worker: id, Op: OpUpsert, Code: row.Code, Level: row.Level, Err: err}
		}

		pending++
		if pending == p.BatchSize {
			if err := commit(); err != nil {
				return err
			}
		}
	}

	// A failed generator closes the channel too; skip the final commit once teardown began.
	if err := context.Cause(ctx); err != nil {
		return err
	}
	if inTx {
		if err := commit(); err != nil {
			return err
		}
	}

	logger(p.Logger).Printf("stage=insert worker=%d status=ok rows=%d commits=%d duration=%s", id, total, commits, durMS(start))
	return nil
}
