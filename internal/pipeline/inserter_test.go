package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshetl/internal/mesh"
	"meshetl/internal/storage"
)

func feed(n int) <-chan Row {
	ch := make(chan Row, n)
	for i := 0; i < n; i++ {
		ch <- Row{Code: uint64(100000 + i), Level: mesh.Lv3, XMin: 139, YMin: 35, XMax: 139.1, YMax: 35.1}
	}
	close(ch)
	return ch
}

func collectAdvances(events chan Event) []int {
	close(events)
	var out []int
	for ev := range events {
		if a, ok := ev.(Advance); ok {
			out = append(out, a.N)
		}
	}
	return out
}

func TestInserterPool_BatchAccounting(t *testing.T) {
	tests := []struct {
		rows, batch int
		wantCommits int
		wantAdvance []int
	}{
		{rows: 12, batch: 5, wantCommits: 3, wantAdvance: []int{5, 5, 2}},
		{rows: 10, batch: 5, wantCommits: 2, wantAdvance: []int{5, 5}},
		{rows: 3, batch: 5000, wantCommits: 1, wantAdvance: []int{3}},
		{rows: 0, batch: 5, wantCommits: 0, wantAdvance: nil},
	}
	for _, tt := range tests {
		store := newMemStore()
		pool := &InserterPool{Sessions: store, Workers: 1, BatchSize: tt.batch}
		events := make(chan Event, 16)

		require.NoError(t, pool.Run(context.Background(), feed(tt.rows), events))

		advances := collectAdvances(events)
		assert.Equal(t, tt.wantAdvance, advances, "rows=%d batch=%d", tt.rows, tt.batch)
		assert.Equal(t, tt.rows, sum(advances))
		assert.Equal(t, tt.wantCommits, store.commits)
		assert.Len(t, store.snapshot(), tt.rows)
	}
}

func TestInserterPool_ManyWorkers(t *testing.T) {
	store := newMemStore()
	pool := &InserterPool{Sessions: store, Workers: 8, BatchSize: 7}
	events := make(chan Event, 1000)

	require.NoError(t, pool.Run(context.Background(), feed(500), events))

	assert.Equal(t, 500, sum(collectAdvances(events)))
	assert.Len(t, store.snapshot(), 500)
	assert.Equal(t, 8, store.acquired, "one session per worker")
}

func TestInserterPool_UpsertIsIdempotent(t *testing.T) {
	store := newMemStore()
	pool := &InserterPool{Sessions: store, Workers: 2, BatchSize: 3}

	require.NoError(t, pool.Run(context.Background(), feed(10), make(chan Event, 100)))
	first := store.snapshot()
	require.NoError(t, pool.Run(context.Background(), feed(10), make(chan Event, 100)))

	assert.Equal(t, first, store.snapshot())
}

func TestInserterPool_PersistErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("acquire", func(t *testing.T) {
		store := newMemStore()
		store.acquireErr = boom
		err := (&InserterPool{Sessions: store, Workers: 2, BatchSize: 5}).Run(context.Background(), feed(3), make(chan Event, 10))

		var pe *PersistError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, OpAcquire, pe.Op)
		require.ErrorIs(t, err, boom)
	})

	t.Run("upsert", func(t *testing.T) {
		store := newMemStore()
		store.failUpsert = func(rec storage.Record) error {
			if rec.Code == 100002 {
				return boom
			}
			return nil
		}
		err := (&InserterPool{Sessions: store, Workers: 1, BatchSize: 2}).Run(context.Background(), feed(6), make(chan Event, 10))

		var pe *PersistError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, OpUpsert, pe.Op)
		assert.Equal(t, uint64(100002), pe.Code)
		assert.Contains(t, err.Error(), "code=100002 level=Lv3")
		assert.Len(t, store.snapshot(), 2, "the batch committed before the failure stays")
	})

	t.Run("narrowing", func(t *testing.T) {
		rows := make(chan Row, 1)
		rows <- Row{Code: math.MaxUint64, Level: mesh.Lv6, XMin: 1, YMin: 1, XMax: 2, YMax: 2}
		close(rows)

		err := (&InserterPool{Sessions: newMemStore(), Workers: 1, BatchSize: 5}).Run(context.Background(), rows, make(chan Event, 10))

		var pe *PersistError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, OpConvert, pe.Op)
		require.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("invalid_pool", func(t *testing.T) {
		err := (&InserterPool{Sessions: newMemStore()}).Run(context.Background(), feed(0), make(chan Event))
		require.Error(t, err)
	})
}

func TestInserterPool_FailureCancelsSiblings(t *testing.T) {
	store := newMemStore()
	store.blockUpsert = make(chan struct{}) // never released

	// One row cannot be narrowed; the others park their workers inside Upsert.
	rows := make(chan Row, 4)
	rows <- Row{Code: math.MaxUint64, Level: mesh.Lv1, XMin: 1, YMin: 1, XMax: 2, YMax: 2}
	rows <- Row{Code: 1, Level: mesh.Lv1, XMin: 1, YMin: 1, XMax: 2, YMax: 2}
	rows <- Row{Code: 2, Level: mesh.Lv1, XMin: 1, YMin: 1, XMax: 2, YMax: 2}

	done := make(chan error, 1)
	go func() {
		done <- (&InserterPool{Sessions: store, Workers: 3, BatchSize: 5}).Run(context.Background(), rows, make(chan Event, 10))
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrOutOfRange)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked workers were not cancelled")
	}
}
