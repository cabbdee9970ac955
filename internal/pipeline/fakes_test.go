package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meshetl/internal/mesh"
	"meshetl/internal/storage"
)

// cell is one code with its corners as the fake grid reports them.
type cell struct {
	code   uint64
	sw, ne mesh.Point
}

type fakeGrid struct {
	cells map[uint64]map[mesh.Level][]cell
	fail  map[uint64]error
}

func (g *fakeGrid) Expand(root uint64, level mesh.Level) ([]uint64, error) {
	if err := g.fail[root]; err != nil {
		return nil, err
	}
	cs, ok := g.cells[root][level]
	if !ok {
		return nil, fmt.Errorf("no cells for %d at %s", root, level)
	}
	out := make([]uint64, len(cs))
	for i, c := range cs {
		out[i] = c.code
	}
	return out, nil
}

func (g *fakeGrid) Points(codes []uint64, latMul, lonMul float64) ([]mesh.Point, error) {
	byCode := map[uint64]cell{}
	for _, levels := range g.cells {
		for _, cs := range levels {
			for _, c := range cs {
				byCode[c.code] = c
			}
		}
	}
	out := make([]mesh.Point, len(codes))
	for i, code := range codes {
		c := byCode[code]
		out[i] = mesh.Point{
			Lat: c.sw.Lat + latMul*(c.ne.Lat-c.sw.Lat),
			Lon: c.sw.Lon + lonMul*(c.ne.Lon-c.sw.Lon),
		}
	}
	return out, nil
}

// fourCells is a root at level 3 split into four 0.5 x 0.5 degree cells.
func fourCells() *fakeGrid {
	return &fakeGrid{cells: map[uint64]map[mesh.Level][]cell{
		1000: {mesh.Lv3: {
			{code: 10001, sw: mesh.Point{Lat: 35, Lon: 139}, ne: mesh.Point{Lat: 35.5, Lon: 139.5}},
			{code: 10002, sw: mesh.Point{Lat: 35, Lon: 139.5}, ne: mesh.Point{Lat: 35.5, Lon: 140}},
			{code: 10003, sw: mesh.Point{Lat: 35.5, Lon: 139}, ne: mesh.Point{Lat: 36, Lon: 139.5}},
			{code: 10004, sw: mesh.Point{Lat: 35.5, Lon: 139.5}, ne: mesh.Point{Lat: 36, Lon: 140}},
		}},
	}}
}

// memStore is an in-memory storage.Repository with transactional sessions.
type memStore struct {
	mu       sync.Mutex
	rows     map[int64]storage.Record
	commits  int
	acquired int

	failUpsert  func(storage.Record) error
	acquireErr  error
	schemaErr   error
	blockUpsert chan struct{}

	metaCalls []string
	metaDoc   []byte
}

func newMemStore() *memStore { return &memStore{rows: map[int64]storage.Record{}} }

func (m *memStore) Close() {}

func (m *memStore) EnsureSchema(context.Context) error { return m.schemaErr }

func (m *memStore) Acquire(context.Context) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.acquired++
	return &memSession{store: m}, nil
}

func (m *memStore) DistinctLevels(context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metaCalls = append(m.metaCalls, "levels")
	seen := map[int]bool{}
	var out []int
	for _, r := range m.rows {
		if !seen[int(r.Level)] {
			seen[int(r.Level)] = true
			out = append(out, int(r.Level))
		}
	}
	return out, nil
}

func (m *memStore) InitMetadata(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metaCalls = append(m.metaCalls, "init")
	return nil
}

func (m *memStore) UpsertMetadata(_ context.Context, _ string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metaCalls = append(m.metaCalls, "upsert")
	m.metaDoc = doc
	return nil
}

func (m *memStore) snapshot() map[int64]storage.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]storage.Record, len(m.rows))
	for k, v := range m.rows {
		out[k] = v
	}
	return out
}

type memSession struct {
	store   *memStore
	tx      []storage.Record
	open    bool
	commits int
}

func (s *memSession) Begin(context.Context) error {
	if s.open {
		return errors.New("transaction already open")
	}
	s.open = true
	return nil
}

func (s *memSession) Upsert(ctx context.Context, rec storage.Record) error {
	if !s.open {
		return errors.New("upsert outside transaction")
	}
	if ch := s.store.blockUpsert; ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f := s.store.failUpsert; f != nil {
		if err := f(rec); err != nil {
			return err
		}
	}
	s.tx = append(s.tx, rec)
	return nil
}

func (s *memSession) Commit(context.Context) error {
	if !s.open {
		return errors.New("commit outside transaction")
	}
	s.store.mu.Lock()
	for _, rec := range s.tx {
		if _, exists := s.store.rows[rec.Code]; !exists {
			s.store.rows[rec.Code] = rec
		}
	}
	s.store.commits++
	s.store.mu.Unlock()

	s.commits++
	s.tx = nil
	s.open = false
	return nil
}

func (s *memSession) Rollback(context.Context) error {
	s.tx = nil
	s.open = false
	return nil
}

func (s *memSession) Release() { _ = s.Rollback(context.Background()) }

// recordingDisplay remembers every call; only the aggregator goroutine touches it.
type recordingDisplay struct {
	grows    []int
	advances []int
	finished bool
}

func (d *recordingDisplay) Grow(n int)    { d.grows = append(d.grows, n) }
func (d *recordingDisplay) Advance(n int) { d.advances = append(d.advances, n) }
func (d *recordingDisplay) Finish()       { d.finished = true }

type fakeLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
