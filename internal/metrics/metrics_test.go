package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observation struct {
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu       sync.Mutex
	counters []observation
	hists    []observation
	flushes  int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, observation{name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists = append(r.hists, observation{name, value, labels})
}

func (r *recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func install(t *testing.T) *recorder {
	t.Helper()
	r := &recorder{}
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })
	return r
}

func TestNopByDefault(t *testing.T) {
	SetBackend(nil)
	RecordRows(KindGenerated, 10)
	require.NoError(t, Flush())
}

func TestRecordBatch(t *testing.T) {
	r := install(t)

	RecordBatch(5000)
	RecordRows(KindGenerated, 0)

	require.Len(t, r.counters, 2)
	assert.Equal(t, observation{BatchesTotal, 1, nil}, r.counters[0])
	assert.Equal(t, observation{RowsTotal, 5000, Labels{"kind": KindCommitted}}, r.counters[1])
}

func TestRecordStep(t *testing.T) {
	r := install(t)

	RecordStep("insert", 1500*time.Millisecond, nil)
	RecordStep("generate", time.Second, errors.New("boom"))

	require.Len(t, r.counters, 2)
	assert.Equal(t, Labels{"step": "insert", "status": "ok"}, r.counters[0].labels)
	assert.Equal(t, Labels{"step": "generate", "status": "error"}, r.counters[1].labels)
	require.Len(t, r.hists, 2)
	assert.Equal(t, StepDurationSeconds, r.hists[0].name)
	assert.InDelta(t, 1.5, r.hists[0].value, 1e-9)

	require.NoError(t, Flush())
	assert.Equal(t, 1, r.flushes)
}
