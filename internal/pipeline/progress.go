package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	pb "gopkg.in/cheggaaa/pb.v1"
)

// Display renders progress. It is only ever called from the aggregator goroutine.
type Display interface {
	Grow(n int)
	Advance(n int)
	Finish()
}

// Progress is the aggregator's final tally.
type Progress struct {
	Total    int64 // sum of Count events
	Done     int64 // sum of Advance events
	Pairs    int   // Count events received
	Commits  int   // Advance events received
	Duration time.Duration
}

// Aggregator is the single owner of the display.
type Aggregator struct {
	Display Display
}

// Run folds events until the channel is closed, which happens once every producer is done.
// Rendering is best-effort; only cancellation makes Run fail.
func (a *Aggregator) Run(ctx context.Context, events <-chan Event) (Progress, error) {
	start := time.Now()
	d := a.Display
	if d == nil {
		d = nopDisplay{}
	}
	defer d.Finish()

	var p Progress
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.Duration = time.Since(start)
				return p, nil
			}
			switch ev := ev.(type) {
			case Count:
				p.Total += int64(ev.N)
				p.Pairs++
				d.Grow(ev.N)
			case Advance:
				p.Done += int64(ev.N)
				p.Commits++
				d.Advance(ev.N)
			}
		case <-ctx.Done():
			p.Duration = time.Since(start)
			return p, context.Cause(ctx)
		}
	}
}

type nopDisplay struct{}

func (nopDisplay) Grow(int)    {}
func (nopDisplay) Advance(int) {}
func (nopDisplay) Finish()     {}

// PBDisplay renders a terminal bar with elapsed time and done/total counters.
type PBDisplay struct {
	bar *pb.ProgressBar
}

// NewPBDisplay starts a bar on w. The total starts at zero and grows with every Count.
func NewPBDisplay(w io.Writer) *PBDisplay {
	bar := pb.New64(0)
	bar.Output = w
	bar.ShowElapsedTime = true
	bar.ShowTimeLeft = false
	bar.ShowSpeed = false
	bar.SetRefreshRate(100 * time.Millisecond)
	bar.Format("[=>-]")
	bar.Start()
	return &PBDisplay{bar: bar}
}

// Grow raises the bar total. pb reads Total atomically from its refresh goroutine.
func (d *PBDisplay) Grow(n int) { atomic.AddInt64(&d.bar.Total, int64(n)) }

func (d *PBDisplay) Advance(n int) { d.bar.Add(n) }

func (d *PBDisplay) Finish() { d.bar.Finish() }
