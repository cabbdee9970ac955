package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meshetl/internal/mesh"
	"meshetl/internal/metrics"
)

// ErrInvalidBounds reports a cell whose corners do not form a valid bounding box.
var ErrInvalidBounds = errors.New("invalid bounding box")

// GenerateError attaches the failing (root, level) pair to a grid error.
type GenerateError struct {
	Root  uint64
	Level mesh.Level
	Err   error
}

func (e *GenerateError) Error() string {
	return fmt.Sprintf("generate root=%d level=%s: %v", e.Root, e.Level, e.Err)
}

func (e *GenerateError) Unwrap() error { return e.Err }

// Generator expands every (root, level) pair, roots outer and levels inner, into rows.
type Generator struct {
	Grid   mesh.Grid
	Roots  []uint64
	Levels []mesh.Level
	Logger Logger
}

// Run sends Count(len) and then the rows of each pair. It always closes rows on return, so
// consumers see end-of-stream on failure as well as on success. The first failing pair
// stops generation; rows of that pair are never partially sent.
func (g *Generator) Run(ctx context.Context, rows chan<- Row, events chan<- Event) (err error) {
	defer close(rows)

	start := time.Now()
	defer func() { metrics.RecordStep("generate", time.Since(start), err) }()

	var pairs, total int
	for _, root := range g.Roots {
		for _, level := range g.Levels {
			batch, err := g.pair(root, level)
			if err != nil {
				return &GenerateError{Root: root, Level: level, Err: err}
			}

			if err := send(ctx, events, Event(Count{N: len(batch)})); err != nil {
				return err
			}
			metrics.RecordRows(metrics.KindGenerated, len(batch))
			for _, r := range batch {
				if err := send(ctx, rows, r); err != nil {
					return err
				}
			}
			pairs++
			total += len(batch)
		}
	}

	logger(g.Logger).Printf("stage=generate ok pairs=%d rows=%d duration=%s", pairs, total, durMS(start))
	return nil
}

// pair builds every row of one (root, level) pair before any is sent.
func (g *Generator) pair(root uint64, level mesh.Level) ([]Row, error) {
	codes, err := g.Grid.Expand(root, level)
	if err != nil {
		return nil, err
	}
	sw, err := g.Grid.Points(codes, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("south-west corners: %w", err)
	}
	ne, err := g.Grid.Points(codes, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("north-east corners: %w", err)
	}
	if len(sw) != len(codes) || len(ne) != len(codes) {
		return nil, fmt.Errorf("grid returned %d/%d corners for %d codes", len(sw), len(ne), len(codes))
	}

	out := make([]Row, len(codes))
	for i, code := range codes {
		r := Row{
			Code:  code,
			Level: level,
			XMin:  sw[i].Lon,
			YMin:  sw[i].Lat,
			XMax:  ne[i].Lon,
			YMax:  ne[i].Lat,
		}
		if !r.Valid() {
			return nil, fmt.Errorf("%w: code %d [%g %g %g %g]", ErrInvalidBounds, code, r.XMin, r.YMin, r.XMax, r.YMax)
		}
		out[i] = r
	}
	return out, nil
}
