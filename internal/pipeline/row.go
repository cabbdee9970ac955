// Package pipeline is the concurrent loader: one generator expands (root, level) pairs into
// rows, a bounded channel carries them to a pool of inserters that each own one connection,
// and an aggregator folds Count/Advance events into progress. Loader joins the three and
// Runner wraps it with schema creation and the metadata phase.
package pipeline

import (
	"errors"
	"fmt"
	"math"

	"meshetl/internal/mesh"
	"meshetl/internal/storage"
)

// ErrOutOfRange reports a row whose code or level does not fit the table's column types.
var ErrOutOfRange = errors.New("value out of column range")

// Row is one grid cell with its west/south/east/north bounds in degrees.
type Row struct {
	Code  uint64
	Level mesh.Level
	XMin  float64
	YMin  float64
	XMax  float64
	YMax  float64
}

// Valid reports whether the box is non-degenerate and inside the geographic range.
func (r Row) Valid() bool {
	return r.XMin < r.XMax && r.YMin < r.YMax &&
		r.XMin >= -180 && r.XMax <= 180 &&
		r.YMin >= -90 && r.YMax <= 90
}

// Record narrows the row to the bigint/smallint column types.
func (r Row) Record() (storage.Record, error) {
	if r.Code > math.MaxInt64 {
		return storage.Record{}, fmt.Errorf("%w: code %d exceeds bigint", ErrOutOfRange, r.Code)
	}
	if r.Level < math.MinInt16 || r.Level > math.MaxInt16 {
		return storage.Record{}, fmt.Errorf("%w: level %d exceeds smallint", ErrOutOfRange, int(r.Level))
	}
	return storage.Record{
		Code:  int64(r.Code),
		Level: int16(r.Level),
		XMin:  r.XMin,
		YMin:  r.YMin,
		XMax:  r.XMax,
		YMax:  r.YMax,
	}, nil
}
