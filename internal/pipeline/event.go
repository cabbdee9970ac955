package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Event is a progress message. Count and Advance are the only implementations.
type Event interface {
	event()
}

// Count grows the known total by N rows. The generator sends one per (root, level) pair
// before that pair's rows.
type Count struct{ N int }

// Advance grows the committed position by N rows. Inserters send one per commit.
type Advance struct{ N int }

func (Count) event()   {}
func (Advance) event() {}

// ErrChannelClosed is returned when a send hits a channel that was already closed.
var ErrChannelClosed = errors.New("send on closed channel")

// send blocks until v is delivered or ctx is done. A closed ch is reported as
// ErrChannelClosed instead of crashing the process.
func send[T any](ctx context.Context, ch chan<- T, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrChannelClosed, r)
		}
	}()

	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
