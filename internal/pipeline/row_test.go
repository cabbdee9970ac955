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
)

func TestRow_Valid(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want bool
	}{
		{"ok", Row{XMin: 139, YMin: 35, XMax: 139.5, YMax: 35.5}, true},
		{"zero_width", Row{XMin: 139, YMin: 35, XMax: 139, YMax: 35.5}, false},
		{"inverted_lat", Row{XMin: 139, YMin: 36, XMax: 139.5, YMax: 35.5}, false},
		{"lon_out_of_range", Row{XMin: 179.5, YMin: 35, XMax: 180.5, YMax: 35.5}, false},
		{"lat_out_of_range", Row{XMin: 139, YMin: 89.9, XMax: 139.5, YMax: 90.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.row.Valid())
		})
	}
}

func TestRow_Record(t *testing.T) {
	rec, err := Row{Code: 53394611, Level: mesh.Lv3, XMin: 1, YMin: 2, XMax: 3, YMax: 4}.Record()
	require.NoError(t, err)
	assert.Equal(t, int64(53394611), rec.Code)
	assert.Equal(t, int16(3), rec.Level)
	assert.Equal(t, [4]float64{1, 2, 3, 4}, [4]float64{rec.XMin, rec.YMin, rec.XMax, rec.YMax})

	_, err = Row{Code: math.MaxInt64 + 1, Level: mesh.Lv1}.Record()
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = Row{Code: 1, Level: mesh.Level(math.MaxInt16 + 1)}.Record()
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSend_ClosedChannel(t *testing.T) {
	ch := make(chan Event, 1)
	close(ch)

	err := send(context.Background(), ch, Event(Count{N: 1}))
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestSend_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("worker failed")
	cancel(cause)

	done := make(chan error, 1)
	go func() { done <- send(ctx, make(chan Row), Row{}) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not observe cancellation")
	}
}
