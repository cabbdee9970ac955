package pipeline

import (
	"io"
	"log"
	"time"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger and *logrus.Logger satisfy this interface.
type Logger interface {
	Printf(format string, v ...any)
}

func logger(l Logger) Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
