package vedirect

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// OutputChannelSize is the bounded capacity of the averaged-reading channel
// between the VE.Direct runner and its consumer (spec.md §5: "averaging
// output 8").
const OutputChannelSize = 8

// Runner drives FrameReader.ReadNext in a loop, maintaining an averaging
// accumulator and emitting one averaged Reading per averaging interval.
type Runner struct {
	frames *FrameReader
	clock  clock.Clock
	log    *logrus.Entry
	out    chan<- Reading
}

// NewRunner constructs a Runner reading VE.Direct frames from stream and
// publishing averaged Readings to out. clk supplies the monotonic interval
// boundary (clock.New() in production, a clock.Mock in tests).
func NewRunner(stream io.Reader, clk clock.Clock, out chan<- Reading, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		frames: NewFrameReader(stream, log),
		clock:  clk,
		log:    log.WithField("component", "vedirect-runner"),
		out:    out,
	}
}

// Run drives the averaging loop until ctx is cancelled or the underlying
// stream fails fatally. It never panics on a malformed frame or a transient
// read error.
func (r *Runner) Run(ctx context.Context, averagingInterval time.Duration) error {
	for {
		if err := r.averagingOnce(ctx, averagingInterval); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// averagingOnce collects readings until averagingInterval has elapsed since
// it started, then emits one averaged Reading and returns. The deadline is
// checked only after a reading has been added, so every emitted average
// covers at least one reading: an interval in which no valid frame arrives
// is extended until the next one, and no warning is logged for it.
func (r *Runner) averagingOnce(ctx context.Context, averagingInterval time.Duration) error {
	deadline := r.clock.Now().Add(averagingInterval)
	var acc Averaging

	for {
		reading, err := r.frames.ReadNext()
		if err != nil {
			return err
		}
		acc.Add(reading)

		if !r.clock.Now().Before(deadline) {
			if avg, count, ok := acc.Average(); ok {
				r.log.WithField("samples", count).Debug("emitting averaged reading")
				select {
				case r.out <- avg:
				case <-ctx.Done():
					return ctx.Err()
				}
			} else {
				r.log.Warnf("no readings collected during %s averaging interval", averagingInterval)
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
