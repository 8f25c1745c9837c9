package gpio

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// RunHeartbeat toggles pin high/low every interval until ctx is cancelled,
// the node's heartbeat/LED task (spec.md §4.6/§6's GPIO note: "One LED
// output toggled by the heartbeat task").
func RunHeartbeat(ctx context.Context, pin OutputPin, clk clock.Clock, interval time.Duration) error {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	high := false
	for {
		select {
		case <-ticker.C:
			high = !high
			var err error
			if high {
				err = pin.SetHigh()
			} else {
				err = pin.SetLow()
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
