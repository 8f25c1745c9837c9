package attransport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type requestKind int

const (
	reqAcquire requestKind = iota
	reqRelease
)

// runnerState mirrors the original's UrcPoll/AtControllerAquired enum.
type runnerState int

const (
	stateURCPoll runnerState = iota
	stateAcquired
)

// controllerGuard is the Go analogue of the original's
// `Mutex<NoopRawMutex, AtControllerImpl<Stream>>`: the acquire/release
// handshake already serializes access, this mutex is defense in depth
// against a protocol bug aliasing the controller from two goroutines at
// once.
type controllerGuard struct {
	mu   sync.Mutex
	ctrl *ControllerImpl
}

// Runner owns the stream between command/HTTP exchanges, polling for
// unsolicited result codes, and yields exclusive access to a Client for the
// duration of one lease. Run it in its own goroutine; it returns only when
// ctx is cancelled or the underlying stream fails.
type Runner struct {
	ctrl  *ControllerImpl
	guard *controllerGuard

	reqCh  <-chan requestKind
	respCh chan<- error

	log *logrus.Entry
}

// Run drives the lease/URC-poll state machine until ctx is cancelled or the
// stream fails fatally.
func (r *Runner) Run(ctx context.Context) error {
	state := stateURCPoll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case stateURCPoll:
			outcome := r.urcPollStep(ctx)
			switch {
			case outcome.err != nil:
				return outcome.err
			case outcome.gotRequest:
				switch outcome.req {
				case reqAcquire:
					state = stateAcquired
					if err := r.respond(ctx, nil); err != nil {
						return err
					}
				case reqRelease:
					r.log.Warn("release requested while not acquired")
					if err := r.respond(ctx, nil); err != nil {
						return err
					}
				}
			case outcome.gotLine:
				r.handleURC(outcome.line)
			}
		case stateAcquired:
			select {
			case req := <-r.reqCh:
				switch req {
				case reqAcquire:
					r.log.Warn("acquire requested while already acquired")
					if err := r.respond(ctx, nil); err != nil {
						return err
					}
				case reqRelease:
					state = stateURCPoll
					if err := r.respond(ctx, nil); err != nil {
						return err
					}
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type urcPollOutcome struct {
	gotRequest bool
	req        requestKind
	gotLine    bool
	line       string
	err        error
}

// urcPollStep holds the controller lock for exactly one decided outcome: an
// acquire/release request arrived, a complete URC line was assembled, or the
// stream/context failed. A byte that only partially completes a line keeps
// looping within the same lock acquisition, mirroring poll_urc() looping
// read_line() under one held guard in the original.
func (r *Runner) urcPollStep(ctx context.Context) urcPollOutcome {
	r.guard.mu.Lock()
	defer r.guard.mu.Unlock()

	for {
		select {
		case req := <-r.reqCh:
			return urcPollOutcome{gotRequest: true, req: req}
		case b := <-r.ctrl.bs.bytes:
			line, complete, ferr := r.ctrl.feedByte(b)
			if ferr != nil {
				r.log.WithError(ferr).Warn("urc poll: discarding malformed line")
				continue
			}
			if complete {
				return urcPollOutcome{gotLine: true, line: line}
			}
		case err := <-r.ctrl.bs.errs:
			return urcPollOutcome{err: &streamError{err: err}}
		case <-ctx.Done():
			return urcPollOutcome{err: ctx.Err()}
		}
	}
}

func (r *Runner) respond(ctx context.Context, err error) error {
	select {
	case r.respCh <- err:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) handleURC(line string) {
	r.log.Infof("handling URC: %s", line)
}
