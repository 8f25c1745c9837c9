package attransport

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Client is the lease-holder side of the AT transport: every exchange
// acquires exclusive use of the controller from the Runner, runs, and
// releases it again, so URC polling and other clients are suspended for the
// shortest possible window (spec.md §4.3).
type Client struct {
	reqCh  chan<- requestKind
	respCh <-chan error
	guard  *controllerGuard

	log *logrus.Entry
}

// UseController acquires exclusive access to the underlying Controller, runs
// fn, then releases it, regardless of whether fn returns an error.
func (c *Client) UseController(ctx context.Context, fn func(ctrl Controller) error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release(ctx)

	c.guard.mu.Lock()
	defer c.guard.mu.Unlock()
	return fn(c.guard.ctrl)
}

// SendCommand is a convenience wrapper for the common case of a single
// command/response exchange.
func (c *Client) SendCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	var resp CommandResponse
	err := c.UseController(ctx, func(ctrl Controller) error {
		var err error
		resp, err = ctrl.HandleCommand(ctx, req)
		return err
	})
	return resp, err
}

// ReadHTTP is a convenience wrapper around HandleHTTPRead.
func (c *Client) ReadHTTP(ctx context.Context, req HTTPReadRequest) (HTTPReadResponse, error) {
	var resp HTTPReadResponse
	err := c.UseController(ctx, func(ctrl Controller) error {
		var err error
		resp, err = ctrl.HandleHTTPRead(ctx, req)
		return err
	})
	return resp, err
}

// WriteHTTP is a convenience wrapper around HandleHTTPWrite.
func (c *Client) WriteHTTP(ctx context.Context, req HTTPWriteRequest) error {
	return c.UseController(ctx, func(ctrl Controller) error {
		return ctrl.HandleHTTPWrite(ctx, req)
	})
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.reqCh <- reqAcquire:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.respCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release(ctx context.Context) {
	select {
	case c.reqCh <- reqRelease:
	case <-ctx.Done():
		return
	}
	select {
	case <-c.respCh:
	case <-ctx.Done():
	}
}
