// Package cloud implements the node's cloud-upload state machine (spec.md
// §4.6): a three-state controller {Startup, Connected, Sleeping} that owns
// the cellular modem and drives it through power-up, registration, and
// periodic HTTP uploads, recovering from any modem error by resetting and
// restarting from Startup.
package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/bittailor/bt-solar-node/internal/atcmd"
	"github.com/bittailor/bt-solar-node/internal/attransport"
	"github.com/bittailor/bt-solar-node/internal/cellular"
	"github.com/bittailor/bt-solar-node/internal/pb"
)

// UploadDrainTimeout bounds how long Connected waits for a payload before
// declaring the link offline (spec.md §5).
const UploadDrainTimeout = 4 * time.Second

// ResetRetryInterval is the fixed spacing between reset attempts during
// recovery (spec.md §4.6: "retrying every 30 s until it succeeds").
const ResetRetryInterval = 30 * time.Second

const (
	readingPath = "/api/v2/solar/reading"
	eventPath   = "/api/v2/solar/event"
)

// Driver is the subset of *cellular.Driver the controller needs.
type Driver interface {
	PowerCycle(ctx context.Context) error
	Reset(ctx context.Context) error
	StartupNetwork(ctx context.Context, apn string) error
	QueryRealTimeClock(ctx context.Context) (time.Time, error)
	SetSleepMode(ctx context.Context, mode atcmd.SleepMode) error
	WakeUp(ctx context.Context) error
	Request() *cellular.HTTPRequest
}

// WallClock is the one method the controller needs from *wallclock.Service.
type WallClock interface {
	Sync(utc time.Time)
}

// Config is the node's cloud-backend configuration (spec.md §6).
type Config struct {
	BaseURL string
	Token   string
	APN     string
}

type state int

const (
	stateStartup state = iota
	stateConnected
	stateSleeping
)

func (s state) String() string {
	switch s {
	case stateStartup:
		return "Startup"
	case stateConnected:
		return "Connected"
	case stateSleeping:
		return "Sleeping"
	default:
		return "unknown"
	}
}

// Controller runs the cloud upload state machine. Not safe for concurrent
// use; it is the sole owner of its Driver (spec.md §5).
type Controller struct {
	cfg      Config
	driver   Driver
	wall     WallClock
	clk      clock.Clock
	uptime   func() uint32
	uploadCh <-chan []byte
	log      *logrus.Entry

	state   state
	pending []byte // an upload payload received while Sleeping, not yet POSTed
}

// New returns a Controller reading upload payloads from uploadCh. uptime
// reports seconds since process start, for the StartupEvent/OfflineEvent/
// OnlineEvent payloads. clk times the Connected-state upload wait (use
// clock.New() in production, clock.NewMock() in tests).
func New(cfg Config, driver Driver, wallClock WallClock, uploadCh <-chan []byte, uptime func() uint32, clk clock.Clock, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		cfg:      cfg,
		driver:   driver,
		wall:     wallClock,
		clk:      clk,
		uploadCh: uploadCh,
		uptime:   uptime,
		log:      log.WithField("component", "cloud-controller"),
		state:    stateStartup,
	}
}

// Run drives the state machine until ctx is cancelled. It never returns a
// cellular error: any such error triggers the recovery path (spec.md §4.6,
// "the controller never panics").
func (c *Controller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var err error
		switch c.state {
		case stateStartup:
			err = c.runStartup(ctx)
		case stateConnected:
			err = c.runConnected(ctx)
		case stateSleeping:
			err = c.runSleeping(ctx)
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.WithError(err).WithField("state", c.state).Error("cellular error, recovering")
		if err := c.recover(ctx); err != nil {
			return err
		}
		c.state = stateStartup
	}
}

// recover resets the modem, retrying every ResetRetryInterval until it
// succeeds or ctx is cancelled. It never drops the pending upload channel:
// Startup does not consume it either, so items queue until Connected.
func (c *Controller) recover(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(ResetRetryInterval), ctx)
	return backoff.Retry(func() error {
		return c.driver.Reset(ctx)
	}, b)
}

func (c *Controller) runStartup(ctx context.Context) error {
	if err := c.driver.PowerCycle(ctx); err != nil {
		return err
	}
	if err := c.driver.StartupNetwork(ctx, c.cfg.APN); err != nil {
		return err
	}
	now, err := c.driver.QueryRealTimeClock(ctx)
	if err != nil {
		return err
	}
	c.wall.Sync(now)

	c.state = stateConnected
	if err := c.postEvent(ctx, pb.EventStartup); err != nil {
		c.log.WithError(err).Warn("failed to post startup event")
	}
	return nil
}

func (c *Controller) runConnected(ctx context.Context) error {
	payload := c.pending
	c.pending = nil
	if payload == nil {
		timer := c.clk.Timer(UploadDrainTimeout)
		defer timer.Stop()
		select {
		case payload = <-c.uploadCh:
		case <-timer.C:
			return c.goOffline(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	status, body, err := c.postPayload(ctx, readingPath, payload)
	if err != nil {
		return err
	}
	c.log.WithField("status", status).Info("uploaded reading batch")
	if body != nil {
		c.drain(ctx, body)
	}
	return nil
}

func (c *Controller) goOffline(ctx context.Context) error {
	if err := c.postEvent(ctx, pb.EventOffline); err != nil {
		c.log.WithError(err).Warn("failed to post offline event")
	}
	if err := c.driver.SetSleepMode(ctx, atcmd.SleepRX); err != nil {
		return err
	}
	c.state = stateSleeping
	return nil
}

func (c *Controller) runSleeping(ctx context.Context) error {
	select {
	case payload := <-c.uploadCh:
		c.pending = payload
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.driver.WakeUp(ctx); err != nil {
		return err
	}
	c.state = stateConnected
	if err := c.postEvent(ctx, pb.EventOnline); err != nil {
		c.log.WithError(err).Warn("failed to post online event")
	}
	return nil
}

func (c *Controller) postEvent(ctx context.Context, kind pb.EventKind) error {
	event := pb.SystemEvent{Kind: kind, UptimeSeconds: c.uptime()}
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("cloud: encoding system event: %w", err)
	}
	_, body, err := c.postPayload(ctx, eventPath, data)
	if err != nil {
		return err
	}
	if body != nil {
		c.drain(ctx, body)
	}
	return nil
}

func (c *Controller) postPayload(ctx context.Context, path string, data []byte) (int, *cellular.HttpResponseBody, error) {
	req := c.driver.Request()
	if err := req.SetHeader(ctx, "Connection", "Keep-Alive"); err != nil {
		return 0, nil, err
	}
	if err := req.SetHeader(ctx, "X-Token", c.cfg.Token); err != nil {
		return 0, nil, err
	}
	status, body, err := req.Post(ctx, c.cfg.BaseURL+path, data)
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

// drain reads the response body to completion into a scratch buffer and
// discards it, so the modem's HTTP buffer is clear for the next exchange.
func (c *Controller) drain(ctx context.Context, body *cellular.HttpResponseBody) {
	buf := make([]byte, attransport.MaxReadBufferSize)
	for {
		n, err := body.Read(ctx, buf)
		if err != nil {
			c.log.WithError(err).Warn("failed to drain response body")
			return
		}
		if n == 0 {
			return
		}
	}
}
