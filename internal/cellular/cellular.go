// Package cellular wraps the AT command layer and the two cellular power
// pins (POWER_KEY, RESET) behind a single power-cycle/network-startup state
// machine, the Go counterpart of the original's CellularModule (spec.md
// §4.5). Where the original's sim_com_a67.rs is itself an earlier, partly
// unfinished generation (its HTTP get() ends in `todo!()`), this package
// follows spec.md's fuller description instead.
package cellular

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/bittailor/bt-solar-node/internal/atcmd"
	"github.com/bittailor/bt-solar-node/internal/attransport"
	"github.com/bittailor/bt-solar-node/internal/gpio"
)

// Error is the single error type every driver operation can return,
// collapsing attransport/atcmd errors and GPIO failures the way the
// original's CellularError enum does (spec.md §7: "the cellular driver maps
// them to a single CellularError").
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("cellular: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Timings match spec.md §4.5's literal waveform and polling bounds.
const (
	powerKeyLow       = 50 * time.Millisecond
	powerOnSettle     = 8 * time.Second
	powerOnATTimeout  = 10 * time.Second
	powerDownSettle   = 2 * time.Second
	powerCycleBuffer  = 2 * time.Second
	resetPinLow       = 2500 * time.Millisecond
	resetSettle       = 5 * time.Second
	aliveCheckTimeout = 200 * time.Millisecond
	registrationPoll  = 1 * time.Second
)

// Commander is the subset of attransport.Client the driver and its HTTP
// session need.
type Commander interface {
	SendCommand(ctx context.Context, req attransport.CommandRequest) (attransport.CommandResponse, error)
	ReadHTTP(ctx context.Context, req attransport.HTTPReadRequest) (attransport.HTTPReadResponse, error)
	WriteHTTP(ctx context.Context, req attransport.HTTPWriteRequest) error
}

// Driver is the cellular modem power/network-state machine. A Driver is not
// safe for concurrent use; the cloud controller is its single owner task
// (spec.md §5).
type Driver struct {
	client Commander
	pwrkey gpio.OutputPin
	reset  gpio.OutputPin
	clock  clock.Clock
	log    *logrus.Entry

	httpInitialized bool
}

// New returns a Driver that issues commands through client and drives pwrkey
// and reset.
func New(client Commander, pwrkey, reset gpio.OutputPin, clk clock.Clock, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{
		client: client,
		pwrkey: pwrkey,
		reset:  reset,
		clock:  clk,
		log:    log.WithField("component", "cellular"),
	}
}

func (d *Driver) sleep(ctx context.Context, duration time.Duration) error {
	timer := d.clock.Timer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAlive sends a bare "AT" with a 200ms timeout and reports whether the
// modem answered OK.
func (d *Driver) IsAlive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, aliveCheckTimeout)
	defer cancel()
	req := attransport.NewCommandRequest("AT").WithTimeout(aliveCheckTimeout)
	resp, err := d.client.SendCommand(ctx, req)
	if err != nil {
		return false
	}
	return resp.EnsureLines(0) == nil
}

// PowerOn drives POWER_KEY low for 50ms then high, waits for the modem to
// boot, polls AT until it answers, enables automatic time/zone update, and
// resets the lazy-HTTPINIT flag for the new power-on cycle.
func (d *Driver) PowerOn(ctx context.Context) error {
	d.log.Info("power on ...")
	if err := d.pwrkey.SetLow(); err != nil {
		return wrap("power_on", err)
	}
	if err := d.sleep(ctx, powerKeyLow); err != nil {
		return wrap("power_on", err)
	}
	if err := d.pwrkey.SetHigh(); err != nil {
		return wrap("power_on", err)
	}

	d.log.Info("... wait to startup ...")
	if err := d.sleep(ctx, powerOnSettle); err != nil {
		return wrap("power_on", err)
	}

	d.log.Info("... check AT ...")
	if err := d.ensureAlive(ctx, powerOnATTimeout); err != nil {
		return wrap("power_on", err)
	}

	if err := atcmd.SetAutomaticTimeZoneUpdate(ctx, d.client, true); err != nil {
		return wrap("power_on", err)
	}
	d.httpInitialized = false
	d.log.Info("... power on done")
	return nil
}

// ensureAlive polls IsAlive until it succeeds or timeout elapses.
func (d *Driver) ensureAlive(ctx context.Context, timeout time.Duration) error {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for !d.IsAlive(deadline) {
		if deadline.Err() != nil {
			return attransport.ErrTimeout
		}
	}
	return nil
}

// PowerDown issues AT+CPOF and then waits 4s (2s off plus a 2s buffer).
func (d *Driver) PowerDown(ctx context.Context) error {
	d.log.Info("power down ...")
	if err := atcmd.PowerDown(ctx, d.client); err != nil {
		return wrap("power_down", err)
	}
	if err := d.sleep(ctx, powerDownSettle+powerCycleBuffer); err != nil {
		return wrap("power_down", err)
	}
	d.log.Info("... power down done")
	return nil
}

// PowerCycle powers the modem down first if it answers, then powers it back
// on (spec.md §4.5).
func (d *Driver) PowerCycle(ctx context.Context) error {
	if d.IsAlive(ctx) {
		if err := d.PowerDown(ctx); err != nil {
			return err
		}
	}
	return d.PowerOn(ctx)
}

// Reset drives RESET low for 2.5s then releases it and waits for the module
// to restart.
func (d *Driver) Reset(ctx context.Context) error {
	d.log.Info("reset ...")
	if err := d.reset.SetLow(); err != nil {
		return wrap("reset", err)
	}
	if err := d.sleep(ctx, resetPinLow); err != nil {
		return wrap("reset", err)
	}
	if err := d.reset.SetHigh(); err != nil {
		return wrap("reset", err)
	}
	d.log.Info("... wait for module to start ...")
	if err := d.sleep(ctx, resetSettle); err != nil {
		return wrap("reset", err)
	}
	d.httpInitialized = false
	d.log.Info("... reset done")
	return nil
}

// StartupNetwork configures apn and waits for network registration. The RTC
// read at the end is best-effort: spec.md §9 resolves the open question of
// whether the first CCLK read may race the modem's own network-time sync by
// making it non-fatal — a parse failure here is only logged.
func (d *Driver) StartupNetwork(ctx context.Context, apn string) error {
	if err := atcmd.SetAPN(ctx, d.client, apn); err != nil {
		return wrap("startup_network", err)
	}
	if err := d.waitForRegistration(ctx); err != nil {
		return wrap("startup_network", err)
	}

	raw, err := atcmd.QueryRealTimeClock(ctx, d.client)
	if err != nil {
		d.log.WithError(err).Warn("startup RTC query failed, continuing anyway")
		return nil
	}
	if _, err := atcmd.ParseRTC(raw); err != nil {
		d.log.WithError(err).Warn("startup RTC value did not parse, continuing anyway")
	}
	return nil
}

func (d *Driver) waitForRegistration(ctx context.Context) error {
	for {
		_, state, err := atcmd.QueryNetworkRegistration(ctx, d.client)
		if err != nil {
			return err
		}
		switch state {
		case atcmd.Registered, atcmd.RegisteredRoaming:
			return nil
		case atcmd.RegistrationDenied:
			return errors.New("cellular: registration denied")
		}
		d.log.WithField("state", state).Debug("waiting for network registration")
		if err := d.sleep(ctx, registrationPoll); err != nil {
			return err
		}
	}
}

// WakeUp loops IsAlive until the modem responds, then waits for network
// registration (spec.md §4.5) — used coming out of RX sleep, where the
// modem is already powered and networked, just not yet answering.
func (d *Driver) WakeUp(ctx context.Context) error {
	for !d.IsAlive(ctx) {
		if err := d.sleep(ctx, registrationPoll); err != nil {
			return wrap("wake_up", err)
		}
	}
	if err := d.waitForRegistration(ctx); err != nil {
		return wrap("wake_up", err)
	}
	return nil
}

// SetSleepMode issues AT+CSCLK=<mode>, e.g. to put the modem into RxSleep
// while the cloud controller is in its Sleeping state.
func (d *Driver) SetSleepMode(ctx context.Context, mode atcmd.SleepMode) error {
	return wrap("set_sleep_mode", atcmd.SetSleepMode(ctx, d.client, mode))
}

// QuerySignalQuality issues AT+CSQ and returns the dBm RSSI.
func (d *Driver) QuerySignalQuality(ctx context.Context) (atcmd.Rssi, error) {
	rssi, _, err := atcmd.QuerySignalQuality(ctx, d.client)
	return rssi, wrap("query_signal_quality", err)
}

// QueryRealTimeClock issues AT+CCLK? and parses the result to UTC.
func (d *Driver) QueryRealTimeClock(ctx context.Context) (time.Time, error) {
	raw, err := atcmd.QueryRealTimeClock(ctx, d.client)
	if err != nil {
		return time.Time{}, wrap("query_real_time_clock", err)
	}
	t, err := atcmd.ParseRTC(raw)
	if err != nil {
		return time.Time{}, wrap("query_real_time_clock", err)
	}
	return t, nil
}

// Request returns a new ephemeral HTTP request handle bound to this driver's
// modem session (spec.md §4.5). AT+HTTPINIT is issued lazily, once per
// power-on cycle, the first time any Request needs it.
func (d *Driver) Request() *HTTPRequest {
	return &HTTPRequest{driver: d}
}
