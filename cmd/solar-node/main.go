// Command solar-node is the node's process entrypoint: it wires the AT
// transport, cellular driver, VE.Direct reader, solar monitor, cloud
// controller, and heartbeat task together and runs them until one fails or
// the process is asked to stop (spec.md §5: "five cooperating tasks ...
// joined in a single top-level future").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/bittailor/bt-solar-node/internal/attransport"
	"github.com/bittailor/bt-solar-node/internal/cellular"
	"github.com/bittailor/bt-solar-node/internal/cloud"
	"github.com/bittailor/bt-solar-node/internal/config"
	"github.com/bittailor/bt-solar-node/internal/gpio"
	"github.com/bittailor/bt-solar-node/internal/serialport"
	"github.com/bittailor/bt-solar-node/internal/solarmonitor"
	"github.com/bittailor/bt-solar-node/internal/vedirect"
	"github.com/bittailor/bt-solar-node/internal/wallclock"
)

// AveragingInterval is the VE.Direct averaging window (spec.md §8 scenario
// 5: readings five minutes apart produce the documented batch boundaries).
const AveragingInterval = 5 * time.Minute

// HeartbeatInterval is how often the LED task toggles its pin.
const HeartbeatInterval = time.Second

type options struct {
	envFile      string
	modemDevice  string
	sensorDevice string
	powerKeyPin  string
	resetPin     string
	heartbeatPin string
	logLevel     string
}

func main() {
	var o options

	root := &cobra.Command{
		Use:   "solar-node",
		Short: "Solar installation telemetry node: modem uplink, VE.Direct reader, cloud uploader",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVar(&o.envFile, "env-file", "", "path to a .env file overriding process environment (optional)")
	root.Flags().StringVar(&o.modemDevice, "modem-device", "", "cellular modem serial device (overrides config default)")
	root.Flags().StringVar(&o.sensorDevice, "sensor-device", "", "VE.Direct sensor serial device (overrides config default)")
	root.Flags().StringVar(&o.powerKeyPin, "power-key-pin", "GPIO17", "GPIO line name driving the modem POWER_KEY input")
	root.Flags().StringVar(&o.resetPin, "reset-pin", "GPIO27", "GPIO line name driving the modem RESET input")
	root.Flags().StringVar(&o.heartbeatPin, "heartbeat-pin", "GPIO22", "GPIO line name driving the heartbeat LED")
	root.Flags().StringVar(&o.logLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("solar-node exited with error")
	}
}

func run(ctx context.Context, o options) error {
	log, err := newLogger(o.logLevel)
	if err != nil {
		return err
	}

	cfg, err := config.Load(o.envFile)
	if err != nil {
		return err
	}
	if o.modemDevice != "" {
		cfg.ModemDevice = o.modemDevice
	}
	if o.sensorDevice != "" {
		cfg.SensorDevice = o.sensorDevice
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("solar-node: periph host init: %w", err)
	}

	powerKeyPin, err := lookupOutputPin(o.powerKeyPin)
	if err != nil {
		return err
	}
	resetPin, err := lookupOutputPin(o.resetPin)
	if err != nil {
		return err
	}
	heartbeatPin, err := lookupOutputPin(o.heartbeatPin)
	if err != nil {
		return err
	}

	modemStream, err := serialport.Open(serialport.ModemConfig(cfg.ModemDevice))
	if err != nil {
		return err
	}
	defer modemStream.Close()

	sensorStream, err := serialport.Open(serialport.SensorConfig(cfg.SensorDevice))
	if err != nil {
		return err
	}
	defer sensorStream.Close()

	sysClock := clock.New()
	wall := wallclock.New(sysClock, log)
	bootInstant := sysClock.Now()

	atRunner, atClient := attransport.New(modemStream, log)
	driver := cellular.New(atClient, powerKeyPin, resetPin, sysClock, log)

	avgCh := make(chan vedirect.Reading, vedirect.OutputChannelSize)
	uploadCh := make(chan []byte, solarmonitor.UploadChannelSize)

	vedirectRunner := vedirect.NewRunner(sensorStream, sysClock, avgCh, log)
	solarMonitorRunner := solarmonitor.NewRunner(wall, avgCh, uploadCh, log)

	uptime := func() uint32 { return uint32(sysClock.Now().Sub(bootInstant).Seconds()) }
	cloudCfg := cloud.Config{BaseURL: cfg.BackendBaseURL, Token: cfg.BackendToken, APN: cfg.APN}
	cloudController := cloud.New(cloudCfg, driver, wall, uploadCh, uptime, sysClock, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return atRunner.Run(ctx) })
	g.Go(func() error { return vedirectRunner.Run(ctx, AveragingInterval) })
	g.Go(func() error { return solarMonitorRunner.Run(ctx) })
	g.Go(func() error { return cloudController.Run(ctx) })
	g.Go(func() error { return gpio.RunHeartbeat(ctx, heartbeatPin, sysClock, HeartbeatInterval) })

	log.Info("solar-node started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("solar-node stopping")
	return nil
}

func newLogger(level string) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("solar-node: invalid --log-level %q: %w", level, err)
	}
	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetOutput(os.Stdout)
	return logrus.NewEntry(logger), nil
}

func lookupOutputPin(name string) (gpio.OutputPin, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("solar-node: no GPIO pin named %q", name)
	}
	return gpio.NewPeriphPin(pin), nil
}
