// Package solarmonitor consumes averaged VE.Direct readings and produces
// bounded upload batches (spec.md §4.7), the Go counterpart of the
// original's solar-monitor task.
package solarmonitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bittailor/bt-solar-node/internal/pb"
	"github.com/bittailor/bt-solar-node/internal/vedirect"
)

// UploadChannelSize bounds the upload channel (spec.md §5).
const UploadChannelSize = 4

// Clock is the single method the monitor needs from wallclock.Service: the
// current UTC instant, or ok=false if the clock has never synchronized.
type Clock interface {
	Now() (time.Time, bool)
}

// Runner consumes averaged readings from in and pushes completed Upload
// batches (encoded bytes) onto out.
type Runner struct {
	clock Clock
	in    <-chan vedirect.Reading
	out   chan<- []byte
	log   *logrus.Entry

	batch *pb.Upload
}

// NewRunner returns a Runner reading from in and writing encoded Upload
// payloads to out.
func NewRunner(clk Clock, in <-chan vedirect.Reading, out chan<- []byte, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		clock: clk,
		in:    in,
		out:   out,
		log:   log.WithField("component", "solar-monitor"),
	}
}

// Run consumes readings from in until ctx is cancelled or in is closed.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case reading, ok := <-r.in:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, reading); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) handle(ctx context.Context, reading vedirect.Reading) error {
	now, ok := r.clock.Now()
	if !ok {
		r.log.Warn("dropping reading: wall clock not yet synchronized")
		return nil
	}

	if r.batch == nil {
		r.batch = &pb.Upload{StartTimestamp: now.Unix()}
	}

	offset := int32(now.Unix() - r.batch.StartTimestamp)
	r.batch.Entries = append(r.batch.Entries, pb.UploadEntry{
		OffsetInSeconds: offset,
		Reading:         toProtoReading(reading),
	})

	if len(r.batch.Entries) >= pb.MaxUploadEntries {
		return r.flush(ctx)
	}
	return nil
}

// flush encodes the current batch and pushes it onto out, starting the next
// batch fresh on the following reading (spec.md §4.7, §8 scenario 5).
func (r *Runner) flush(ctx context.Context) error {
	data, err := r.batch.Marshal()
	r.batch = nil
	if err != nil {
		r.log.WithError(err).Error("failed to encode upload batch")
		return nil
	}
	select {
	case r.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toProtoReading scales volts/amperes to milli-units (×1000, signed 32-bit)
// and keeps watts as an integer, per spec.md §4.7.
func toProtoReading(r vedirect.Reading) pb.Reading {
	return pb.Reading{
		BatteryVoltage: int32(r.BatteryVoltage * 1000),
		BatteryCurrent: int32(r.BatteryCurrent * 1000),
		PanelVoltage:   int32(r.PanelVoltage * 1000),
		PanelPower:     int32(r.PanelPower),
		LoadCurrent:    int32(r.LoadCurrent * 1000),
	}
}
