package vedirect

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
)

const (
	maxLabelLen     = 9
	maxValueLen     = 32
	maxFrameEntries = 20
)

// ErrCapacityExceeded is returned when a frame's label or value count would
// overflow the bounded per-frame buffers. The frame is discarded (treated
// like a checksum failure) rather than growing unboundedly.
var ErrCapacityExceeded = errors.New("vedirect: frame capacity exceeded")

var errChecksumMismatch = errors.New("vedirect: checksum mismatch")

// streamError wraps an error surfaced by the underlying byte stream itself
// (as opposed to a malformed frame), distinguishing "this connection is
// gone" from "this frame was garbage, keep scanning".
type streamError struct{ err error }

func (e *streamError) Error() string { return fmt.Sprintf("vedirect: stream error: %v", e.err) }
func (e *streamError) Unwrap() error { return e.err }

// FrameReader turns a continuous VE.Direct ASCII byte stream into validated
// Readings. It is restartable and lazy: each call to ReadNext blocks until
// exactly one well-formed, checksum-valid frame has been consumed, skipping
// over any malformed ones.
type FrameReader struct {
	stream io.Reader
	log    *logrus.Entry

	// single-byte read buffer, reused across calls to avoid per-byte
	// allocation on the hot path.
	byteBuf [1]byte
}

// NewFrameReader wraps stream, a byte-oriented VE.Direct sensor serial port.
func NewFrameReader(stream io.Reader, log *logrus.Entry) *FrameReader {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FrameReader{stream: stream, log: log.WithField("component", "vedirect")}
}

// ReadNext produces the next validated Reading. It never returns a Reading
// for a frame whose checksum does not validate; such frames are discarded
// with a logged warning and scanning resumes. It only returns an error when
// the underlying stream reports io.EOF, in which case the error is fatal and
// the FrameReader must not be reused; any other read error is logged and
// the read is retried.
func (f *FrameReader) ReadNext() (Reading, error) {
	for {
		fields, err := f.runOnce()
		if err == nil {
			return projectReading(fields), nil
		}
		var se *streamError
		if errors.As(err, &se) {
			return Reading{}, se
		}
		f.log.WithError(err).Warn("discarding malformed VE.Direct frame")
	}
}

// runOnce implements the per-frame state machine: Scanning-for-CR, then
// In-frame reading alternating label/value pairs until the "Checksum" label
// is seen, followed by the single checksum byte.
func (f *FrameReader) runOnce() (map[string]string, error) {
	var checksum byte

	// Scanning-for-CR: the checksum accumulator is cleared every time this
	// state is (re-)entered, including on re-entry after a mismatch below.
	for {
		b, err := f.readByte()
		if err != nil {
			return nil, err
		}
		if b == '\r' {
			break
		}
	}
	checksum += '\r'

	fields := make(map[string]string, maxFrameEntries)
	// In-frame.
	for {
		b, err := f.readByte()
		if err != nil {
			return nil, err
		}
		checksum += b

		label, err := f.readLabel(&checksum)
		if err != nil {
			return nil, err
		}

		if label == "Checksum" {
			checksumByte, err := f.readByte()
			if err != nil {
				return nil, err
			}
			checksum += checksumByte
			if checksum != 0 {
				return nil, errChecksumMismatch
			}
			return fields, nil
		}

		value, err := f.readValue(&checksum)
		if err != nil {
			return nil, err
		}
		if len(fields) >= maxFrameEntries {
			return nil, ErrCapacityExceeded
		}
		fields[label] = value
	}
}

func (f *FrameReader) readLabel(checksum *byte) (string, error) {
	var buf []byte
	for {
		b, err := f.readByte()
		if err != nil {
			return "", err
		}
		*checksum += b
		if b == '\t' {
			return string(buf), nil
		}
		if len(buf) >= maxLabelLen {
			return "", ErrCapacityExceeded
		}
		buf = append(buf, b)
	}
}

func (f *FrameReader) readValue(checksum *byte) (string, error) {
	var buf []byte
	for {
		b, err := f.readByte()
		if err != nil {
			return "", err
		}
		*checksum += b
		if b == '\r' {
			return string(buf), nil
		}
		if len(buf) >= maxValueLen {
			return "", ErrCapacityExceeded
		}
		buf = append(buf, b)
	}
}

func (f *FrameReader) readByte() (byte, error) {
	for {
		n, err := f.stream.Read(f.byteBuf[:])
		if n == 1 {
			return f.byteBuf[0], nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, &streamError{err: err}
			}
			f.log.WithError(err).Warn("transient VE.Direct read error, retrying")
			continue
		}
	}
}

// projectReading copies the known subset of labels ({V, I, VPV, PPV, IL})
// into a Reading, converting milli-units to SI units. Unknown labels are
// ignored; they have already participated in the checksum.
func projectReading(fields map[string]string) Reading {
	var r Reading
	if mv, ok := parseUint(fields["V"]); ok {
		r.BatteryVoltage = float64(mv) / 1000.0
	}
	if ma, ok := parseInt(fields["I"]); ok {
		r.BatteryCurrent = float64(ma) / 1000.0
	}
	if mv, ok := parseUint(fields["VPV"]); ok {
		r.PanelVoltage = float64(mv) / 1000.0
	}
	if w, ok := parseUint(fields["PPV"]); ok {
		r.PanelPower = float64(w)
	}
	if ma, ok := parseInt(fields["IL"]); ok {
		r.LoadCurrent = float64(ma) / 1000.0
	}
	return r
}

func parseUint(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func parseInt(s string) (int32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}
