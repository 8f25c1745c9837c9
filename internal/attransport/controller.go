package attransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Stream is the byte-oriented transport a Controller drives: the real UART
// to the cellular modem in production (internal/serialport), an in-memory
// pipe in tests.
type Stream interface {
	io.Reader
	io.Writer
}

// Controller is the low-level driver of a single AT command/response
// exchange, an HTTP byte transfer, or a URC poll. It owns the stream
// exclusively for the duration of any one call; exclusivity across calls is
// the Runner/Client's job, not the Controller's.
type Controller interface {
	HandleCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)
	HandleHTTPRead(ctx context.Context, req HTTPReadRequest) (HTTPReadResponse, error)
	HandleHTTPWrite(ctx context.Context, req HTTPWriteRequest) error
	PollURC(ctx context.Context) (string, error)
}

// streamError wraps a terminal error from the underlying stream (closed,
// hardware fault), distinguishing it from a recoverable framing problem
// (capacity overflow, timeout) the same way internal/vedirect does.
type streamError struct{ err error }

func (e *streamError) Error() string { return fmt.Sprintf("attransport: stream error: %v", e.err) }
func (e *streamError) Unwrap() error { return e.err }

// ControllerImpl is the concrete Controller for a real or simulated AT
// stream: line framing at CRLF, echo suppression, and the
// command/HTTP-read/HTTP-write/URC operations of spec.md §4.3-4.4.
type ControllerImpl struct {
	stream io.Writer
	bs     *byteSource

	lineBuf []byte
	haveCR  bool

	log *logrus.Entry
}

// NewControllerImpl wraps stream. The returned controller owns stream for
// its entire lifetime; it must not be read from or written to elsewhere.
func NewControllerImpl(stream Stream, log *logrus.Entry) *ControllerImpl {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ControllerImpl{
		stream:  stream,
		bs:      newByteSource(stream),
		lineBuf: make([]byte, 0, BufferSize),
		log:     log.WithField("component", "at-controller"),
	}
}

func (c *ControllerImpl) HandleCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if err := c.writeLine(req.Command); err != nil {
		return CommandResponse{}, err
	}
	c.log.Debugf("UART.TX> %s", req.Command)

	deadline := time.Now().Add(req.Timeout)
	lines, err := c.readResponseLines(ctx, req.Command, deadline)
	if err != nil {
		return CommandResponse{}, err
	}

	if req.URCPrefix != "" {
		urcLines, err := c.readLineUntilURC(ctx, req.URCPrefix, deadline)
		if err != nil {
			return CommandResponse{}, err
		}
		lines = append(lines, urcLines...)
	}
	return CommandResponse{Lines: lines}, nil
}

func (c *ControllerImpl) HandleHTTPRead(ctx context.Context, req HTTPReadRequest) (HTTPReadResponse, error) {
	cmd := fmt.Sprintf("AT+HTTPREAD=%d,%d", req.Offset, req.Len)
	if err := c.writeLine(cmd); err != nil {
		return HTTPReadResponse{}, err
	}

	deadline := time.Now().Add(10 * time.Second)
	if _, err := c.readResponseLines(ctx, cmd, deadline); err != nil {
		return HTTPReadResponse{}, err
	}

	readDeadline := time.Now().Add(120 * time.Second)
	startTag := fmt.Sprintf("+HTTPREAD: %d", req.Len)
	if _, err := c.readLineUntilURC(ctx, startTag, readDeadline); err != nil {
		return HTTPReadResponse{}, err
	}

	data := make([]byte, req.Len)
	if err := c.readExact(ctx, data, readDeadline); err != nil {
		return HTTPReadResponse{}, err
	}

	if _, err := c.readLineUntilURC(ctx, "+HTTPREAD: 0", readDeadline); err != nil {
		return HTTPReadResponse{}, err
	}
	return HTTPReadResponse{Data: data}, nil
}

func (c *ControllerImpl) HandleHTTPWrite(ctx context.Context, req HTTPWriteRequest) error {
	cmd := fmt.Sprintf("AT+HTTPDATA=%d,%d", len(req.Data), 60)
	if err := c.writeLine(cmd); err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	if _, err := c.readResponseLines(ctx, cmd, deadline); err != nil { // expects "DOWNLOAD"
		return err
	}

	if err := c.writeAll(req.Data); err != nil {
		return err
	}

	finalDeadline := time.Now().Add(10 * time.Second)
	_, err := c.readResponseLines(ctx, "", finalDeadline) // expects "OK"
	return err
}

// PollURC blocks until exactly one URC line is available, retrying past any
// recoverable framing error. It only returns a non-nil error when ctx is
// cancelled or the stream itself has failed.
func (c *ControllerImpl) PollURC(ctx context.Context) (string, error) {
	for {
		line, err := c.readLine(ctx, time.Time{})
		if err == nil {
			c.log.Debugf("URC.RX> %s", line)
			return line, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var se *streamError
		if errors.As(err, &se) {
			return "", se
		}
		c.log.WithError(err).Warn("urc poll: discarding malformed line")
	}
}

func (c *ControllerImpl) writeLine(command string) error {
	if err := c.writeAll([]byte(command)); err != nil {
		return err
	}
	return c.writeAll([]byte("\r\n"))
}

func (c *ControllerImpl) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := c.stream.Write(buf)
		if err != nil {
			return fmt.Errorf("attransport: write failed: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func (c *ControllerImpl) readResponseLines(ctx context.Context, command string, deadline time.Time) ([]string, error) {
	var lines []string
	for {
		line, err := c.readLine(ctx, deadline)
		if err != nil {
			return nil, err
		}
		switch line {
		case "OK", "DOWNLOAD":
			return lines, nil
		case "ERROR":
			return lines, ErrModemError
		default:
			if line == command {
				continue // echo of the command we just sent
			}
			if len(lines) >= MaxResponseLines {
				return nil, ErrCapacity
			}
			lines = append(lines, line)
		}
	}
}

func (c *ControllerImpl) readLineUntilURC(ctx context.Context, prefix string, deadline time.Time) ([]string, error) {
	var lines []string
	for {
		line, err := c.readLine(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if len(lines) >= MaxResponseLines {
			return nil, ErrCapacity
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, prefix) {
			return lines, nil
		}
	}
}

func (c *ControllerImpl) readExact(ctx context.Context, buf []byte, deadline time.Time) error {
	for i := range buf {
		b, err := c.readByte(ctx, deadline)
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// readLine assembles the next complete CRLF-terminated line, blocking as
// needed. State (a partial line, a lone '\r') persists across calls on
// c.lineBuf/c.haveCR exactly as it does on the original's self.line_buffer,
// so a call that ends on a timeout or cancellation does not lose
// already-read bytes; a capacity overflow discards the partial line. A zero
// deadline means "no timeout other than ctx".
func (c *ControllerImpl) readLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		b, err := c.readByte(ctx, deadline)
		if err != nil {
			return "", err
		}
		line, complete, ferr := c.feedByte(b)
		if ferr != nil {
			return "", ferr
		}
		if complete {
			return line, nil
		}
	}
}

// feedByte folds one raw byte into the line-framing state machine: CR sets
// a pending flag, LF closes the line (warning if CR was not seen first, per
// spec.md §4.3), any other byte accumulates into the bounded buffer. An
// empty line (bare CRLF) is silently dropped, matching the original.
func (c *ControllerImpl) feedByte(b byte) (line string, complete bool, err error) {
	switch b {
	case '\r':
		c.haveCR = true
		return "", false, nil
	case '\n':
		hadCR := c.haveCR
		c.haveCR = false
		if !hadCR {
			c.log.Warn("line feed without preceding carriage return")
		}
		if len(c.lineBuf) == 0 {
			return "", false, nil
		}
		line = string(c.lineBuf)
		c.lineBuf = c.lineBuf[:0]
		return line, true, nil
	default:
		if len(c.lineBuf) >= BufferSize {
			c.lineBuf = c.lineBuf[:0]
			return "", false, ErrCapacity
		}
		c.lineBuf = append(c.lineBuf, b)
		return "", false, nil
	}
}

// readByte blocks for the next raw byte, bounded by deadline (if non-zero)
// and ctx. A terminal stream error is wrapped as *streamError.
func (c *ControllerImpl) readByte(ctx context.Context, deadline time.Time) (byte, error) {
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, ErrTimeout
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case b := <-c.bs.bytes:
		return b, nil
	case err := <-c.bs.errs:
		return 0, &streamError{err: err}
	case <-timeoutCh:
		return 0, ErrTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
