package attransport

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModem scripts a scripted AT modem on one end of a net.Pipe, reading
// whatever the controller under test writes and replying on cue.
type fakeModem struct {
	r *bufio.Reader
	w net.Conn
}

func newFakeModem(conn net.Conn) *fakeModem {
	return &fakeModem{r: bufio.NewReader(conn), w: conn}
}

func (m *fakeModem) expectLine(t *testing.T, want string) {
	t.Helper()
	line, err := m.r.ReadString('\n')
	require.NoError(t, err)
	got := line
	for len(got) > 0 && (got[len(got)-1] == '\n' || got[len(got)-1] == '\r') {
		got = got[:len(got)-1]
	}
	assert.Equal(t, want, got)
}

func (m *fakeModem) reply(t *testing.T, raw string) {
	t.Helper()
	_, err := m.w.Write([]byte(raw))
	require.NoError(t, err)
}

func TestHandleCommandOK(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()

	ctrl := NewControllerImpl(client, nil)
	modem := newFakeModem(modemConn)

	go func() {
		modem.expectLine(t, "AT+CSQ")
		modem.reply(t, "AT+CSQ\r\n+CSQ: 15,99\r\n\r\nOK\r\n")
	}()

	resp, err := ctrl.HandleCommand(context.Background(), NewCommandRequest("AT+CSQ"))
	require.NoError(t, err)
	require.NoError(t, resp.EnsureLines(1))
	line, err := resp.Line(0)
	require.NoError(t, err)
	assert.Equal(t, "+CSQ: 15,99", line)
}

func TestHandleCommandError(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()

	ctrl := NewControllerImpl(client, nil)
	modem := newFakeModem(modemConn)

	go func() {
		modem.expectLine(t, "AT+BOGUS")
		modem.reply(t, "AT+BOGUS\r\nERROR\r\n")
	}()

	_, err := ctrl.HandleCommand(context.Background(), NewCommandRequest("AT+BOGUS"))
	assert.ErrorIs(t, err, ErrModemError)
}

func TestHandleCommandTimeout(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()

	ctrl := NewControllerImpl(client, nil)
	modem := newFakeModem(modemConn)
	go func() {
		modem.expectLine(t, "AT")
		// never replies
	}()

	req := NewCommandRequest("AT").WithTimeout(20 * time.Millisecond)
	_, err := ctrl.HandleCommand(context.Background(), req)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHandleCommandWithURCPrefix(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()

	ctrl := NewControllerImpl(client, nil)
	modem := newFakeModem(modemConn)

	go func() {
		modem.expectLine(t, "AT+HTTPACTION=1")
		modem.reply(t, "AT+HTTPACTION=1\r\nOK\r\n+HTTPACTION: 1,200,348\r\n")
	}()

	req := NewCommandRequest("AT+HTTPACTION=1").
		WithTimeout(time.Second).
		WithURCPrefix("+HTTPACTION: ")
	resp, err := ctrl.HandleCommand(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, resp.EnsureLines(1))
	line, _ := resp.Line(0)
	assert.Equal(t, "+HTTPACTION: 1,200,348", line)
}

func TestHandleHTTPReadRoundTrip(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()

	ctrl := NewControllerImpl(client, nil)
	modem := newFakeModem(modemConn)

	payload := []byte("hello-http-body")
	go func() {
		modem.expectLine(t, "AT+HTTPREAD=0,15")
		modem.reply(t, "AT+HTTPREAD=0,15\r\nOK\r\n")
		modem.reply(t, "+HTTPREAD: 15\r\n")
		modem.reply(t, string(payload))
		modem.reply(t, "+HTTPREAD: 0\r\n")
	}()

	resp, err := ctrl.HandleHTTPRead(context.Background(), HTTPReadRequest{Offset: 0, Len: len(payload)})
	require.NoError(t, err)
	assert.Equal(t, payload, resp.Data)
}

func TestHandleHTTPWriteRoundTrip(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()

	ctrl := NewControllerImpl(client, nil)
	modem := newFakeModem(modemConn)

	payload := []byte("abc")
	go func() {
		modem.expectLine(t, "AT+HTTPDATA=3,60")
		modem.reply(t, "AT+HTTPDATA=3,60\r\nDOWNLOAD\r\n")
		buf := make([]byte, len(payload))
		_, err := modem.r.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, payload, buf)
		modem.reply(t, "OK\r\n")
	}()

	req, err := NewHTTPWriteRequest(payload)
	require.NoError(t, err)
	require.NoError(t, ctrl.HandleHTTPWrite(context.Background(), req))
}

func TestPollURCReturnsLine(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()

	ctrl := NewControllerImpl(client, nil)
	go func() {
		modemConn.Write([]byte("+CREG: 1,1\r\n"))
	}()

	line, err := ctrl.PollURC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "+CREG: 1,1", line)
}

func TestPollURCStopsOnContextCancel(t *testing.T) {
	client, modemConn := net.Pipe()
	defer client.Close()
	defer modemConn.Close()
	_ = modemConn

	ctrl := NewControllerImpl(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ctrl.PollURC(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFeedByteEmptyLineDropped(t *testing.T) {
	ctrl := NewControllerImpl(&discardStream{}, nil)
	_, complete, err := ctrl.feedByte('\r')
	require.NoError(t, err)
	assert.False(t, complete)
	_, complete, err = ctrl.feedByte('\n')
	require.NoError(t, err)
	assert.False(t, complete, "bare CRLF carries no content and is dropped")
}

func TestFeedByteCapacityExceeded(t *testing.T) {
	ctrl := NewControllerImpl(&discardStream{}, nil)
	for i := 0; i < BufferSize; i++ {
		_, _, err := ctrl.feedByte('x')
		require.NoError(t, err)
	}
	_, _, err := ctrl.feedByte('x')
	assert.ErrorIs(t, err, ErrCapacity)
}

// discardStream is a Stream that never produces bytes and swallows writes,
// for tests that only exercise the line-framing state machine directly.
type discardStream struct{}

func (discardStream) Read(p []byte) (int, error)  { select {} }
func (discardStream) Write(p []byte) (int, error) { return len(p), nil }
