package cloud

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bittailor/bt-solar-node/internal/attransport"
	"github.com/bittailor/bt-solar-node/internal/cellular"
	"github.com/bittailor/bt-solar-node/internal/gpio"
	"github.com/bittailor/bt-solar-node/internal/pb"
)

// fakeModem scripts a modem on one end of a net.Pipe; mirrors the transport
// and cellular packages' own test helper of the same shape.
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

func (m *fakeModem) readExact(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(m.r, buf)
	require.NoError(t, err)
	return buf
}

type fakeWallClock struct {
	synced time.Time
}

func (c *fakeWallClock) Sync(t time.Time) { c.synced = t }

func newTestController(t *testing.T) (*Controller, *fakeModem, *clock.Mock, chan []byte, *fakeWallClock) {
	t.Helper()
	clientConn, modemConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); modemConn.Close() })

	runner, client := attransport.New(clientConn, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go runner.Run(ctx)

	driver := cellular.New(client, gpio.NewSimPin(), gpio.NewSimPin(), clock.New(), nil)
	mock := clock.NewMock()
	uploadCh := make(chan []byte, 4)
	wall := &fakeWallClock{}

	ctrl := New(
		Config{BaseURL: "https://backend.example.com", Token: "secret-token", APN: "gprs.swisscom.ch"},
		driver,
		wall,
		uploadCh,
		func() uint32 { return 42 },
		mock,
		logrus.NewEntry(logrus.StandardLogger()),
	)
	return ctrl, newFakeModem(modemConn), mock, uploadCh, wall
}

func advanceAfterSleep(t *testing.T, mock *clock.Mock, d time.Duration) {
	t.Helper()
	time.Sleep(5 * time.Millisecond)
	mock.Add(d)
}

// scriptHTTPPost drives one complete SetHeader+SetHeader+SetURL+HTTPDATA+
// HTTPACTION exchange for a POST to path with an empty response body, and
// returns the raw bytes the driver wrote as the request body. httpInitDone
// tracks whether AT+HTTPINIT has already been scripted for this driver.
func scriptHTTPPost(t *testing.T, modem *fakeModem, path string, httpInitDone *bool) []byte {
	t.Helper()
	if !*httpInitDone {
		modem.expectLine(t, "AT+HTTPINIT")
		modem.reply(t, "AT+HTTPINIT\r\n\r\nOK\r\n")
		*httpInitDone = true
	}
	modem.expectLine(t, `AT+HTTPPARA="USERDATA","Connection: Keep-Alive"`)
	modem.reply(t, "AT+HTTPPARA=\"USERDATA\",\"Connection: Keep-Alive\"\r\n\r\nOK\r\n")
	modem.expectLine(t, `AT+HTTPPARA="USERDATA","X-Token: secret-token"`)
	modem.reply(t, "AT+HTTPPARA=\"USERDATA\",\"X-Token: secret-token\"\r\n\r\nOK\r\n")
	modem.expectLine(t, `AT+HTTPPARA="URL","https://backend.example.com`+path+`"`)
	modem.reply(t, "AT+HTTPPARA=\"URL\",\"https://backend.example.com"+path+"\"\r\n\r\nOK\r\n")

	line, err := modem.r.ReadString('\n')
	require.NoError(t, err)
	var n int
	_, err = fmt.Sscanf(line, "AT+HTTPDATA=%d,60\r\n", &n)
	require.NoError(t, err)
	modem.reply(t, "\r\nDOWNLOAD\r\n")

	body := modem.readExact(t, n)
	modem.reply(t, "\r\nOK\r\n")

	modem.expectLine(t, "AT+HTTPACTION=1")
	modem.reply(t, "AT+HTTPACTION=1\r\n\r\nOK\r\n+HTTPACTION: 1,200,0\r\n")
	return body
}

func TestConnectedUploadsPendingPayloadAndStaysConnected(t *testing.T) {
	ctrl, modem, _, uploadCh, _ := newTestController(t)
	ctrl.state = stateConnected

	payload := []byte("upload-bytes")
	uploadCh <- payload

	done := make(chan error, 1)
	go func() { done <- ctrl.runConnected(context.Background()) }()

	httpInitDone := false
	got := scriptHTTPPost(t, modem, "/api/v2/solar/reading", &httpInitDone)

	require.NoError(t, <-done)
	assert.Equal(t, payload, got)
	assert.Equal(t, stateConnected, ctrl.state)
}

func TestConnectedTimeoutGoesOfflineAndSleeps(t *testing.T) {
	ctrl, modem, mock, _, _ := newTestController(t)
	ctrl.state = stateConnected

	done := make(chan error, 1)
	go func() { done <- ctrl.runConnected(context.Background()) }()

	advanceAfterSleep(t, mock, UploadDrainTimeout)

	httpInitDone := false
	got := scriptHTTPPost(t, modem, "/api/v2/solar/event", &httpInitDone)
	event, err := pb.UnmarshalSystemEvent(got)
	require.NoError(t, err)
	assert.Equal(t, pb.EventOffline, event.Kind)

	modem.expectLine(t, "AT+CSCLK=2")
	modem.reply(t, "AT+CSCLK=2\r\n\r\nOK\r\n")

	require.NoError(t, <-done)
	assert.Equal(t, stateSleeping, ctrl.state)
}

func TestSleepingWakesOnPendingUploadAndEmitsOnline(t *testing.T) {
	ctrl, modem, _, uploadCh, _ := newTestController(t)
	ctrl.state = stateSleeping

	payload := []byte("queued-while-asleep")
	uploadCh <- payload

	done := make(chan error, 1)
	go func() { done <- ctrl.runSleeping(context.Background()) }()

	modem.expectLine(t, "AT")
	modem.reply(t, "AT\r\n\r\nOK\r\n")
	modem.expectLine(t, "AT+CREG?")
	modem.reply(t, "AT+CREG?\r\n+CREG: 0,1\r\n\r\nOK\r\n")

	httpInitDone := false
	got := scriptHTTPPost(t, modem, "/api/v2/solar/event", &httpInitDone)
	event, err := pb.UnmarshalSystemEvent(got)
	require.NoError(t, err)
	assert.Equal(t, pb.EventOnline, event.Kind)

	require.NoError(t, <-done)
	assert.Equal(t, stateConnected, ctrl.state)
	assert.Equal(t, payload, ctrl.pending)
}

func TestRunStartupSyncsWallClockAndEmitsStartupEvent(t *testing.T) {
	ctrl, modem, mock, _, wall := newTestController(t)

	done := make(chan error, 1)
	go func() { done <- ctrl.runStartup(context.Background()) }()

	// PowerCycle: IsAlive fails, then PowerOn waveform.
	modem.expectLine(t, "AT")
	modem.reply(t, "AT\r\n\r\nERROR\r\n")
	advanceAfterSleep(t, mock, 50*time.Millisecond)
	advanceAfterSleep(t, mock, 8*time.Second)
	modem.expectLine(t, "AT")
	modem.reply(t, "AT\r\n\r\nOK\r\n")
	modem.expectLine(t, "AT+CLTS=1")
	modem.reply(t, "AT+CLTS=1\r\n\r\nOK\r\n")

	// StartupNetwork.
	modem.expectLine(t, `AT+CGDCONT=1,"IP","gprs.swisscom.ch"`)
	modem.reply(t, "AT+CGDCONT=1,\"IP\",\"gprs.swisscom.ch\"\r\n\r\nOK\r\n")
	modem.expectLine(t, "AT+CREG?")
	modem.reply(t, "AT+CREG?\r\n+CREG: 0,1\r\n\r\nOK\r\n")
	modem.expectLine(t, "AT+CCLK?")
	modem.reply(t, `AT+CCLK?`+"\r\n"+`+CCLK: "25/11/24,21:19:07+04"`+"\r\n\r\nOK\r\n")

	// runStartup's own RTC query, whose result syncs the wall clock.
	modem.expectLine(t, "AT+CCLK?")
	modem.reply(t, `AT+CCLK?`+"\r\n"+`+CCLK: "25/11/24,21:19:07+04"`+"\r\n\r\nOK\r\n")

	httpInitDone := false
	got := scriptHTTPPost(t, modem, "/api/v2/solar/event", &httpInitDone)
	event, err := pb.UnmarshalSystemEvent(got)
	require.NoError(t, err)
	assert.Equal(t, pb.EventStartup, event.Kind)

	require.NoError(t, <-done)
	assert.Equal(t, stateConnected, ctrl.state)
	assert.True(t, wall.synced.Equal(time.Date(2025, 11, 24, 20, 19, 7, 0, time.UTC)))
}

func TestPostEventEncodesRequestedKindAndUptime(t *testing.T) {
	ctrl, modem, _, _, _ := newTestController(t)

	done := make(chan error, 1)
	go func() { done <- ctrl.postEvent(context.Background(), pb.EventOnline) }()

	httpInitDone := false
	got := scriptHTTPPost(t, modem, "/api/v2/solar/event", &httpInitDone)

	require.NoError(t, <-done)
	event, err := pb.UnmarshalSystemEvent(got)
	require.NoError(t, err)
	assert.Equal(t, pb.EventOnline, event.Kind)
	assert.Equal(t, uint32(42), event.UptimeSeconds)
}

// recoveringDriver implements Driver by embedding it unset (nil) and
// overriding only Reset, isolating recover()'s retry behavior.
type recoveringDriver struct {
	Driver
	resetFn func() error
}

func (d *recoveringDriver) Reset(context.Context) error { return d.resetFn() }

func TestRecoverRetriesResetUntilSuccess(t *testing.T) {
	attempts := 0
	driver := &recoveringDriver{resetFn: func() error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	}}
	ctrl := &Controller{driver: driver, log: logrus.NewEntry(logrus.StandardLogger())}

	err := ctrl.recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRecoverStopsOnContextCancellation(t *testing.T) {
	driver := &recoveringDriver{resetFn: func() error { return assert.AnError }}
	ctrl := &Controller{driver: driver, log: logrus.NewEntry(logrus.StandardLogger())}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ctrl.recover(ctx)
	require.Error(t, err)
}
