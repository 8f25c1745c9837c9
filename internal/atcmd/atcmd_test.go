package atcmd

import (
	"context"
	"testing"
	"time"

	"github.com/bittailor/bt-solar-node/internal/attransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommander scripts a sequence of request/response pairs without going
// through the real transport, the way the original's (now-commented-out)
// AtClientMock scripted a single exchange.
type fakeCommander struct {
	t         *testing.T
	wantCmd   string
	respLines []string
}

func (f *fakeCommander) SendCommand(ctx context.Context, req attransport.CommandRequest) (attransport.CommandResponse, error) {
	assert.Equal(f.t, f.wantCmd, req.Command)
	return attransport.CommandResponse{Lines: f.respLines}, nil
}

func TestQuerySignalQuality(t *testing.T) {
	c := &fakeCommander{t: t, wantCmd: "AT+CSQ", respLines: []string{"+CSQ: 15,99"}}
	rssi, ber, err := QuerySignalQuality(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, Rssi(-83), rssi)
	assert.Equal(t, uint32(99), ber)
}

func TestQuerySignalQualityUnknown(t *testing.T) {
	c := &fakeCommander{t: t, wantCmd: "AT+CSQ", respLines: []string{"+CSQ: 99,99"}}
	_, _, err := QuerySignalQuality(context.Background(), c)
	assert.Error(t, err)
}

func TestQueryNetworkRegistration(t *testing.T) {
	c := &fakeCommander{t: t, wantCmd: "AT+CREG?", respLines: []string{"+CREG: 0,1"}}
	urc, state, err := QueryNetworkRegistration(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, URCDisabled, urc)
	assert.Equal(t, Registered, state)
}

func TestQueryNetworkRegistrationLegacySearching(t *testing.T) {
	c := &fakeCommander{t: t, wantCmd: "AT+CREG?", respLines: []string{"+CREG: 0,11"}}
	_, state, err := QueryNetworkRegistration(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, NotRegisteredSearching, state)
}

func TestQueryRealTimeClockAndParse(t *testing.T) {
	c := &fakeCommander{t: t, wantCmd: "AT+CCLK?", respLines: []string{`+CCLK: "70/01/01,00:00:10+00"`}}
	raw, err := QueryRealTimeClock(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "70/01/01,00:00:10+00", raw)

	parsed, err := ParseRTC(raw)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(1970, 1, 1, 0, 0, 10, 0, time.UTC)))
}

func TestParseRTCPositiveOffsetSubtracts(t *testing.T) {
	// local 02:14:36 at +08 quarter-hours (2h) => UTC 00:14:36
	parsed, err := ParseRTC(`14/01/01,02:14:36+08`)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2014, 1, 1, 0, 14, 36, 0, time.UTC)))
}

func TestParseRTCNegativeOffsetAdds(t *testing.T) {
	// local 10:00:00 at -04 quarter-hours (1h) => UTC 11:00:00
	parsed, err := ParseRTC(`24/06/15,10:00:00-04`)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2024, 6, 15, 11, 0, 0, 0, time.UTC)))
}

func TestReadSleepMode(t *testing.T) {
	c := &fakeCommander{t: t, wantCmd: "AT+CSCLK?", respLines: []string{"+CSCLK: 1"}}
	mode, err := ReadSleepMode(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, SleepDTR, mode)
}

func TestHTTPAction(t *testing.T) {
	c := &fakeCommander{t: t, wantCmd: "AT+HTTPACTION=0", respLines: []string{"+HTTPACTION: 0,200,93"}}
	status, length, err := Action(context.Background(), c, HTTPGet)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, 93, length)
}
