package atcmd

import (
	"context"
	"fmt"

	"github.com/bittailor/bt-solar-node/internal/attransport"
)

// Rssi is a received signal strength already converted to dBm.
type Rssi int

func (r Rssi) String() string { return fmt.Sprintf("%d dBm", int(r)) }

// QuerySignalQuality issues AT+CSQ and converts the raw RSSI index to dBm
// (spec.md §4.4: "raw rssi 0-31 maps to dBm via -113 + 2*rssi; 99 signals
// unknown; other values are errors").
func QuerySignalQuality(ctx context.Context, c Commander) (Rssi, uint32, error) {
	line, err := sendAndEnsureOneLine(ctx, c, "AT+CSQ", attransport.DefaultCommandTimeout)
	if err != nil {
		return 0, 0, err
	}

	var rawRSSI int32
	var ber uint32
	if _, err := fmt.Sscanf(line, "+CSQ: %d,%d", &rawRSSI, &ber); err != nil {
		return 0, 0, fmt.Errorf("atcmd: parsing %q: %w", line, attransport.ErrFormat)
	}

	switch {
	case rawRSSI >= 0 && rawRSSI <= 31:
		return Rssi(-113 + 2*rawRSSI), ber, nil
	case rawRSSI == 99:
		return 0, 0, &EnumParseError{Field: "signal strength", Value: "not known or not detectable"}
	default:
		return 0, 0, &EnumParseError{Field: "Rssi", Value: rawRSSI}
	}
}

// PowerDown issues AT+CPOF, asking the modem to power itself off cleanly.
func PowerDown(ctx context.Context, c Commander) error {
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest("AT+CPOF"))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}

// SetAutomaticTimeZoneUpdate toggles the modem's AT+CLTS network-time sync:
// when enabled, the modem updates its own real-time clock from the cellular
// network, which the RTC query then reads back.
func SetAutomaticTimeZoneUpdate(ctx context.Context, c Commander, enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	cmd := fmt.Sprintf("AT+CLTS=%d", value)
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest(cmd))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}
