package atcmd

import (
	"context"
	"fmt"

	"github.com/bittailor/bt-solar-node/internal/attransport"
)

// SleepMode is the AT+CSCLK power-saving mode.
type SleepMode int

const (
	SleepOff SleepMode = iota
	SleepDTR
	SleepRX
)

func parseSleepMode(v uint32) (SleepMode, error) {
	switch v {
	case 0:
		return SleepOff, nil
	case 1:
		return SleepDTR, nil
	case 2:
		return SleepRX, nil
	default:
		return 0, &EnumParseError{Field: "SleepMode", Value: v}
	}
}

// SetSleepMode issues AT+CSCLK=<mode>.
func SetSleepMode(ctx context.Context, c Commander, mode SleepMode) error {
	cmd := fmt.Sprintf("AT+CSCLK=%d", int(mode))
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest(cmd))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}

// ReadSleepMode issues AT+CSCLK? and parses "+CSCLK: <mode>".
func ReadSleepMode(ctx context.Context, c Commander) (SleepMode, error) {
	line, err := sendAndEnsureOneLine(ctx, c, "AT+CSCLK?", attransport.DefaultCommandTimeout)
	if err != nil {
		return 0, err
	}
	var mode uint32
	if _, err := fmt.Sscanf(line, "+CSCLK: %d", &mode); err != nil {
		return 0, fmt.Errorf("atcmd: parsing %q: %w", line, attransport.ErrFormat)
	}
	return parseSleepMode(mode)
}
