package atcmd

import (
	"context"
	"fmt"

	"github.com/bittailor/bt-solar-node/internal/attransport"
)

// SetAPN configures the packet-domain context (AT+CGDCONT) used for every
// later HTTP exchange.
func SetAPN(ctx context.Context, c Commander, apn string) error {
	cmd := fmt.Sprintf(`AT+CGDCONT=1,"IP","%s"`, apn)
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest(cmd))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}

// RegistrationURCConfig is the <n> parameter of AT+CREG?: whether the modem
// emits unsolicited +CREG notifications on registration state changes.
type RegistrationURCConfig int

const (
	URCDisabled RegistrationURCConfig = iota
	URCEnabled
	URCVerbose
)

func parseRegistrationURCConfig(n uint32) (RegistrationURCConfig, error) {
	switch n {
	case 0:
		return URCDisabled, nil
	case 1:
		return URCEnabled, nil
	case 2:
		return URCVerbose, nil
	default:
		return 0, &EnumParseError{Field: "NetworkRegistrationUrcConfig", Value: n}
	}
}

// RegistrationState is the <stat> parameter of AT+CREG?.
type RegistrationState int

const (
	NotRegistered RegistrationState = iota
	Registered
	NotRegisteredSearching
	RegistrationDenied
	RegistrationUnknown
	RegisteredRoaming
	RegisteredSMSOnly
)

// parseRegistrationState maps the raw AT+CREG? <stat> value, including the
// legacy value 11 some modem firmwares still emit in place of 2.
func parseRegistrationState(stat uint32) (RegistrationState, error) {
	switch stat {
	case 0:
		return NotRegistered, nil
	case 1:
		return Registered, nil
	case 2:
		return NotRegisteredSearching, nil
	case 3:
		return RegistrationDenied, nil
	case 4:
		return RegistrationUnknown, nil
	case 5:
		return RegisteredRoaming, nil
	case 6:
		return RegisteredSMSOnly, nil
	case 11:
		return NotRegisteredSearching, nil
	default:
		return 0, &EnumParseError{Field: "NetworkRegistrationState", Value: stat}
	}
}

// QueryNetworkRegistration issues AT+CREG? and parses "+CREG: <n>,<stat>".
func QueryNetworkRegistration(ctx context.Context, c Commander) (RegistrationURCConfig, RegistrationState, error) {
	line, err := sendAndEnsureOneLine(ctx, c, "AT+CREG?", attransport.DefaultCommandTimeout)
	if err != nil {
		return 0, 0, err
	}

	var n, stat uint32
	if _, err := fmt.Sscanf(line, "+CREG: %d,%d", &n, &stat); err != nil {
		return 0, 0, fmt.Errorf("atcmd: parsing %q: %w", line, attransport.ErrFormat)
	}

	urc, err := parseRegistrationURCConfig(n)
	if err != nil {
		return 0, 0, err
	}
	state, err := parseRegistrationState(stat)
	if err != nil {
		return 0, 0, err
	}
	return urc, state, nil
}
