// Package atcmd provides typed AT command/response pairs on top of
// internal/attransport: APN configuration, network registration, signal
// quality, the real-time clock, sleep mode, power control, and the HTTP
// service commands (spec.md §4.4).
package atcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/bittailor/bt-solar-node/internal/attransport"
)

// Commander is the subset of attransport.Client an AT command needs: send a
// command, get a response back.
type Commander interface {
	SendCommand(ctx context.Context, req attransport.CommandRequest) (attransport.CommandResponse, error)
}

// EnumParseError reports an AT response field whose value doesn't map to any
// known enum member (AtError::EnumParseError in the original).
type EnumParseError struct {
	Field string
	Value any
}

func (e *EnumParseError) Error() string {
	return fmt.Sprintf("atcmd: invalid %s value: %v", e.Field, e.Value)
}

func sendAndEnsureOneLine(ctx context.Context, c Commander, command string, timeout time.Duration) (string, error) {
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest(command).WithTimeout(timeout))
	if err != nil {
		return "", err
	}
	if err := resp.EnsureLines(1); err != nil {
		return "", err
	}
	return resp.Line(0)
}
