package atcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/bittailor/bt-solar-node/internal/attransport"
)

// HTTPMethod is the <method> argument of AT+HTTPACTION.
type HTTPMethod int

const (
	HTTPGet HTTPMethod = iota
	HTTPPost
	HTTPHead
	HTTPDelete
)

// HTTPInit issues AT+HTTPINIT, starting the modem's HTTP service.
func HTTPInit(ctx context.Context, c Commander) error {
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest("AT+HTTPINIT"))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}

// HTTPTerm issues AT+HTTPTERM, tearing the HTTP service down.
func HTTPTerm(ctx context.Context, c Commander) error {
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest("AT+HTTPTERM"))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}

// SetURL issues AT+HTTPPARA="URL","<url>".
func SetURL(ctx context.Context, c Commander, url string) error {
	cmd := fmt.Sprintf(`AT+HTTPPARA="URL","%s"`, url)
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest(cmd))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}

// SetHeader issues AT+HTTPPARA="USERDATA","<name>: <value>".
func SetHeader(ctx context.Context, c Commander, name, value string) error {
	cmd := fmt.Sprintf(`AT+HTTPPARA="USERDATA","%s: %s"`, name, value)
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest(cmd))
	if err != nil {
		return err
	}
	return resp.EnsureLines(0)
}

// HTTPActionTimeout bounds how long Action waits for the "+HTTPACTION: "
// URC after the command's own OK, which itself arrives as soon as the
// modem has queued the request.
const HTTPActionTimeout = 180 * time.Second

// Action issues AT+HTTPACTION=<method> and waits for the asynchronous
// "+HTTPACTION: <method>,<status>,<len>" result, returning the HTTP status
// code and response content length.
func Action(ctx context.Context, c Commander, method HTTPMethod) (status int, contentLength int, err error) {
	cmd := fmt.Sprintf("AT+HTTPACTION=%d", int(method))
	req := attransport.NewCommandRequest(cmd).
		WithTimeout(HTTPActionTimeout).
		WithURCPrefix("+HTTPACTION: ")
	resp, err := c.SendCommand(ctx, req)
	if err != nil {
		return 0, 0, err
	}
	if err := resp.EnsureLines(1); err != nil {
		return 0, 0, err
	}
	line, err := resp.Line(0)
	if err != nil {
		return 0, 0, err
	}

	var reportedMethod uint32
	if _, err := fmt.Sscanf(line, "+HTTPACTION: %d,%d,%d", &reportedMethod, &status, &contentLength); err != nil {
		return 0, 0, fmt.Errorf("atcmd: parsing %q: %w", line, attransport.ErrFormat)
	}
	return status, contentLength, nil
}
