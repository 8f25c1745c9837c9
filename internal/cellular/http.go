package cellular

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/bittailor/bt-solar-node/internal/atcmd"
	"github.com/bittailor/bt-solar-node/internal/attransport"
)

// HTTPRequest is an ephemeral handle for one HTTP exchange over the modem's
// HTTP service (spec.md §4.5). Get one from Driver.Request(); do not retain
// it across power cycles.
type HTTPRequest struct {
	driver *Driver
}

func (r *HTTPRequest) ensureInit(ctx context.Context) error {
	if r.driver.httpInitialized {
		return nil
	}
	if err := atcmd.HTTPInit(ctx, r.driver.client); err != nil {
		return err
	}
	r.driver.httpInitialized = true
	return nil
}

// SetHeader issues AT+HTTPPARA="USERDATA","<name>: <value>".
func (r *HTTPRequest) SetHeader(ctx context.Context, name, value string) error {
	if err := r.ensureInit(ctx); err != nil {
		return wrap("http_set_header", err)
	}
	return wrap("http_set_header", atcmd.SetHeader(ctx, r.driver.client, name, value))
}

// Get issues the URL and an AT+HTTPACTION=0 GET, returning the HTTP status
// code and a reader over the response body.
func (r *HTTPRequest) Get(ctx context.Context, url string) (status int, body *HttpResponseBody, err error) {
	if err := r.ensureInit(ctx); err != nil {
		return 0, nil, wrap("http_get", err)
	}
	if err := atcmd.SetURL(ctx, r.driver.client, url); err != nil {
		return 0, nil, wrap("http_get", err)
	}
	status, contentLength, err := atcmd.Action(ctx, r.driver.client, atcmd.HTTPGet)
	if err != nil {
		return 0, nil, wrap("http_get", err)
	}
	return status, newHTTPResponseBody(r.driver.client, contentLength), nil
}

// Post issues the URL, writes body via AT+HTTPDATA, and issues an
// AT+HTTPACTION=1 POST, returning the HTTP status code and a reader over the
// response body.
func (r *HTTPRequest) Post(ctx context.Context, url string, body []byte) (status int, responseBody *HttpResponseBody, err error) {
	if err := r.ensureInit(ctx); err != nil {
		return 0, nil, wrap("http_post", err)
	}
	if err := atcmd.SetURL(ctx, r.driver.client, url); err != nil {
		return 0, nil, wrap("http_post", err)
	}
	req, err := attransport.NewHTTPWriteRequest(body)
	if err != nil {
		return 0, nil, wrap("http_post", err)
	}
	if err := r.driver.client.WriteHTTP(ctx, req); err != nil {
		return 0, nil, wrap("http_post", err)
	}
	status, contentLength, err := atcmd.Action(ctx, r.driver.client, atcmd.HTTPPost)
	if err != nil {
		return 0, nil, wrap("http_post", err)
	}
	return status, newHTTPResponseBody(r.driver.client, contentLength), nil
}

// HttpResponseBody is a lazy, restartable reader over an HTTP response body
// already buffered inside the modem, bounded by the content length reported
// by the preceding AT+HTTPACTION (spec.md §4.5).
type HttpResponseBody struct {
	client        Commander
	contentLength int
	pos           int
}

func newHTTPResponseBody(client Commander, contentLength int) *HttpResponseBody {
	return &HttpResponseBody{client: client, contentLength: contentLength}
}

// ContentLength is the total number of body bytes the modem advertised.
func (b *HttpResponseBody) ContentLength() int { return b.contentLength }

// Read pulls up to len(p) bytes, capped at attransport.MaxReadBufferSize and
// at the remaining content length, via AT+HTTPREAD. It returns (0, nil) once
// every advertised byte has been read, the io.Reader convention for this
// explicitly length-bounded protocol. End of body is decided from the
// advertised length alone; the "+HTTPREAD: 0" line the modem sends after
// each chunk is consumed inside HandleHTTPRead.
func (b *HttpResponseBody) Read(ctx context.Context, p []byte) (int, error) {
	remaining := b.contentLength - b.pos
	if remaining <= 0 {
		return 0, nil
	}
	want := len(p)
	if want > remaining {
		want = remaining
	}
	if want > attransport.MaxReadBufferSize {
		want = attransport.MaxReadBufferSize
	}
	resp, err := b.client.ReadHTTP(ctx, attransport.HTTPReadRequest{Offset: b.pos, Len: want})
	if err != nil {
		return 0, wrap("http_read", err)
	}
	n := copy(p, resp.Data)
	b.pos += n
	return n, nil
}

// ReadToEnd repeatedly reads into buf until the body is exhausted or buf is
// full, returning the total number of bytes copied into buf[:n].
func (b *HttpResponseBody) ReadToEnd(ctx context.Context, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := b.Read(ctx, buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// ReadAsStr reads the whole body into buf and validates it as UTF-8.
func (b *HttpResponseBody) ReadAsStr(ctx context.Context, buf []byte) (string, error) {
	n, err := b.ReadToEnd(ctx, buf)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf[:n]) {
		return "", wrap("http_read_as_str", fmt.Errorf("%w: invalid utf-8 in response body", attransport.ErrFormat))
	}
	return string(buf[:n]), nil
}
