package atcmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bittailor/bt-solar-node/internal/attransport"
)

// QueryRealTimeClock issues AT+CCLK? and returns the raw
// `YY/MM/DD,HH:MM:SS±TZ` string exactly as the modem sent it, unparsed —
// mirroring the original, which hands the caller the raw heapless string and
// lets them decide whether/when to parse it.
func QueryRealTimeClock(ctx context.Context, c Commander) (string, error) {
	resp, err := c.SendCommand(ctx, attransport.NewCommandRequest("AT+CCLK?"))
	if err != nil {
		return "", err
	}
	if err := resp.EnsureLines(1); err != nil {
		return "", err
	}
	line, err := resp.Line(0)
	if err != nil {
		return "", err
	}
	const prefix, quote = "+CCLK: \"", '"'
	if len(line) < len(prefix)+1 || line[:len(prefix)] != prefix || line[len(line)-1] != quote {
		return "", fmt.Errorf("atcmd: malformed CCLK response %q: %w", line, attransport.ErrFormat)
	}
	return line[len(prefix) : len(line)-1], nil
}

// ParseRTC converts the raw AT+CCLK? payload ("YY/MM/DD,HH:MM:SS±TZ", TZ in
// quarter-hours) into UTC. A two-digit year uses the standard pivot: YY < 69
// is 2000+YY, YY >= 69 is 1900+YY (so 70 is 1970, 25 is 2025). The offset is
// subtracted for '+' and added for '-' (spec.md §4.4).
func ParseRTC(raw string) (time.Time, error) {
	if len(raw) != 20 || raw[2] != '/' || raw[5] != '/' || raw[8] != ',' || raw[11] != ':' || raw[14] != ':' {
		return time.Time{}, fmt.Errorf("atcmd: malformed RTC string %q: %w", raw, attransport.ErrFormat)
	}
	sign := raw[17]
	if sign != '+' && sign != '-' {
		return time.Time{}, fmt.Errorf("atcmd: malformed RTC timezone sign in %q: %w", raw, attransport.ErrFormat)
	}

	yy, err1 := strconv.Atoi(raw[0:2])
	mm, err2 := strconv.Atoi(raw[3:5])
	dd, err3 := strconv.Atoi(raw[6:8])
	hh, err4 := strconv.Atoi(raw[9:11])
	mi, err5 := strconv.Atoi(raw[12:14])
	ss, err6 := strconv.Atoi(raw[15:17])
	tzQuarters, err7 := strconv.Atoi(raw[18:20])
	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7); err != nil {
		return time.Time{}, fmt.Errorf("atcmd: malformed RTC string %q: %w", raw, err)
	}

	year := 2000 + yy
	if yy >= 69 {
		year = 1900 + yy
	}
	local := time.Date(year, time.Month(mm), dd, hh, mi, ss, 0, time.UTC)
	offset := time.Duration(tzQuarters) * 15 * time.Minute
	if sign == '+' {
		return local.Add(-offset), nil
	}
	return local.Add(offset), nil
}
