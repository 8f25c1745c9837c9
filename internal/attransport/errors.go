package attransport

import (
	"errors"
	"fmt"
)

// Sentinel errors mirroring the original firmware's AtError variants that
// carry no payload.
var (
	ErrTimeout      = errors.New("attransport: timeout")
	ErrFormat       = errors.New("attransport: format error")
	ErrCapacity     = errors.New("attransport: capacity exceeded")
	ErrModemError   = errors.New("attransport: modem returned ERROR")
	ErrStreamClosed = errors.New("attransport: underlying stream closed")
	ErrEnumParse    = errors.New("attransport: could not parse enum value")
)

// LineCountMismatchError reports that a response carried a different number
// of lines than the caller required (AtError::ResponseLineCountMismatch).
type LineCountMismatchError struct {
	Expected int
	Actual   int
}

func (e *LineCountMismatchError) Error() string {
	return fmt.Sprintf("attransport: expected %d response line(s), got %d", e.Expected, e.Actual)
}
