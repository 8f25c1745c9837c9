// Package wallclock anchors UTC wall-clock time to a monotonic clock source
// read at boot, the way an unsynchronized microcontroller has to: there is
// no battery-backed RTC to trust until the cellular modem reports one over
// AT+CCLK. A sync fixes the UTC instant of boot, and every later "now" is
// that boot instant plus elapsed monotonic time; before the first sync
// there is no "now" at all.
package wallclock

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Service is a process-wide wall-clock anchor. Construct with New; the zero
// value is not usable. A Service is safe for concurrent use from any number
// of goroutines.
type Service struct {
	clock    clock.Clock
	bootMono time.Time // clock reading taken at New(), our monotonic reference
	log      *logrus.Entry
	mu       sync.Mutex
	bootUTC  *time.Time // UTC instant corresponding to bootMono, nil until synced
}

// New returns a Service driven by clk (use clock.New() in production,
// clock.NewMock() in tests) and logging through log. clk is sampled once,
// immediately, as the monotonic "boot" reference.
func New(clk clock.Clock, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		clock:    clk,
		bootMono: clk.Now(),
		log:      log.WithField("component", "wallclock"),
	}
}

// Sync anchors the clock so that Now() reports utc at the instant Sync is
// called. Re-synchronizing replaces the anchor and logs the drift against
// the previous one; syncing to an identical instant is a no-op. Sync never
// fails and only blocks for the duration of the internal mutex acquisition.
func (s *Service) Sync(utc time.Time) {
	utc = utc.UTC()
	newBootUTC := utc.Add(-s.clock.Now().Sub(s.bootMono))

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.bootUTC == nil:
		s.bootUTC = &newBootUTC
		s.log.Infof("system time initially synchronized: %s", utc.Format(time.RFC3339))
	case !s.bootUTC.Equal(newBootUTC):
		drift := newBootUTC.Sub(*s.bootUTC)
		s.bootUTC = &newBootUTC
		s.log.Infof("system time re-synchronized: %s (drift %s)", utc.Format(time.RFC3339), drift)
	}
}

// Now returns the current UTC instant, or the zero value and ok=false if the
// clock has never been synchronized. Between resyncs, Now is strictly
// monotonic because it is boot anchor plus a strictly increasing monotonic
// elapsed duration.
func (s *Service) Now() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bootUTC == nil {
		return time.Time{}, false
	}
	return s.bootUTC.Add(s.clock.Now().Sub(s.bootMono)), true
}
