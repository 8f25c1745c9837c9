package attransport

import "github.com/sirupsen/logrus"

// channelSize matches the original's CHANNEL_SIZE: two in-flight
// acquire/release or response messages is enough since the handshake is
// strictly request-then-wait-for-response on both sides.
const channelSize = 2

// New wires a Runner/Client pair around stream. Start Runner.Run in its own
// goroutine before issuing any Client calls.
func New(stream Stream, log *logrus.Entry) (*Runner, *Client) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctrl := NewControllerImpl(stream, log)
	guard := &controllerGuard{ctrl: ctrl}

	reqCh := make(chan requestKind, channelSize)
	respCh := make(chan error, channelSize)

	runner := &Runner{
		ctrl:   ctrl,
		guard:  guard,
		reqCh:  reqCh,
		respCh: respCh,
		log:    log.WithField("component", "at-runner"),
	}
	client := &Client{
		reqCh:  reqCh,
		respCh: respCh,
		guard:  guard,
		log:    log.WithField("component", "at-client"),
	}
	return runner, client
}
