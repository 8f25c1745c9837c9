package attransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLeaseExcludesURCPoll(t *testing.T) {
	clientConn, modemConn := net.Pipe()
	defer clientConn.Close()
	defer modemConn.Close()

	runner, client := New(clientConn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	modem := newFakeModem(modemConn)
	go func() {
		modem.expectLine(t, "AT")
		modem.reply(t, "AT\r\nOK\r\n")
	}()

	resp, err := client.SendCommand(ctx, NewCommandRequest("AT").WithTimeout(time.Second))
	require.NoError(t, err)
	assert.NoError(t, resp.EnsureLines(0))

	cancel()
	select {
	case err := <-runErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
}

func TestRunnerHandlesURCWhileUnleased(t *testing.T) {
	clientConn, modemConn := net.Pipe()
	defer clientConn.Close()
	defer modemConn.Close()

	runner, client := New(clientConn, nil)
	_ = client

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	// a URC arrives with nobody holding the lease; the runner must consume
	// it without a client ever calling SendCommand.
	_, err := modemConn.Write([]byte("+CREG: 0,1\r\n"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
}

func TestClientReleasesOnHandlerError(t *testing.T) {
	clientConn, modemConn := net.Pipe()
	defer clientConn.Close()
	defer modemConn.Close()

	runner, client := New(clientConn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	sentinel := assert.AnError
	err := client.UseController(ctx, func(ctrl Controller) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	// the lease must have been released: a second acquire should not hang.
	done := make(chan struct{})
	go func() {
		_ = client.UseController(ctx, func(ctrl Controller) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second UseController call hung, lease was not released")
	}

	cancel()
	<-runErr
}
