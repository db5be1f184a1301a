package socks5

import (
	"io"
	"net"

	"golang.org/x/sync/errgroup"
)

// relay implements the full-duplex copy between client and target. Two
// goroutines run the two copy directions concurrently; errgroup.Group.Wait
// returns once both have returned, surfacing the first non-nil error
// exactly like a channel pair would, but without hand-rolling the fan-in.
// Each direction copies through its own buffer sized to bufSize (falling
// back to defaultBufferSizeBytes when bufSize <= 0), which is also what
// makes backpressure explicit: a copy's Read into that buffer suspends once
// the buffer is full and the paired Write hasn't drained it.
//
// Termination policy: when a direction ends (EOF or an error), it fully
// closes its source and shuts down its sink's write side: CloseWrite when
// the sink supports it, a full Close otherwise. Where the sink has no
// CloseWrite (net.Pipe, for one), both sockets end up fully closed, which
// unblocks whatever read or write the other direction is parked on, so one
// side finishing ends the other rather than leaving it to drain. Where the
// sink does support CloseWrite (plain TCP), its read side stays open: the
// other direction keeps waiting on that read until the peer closes its
// side, a write into the already-closed socket fails, or the connection
// deadline fires.
func relay(client, target net.Conn, bufSize int) error {
	if bufSize <= 0 {
		bufSize = defaultBufferSizeBytes
	}

	var g errgroup.Group

	g.Go(func() error {
		_, err := io.CopyBuffer(target, client, make([]byte, bufSize))
		if hc, ok := target.(halfCloser); ok {
			_ = hc.CloseWrite()
		} else {
			_ = target.Close()
		}
		_ = client.Close()
		return err
	})

	g.Go(func() error {
		_, err := io.CopyBuffer(client, target, make([]byte, bufSize))
		if hc, ok := client.(halfCloser); ok {
			_ = hc.CloseWrite()
		} else {
			_ = client.Close()
		}
		_ = target.Close()
		return err
	})

	return g.Wait()
}
