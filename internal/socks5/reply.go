package socks5

import (
	"encoding/binary"
	"io"
	"net"
)

// CommandResult is the outcome of a command handler: the reply
// to send, the address/port to report as the server's bound endpoint, and,
// only on a successful CONNECT, the opened target socket. Ownership of
// Target transfers to the driver, which hands it to the relay.
type CommandResult struct {
	Reply    Reply
	BindIP   net.IP
	BindPort uint16
	Target   net.Conn
}

// writeReply is the wire primitive for a SOCKS5 reply: it writes
// `[0x05][reply][0x00][atyp][addr][port]` in a single write call. Domain
// address type never appears here; the server always reports its own bound
// address as IPv4 or IPv6.
func writeReply(w io.Writer, reply Reply, bindIP net.IP, bindPort uint16) error {
	atype, addrBytes := addrTypeAndBytes(bindIP)

	buf := make([]byte, 4+len(addrBytes)+2)
	buf[0] = Version
	buf[1] = byte(reply)
	buf[2] = Reserved
	buf[3] = byte(atype)
	copy(buf[4:], addrBytes)
	binary.BigEndian.PutUint16(buf[4+len(addrBytes):], bindPort)

	_, err := w.Write(buf)
	return err
}

// writeErrorReply reports a failure with no usefully-bound address,
// encoding the zero IPv4 address and port 0. The write error, if any, is
// returned so the caller can log-and-swallow it (a failed error-reply
// write is never fatal on its own) without masking the original protocol
// error.
func writeErrorReply(w io.Writer, reply Reply) error {
	return writeReply(w, reply, nil, 0)
}

// writeResult serializes a CommandResult exactly once per connection,
// after the dispatcher has returned. Parse-time failures use
// writeErrorReply directly and never reach here.
func writeResult(w io.Writer, res *CommandResult) error {
	return writeReply(w, res.Reply, res.BindIP, res.BindPort)
}
