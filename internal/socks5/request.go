package socks5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Request is the parsed, validated SOCKS5 request. DestIP has already
// been resolved to a concrete address by the time the dispatcher sees
// it; DestAddr carries the original hostname only when AddrType is
// AddrTypeDomain, for diagnostics.
type Request struct {
	Command  Command
	AddrType AddrType
	DestAddr string
	DestIP   net.IP
	DestPort uint16
}

// readRequest reads and validates the six-field SOCKS5 request:
// `[version][command][reserved][atype][dest_addr][dest_port]`. On any
// failure it writes the mapped error reply on a best-effort basis before
// returning the classified error to the driver. The error reply's own write
// error is discarded here: it is neither returned nor logged.
//
// Version and reserved are validated only after every field has been
// read, so a malformed version byte still drains the request frame and a
// well-formed error reply can be written. The address type must be
// validated earlier because it determines how many bytes the address
// field occupies.
func readRequest(ctx context.Context, rw io.ReadWriter, resolver Resolver) (*Request, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(rw, header); err != nil {
		writeErrorReply(rw, ReplyServerFailure)
		return nil, fmt.Errorf("request: %w", err)
	}

	version := header[0]
	command := Command(header[1])
	reserved := header[2]
	atype := AddrType(header[3])

	if !atype.valid() {
		writeErrorReply(rw, ReplyAddrNotSupported)
		return nil, fmt.Errorf("request: unsupported address type 0x%02x", header[3])
	}

	ip, _, host, err := readAddress(ctx, rw, atype, resolver)
	if err != nil {
		var ae *addrError
		if errors.As(err, &ae) {
			writeErrorReply(rw, ae.reply)
		} else {
			writeErrorReply(rw, ReplyServerFailure)
		}
		return nil, fmt.Errorf("request: %w", err)
	}

	port, err := readPort(rw)
	if err != nil {
		writeErrorReply(rw, ReplyServerFailure)
		return nil, fmt.Errorf("request: %w", err)
	}

	if version != Version {
		writeErrorReply(rw, ReplyServerFailure)
		return nil, fmt.Errorf("request: unsupported version 0x%02x", version)
	}
	if reserved != Reserved {
		writeErrorReply(rw, ReplyServerFailure)
		return nil, fmt.Errorf("request: reserved byte is 0x%02x, want 0x00", reserved)
	}

	return &Request{
		Command:  command,
		AddrType: atype,
		DestAddr: host,
		DestIP:   ip,
		DestPort: port,
	}, nil
}
