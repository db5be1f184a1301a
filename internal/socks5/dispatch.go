package socks5

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// knownCommand reports whether cmd is one of the three commands defined by
// RFC 1928. The driver checks this before calling dispatch: an unknown
// command is rejected with a command-not-supported reply directly, and
// dispatch is only ever reached with a known command.
func knownCommand(cmd Command) bool {
	switch cmd {
	case CmdConnect, CmdBind, CmdUDPAssociate:
		return true
	default:
		return false
	}
}

// dispatch maps a validated request's command to its handler. BIND
// and UDP ASSOCIATE are advertised (the handshake never refuses them by
// method, and a client is free to ask) but are explicit protocol-engine
// non-goals: both return the stub command-not-supported result without
// touching the network.
func dispatch(ctx context.Context, clientConn net.Conn, req *Request, dialer Dialer, deadline time.Time, logger *slog.Logger) *CommandResult {
	switch req.Command {
	case CmdConnect:
		return handleConnect(ctx, clientConn, req, dialer, deadline, logger)
	case CmdBind, CmdUDPAssociate:
		return &CommandResult{Reply: ReplyCmdNotSupported, BindIP: net.IPv4zero}
	default:
		return &CommandResult{Reply: ReplyCmdNotSupported, BindIP: net.IPv4zero}
	}
}
