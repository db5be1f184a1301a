package socks5

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/postalsys/socks5gate/internal/logging"
)

// discardLogger is used whenever ConnectionConfig.Logger is nil, so the
// core package never requires a caller to wire logging.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// defaultBufferSizeBytes backs every buffered adapter and relay copy when
// ConnectionConfig.BufferSizeBytes is left at its zero value.
const defaultBufferSizeBytes = 32 * 1024

// bufferedConn wraps the client connection's input half in a bufio.Reader
// sized to buffer_size_bytes, so the handshake and request parsers read
// from one pre-filled buffer instead of issuing their own small syscalls.
// Write, Close and the deadline methods pass straight through to the
// embedded net.Conn; NoDeadlineMonitor and CloseWrite are forwarded only
// when the underlying connection actually implements them, so a
// bufferedConn never claims a capability its peer doesn't have.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func newBufferedConn(conn net.Conn, size int) *bufferedConn {
	if size <= 0 {
		size = defaultBufferSizeBytes
	}
	return &bufferedConn{Conn: conn, r: bufio.NewReaderSize(conn, size)}
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

// NoDeadlineMonitor forwards to the underlying connection's opt-out, if it
// has one (WebSocket-backed connections do; plain TCP connections don't).
func (b *bufferedConn) NoDeadlineMonitor() bool {
	ndm, ok := b.Conn.(noDeadlineMonitor)
	return ok && ndm.NoDeadlineMonitor()
}

// CloseWrite forwards to the underlying connection's half-close when it has
// one, falling back to a full close otherwise — the same fallback relay()
// itself uses for a connection with no half-close support.
func (b *bufferedConn) CloseWrite() error {
	if hc, ok := b.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return b.Conn.Close()
}

// ConnectionConfig is the read-only configuration injected by the
// embedding server scaffolding. Nothing in the core ever mutates it;
// the same value can be shared across every connection's driver.
type ConnectionConfig struct {
	BufferSizeBytes      int
	TCPNoDelay           bool
	HandshakeTimeout     time.Duration
	ConnectionTimeout    time.Duration
	SupportedAuthMethods []Method

	// Dialer opens outbound connections for CONNECT; nil uses DirectDialer.
	Dialer Dialer
	// Resolver looks up domain-name destinations; nil uses net.DefaultResolver.
	Resolver Resolver
	// Logger receives the driver's debug-level diagnostics (failed socket
	// option or deadline calls, failed reply writes, duplicate method tags,
	// a client disconnecting mid-dial); the terminal outcome is returned in
	// Result, not logged here. Nil discards everything, so the package has
	// no logging wired by default.
	Logger *slog.Logger
}

// DefaultConnectionConfig returns the defaults the scaffolding surface
// falls back to when a flag or config key is left unset.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BufferSizeBytes:      defaultBufferSizeBytes,
		TCPNoDelay:           true,
		HandshakeTimeout:     10 * time.Second,
		ConnectionTimeout:    10 * time.Minute,
		SupportedAuthMethods: []Method{MethodNoAuth},
	}
}

// Outcome classifies how a connection's driver terminated, mapping onto the
// terminal states of the driver's state machine.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeHandshakeTimeout
	OutcomeHandshakeError
	OutcomeRequestError
	OutcomeCommandError
	OutcomeRelayEOF
	OutcomeRelayError
	OutcomeConnectionTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeHandshakeTimeout:
		return "handshake-timeout"
	case OutcomeHandshakeError:
		return "handshake-error"
	case OutcomeRequestError:
		return "request-error"
	case OutcomeCommandError:
		return "command-error"
	case OutcomeRelayEOF:
		return "relay-eof"
	case OutcomeRelayError:
		return "relay-error"
	case OutcomeConnectionTimeout:
		return "connection-timeout"
	default:
		return "unknown"
	}
}

// Result is the completion signal a driver run returns to its caller.
type Result struct {
	Outcome Outcome
	Err     error
}

// tcpNoDelaySetter is implemented by *net.TCPConn and similar stream types
// that support disabling Nagle's algorithm.
type tcpNoDelaySetter interface {
	SetNoDelay(bool) error
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Drive runs one accepted connection through the state machine:
// handshake → request → reply → relay, under the two layered timeouts. It
// never panics and never leaks the socket — conn is always closed before
// Drive returns, including on every error path.
func Drive(ctx context.Context, conn net.Conn, peer net.Addr, cfg ConnectionConfig) Result {
	defer conn.Close()

	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}

	if cfg.TCPNoDelay {
		if nd, ok := conn.(tcpNoDelaySetter); ok {
			if err := nd.SetNoDelay(true); err != nil {
				logger.Debug("set TCP_NODELAY failed", slog.Any("peer", peer), slog.String(logging.KeyError, err.Error()))
			}
		}
	}

	bufSize := cfg.BufferSizeBytes
	if bufSize <= 0 {
		bufSize = defaultBufferSizeBytes
	}
	bc := newBufferedConn(conn, bufSize)

	supported := cfg.SupportedAuthMethods
	if len(supported) == 0 {
		supported = []Method{MethodNoAuth}
	}

	if cfg.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout)); err != nil {
			logger.Debug("set handshake deadline failed", slog.String(logging.KeyError, err.Error()))
		}
	}

	if err := negotiate(bc, supported, logger); err != nil {
		if isTimeout(err) {
			return Result{Outcome: OutcomeHandshakeTimeout, Err: err}
		}
		return Result{Outcome: OutcomeHandshakeError, Err: err}
	}

	var overallDeadline time.Time
	if cfg.ConnectionTimeout > 0 {
		overallDeadline = time.Now().Add(cfg.ConnectionTimeout)
		if err := conn.SetDeadline(overallDeadline); err != nil {
			logger.Debug("set connection deadline failed", slog.String(logging.KeyError, err.Error()))
		}
	}

	req, err := readRequest(ctx, bc, cfg.Resolver)
	if err != nil {
		if isTimeout(err) {
			return Result{Outcome: OutcomeConnectionTimeout, Err: err}
		}
		return Result{Outcome: OutcomeRequestError, Err: err}
	}

	if !knownCommand(req.Command) {
		if werr := writeErrorReply(bc, ReplyCmdNotSupported); werr != nil {
			logger.Debug("write error reply failed", slog.String(logging.KeyError, werr.Error()))
		}
		return Result{Outcome: OutcomeCommandError, Err: fmt.Errorf("unsupported command: 0x%02x", byte(req.Command))}
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = DirectDialer{}
	}

	result := dispatch(ctx, bc, req, dialer, overallDeadline, logger)

	if werr := writeResult(bc, result); werr != nil {
		if result.Target != nil {
			result.Target.Close()
		}
		logger.Debug("write reply failed", slog.String(logging.KeyError, werr.Error()))
		return Result{Outcome: OutcomeCommandError, Err: fmt.Errorf("write reply: %w", werr)}
	}

	if result.Reply != ReplySucceeded {
		return Result{Outcome: OutcomeCommandError, Err: fmt.Errorf("command failed: %s", result.Reply)}
	}

	target := result.Target
	defer target.Close()

	err = relay(bc, target, bufSize)
	if err == nil {
		return Result{Outcome: OutcomeRelayEOF}
	}
	if isTimeout(err) {
		return Result{Outcome: OutcomeConnectionTimeout, Err: err}
	}
	return Result{Outcome: OutcomeRelayError, Err: err}
}
