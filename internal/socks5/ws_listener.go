package socks5

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

// WebSocketConfig configures the optional WebSocket SOCKS5 ingress listener.
// The SOCKS5 protocol engine itself is transport-agnostic; this listener
// terminates WebSocket and hands the resulting stream to the same Drive
// function the TCP listener uses.
type WebSocketConfig struct {
	Address string
	Path    string

	// TLSConfig terminates TLS on the WebSocket listener. Nil requires
	// PlainText: true (e.g. behind a TLS-terminating reverse proxy).
	TLSConfig *tls.Config
	PlainText bool

	// Credentials gates the WebSocket upgrade with HTTP Basic Auth. This is
	// an HTTP-layer check on the ingress endpoint, distinct from (and not a
	// substitute for) the SOCKS5 USERNAME/PASSWORD sub-negotiation, which
	// this server does not implement. Nil means no HTTP auth is required.
	Credentials CredentialStore

	Connection ConnectionConfig
	Logger     *slog.Logger

	OnError func(err error)
}

const splashPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Service Status</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #111318;
            color: #e4e4e7;
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
        }
        .container { text-align: center; padding: 40px 20px; max-width: 480px; }
        h1 { font-size: 1.8rem; font-weight: 600; margin-bottom: 8px; color: #ffffff; }
        .tagline { font-size: 0.95rem; color: #a1a1aa; }
    </style>
</head>
<body>
    <div class="container">
        <h1>OK</h1>
        <p class="tagline">This service is running.</p>
    </div>
</body>
</html>
`

// WebSocketListener accepts SOCKS5 connections tunneled over WebSocket.
type WebSocketListener struct {
	cfg    WebSocketConfig
	logger *slog.Logger
	server *http.Server
	addr   net.Addr

	tracker *connTracker[*wsConn]

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWebSocketListener validates cfg and constructs a listener. Start must
// be called to actually bind and serve.
func NewWebSocketListener(cfg WebSocketConfig) (*WebSocketListener, error) {
	if cfg.TLSConfig == nil && !cfg.PlainText {
		return nil, fmt.Errorf("TLS config required (set PlainText to run behind a TLS-terminating proxy)")
	}
	if cfg.Path == "" {
		cfg.Path = "/socks5"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}

	return &WebSocketListener{
		cfg:     cfg,
		logger:  logger,
		tracker: newConnTracker[*wsConn](),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start binds the listener and begins serving in the background.
func (l *WebSocketListener) Start() error {
	if l.running.Load() {
		return fmt.Errorf("listener already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, splashPageTemplate)
	})
	mux.HandleFunc(l.cfg.Path, l.handleWebSocket)

	l.server = &http.Server{
		Addr:      l.cfg.Address,
		Handler:   mux,
		TLSConfig: l.cfg.TLSConfig,
	}

	ln, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	l.addr = ln.Addr()
	l.running.Store(true)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		var serveErr error
		if l.cfg.TLSConfig != nil {
			serveErr = l.server.ServeTLS(ln, "", "")
		} else {
			serveErr = l.server.Serve(ln)
		}

		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			if l.cfg.OnError != nil {
				l.cfg.OnError(serveErr)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes every tracked
// WebSocket connection.
func (l *WebSocketListener) Stop() error {
	if !l.running.Swap(false) {
		return nil
	}

	close(l.stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.server.Shutdown(ctx)

	l.tracker.closeAll()
	l.wg.Wait()
	return nil
}

// Address returns the actual listening address.
func (l *WebSocketListener) Address() string {
	if l.addr != nil {
		return l.addr.String()
	}
	return l.cfg.Address
}

// ConnectionCount returns the number of active WebSocket SOCKS5 connections.
func (l *WebSocketListener) ConnectionCount() int64 {
	return l.tracker.count()
}

// IsRunning reports whether the listener is currently serving.
func (l *WebSocketListener) IsRunning() bool {
	return l.running.Load()
}

// handleWebSocket validates the HTTP Basic Auth gate, upgrades to
// WebSocket, and runs Drive over the resulting stream. It blocks for the
// lifetime of the connection, as nhooyr.io/websocket requires the handler
// to stay active while the connection is open.
func (l *WebSocketListener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if l.cfg.Credentials != nil {
		username, password, ok := r.BasicAuth()
		if !ok || !l.cfg.Credentials.Valid(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="socks5gate"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"socks5"},
	})
	if err != nil {
		return
	}
	if conn.Subprotocol() != "socks5" {
		conn.Close(websocket.StatusProtocolError, "socks5 subprotocol required")
		return
	}

	wc := newWsConn(conn, r.RemoteAddr)

	l.tracker.add(wc)
	l.wg.Add(1)
	defer l.wg.Done()
	defer l.tracker.remove(wc)
	defer wc.Close()

	result := Drive(context.Background(), wc, wc.RemoteAddr(), l.cfg.Connection)
	l.logger.Debug("websocket connection finished",
		slog.String("remote", r.RemoteAddr),
		slog.String("outcome", result.Outcome.String()))
}

// wsConn adapts a *websocket.Conn to net.Conn so the protocol engine can
// run over it unmodified.
type wsConn struct {
	conn       *websocket.Conn
	remoteAddr string
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu             sync.RWMutex
	deadlineCtx    context.Context
	deadlineCancel context.CancelFunc

	readMu sync.Mutex
	reader io.Reader
}

func newWsConn(conn *websocket.Conn, remoteAddr string) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsConn{conn: conn, remoteAddr: remoteAddr, baseCtx: ctx, baseCancel: cancel}
}

func (c *wsConn) getContext() context.Context {
	c.mu.RLock()
	ctx := c.deadlineCtx
	c.mu.RUnlock()
	if ctx != nil {
		return ctx
	}
	return c.baseCtx
}

func (c *wsConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.reader != nil {
		n, err := c.reader.Read(b)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
		} else {
			return n, err
		}
	}

	ctx := c.getContext()
	msgType, reader, err := c.conn.Reader(ctx)
	if err != nil {
		return 0, c.translateError(err)
	}
	if msgType != websocket.MessageBinary {
		return 0, fmt.Errorf("unexpected websocket message type: %v", msgType)
	}

	n, err := reader.Read(b)
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, err
	}
	c.reader = reader
	return n, nil
}

func (c *wsConn) Write(b []byte) (int, error) {
	ctx := c.getContext()
	if err := c.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return 0, c.translateError(err)
	}
	return len(b), nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.deadlineCancel != nil {
		c.deadlineCancel()
	}
	c.mu.Unlock()

	c.baseCancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// NoDeadlineMonitor opts this connection out of the CONNECT dial monitor's
// deadline-polling: nhooyr.io/websocket tears the stream down when a read
// context is canceled mid-read, which would misread a cancel as a client
// disconnect.
func (c *wsConn) NoDeadlineMonitor() bool { return true }

func (c *wsConn) LocalAddr() net.Addr { return nil }

func (c *wsConn) RemoteAddr() net.Addr {
	if c.remoteAddr == "" {
		return nil
	}
	host, port, err := net.SplitHostPort(c.remoteAddr)
	if err != nil {
		return nil
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	return &net.TCPAddr{IP: net.ParseIP(host), Port: p}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deadlineCancel != nil {
		c.deadlineCancel()
		c.deadlineCancel = nil
		c.deadlineCtx = nil
	}
	if !t.IsZero() {
		c.deadlineCtx, c.deadlineCancel = context.WithDeadline(c.baseCtx, t)
	}
	return nil
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.SetDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.SetDeadline(t) }

// wsTimeoutError implements net.Error for deadline expiry translated from
// the WebSocket library's context-based cancellation.
type wsTimeoutError struct{ err error }

func (e *wsTimeoutError) Error() string   { return e.err.Error() }
func (e *wsTimeoutError) Timeout() bool   { return true }
func (e *wsTimeoutError) Temporary() bool { return true }

func (c *wsConn) translateError(err error) error {
	if websocket.CloseStatus(err) != -1 {
		return io.EOF
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &wsTimeoutError{err: err}
	}
	return err
}
