package socks5

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/postalsys/socks5gate/internal/logging"
	"golang.org/x/time/rate"
)

// ServerConfig configures the TCP listener that owns the accept loop and
// bounds concurrency ahead of the protocol engine.
type ServerConfig struct {
	Address string

	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int

	// RateLimitPerSecond/RateLimitBurst gate new connections per source IP
	// ahead of admission; RateLimitPerSecond <= 0 disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int

	Connection ConnectionConfig
	Logger     *slog.Logger
}

// DefaultServerConfig returns the scaffolding surface's defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        "127.0.0.1:1080",
		MaxConnections: 1000,
		Connection:     DefaultConnectionConfig(),
	}
}

// Server owns a TCP listener and, optionally, a WebSocket listener, and
// spawns one Drive invocation per accepted connection.
type Server struct {
	cfg ServerConfig

	listener   net.Listener
	wsListener *WebSocketListener

	tracker     *connTracker[net.Conn]
	rateLimiter *ipRateLimiter
	logger      *slog.Logger

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer constructs a Server. Call Start to begin accepting.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger
	}

	var limiter *ipRateLimiter
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = newIPRateLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	return &Server{
		cfg:         cfg,
		tracker:     newConnTracker[net.Conn](),
		rateLimiter: limiter,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections in the
// background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, closes every tracked connection, and waits for
// all Drive goroutines to return.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)

		if s.listener != nil {
			err = s.listener.Close()
		}
		if s.wsListener != nil {
			_ = s.wsListener.Stop()
		}

		s.tracker.closeAll()
	})

	s.wg.Wait()
	return err
}

// StopWithContext stops the server, returning ctx.Err() if shutdown does
// not complete before ctx is done.
func (s *Server) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Address returns the listener's bound address, or nil before Start.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of connections currently being driven.
func (s *Server) ConnectionCount() int64 {
	return s.tracker.count()
}

// IsRunning reports whether the server is currently accepting.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// StartWebSocket starts an optional WebSocket ingress listener that feeds
// the same Drive function as the TCP listener.
func (s *Server) StartWebSocket(cfg WebSocketConfig) error {
	if s.wsListener != nil && s.wsListener.IsRunning() {
		return fmt.Errorf("WebSocket listener already running")
	}

	cfg.Connection = s.cfg.Connection
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}

	listener, err := NewWebSocketListener(cfg)
	if err != nil {
		return fmt.Errorf("create WebSocket listener: %w", err)
	}
	if err := listener.Start(); err != nil {
		return fmt.Errorf("start WebSocket listener: %w", err)
	}

	s.wsListener = listener
	return nil
}

// StopWebSocket stops the WebSocket listener if one is running.
func (s *Server) StopWebSocket() error {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Stop()
}

// WebSocketAddress returns the WebSocket listener's address, or "" if not running.
func (s *Server) WebSocketAddress() string {
	if s.wsListener == nil || !s.wsListener.IsRunning() {
		return ""
	}
	return s.wsListener.Address()
}

// WebSocketConnectionCount returns the number of active WebSocket SOCKS5 connections.
func (s *Server) WebSocketConnectionCount() int64 {
	if s.wsListener == nil {
		return 0
	}
	return s.wsListener.ConnectionCount()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("accept failed", slog.String(logging.KeyError, err.Error()))
				continue
			}
		}

		if s.cfg.MaxConnections > 0 && s.tracker.count() >= int64(s.cfg.MaxConnections) {
			s.logger.Debug("rejecting connection: max_connections reached", slog.Any(logging.KeyRemoteAddr, conn.RemoteAddr()))
			conn.Close()
			continue
		}

		if s.rateLimiter != nil {
			host, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String())
			if splitErr != nil {
				host = conn.RemoteAddr().String()
			}
			if !s.rateLimiter.allow(host) {
				s.logger.Debug("rejecting connection: rate limit exceeded", slog.String("remote_ip", host))
				conn.Close()
				continue
			}
		}

		s.tracker.add(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.tracker.remove(conn)

	peer := conn.RemoteAddr()
	result := Drive(context.Background(), conn, peer, s.cfg.Connection)

	level := slog.LevelDebug
	if result.Outcome == OutcomeRelayError || result.Outcome == OutcomeCommandError {
		level = slog.LevelInfo
	}
	attrs := []any{slog.Any(logging.KeyRemoteAddr, peer), slog.String(logging.KeyOutcome, result.Outcome.String())}
	if result.Err != nil {
		attrs = append(attrs, slog.String(logging.KeyError, result.Err.Error()))
	}
	s.logger.Log(context.Background(), level, "connection finished", attrs...)
}

// WithDialer returns a copy of cfg with Connection.Dialer set.
func (cfg ServerConfig) WithDialer(dialer Dialer) ServerConfig {
	cfg.Connection.Dialer = dialer
	return cfg
}

// WithMaxConnections returns a copy of cfg with MaxConnections set.
func (cfg ServerConfig) WithMaxConnections(max int) ServerConfig {
	cfg.MaxConnections = max
	return cfg
}
