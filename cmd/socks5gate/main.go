// Package main provides the CLI entry point for socks5gate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/postalsys/socks5gate/internal/config"
	"github.com/postalsys/socks5gate/internal/logging"
	"github.com/postalsys/socks5gate/internal/socks5"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "socks5gate",
		Short:   "socks5gate - a standalone SOCKS5 proxy server",
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(hashCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the SOCKS5 proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file (required)")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	methods, err := authMethods(cfg.Listen.AuthMethods)
	if err != nil {
		return err
	}

	connCfg := socks5.ConnectionConfig{
		BufferSizeBytes:      cfg.Listen.BufferSizeKB * 1024,
		TCPNoDelay:           cfg.Listen.TCPNoDelay,
		HandshakeTimeout:     cfg.Listen.HandshakeTimeout,
		ConnectionTimeout:    cfg.Listen.ConnectionTimeout,
		SupportedAuthMethods: methods,
		Logger:              logger,
	}

	srvCfg := socks5.ServerConfig{
		Address:        cfg.Listen.Address,
		MaxConnections: cfg.Listen.MaxConnections,
		Connection:     connCfg,
		Logger:         logger,
	}
	if cfg.Listen.RateLimit.Enabled {
		srvCfg.RateLimitPerSecond = cfg.Listen.RateLimit.PerSecond
		srvCfg.RateLimitBurst = cfg.Listen.RateLimit.Burst
	}

	server := socks5.NewServer(srvCfg)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	logger.Info("socks5gate listening",
		logging.KeyAddress, server.Address(),
		"buffer_size", humanize.Bytes(uint64(connCfg.BufferSizeBytes)),
		"max_connections", cfg.Listen.MaxConnections,
	)

	if cfg.WebSocket.Enabled {
		wsCfg := socks5.WebSocketConfig{
			Address:   cfg.WebSocket.Address,
			Path:      cfg.WebSocket.Path,
			PlainText: cfg.WebSocket.PlainText,
			Logger:    logger,
		}
		if len(cfg.WebSocket.Users) > 0 {
			wsCfg.Credentials = socks5.HashedCredentials(cfg.WebSocket.Users)
		}
		if !cfg.WebSocket.PlainText {
			tlsConfig, err := loadTLSConfig(cfg.WebSocket.TLSCertFile, cfg.WebSocket.TLSKeyFile)
			if err != nil {
				server.Stop()
				return fmt.Errorf("load websocket TLS config: %w", err)
			}
			wsCfg.TLSConfig = tlsConfig
		}

		if err := server.StartWebSocket(wsCfg); err != nil {
			server.Stop()
			return fmt.Errorf("start websocket listener: %w", err)
		}
		logger.Info("websocket ingress listening", logging.KeyAddress, server.WebSocketAddress())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.StopWithContext(ctx)
}

func authMethods(names []string) ([]socks5.Method, error) {
	var methods []socks5.Method
	for _, name := range names {
		switch name {
		case "none":
			methods = append(methods, socks5.MethodNoAuth)
		default:
			return nil, fmt.Errorf("unsupported auth method: %s", name)
		}
	}
	return methods, nil
}

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Hash a password for websocket.users in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Password: ")
			passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			hash, err := socks5.HashPassword(string(passwordBytes))
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			fmt.Println(hash)
			return nil
		},
	}
}
