package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/client"
	"github.com/wdatlassian/twisted-gears/internal/config"
	"github.com/wdatlassian/twisted-gears/internal/logging"
	"github.com/wdatlassian/twisted-gears/internal/session"
)

// loadConfig reads the config file and applies the global flag overrides
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	return applyOverrides(cfg, serverAddr, transport)
}

// applyOverrides returns a copy of cfg with --server and --transport applied.
// A ws:// or wss:// server implies the websocket transport.
func applyOverrides(cfg *config.Config, server, transport string) (*config.Config, error) {
	out := *cfg
	if server != "" {
		out.Servers = []string{config.NormalizeAddr(server)}
		if transport == "" {
			if strings.HasPrefix(server, "ws://") || strings.HasPrefix(server, "wss://") {
				out.Transport = config.TransportWebSocket
			} else if out.Transport == config.TransportWebSocket {
				out.Transport = config.TransportTCP
			}
		}
	}
	if transport != "" {
		out.Transport = strings.ToLower(transport)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// clientOptions builds connection options from the configuration
func clientOptions(cfg *config.Config) (client.Options, error) {
	classifier, err := cfg.Classifier()
	if err != nil {
		return client.Options{}, err
	}

	opts := client.Options{
		DialTimeout:    cfg.DialTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Classifier:     classifier,
		MaxPayload:     cfg.MaxPayload,
		OnFault: func(f *session.HandlerFault) {
			logging.Error("Notification handler failed", zap.Error(f))
		},
	}

	needTLS := cfg.Transport == config.TransportTLS
	for _, s := range cfg.Servers {
		if strings.HasPrefix(s, "wss://") {
			needTLS = true
		}
	}
	if needTLS {
		tlsOpts := client.TLSOptions{}
		if cfg.TLS != nil {
			tlsOpts.ServerName = cfg.TLS.ServerName
			tlsOpts.CAFile = cfg.TLS.CAFile
			tlsOpts.InsecureSkipVerify = cfg.TLS.InsecureSkipVerify
		}
		opts.TLS, err = client.NewTLSConfig(tlsOpts)
		if err != nil {
			return client.Options{}, err
		}
	}
	return opts, nil
}

// connect dials the server chosen for key
func connect(ctx context.Context, cfg *config.Config, key string) (*client.Client, error) {
	addr, err := cfg.SelectServer(key)
	if err != nil {
		return nil, err
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	logging.Debug("Connecting",
		zap.String("server", addr),
		zap.String("transport", cfg.Transport))

	if cfg.Transport == config.TransportWebSocket {
		return client.DialWebSocket(ctx, addr, opts)
	}
	return client.Dial(ctx, addr, opts)
}

// dial loads the configuration and connects, using --key (or fallback when
// --key is empty) to pick the server
func dial(ctx context.Context, fallbackKey string) (*client.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	key := serverKey
	if key == "" {
		key = fallbackKey
	}
	c, err := connect(ctx, cfg, key)
	if err != nil {
		return nil, cfg, err
	}
	return c, cfg, nil
}

// connectTips is shown with connection failures
var connectTips = []string{
	"Check the server address and port (default 4730)",
	"Use --transport tls for servers behind TLS",
	"Run 'gearctl discover' to find servers on the local network",
}
