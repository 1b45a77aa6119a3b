package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// Supported transports
const (
	TransportTCP       = "tcp"
	TransportTLS       = "tls"
	TransportWebSocket = "websocket"
)

// DefaultPort is the job server port used when an address has none
const DefaultPort = "4730"

// Config represents the whole gearctl configuration file
type Config struct {
	Version   int        `yaml:"version"`
	Servers   []string   `yaml:"servers"`             // host:port, or ws:// URLs for websocket
	Transport string     `yaml:"transport"`           // tcp, tls or websocket
	TLS       *TLSConfig `yaml:"tls,omitempty"`       // used by tls and wss://
	LogLevel  string     `yaml:"log_level,omitempty"` // debug, info, warn, error

	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// MaxPayload rejects inbound frames above this size; 0 means unlimited
	MaxPayload uint32 `yaml:"max_payload,omitempty"`

	// Unsolicited lists the push notification commands. Empty keeps the
	// default set (NOOP and the WORK_* notifications).
	Unsolicited []string `yaml:"unsolicited,omitempty"`

	Discovery *DiscoveryConfig `yaml:"discovery,omitempty"`
}

// TLSConfig holds server verification settings
type TLSConfig struct {
	ServerName         string `yaml:"server_name,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// DiscoveryConfig controls mDNS discovery of job servers
type DiscoveryConfig struct {
	Service string        `yaml:"service"` // e.g. _gearman._tcp
	Domain  string        `yaml:"domain"`  // usually local.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Version:     1,
		Servers:     []string{"localhost:" + DefaultPort},
		Transport:   TransportTCP,
		DialTimeout: 10 * time.Second,
		Discovery: &DiscoveryConfig{
			Service: "_gearman._tcp",
			Domain:  "local.",
			Timeout: 5 * time.Second,
		},
	}
}

// applyDefaults fills fields a partial file left empty
func (c *Config) applyDefaults() {
	def := Default()
	if c.Version == 0 {
		c.Version = def.Version
	}
	if c.Transport == "" {
		c.Transport = def.Transport
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if len(c.Servers) == 0 {
		c.Servers = def.Servers
	}
	if c.Discovery == nil {
		c.Discovery = def.Discovery
	} else {
		if c.Discovery.Service == "" {
			c.Discovery.Service = def.Discovery.Service
		}
		if c.Discovery.Domain == "" {
			c.Discovery.Domain = def.Discovery.Domain
		}
		if c.Discovery.Timeout == 0 {
			c.Discovery.Timeout = def.Discovery.Timeout
		}
	}
}

// Validate checks the configuration for values gearctl cannot use
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	switch c.Transport {
	case TransportTCP, TransportTLS, TransportWebSocket:
	default:
		return fmt.Errorf("unknown transport %q (want tcp, tls or websocket)", c.Transport)
	}

	for _, s := range c.Servers {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("empty server address")
		}
		isURL := strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
		if c.Transport == TransportWebSocket && !isURL {
			return fmt.Errorf("server %q: websocket transport needs a ws:// or wss:// URL", s)
		}
		if c.Transport != TransportWebSocket && isURL {
			return fmt.Errorf("server %q: URL given for %s transport", s, c.Transport)
		}
	}

	if c.DialTimeout < 0 || c.WriteTimeout < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if _, err := c.Classifier(); err != nil {
		return err
	}
	return nil
}

// Classifier returns the push notification command set
func (c *Config) Classifier() (protocol.CommandSet, error) {
	if len(c.Unsolicited) == 0 {
		return protocol.DefaultUnsolicited(), nil
	}
	cmds := make([]protocol.Command, 0, len(c.Unsolicited))
	for _, name := range c.Unsolicited {
		cmd, err := protocol.ParseCommand(name)
		if err != nil {
			return nil, fmt.Errorf("unsolicited: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	return protocol.NewCommandSet(cmds...), nil
}

// NormalizeAddr appends DefaultPort to addresses without a port. URLs are
// returned unchanged.
func NormalizeAddr(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), DefaultPort)
}
