package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/logging"
)

const (
	// ServiceType is the mDNS service type job servers advertise
	ServiceType = "_gearman._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for server discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is used when an advertisement carries no port
	DefaultPort = 4730
)

// Scanner handles mDNS server discovery
type Scanner struct {
	// Timeout is the maximum time to wait for advertisements
	Timeout time.Duration

	// Service and Domain select what to browse for
	Service string
	Domain  string
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		Service: ServiceType,
		Domain:  ServiceDomain,
	}
}

// Scan browses for job servers until the timeout and returns every server
// seen, sorted by instance name
func (s *Scanner) Scan(ctx context.Context) ([]*Server, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found = make(map[string]*Server)
	)
	err := s.browse(ctx, func(server *Server) bool {
		mu.Lock()
		defer mu.Unlock()
		found[server.Instance] = server
		return false
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	servers := make([]*Server, 0, len(found))
	for _, server := range found {
		servers = append(servers, server)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Instance < servers[j].Instance })
	return servers, nil
}

// WaitForServer browses until a server with the given instance name appears.
// An empty instance accepts the first server seen.
func (s *Scanner) WaitForServer(ctx context.Context, instance string) (*Server, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	serverChan := make(chan *Server, 1)
	err := s.browse(ctx, func(server *Server) bool {
		if instance != "" && server.Instance != instance {
			return false
		}
		select {
		case serverChan <- server:
		default:
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	select {
	case server := <-serverChan:
		return server, nil
	case <-ctx.Done():
		if instance == "" {
			return nil, fmt.Errorf("no %s server found within %s", s.Service, s.Timeout)
		}
		return nil, fmt.Errorf("server %s not found within %s", instance, s.Timeout)
	}
}

// browse starts resolving and calls found for each usable entry until found
// returns true or ctx ends
func (s *Scanner) browse(ctx context.Context, found func(*Server) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				server := parseServiceEntry(entry)
				if server == nil {
					continue
				}
				logging.Debug("Discovered job server",
					zap.String("instance", server.Instance),
					zap.String("addr", server.Addr()))
				if found(server) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, s.Service, s.Domain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

// parseServiceEntry converts a zeroconf service entry to a Server.
// Returns nil if the entry carries no address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Server {
	if entry == nil {
		return nil
	}

	// Prefer IPv4
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	instance := entry.Instance
	if instance == "" {
		instance = strings.TrimSuffix(entry.HostName, ".")
	}

	return &Server{
		Instance:     instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
