package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Server represents a job server found on the network
type Server struct {
	// Instance is the advertised service instance name (e.g., "jobs-1")
	Instance string

	// Hostname is the mDNS hostname (e.g., "jobs-1.local.")
	Hostname string

	// IP is the first advertised address, IPv4 preferred
	IP string

	// Port is the job server port (typically 4730)
	Port int

	// Metadata contains the TXT record data (e.g., "version=1.1.21")
	Metadata map[string]string

	// DiscoveredAt is when the server was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the server
func (s *Server) String() string {
	return fmt.Sprintf("%s (%s) at %s", s.Instance, s.Hostname, s.Addr())
}

// Addr returns host:port suitable for client.Dial
func (s *Server) Addr() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (s *Server) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
