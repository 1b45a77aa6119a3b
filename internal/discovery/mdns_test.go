package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, v4, v6 []net.IP, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	e.HostName = host
	e.Port = port
	e.AddrIPv4 = v4
	e.AddrIPv6 = v6
	e.Text = txt
	return e
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name         string
		entry        *zeroconf.ServiceEntry
		wantNil      bool
		wantInstance string
		wantIP       string
		wantPort     int
	}{
		{
			name:         "IPv4 server",
			entry:        entry("jobs-1", "jobs-1.local.", 4730, []net.IP{net.ParseIP("192.168.4.16")}, nil, "version=1.1.21"),
			wantInstance: "jobs-1",
			wantIP:       "192.168.4.16",
			wantPort:     4730,
		},
		{
			name:         "custom port",
			entry:        entry("jobs-2", "jobs-2.local.", 7003, []net.IP{net.ParseIP("10.0.0.5")}, nil),
			wantInstance: "jobs-2",
			wantIP:       "10.0.0.5",
			wantPort:     7003,
		},
		{
			name:         "no port defaults to 4730",
			entry:        entry("jobs-3", "jobs-3.local.", 0, []net.IP{net.ParseIP("172.16.0.1")}, nil),
			wantInstance: "jobs-3",
			wantIP:       "172.16.0.1",
			wantPort:     DefaultPort,
		},
		{
			name:         "IPv6 fallback",
			entry:        entry("jobs-4", "jobs-4.local.", 4730, nil, []net.IP{net.ParseIP("fe80::1")}),
			wantInstance: "jobs-4",
			wantIP:       "fe80::1",
			wantPort:     4730,
		},
		{
			name:         "IPv4 preferred over IPv6",
			entry:        entry("jobs-5", "jobs-5.local.", 4730, []net.IP{net.ParseIP("10.1.1.1")}, []net.IP{net.ParseIP("fe80::1")}),
			wantInstance: "jobs-5",
			wantIP:       "10.1.1.1",
			wantPort:     4730,
		},
		{
			name:         "instance falls back to hostname",
			entry:        entry("", "worker-box.local.", 4730, []net.IP{net.ParseIP("10.1.1.2")}, nil),
			wantInstance: "worker-box.local",
			wantIP:       "10.1.1.2",
			wantPort:     4730,
		},
		{
			name:    "no address",
			entry:   entry("jobs-6", "jobs-6.local.", 4730, nil, nil),
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if server != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", server)
				}
				return
			}
			if server == nil {
				t.Fatal("parseServiceEntry() = nil, want server")
			}
			if server.Instance != tt.wantInstance {
				t.Errorf("Instance = %v, want %v", server.Instance, tt.wantInstance)
			}
			if server.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", server.IP, tt.wantIP)
			}
			if server.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", server.Port, tt.wantPort)
			}
			if server.DiscoveredAt.IsZero() {
				t.Error("DiscoveredAt should be set")
			}
		})
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	server := parseServiceEntry(entry("jobs", "jobs.local.", 4730,
		[]net.IP{net.ParseIP("10.0.0.1")}, nil,
		"version=1.1.21", "queue=mysql", "flag", "expr=a=b"))
	if server == nil {
		t.Fatal("parseServiceEntry() = nil")
	}

	tests := map[string]string{
		"version": "1.1.21",
		"queue":   "mysql",
		"flag":    "",
		"expr":    "a=b",
		"missing": "",
	}
	for key, want := range tests {
		if got := server.GetMetadata(key); got != want {
			t.Errorf("GetMetadata(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestServerAddr(t *testing.T) {
	tests := []struct {
		server *Server
		want   string
	}{
		{&Server{IP: "192.168.1.5", Port: 4730}, "192.168.1.5:4730"},
		{&Server{IP: "fe80::1", Port: 7003}, "[fe80::1]:7003"},
	}
	for _, tt := range tests {
		if got := tt.server.Addr(); got != tt.want {
			t.Errorf("Addr() = %v, want %v", got, tt.want)
		}
	}

	s := &Server{Instance: "jobs-1", Hostname: "jobs-1.local.", IP: "10.0.0.1", Port: 4730}
	if got := s.String(); got != "jobs-1 (jobs-1.local.) at 10.0.0.1:4730" {
		t.Errorf("String() = %v", got)
	}
}

func TestServerGetMetadataNilMap(t *testing.T) {
	s := &Server{}
	if got := s.GetMetadata("version"); got != "" {
		t.Errorf("GetMetadata() on nil map = %q", got)
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != 5*time.Second {
		t.Errorf("NewScanner().Timeout = %v, want 5s", scanner.Timeout)
	}
	if scanner.Service != "_gearman._tcp" || scanner.Domain != "local." {
		t.Errorf("NewScanner() browses %s in %s", scanner.Service, scanner.Domain)
	}
}
