// Package discovery finds job servers on the local network with mDNS.
//
// Job servers that advertise themselves publish a "_gearman._tcp" service.
// A Scanner browses for that service type and turns each advertisement into
// a Server holding the address to dial and the TXT record metadata.
//
// # Usage Example
//
//	scanner := discovery.NewScanner()
//	scanner.Timeout = 3 * time.Second
//
//	servers, err := scanner.Scan(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, s := range servers {
//	    fmt.Println(s.Instance, s.Addr())
//	}
//
// WaitForServer returns as soon as a named instance (or any instance) is seen.
//
// # Network Requirements
//
// mDNS uses UDP port 5353 on the multicast groups 224.0.0.251 and ff02::fb.
// Scans find nothing across routers or where multicast is filtered.
package discovery
