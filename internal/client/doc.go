// Package client connects a protocol session to a real job server.
//
// A Client owns one connection (TCP, TLS or WebSocket), runs a read loop that
// feeds inbound bytes into its session, and serialises every session call
// behind a mutex so that requests can be sent from many goroutines.
//
//	c, err := client.Dial(ctx, "localhost:4730", client.Options{})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	rtt, err := c.Echo(ctx)
//
// When the server hangs up, or sends bytes that are not a valid frame header,
// every pending request fails with a session.ConnectionLostError and Done is
// closed.
package client
