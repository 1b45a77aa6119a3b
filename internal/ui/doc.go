// Package ui provides terminal output for the gearctl CLI.
//
// Two kinds of components live here. The Printer renders one-shot output
// (a header box, then a success or error box) for commands such as echo,
// send and status. The bubbletea models drive the long-running views:
// WatchModel lists unsolicited notifications as they arrive and JobModel
// shows a progress bar for a foreground job.
//
// When stdout is not a terminal (see IsTerminal) commands fall back to
// FormatNotification, which prints one plain line per frame.
//
// Example:
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Echo", "gearctl echo", ui.Detail{Key: "Server", Value: addr})
//	rtt, err := c.Echo(ctx)
//	if err != nil {
//	    p.PrintError("Echo", err, "Check the server address")
//	    return err
//	}
//	p.PrintSuccess("Echo", ui.Detail{Key: "Round trip", Value: ui.Elapsed(rtt)})
package ui
