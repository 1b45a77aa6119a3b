package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/client"
	"github.com/wdatlassian/twisted-gears/internal/logging"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
	"github.com/wdatlassian/twisted-gears/internal/session"
	"github.com/wdatlassian/twisted-gears/internal/ui"
)

// notificationBuffer bounds the notifications queued for display
const notificationBuffer = 256

var (
	watchFunctions []string
	watchPlain     bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSliceVarP(&watchFunctions, "function", "f", nil, "Register as a sleeping worker for these functions to receive NOOP wake-ups")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print one line per notification even on a terminal")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show push notifications from a server",
	Long: `Connect to a server and display every unsolicited frame it sends.

With --function, gearctl announces those functions with CAN_DO and sends
PRE_SLEEP, so the server wakes it with NOOP whenever a matching job is
queued. gearctl goes back to sleep after each NOOP without grabbing jobs.

On a terminal the notifications are shown in a live view; otherwise (or
with --plain) one line is printed per frame.`,
	Example: `  # Watch for jobs queued for "resize"
  gearctl watch -f resize

  # Log notifications to a file
  gearctl watch -f resize,thumbnail --plain > noop.log`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, _, err := dial(ctx, "")
	if err != nil {
		return err
	}
	defer c.Close()

	notes, dropped := subscribe(c)

	for _, fn := range watchFunctions {
		if err := c.SendRaw(protocol.CanDo, []byte(fn)); err != nil {
			return err
		}
	}
	rearm := len(watchFunctions) > 0
	if rearm {
		if err := c.SleepNotice(); err != nil {
			return err
		}
	}
	notes = relay(c, notes, rearm)

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	if ui.IsTerminal() && !watchPlain {
		err = ui.RunWatch(c.RemoteAddr(), notes, c.Err)
	} else {
		printNotifications(cmd.OutOrStdout(), notes)
		err = c.Err()
	}

	if n := dropped.Load(); n > 0 {
		logging.Warn("Notifications dropped", zap.Uint64("count", n))
	}
	if errors.Is(err, session.ErrClosed) {
		return nil
	}
	return err
}

// subscribe registers a handler that queues every unsolicited frame. The
// channel closes once the connection is done. Frames arriving while the
// queue is full are counted in dropped.
func subscribe(c *client.Client) (<-chan ui.Notification, *atomic.Uint64) {
	ch := make(chan ui.Notification, notificationBuffer)
	dropped := new(atomic.Uint64)

	h := session.HandlerFunc(func(cmd protocol.Command, payload []byte) {
		n := ui.Notification{Time: time.Now(), Command: cmd, Payload: bytes.Clone(payload)}
		select {
		case ch <- n:
		default:
			dropped.Add(1)
		}
	})
	c.Register(h)

	go func() {
		<-c.Done()
		c.Unregister(h)
		close(ch)
	}()
	return ch, dropped
}

// relay forwards notifications and, when rearm is set, answers each NOOP
// with a fresh PRE_SLEEP
func relay(c *client.Client, in <-chan ui.Notification, rearm bool) <-chan ui.Notification {
	if !rearm {
		return in
	}
	out := make(chan ui.Notification, notificationBuffer)
	go func() {
		defer close(out)
		for n := range in {
			if n.Command == protocol.Noop {
				if err := c.SleepNotice(); err != nil {
					logging.Debug("PRE_SLEEP failed", zap.Error(err))
				}
			}
			out <- n
		}
	}()
	return out
}

func printNotifications(w io.Writer, notes <-chan ui.Notification) {
	for n := range notes {
		fmt.Fprintln(w, ui.FormatNotification(n))
	}
}
