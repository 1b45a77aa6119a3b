package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wdatlassian/twisted-gears/internal/client"
	"github.com/wdatlassian/twisted-gears/internal/config"
	"github.com/wdatlassian/twisted-gears/internal/discovery"
	"github.com/wdatlassian/twisted-gears/internal/gearman"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
	"github.com/wdatlassian/twisted-gears/internal/ui"
)

// Command flags
var (
	echoCount    int
	echoInterval time.Duration
	sendRaw      bool
	sendExpect   []string
	scanTimeout  time.Duration
	scanSave     bool
	scanInstance string
)

func init() {
	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(configCmd)

	echoCmd.Flags().IntVarP(&echoCount, "count", "c", 1, "Number of probes to send")
	echoCmd.Flags().DurationVar(&echoInterval, "interval", time.Second, "Delay between probes")

	sendCmd.Flags().BoolVar(&sendRaw, "no-reply", false, "Send without waiting for a response")
	sendCmd.Flags().StringSliceVar(&sendExpect, "expect", nil, "Acceptable response commands (default: any)")

	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Scan duration (default from config, 5s)")
	discoverCmd.Flags().BoolVar(&scanSave, "save", false, "Write the discovered servers to the config file")
	discoverCmd.Flags().StringVar(&scanInstance, "instance", "", "Stop as soon as this instance is found")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

// signalContext returns a context cancelled on interrupt
var signalContext = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// echoCmd checks round-trip latency
var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Send ECHO_REQ probes and report round-trip time",
	Example: `  # One probe to the configured server
  gearctl echo

  # Ten probes, 200ms apart
  gearctl echo -c 10 --interval 200ms --server jobs.internal:4730`,
	Args: cobra.NoArgs,
	RunE: runEcho,
}

func runEcho(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout())
	c, cfg, err := dial(ctx, "")
	if err != nil {
		p.PrintError("Echo", err, connectTips...)
		return err
	}
	defer c.Close()

	p.PrintHeader("Echo", "gearctl echo",
		ui.Detail{Key: "Server", Value: c.RemoteAddr()},
		ui.Detail{Key: "Transport", Value: cfg.Transport},
		ui.Detail{Key: "Probes", Value: strconv.Itoa(echoCount)})

	var total, best, worst time.Duration
	for i := 0; i < echoCount; i++ {
		if i > 0 {
			select {
			case <-time.After(echoInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		rtt, err := c.Echo(ctx)
		if err != nil {
			p.PrintError("Echo", err, connectTips...)
			return err
		}
		if i == 0 || rtt < best {
			best = rtt
		}
		if rtt > worst {
			worst = rtt
		}
		total += rtt
		if echoCount > 1 {
			p.Println(fmt.Sprintf("  probe %d: %s", i+1, ui.Elapsed(rtt)))
		}
	}

	details := []ui.Detail{{Key: "Round trip", Value: ui.Elapsed(total / time.Duration(echoCount))}}
	if echoCount > 1 {
		details = append(details,
			ui.Detail{Key: "Min", Value: ui.Elapsed(best)},
			ui.Detail{Key: "Max", Value: ui.Elapsed(worst)})
	}
	p.PrintSuccess("Echo", details...)
	return nil
}

// sendCmd sends one arbitrary command
var sendCmd = &cobra.Command{
	Use:   "send COMMAND [ARG...]",
	Short: "Send one protocol command and print the response",
	Long: `Send a single request frame and print the response it is matched with.

COMMAND is a protocol name (ECHO_REQ, GET_STATUS, OPTION_REQ, ...) or a
decimal command code. The remaining arguments are joined with NUL bytes to
form the payload; "-" reads the payload from stdin.

Responses are matched to requests in send order, so the reply printed is
the next non-notification frame the server sends.`,
	Example: `  # Echo a payload
  gearctl send ECHO_REQ hello

  # Query a job handle
  gearctl send GET_STATUS H:lap:1 --expect STATUS_RES

  # Announce a function without waiting
  gearctl send CAN_DO resize --no-reply`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	command, err := protocol.ParseCommand(args[0])
	if err != nil {
		return err
	}
	warnUnknown(cmd.ErrOrStderr(), command)
	payload, err := buildPayload(args[1:], cmd.InOrStdin())
	if err != nil {
		return err
	}
	want := make([]protocol.Command, 0, len(sendExpect))
	for _, name := range sendExpect {
		w, err := protocol.ParseCommand(name)
		if err != nil {
			return fmt.Errorf("--expect: %w", err)
		}
		want = append(want, w)
	}

	ctx, cancel := signalContext()
	defer cancel()

	c, _, err := dial(ctx, "")
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if sendRaw {
		if err := c.SendRaw(command, payload); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s (%d bytes)\n", command, len(payload))
		return nil
	}

	start := time.Now()
	var reply protocol.Frame
	if len(want) > 0 {
		reply, err = c.Expect(ctx, command, payload, want...)
	} else {
		reply, err = c.Send(ctx, command, payload)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, ui.FormatNotification(ui.Notification{
		Time:    time.Now(),
		Command: reply.Command,
		Payload: reply.Payload,
	}))
	fmt.Fprintf(out, "(%d bytes in %s)\n", len(reply.Payload), ui.Elapsed(time.Since(start)))
	return nil
}

// warnUnknown notes a numeric command code the protocol does not define
func warnUnknown(w io.Writer, command protocol.Command) {
	if !command.Known() {
		fmt.Fprintf(w, "warning: %s is not a known command code; the server may reply with ERROR\n", command)
	}
}

// buildPayload joins args with NUL. A lone "-" reads stdin verbatim.
func buildPayload(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	parts := make([][]byte, len(args))
	for i, a := range args {
		parts[i] = []byte(a)
	}
	return protocol.JoinArgs(parts...), nil
}

// statusCmd queries a job handle
var statusCmd = &cobra.Command{
	Use:   "status HANDLE",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p := ui.NewPrinter(cmd.OutOrStdout())
	c, _, err := dial(ctx, args[0])
	if err != nil {
		p.PrintError("Status", err, connectTips...)
		return err
	}
	defer c.Close()

	gc := gearman.NewClient(c)
	defer gc.Close()

	st, err := gc.Status(ctx, args[0])
	if err != nil {
		p.PrintError("Status", err)
		return err
	}
	p.PrintSuccess("Status", statusDetails(st)...)
	return nil
}

func statusDetails(st gearman.JobStatus) []ui.Detail {
	details := []ui.Detail{
		{Key: "Handle", Value: st.Handle},
		{Key: "Known", Value: strconv.FormatBool(st.Known)},
		{Key: "Running", Value: strconv.FormatBool(st.Running)},
	}
	if st.Denominator > 0 {
		details = append(details, ui.Detail{
			Key:   "Progress",
			Value: fmt.Sprintf("%d/%d (%.0f%%)", st.Numerator, st.Denominator, 100*float64(st.Numerator)/float64(st.Denominator)),
		})
	}
	return details
}

// discoverCmd finds servers with mDNS
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find job servers on the local network",
	Long: `Browse for job servers advertising the _gearman._tcp service over mDNS.

The service type, domain and scan duration come from the discovery section
of the config file.`,
	Example: `  # Scan with the configured timeout
  gearctl discover

  # Scan for 10 seconds and store the results as the server list
  gearctl discover --timeout 10s --save`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner()
	if cfg.Discovery != nil {
		scanner.Service = cfg.Discovery.Service
		scanner.Domain = cfg.Discovery.Domain
		scanner.Timeout = cfg.Discovery.Timeout
	}
	if scanTimeout > 0 {
		scanner.Timeout = scanTimeout
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanning for %s servers (timeout: %s)...\n\n", scanner.Service, scanner.Timeout)

	var servers []*discovery.Server
	if scanInstance != "" {
		s, err := scanner.WaitForServer(ctx, scanInstance)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		servers = []*discovery.Server{s}
	} else {
		servers, err = scanner.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
	}

	if len(servers) == 0 {
		fmt.Fprintln(out, "No servers found.")
		fmt.Fprintln(out, "\nTroubleshooting:")
		fmt.Fprintln(out, "  - Check that the server advertises itself over mDNS")
		fmt.Fprintln(out, "  - mDNS does not cross routers; scan from the same network")
		fmt.Fprintln(out, "  - Try increasing --timeout")
		return nil
	}

	fmt.Fprintf(out, "Found %d server(s):\n\n", len(servers))
	for i, s := range servers {
		fmt.Fprintf(out, "%d. %s\n", i+1, s.Instance)
		fmt.Fprintf(out, "   Host:    %s\n", s.Hostname)
		fmt.Fprintf(out, "   Address: %s\n", s.Addr())
		if v := s.GetMetadata("version"); v != "" {
			fmt.Fprintf(out, "   Version: %s\n", v)
		}
		fmt.Fprintln(out)
	}

	if !scanSave {
		return nil
	}
	return saveServers(cmd.OutOrStdout(), servers)
}

// saveServers stores the discovered addresses as the server list in the config file
func saveServers(out io.Writer, servers []*discovery.Server) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	// Reload without flag overrides so only the server list changes
	stored, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	stored.Servers = make([]string, len(servers))
	for i, s := range servers {
		stored.Servers[i] = s.Addr()
	}
	if stored.Transport == config.TransportWebSocket {
		stored.Transport = config.TransportTCP
	}
	if err := stored.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %d server(s) to %s\n", len(servers), path)
	return nil
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the gearctl configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			path string
			err  error
		)
		if configPath != "" {
			path = configPath
			if _, statErr := os.Stat(path); statErr == nil {
				return fmt.Errorf("config file already exists: %s", path)
			}
			err = config.Default().Save(path)
		} else {
			path, err = config.CreateDefaultConfig()
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

// describeError renders server ERROR replies and job exceptions for output
func describeError(err error) string {
	var se *client.ServerError
	if errors.As(err, &se) {
		return fmt.Sprintf("server error %s: %s", se.Code, se.Message)
	}
	var je *gearman.JobError
	if errors.As(err, &je) && je.Exception != nil {
		return "job exception: " + strings.TrimSpace(string(je.Exception))
	}
	return err.Error()
}
