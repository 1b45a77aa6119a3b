// Gearctl is a command-line client for Gearman-style job servers.
//
// It speaks the binary job-server protocol over TCP, TLS or WebSocket and
// can submit jobs, follow their progress, query job status, run a small
// worker, and watch the push notifications a server sends.
//
// Usage:
//
//	gearctl [command] [flags]
//
// See 'gearctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wdatlassian/twisted-gears/internal/logging"
	"github.com/wdatlassian/twisted-gears/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	serverAddr string
	transport  string
	logLevel   string
	serverKey  string
)

var rootCmd = &cobra.Command{
	Use:   "gearctl",
	Short: "Job server command-line client",
	Long: `A command-line client for Gearman-style job servers.

gearctl talks the binary job-server protocol over TCP, TLS or WebSocket.
Requests are matched to responses in the order they were sent, and push
notifications (NOOP, WORK_STATUS, WORK_COMPLETE, ...) are delivered to
whichever command is listening for them.

Servers, transport and timeouts come from the configuration file
(see 'gearctl config path') and can be overridden with flags.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
	Example: `  # Check that a server answers
  gearctl echo --server localhost:4730

  # Submit a job and follow its progress
  gearctl submit reverse "hello world"

  # Watch push notifications as a worker for "resize"
  gearctl watch --function resize`,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the per-user config path)")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "", "Job server address or ws:// URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "Transport: tcp, tls or websocket (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent by default")
	rootCmd.PersistentFlags().StringVar(&serverKey, "key", "", "Key used to pick one of several configured servers")

	rootCmd.AddCommand(versionCmd)
}

// initLogging picks the level from --log-level, then GEARCTL_LOG_LEVEL,
// then the config file
func initLogging() error {
	level := logLevel
	if level == "" {
		level = os.Getenv(logging.LogLevelEnvVar)
	}
	if level == "" {
		if cfg, err := loadConfig(); err == nil {
			level = cfg.LogLevel
		}
	}
	return logging.Initialize(level)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gearctl %s\n", version.Full())
	},
}
