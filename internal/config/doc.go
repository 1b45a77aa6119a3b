// Package config provides the gearctl configuration file.
//
// The file is YAML and names the job servers to talk to, the transport, TLS
// verification settings, timeouts and which commands are treated as server
// push notifications. A missing file is not an error: Default() is used.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/gearctl/config.yaml or $HOME/.config/gearctl/config.yaml
//   - macOS: $HOME/.config/gearctl/config.yaml
//   - Windows: %LOCALAPPDATA%\gearctl\config.yaml
//
// # Example
//
//	version: 1
//	servers:
//	  - jobs-1.internal:4730
//	  - jobs-2.internal:4730
//	transport: tcp
//	dial_timeout: 5s
//	request_timeout: 30s
//	unsolicited: [NOOP, WORK_COMPLETE, WORK_FAIL, WORK_STATUS]
//
// # Server Selection
//
// SelectServer maps a key (usually a job's unique id) to one server with a
// consistent hash, so the same key always reaches the same server.
//
// # Thread Safety
//
// Load uses sync.Once for safe initialization across goroutines.
// Save is protected by a mutex and writes atomically.
package config
