package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdatlassian/twisted-gears/internal/client"
	"github.com/wdatlassian/twisted-gears/internal/config"
	"github.com/wdatlassian/twisted-gears/internal/gearman"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name          string
		server        string
		transport     string
		wantServers   []string
		wantTransport string
		wantErr       bool
	}{
		{
			name:          "no overrides",
			wantServers:   []string{"localhost:4730"},
			wantTransport: config.TransportTCP,
		},
		{
			name:          "server without port",
			server:        "jobs.internal",
			wantServers:   []string{"jobs.internal:4730"},
			wantTransport: config.TransportTCP,
		},
		{
			name:          "websocket URL implies websocket",
			server:        "wss://jobs.example.com/gearman",
			wantServers:   []string{"wss://jobs.example.com/gearman"},
			wantTransport: config.TransportWebSocket,
		},
		{
			name:          "explicit tls",
			server:        "jobs.internal:4731",
			transport:     "TLS",
			wantServers:   []string{"jobs.internal:4731"},
			wantTransport: config.TransportTLS,
		},
		{
			name:      "unknown transport",
			transport: "udp",
			wantErr:   true,
		},
		{
			name:      "websocket transport with plain address",
			server:    "jobs.internal:4730",
			transport: "websocket",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := config.Default()
			cfg, err := applyOverrides(base, tt.server, tt.transport)
			if tt.wantErr {
				if err == nil {
					t.Fatal("applyOverrides() expected error")
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServers, cfg.Servers)
			assert.Equal(t, tt.wantTransport, cfg.Transport)
			assert.Equal(t, []string{"localhost:4730"}, base.Servers, "base config must not change")
		})
	}
}

func TestClientOptions(t *testing.T) {
	cfg := config.Default()
	cfg.RequestTimeout = 3 * time.Second
	cfg.MaxPayload = 1 << 20
	cfg.Unsolicited = []string{"NOOP", "WORK_COMPLETE"}

	opts, err := clientOptions(cfg)
	require.NoError(t, err)
	assert.Nil(t, opts.TLS)
	assert.Equal(t, 3*time.Second, opts.RequestTimeout)
	assert.Equal(t, uint32(1<<20), opts.MaxPayload)
	assert.True(t, opts.Classifier.IsUnsolicited(protocol.Noop))
	assert.False(t, opts.Classifier.IsUnsolicited(protocol.WorkStatus))

	cfg.Transport = config.TransportTLS
	cfg.TLS = &config.TLSConfig{ServerName: "jobs.internal"}
	opts, err = clientOptions(cfg)
	require.NoError(t, err)
	require.NotNil(t, opts.TLS)
	assert.Equal(t, "jobs.internal", opts.TLS.ServerName)

	cfg = config.Default()
	cfg.Transport = config.TransportWebSocket
	cfg.Servers = []string{"wss://jobs.example.com/ws"}
	opts, err = clientOptions(cfg)
	require.NoError(t, err)
	assert.NotNil(t, opts.TLS, "wss:// needs a TLS config")
}

func TestBuildPayload(t *testing.T) {
	got, err := buildPayload([]string{"reverse", "", "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("reverse\x00\x00hello"), got)

	got, err = buildPayload(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = buildPayload([]string{"-"}, strings.NewReader("from\x00stdin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from\x00stdin"), got)
}

func TestSelectFunctions(t *testing.T) {
	all := builtinFunctions(nil, 0)

	got, err := selectFunctions(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, len(all))

	got, err = selectFunctions(all, []string{"echo", "reverse"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = selectFunctions(all, []string{"nope"})
	assert.ErrorContains(t, err, `unknown function "nope"`)
}

func TestBuiltinFunctions(t *testing.T) {
	funcs := builtinFunctions(nil, 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "echo", data: "abc", want: "abc"},
		{name: "reverse", data: "héllo", want: "olléh"},
		{name: "upper", data: "abc", want: "ABC"},
		{name: "count", data: "0", want: "0"},
		{name: "count", data: "x", wantErr: true},
		{name: "fail", data: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.data, func(t *testing.T) {
			got, err := funcs[tt.name](ctx, &gearman.Assignment{Handle: "H:1", Function: tt.name, Data: []byte(tt.data)})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestReverseRunesInvalidUTF8(t *testing.T) {
	assert.Equal(t, []byte{0xff, 'b', 'a'}, reverseRunes([]byte{'a', 'b', 0xff}))
}

func TestStatusDetails(t *testing.T) {
	details := statusDetails(gearman.JobStatus{Handle: "H:1", Known: true, Running: true, Numerator: 1, Denominator: 4})
	require.Len(t, details, 4)
	assert.Equal(t, "Progress", details[3].Key)
	assert.Equal(t, "1/4 (25%)", details[3].Value)

	details = statusDetails(gearman.JobStatus{Handle: "H:2"})
	assert.Len(t, details, 3)
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "server error ERR_QUEUE: queue full",
		describeError(&client.ServerError{Code: "ERR_QUEUE", Message: "queue full"}))
	assert.Equal(t, "job exception: boom",
		describeError(&gearman.JobError{Handle: "H:1", Exception: []byte("boom\n")}))
	assert.Equal(t, "plain", describeError(errors.New("plain")))
}

// fakeServer answers each request frame with whatever reply returns
func fakeServer(t *testing.T, reply func(protocol.Frame) []protocol.Frame) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var buf []byte
				chunk := make([]byte, 4096)
				for {
					n, err := conn.Read(chunk)
					if err != nil {
						return
					}
					buf = append(buf, chunk[:n]...)
					frames, rest, err := protocol.Decode(buf)
					if err != nil {
						return
					}
					buf = append(buf[:0], rest...)
					for _, f := range frames {
						for _, r := range reply(f) {
							r.Kind = protocol.KindResponse
							if _, err := conn.Write(protocol.EncodeFrame(r)); err != nil {
								return
							}
						}
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

// echoServer answers every request with a response carrying the same
// command + 1 and payload
func echoServer(t *testing.T) string {
	return fakeServer(t, func(f protocol.Frame) []protocol.Frame {
		return []protocol.Frame{{Command: f.Command + 1, Payload: f.Payload}}
	})
}

func TestSendCommand(t *testing.T) {
	addr := echoServer(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"send", "ECHO_REQ", "hi",
		"--server", addr,
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		serverAddr, configPath = "", ""
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "ECHO_RES hi")
}

func TestSendWarnsOnUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	warnUnknown(&buf, protocol.Command(99))
	assert.Contains(t, buf.String(), "COMMAND(99)")

	buf.Reset()
	warnUnknown(&buf, protocol.EchoReq)
	assert.Empty(t, buf.String())
}

func TestSubmitStopsOnInterrupt(t *testing.T) {
	submitted := make(chan struct{})
	var once sync.Once
	// The job is created but never reported on again.
	addr := fakeServer(t, func(f protocol.Frame) []protocol.Frame {
		switch f.Command {
		case protocol.OptionReq:
			return []protocol.Frame{{Command: protocol.OptionRes, Payload: f.Payload}}
		case protocol.SubmitJob:
			once.Do(func() { close(submitted) })
			return []protocol.Frame{{Command: protocol.JobCreated, Payload: []byte("H:stall:1")}}
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orig := signalContext
	signalContext = func() (context.Context, context.CancelFunc) { return ctx, cancel }

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{
		"submit", "slow", "x",
		"--progress=false",
		"--server", addr,
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
	})
	t.Cleanup(func() {
		signalContext = orig
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		serverAddr, configPath = "", ""
		submitProgress = true
	})

	done := make(chan error, 1)
	go func() { done <- rootCmd.Execute() }()

	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw SUBMIT_JOB")
	}
	// Give the client time to read JOB_CREATED and start following.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interrupted")
		assert.Empty(t, out.String())
	case <-time.After(5 * time.Second):
		t.Fatal("submit kept running after interrupt")
	}
}
