package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"serterm/pkg/linedisc"
	"serterm/pkg/serial"
	"serterm/pkg/settings"
)

// execute runs a fresh root command and returns what it printed.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(context.Background(), "", args...)
}

func executeContext(ctx context.Context, stdin string, args ...string) (string, string, error) {
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "serterm [port]", root.Use)
	assert.NotEmpty(t, root.Short)

	for _, name := range []string{"list", "config", "connect"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	for _, flag := range []string{"port", "baud", "parity", "databits", "stopbits", "echo", "txnl", "char-delay", "line-delay", "ini", "profile"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestFlagValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad baud", []string{"--baud", "12345"}, "invalid baud rate: 12345"},
		{"bad echo", []string{"--echo", "maybe"}, "echo: must be ON or OFF"},
		{"bad txnl", []string{"--txnl", "VMS"}, "unknown newline style"},
		{"bad stop bits", []string{"--stopbits", "3"}, "invalid stop bits"},
		{"negative delay", []string{"--char-delay=-5ms"}, "char-delay cannot be negative"},
		{"sub-millisecond char delay", []string{"--char-delay", "500us"}, "char-delay must be a whole number of milliseconds"},
		{"fractional line delay", []string{"--line-delay", "1500us"}, "line-delay must be a whole number of milliseconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"config", "save", "x", "--profile-dir", t.TempDir()}, tt.args...)
			_, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_SaveShowListDelete(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, "config", "save", "bench", "--profile-dir", dir,
		"-p", "/dev/ttyACM0", "-b", "9600", "--txnl", "unix", "--echo", "off", "--line-delay", "100ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile 'bench' saved")
	assert.Contains(t, out, "/dev/ttyACM0 9600 8N1")
	assert.FileExists(t, filepath.Join(dir, "profiles", "bench.ini"))

	s, err := settings.NewStore(filepath.Join(dir, "profiles")).Load("bench")
	require.NoError(t, err)
	assert.Equal(t, 9600, s.Baud)
	assert.Equal(t, linedisc.StyleUnix, s.TxStyle)
	assert.False(t, s.Echo)
	assert.Equal(t, 100*time.Millisecond, s.LineDelay)

	out, _, err = execute(t, "config", "list", "--profile-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 saved profile(s)")
	assert.Contains(t, out, "bench")
	assert.Contains(t, out, "UNIX")

	out, _, err = execute(t, "config", "show", "bench", "--profile-dir", dir, "-o", "json")
	require.NoError(t, err)
	var view profileView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "/dev/ttyACM0", view.Port)
	assert.Equal(t, "OFF", view.Echo)
	assert.Equal(t, "100ms", view.LineDelay)

	out, _, err = execute(t, "config", "show", "bench", "--profile-dir", dir, "-o", "yaml")
	require.NoError(t, err)
	view = profileView{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, 9600, view.Baud)
	assert.Equal(t, "UNIX", view.TxNewline)

	out, _, err = execute(t, "config", "show", "bench", "--profile-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Profile: bench")
	assert.Contains(t, out, "TX Newline: UNIX")

	_, _, err = execute(t, "config", "show", "bench", "--profile-dir", dir, "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")

	out, _, err = execute(t, "config", "delete", "bench", "--profile-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Profile 'bench' deleted.")

	_, _, err = execute(t, "config", "delete", "bench", "--profile-dir", dir)
	assert.ErrorIs(t, err, settings.ErrNotFound)

	out, _, err = execute(t, "config", "list", "--profile-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No saved profiles found.")
}

func TestConfig_Path(t *testing.T) {
	dir := t.TempDir()
	out, _, err := execute(t, "config", "path", "--profile-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "serterm.ini"))
	assert.Contains(t, out, filepath.Join(dir, "profiles"))
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SERTERM_BAUD", "57600")
	t.Setenv("SERTERM_CHAR_DELAY", "3ms")

	_, _, err := execute(t, "config", "save", "env", "--profile-dir", dir)
	require.NoError(t, err)

	s, err := settings.NewStore(filepath.Join(dir, "profiles")).Load("env")
	require.NoError(t, err)
	assert.Equal(t, 57600, s.Baud)
	assert.Equal(t, 3*time.Millisecond, s.CharDelay)

	// A flag beats the environment.
	_, _, err = execute(t, "config", "save", "env", "--profile-dir", dir, "-b", "19200")
	require.NoError(t, err)
	s, err = settings.NewStore(filepath.Join(dir, "profiles")).Load("env")
	require.NoError(t, err)
	assert.Equal(t, 19200, s.Baud)
}

func TestResolveSettings_Precedence(t *testing.T) {
	dir := t.TempDir()
	ini := filepath.Join(dir, "bench.ini")

	base := settings.Default()
	base.Port = "/dev/ttyS3"
	base.Baud = 4800
	base.Macros[0] = "AT\n"
	require.NoError(t, base.Save(ini))

	tests := []struct {
		name     string
		args     []string
		wantPort string
		wantBaud int
		wantPath string
	}{
		{"file only", []string{"--ini", ini}, "/dev/ttyS3", 4800, ini},
		{"flag over file", []string{"--ini", ini, "-b", "9600"}, "/dev/ttyS3", 9600, ini},
		{"positional port", []string{"--ini", ini, "/dev/ttyUSB7"}, "/dev/ttyUSB7", 4800, ini},
		{"default file missing", []string{"--profile-dir", dir}, settings.Default().Port, 115200, filepath.Join(dir, "serterm.ini")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, root := newCLI()
			var got *settings.Settings
			var gotPath string
			root.RunE = func(cmd *cobra.Command, args []string) error {
				var err error
				got, gotPath, err = c.resolveSettings(cmd, args)
				return err
			}
			root.SetArgs(tt.args)
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			require.NoError(t, root.Execute())

			assert.Equal(t, tt.wantPort, got.Port)
			assert.Equal(t, tt.wantBaud, got.Baud)
			assert.Equal(t, tt.wantPath, gotPath)
		})
	}
}

func TestResolveSettings_MissingProfile(t *testing.T) {
	_, _, err := execute(t, "--profile", "nope", "--profile-dir", t.TempDir(), "--loopback", "--headless")
	assert.ErrorIs(t, err, settings.ErrNotFound)
}

func TestResolveSettings_BadFileIgnored(t *testing.T) {
	dir := t.TempDir()
	ini := filepath.Join(dir, "broken.ini")
	require.NoError(t, os.WriteFile(ini, []byte("{not json"), 0644))

	_, errOut, err := execute(t, "config", "save", "fallback", "--profile-dir", dir, "--ini", ini)
	require.NoError(t, err)
	assert.Contains(t, errOut, "ignoring settings file")

	s, err := settings.NewStore(filepath.Join(dir, "profiles")).Load("fallback")
	require.NoError(t, err)
	assert.Equal(t, 115200, s.Baud)
}

func TestHeadlessLoopbackSession(t *testing.T) {
	dir := t.TempDir()
	teePath := filepath.Join(dir, "raw.bin")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, _, err := executeContext(ctx, "hello\n",
		"--headless", "--loopback", "--profile-dir", dir, "--port", "loop0", "--tee", teePath)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")

	raw, err := os.ReadFile(teePath)
	require.NoError(t, err)
	assert.Equal(t, "hello\r\n", string(raw))
}

func TestConnect_UnknownTarget(t *testing.T) {
	_, errOut, err := execute(t, "connect", "no-such-profile", "--profile-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither a serial port nor a saved profile")
	assert.Contains(t, errOut, "Available ports:")
}

func TestConnect_ProfileLoopback(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "config", "save", "loop", "--profile-dir", dir, "-p", "loop0", "--txnl", "UNIX")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	out, _, err := executeContext(ctx, "ping\n", "connect", "loop", "--profile-dir", dir, "--loopback", "--headless")
	require.NoError(t, err)
	assert.Contains(t, out, "ping")
}

func TestTestConnection(t *testing.T) {
	cfg := serial.DefaultConfig()
	cfg.Port = "mem0"

	var out bytes.Buffer
	require.NoError(t, testConnection(&out, serial.NewMemoryPort(false), cfg))
	assert.Contains(t, out.String(), "Connection successful: mem0 115200 8N1")

	failing := serial.NewMemoryPort(false)
	failing.FailOpen(os.ErrPermission)
	err := testConnection(&out, failing, cfg)
	require.Error(t, err)

	var hints bytes.Buffer
	printHints(&hints, err)
	assert.Contains(t, hints.String(), "dialout")
}

func TestPrintHints(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"open /dev/ttyUSB0: permission denied", "dialout"},
		{"serial port busy", "in use by another application"},
		{"open /dev/ttyUSB9: no such file or directory", "serterm list"},
		{"something else", ""},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			var buf bytes.Buffer
			printHints(&buf, errString(tt.msg))
			if tt.want == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestIsSerialPort(t *testing.T) {
	assert.True(t, isSerialPort("COM3"))
	assert.True(t, isSerialPort("com12"))
	assert.True(t, isSerialPort("/dev/ttyUSB0"))
	assert.False(t, isSerialPort("my-bench-profile"))
}

func TestPrintPorts(t *testing.T) {
	ports := []serial.PortInfo{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R", SerialNumber: "A1"},
	}

	tests := []struct {
		format  string
		details bool
		want    string
	}{
		{"table", false, "Found 2 serial port(s):\n  /dev/ttyS0\n  /dev/ttyUSB0\n"},
		{"table", true, "  /dev/ttyUSB0 [USB] VID:0403 PID:6001 - FT232R (SN: A1)\n"},
		{"csv", false, "port\n/dev/ttyS0\n/dev/ttyUSB0\n"},
		{"csv", true, "/dev/ttyUSB0,true,0403,6001,FT232R,A1\n"},
		{"json", false, "[\n  \"/dev/ttyS0\",\n  \"/dev/ttyUSB0\"\n]\n"},
		{"json", true, "\"product\": \"FT232R\""},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, printPorts(&buf, ports, tt.format, tt.details))
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	var buf bytes.Buffer
	assert.Error(t, printPorts(&buf, ports, "xml", false))

	buf.Reset()
	require.NoError(t, printPorts(&buf, nil, "table", false))
	assert.Equal(t, "No serial ports found.\n", buf.String())
}

type errString string

func (e errString) Error() string { return string(e) }
