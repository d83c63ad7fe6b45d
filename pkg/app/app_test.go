package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serterm/pkg/linedisc"
	"serterm/pkg/serial"
	"serterm/pkg/settings"
)

var noRetry = serial.RetryConfig{BackoffFactor: 1}

func testSettings() *settings.Settings {
	s := settings.Default()
	s.Port = "mem0"
	return s
}

// safeBuffer is written by the tee goroutine and read by the test.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	app    *App
	port   *serial.MemoryPort
	sim    tcell.SimulationScreen
	cancel context.CancelFunc
	errc   chan error
	once   sync.Once
	err    error
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.once.Do(func() {
		h.cancel()
		select {
		case h.err = <-h.errc:
		case <-time.After(5 * time.Second):
			t.Fatal("app did not stop")
		}
	})
	return h.err
}

func start(t *testing.T, port *serial.MemoryPort, opts Options) *harness {
	t.Helper()
	if opts.Settings == nil {
		opts.Settings = testSettings()
	}
	if opts.Retry == (serial.RetryConfig{}) {
		opts.Retry = noRetry
	}
	if opts.Errors == nil {
		opts.Errors = &bytes.Buffer{}
	}
	opts.Transport = port
	opts.Logger = zerolog.Nop()
	opts.PollInterval = time.Millisecond
	opts.RenderInterval = 5 * time.Millisecond

	a, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{app: a, port: port, cancel: cancel, errc: make(chan error, 1)}
	go func() { h.errc <- a.Run(ctx) }()
	t.Cleanup(func() { _ = h.stop(t) })
	return h
}

func startScreen(t *testing.T, port *serial.MemoryPort, opts Options) *harness {
	t.Helper()
	sim := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, sim.Init())
	sim.SetSize(40, 10)
	opts.Screen = sim
	h := start(t, port, opts)
	h.sim = sim
	t.Cleanup(sim.Fini)
	return h
}

// call runs fn on the loop goroutine and returns its result.
func call[T any](t *testing.T, a *App, fn func() T) T {
	t.Helper()
	ch := make(chan T, 1)
	require.True(t, a.Do(func() { ch <- fn() }))
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not run call")
	}
	var zero T
	return zero
}

func waitWritten(t *testing.T, port *serial.MemoryPort, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return string(port.Written()) == want
	}, 2*time.Second, time.Millisecond, "written so far: %q", port.Written())
}

func TestNew_Validation(t *testing.T) {
	bad := testSettings()
	bad.Baud = 7

	tests := []struct {
		name string
		opts Options
	}{
		{"nil settings", Options{Transport: serial.NewMemoryPort(false)}},
		{"nil transport", Options{Settings: testSettings()}},
		{"invalid settings", Options{Settings: bad, Transport: serial.NewMemoryPort(false)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestApp_HeadlessLoopback(t *testing.T) {
	s := testSettings()
	s.Echo = false
	var out, errs bytes.Buffer
	port := serial.NewMemoryPort(true)

	h := start(t, port, Options{
		Settings: s,
		Input:    strings.NewReader("AT\nhello\n"),
		Output:   &out,
		Errors:   &errs,
	})

	waitWritten(t, port, "AT\r\nhello\r\n")
	require.NoError(t, h.stop(t))

	assert.Equal(t, "AT\nhello\n", out.String())
	assert.Contains(t, errs.String(), "mem0 open")

	saved := h.app.Settings()
	assert.Equal(t, []string{"hello", "AT"}, saved.SendHistory[0])

	st := h.app.Stats()
	assert.Equal(t, uint64(len("AT\r\nhello\r\n")), st.Sent)
	assert.Equal(t, uint64(len("AT\r\nhello\r\n")), st.Received)
}

func TestApp_TypeWhileBusy(t *testing.T) {
	s := testSettings()
	s.CharDelay = 50 * time.Millisecond
	h := start(t, serial.NewMemoryPort(false), Options{Settings: s})

	err := call(t, h.app, func() error {
		if err := h.app.Send(0, "abcdef"); err != nil {
			return err
		}
		return h.app.Type('x')
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "transmit busy", call(t, h.app, h.app.Status))
}

func TestApp_TypedKeys(t *testing.T) {
	port := serial.NewMemoryPort(false)
	h := startScreen(t, port, Options{})

	h.sim.InjectKey(tcell.KeyRune, 'a', tcell.ModNone)
	h.sim.InjectKey(tcell.KeyRune, 'b', tcell.ModNone)
	h.sim.InjectKey(tcell.KeyBackspace2, 0, tcell.ModNone)
	h.sim.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)

	waitWritten(t, port, "ab\b\r\n")
	require.Eventually(t, func() bool {
		return call(t, h.app, func() string { return h.app.buf.Text() }) == "a\n"
	}, 2*time.Second, time.Millisecond)
}

func TestApp_Shortcuts(t *testing.T) {
	port := serial.NewMemoryPort(false)
	h := startScreen(t, port, Options{})

	h.sim.InjectKey(tcell.KeyCtrlE, 0, tcell.ModCtrl)
	h.sim.InjectKey(tcell.KeyCtrlT, 0, tcell.ModCtrl)

	require.Eventually(t, func() bool {
		cfg := call(t, h.app, h.app.engine.Config)
		return !cfg.Echo && cfg.TxStyle == linedisc.StyleUnix
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "tx newline UNIX", call(t, h.app, h.app.Status))

	h.sim.InjectKey(tcell.KeyRune, 'z', tcell.ModNone)
	h.sim.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)
	waitWritten(t, port, "z\n")
	assert.Empty(t, call(t, h.app, func() string { return h.app.buf.Text() }))
}

func TestApp_QuitShortcut(t *testing.T) {
	h := startScreen(t, serial.NewMemoryPort(false), Options{})

	h.sim.InjectKey(tcell.KeyCtrlQ, 0, tcell.ModCtrl)
	select {
	case err := <-h.errc:
		assert.NoError(t, err)
		h.once.Do(func() {})
	case <-time.After(2 * time.Second):
		t.Fatal("Ctrl+Q did not stop the app")
	}
}

func TestApp_HelpOverlay(t *testing.T) {
	port := serial.NewMemoryPort(false)
	h := startScreen(t, port, Options{})

	h.sim.InjectKey(tcell.KeyF1, 0, tcell.ModNone)
	require.Eventually(t, func() bool {
		return call(t, h.app, h.app.screen.HasOverlay)
	}, 2*time.Second, time.Millisecond)

	h.sim.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	require.Eventually(t, func() bool {
		return !call(t, h.app, h.app.screen.HasOverlay)
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, port.Written())
}

func TestApp_SendSlotsAndMacros(t *testing.T) {
	s := testSettings()
	s.SendHistory[1] = []string{"ATI"}
	s.NoNewline[1] = true
	s.Macros[2] = "one\ntwo"
	s.TxStyle = linedisc.StyleUnix
	port := serial.NewMemoryPort(false)
	h := start(t, port, Options{Settings: s})

	require.NoError(t, call(t, h.app, func() error { return h.app.SendSlot(0) }))
	assert.Equal(t, "slot 1 is empty", call(t, h.app, h.app.Status))

	require.NoError(t, call(t, h.app, func() error { return h.app.SendSlot(1) }))
	waitWritten(t, port, "ATI")

	require.NoError(t, call(t, h.app, func() error { return h.app.SendMacro(2) }))
	waitWritten(t, port, "ATIone\ntwo\n")

	require.NoError(t, call(t, h.app, func() error { return h.app.SendMacro(0) }))
	assert.Equal(t, "macro 1 is empty", call(t, h.app, h.app.Status))

	assert.Error(t, call(t, h.app, func() error { return h.app.SendSlot(settings.NumSlots) }))
	assert.Error(t, call(t, h.app, func() error { return h.app.SendMacro(-1) }))
}

func TestApp_EnterAfterSlotSend(t *testing.T) {
	tests := []struct {
		name  string
		style linedisc.Style
		sent  string
		want  string
	}{
		{"windows", linedisc.StyleWindows, "cmd\r\n", "cmd\r\n\r\n"},
		{"unix", linedisc.StyleUnix, "cmd\n", "cmd\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			s.TxStyle = tt.style
			s.SendHistory[0] = []string{"cmd"}
			port := serial.NewMemoryPort(false)
			h := startScreen(t, port, Options{Settings: s})

			h.sim.InjectKey(tcell.KeyF2, 0, tcell.ModNone)
			waitWritten(t, port, tt.sent)
			h.sim.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)

			waitWritten(t, port, tt.want)
			require.Eventually(t, func() bool {
				return call(t, h.app, func() string { return h.app.buf.Text() }) == "cmd\n\n"
			}, 2*time.Second, time.Millisecond)
		})
	}
}

func TestApp_HeadlessLinesKeepLineDelay(t *testing.T) {
	s := testSettings()
	s.TxStyle = linedisc.StyleUnix
	s.LineDelay = 80 * time.Millisecond
	port := serial.NewMemoryPort(false)

	begin := time.Now()
	start(t, port, Options{Settings: s, Input: strings.NewReader("a\nb\n"), Output: &bytes.Buffer{}})
	waitWritten(t, port, "a\nb\n")
	assert.GreaterOrEqual(t, time.Since(begin), s.LineDelay)
}

func TestApp_SendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmds.txt")
	require.NoError(t, os.WriteFile(path, []byte("line1\nline2"), 0644))

	port := serial.NewMemoryPort(false)
	h := start(t, port, Options{SendFile: path})
	waitWritten(t, port, "line1\r\nline2")

	err := call(t, h.app, func() error { return h.app.SendFile(filepath.Join(t.TempDir(), "nope")) })
	assert.Error(t, err)
	assert.Contains(t, call(t, h.app, h.app.Status), "file read failed")
}

func TestApp_SaveSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serterm.ini")
	h := start(t, serial.NewMemoryPort(false), Options{SettingsPath: path})

	require.NoError(t, call(t, h.app, h.app.ToggleEcho))
	require.NoError(t, call(t, h.app, h.app.CycleTxStyle))
	require.NoError(t, call(t, h.app, h.app.SaveSettings))

	loaded, err := settings.Load(path)
	require.NoError(t, err)
	assert.False(t, loaded.Echo)
	assert.Equal(t, linedisc.StyleUnix, loaded.TxStyle)
	assert.Equal(t, "mem0", loaded.Port)
}

func TestApp_SaveSettingsWithoutPath(t *testing.T) {
	h := start(t, serial.NewMemoryPort(false), Options{})
	require.NoError(t, call(t, h.app, h.app.SaveSettings))
	assert.Equal(t, "no settings file", call(t, h.app, h.app.Status))
}

func TestApp_LoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serterm.ini")
	file := testSettings()
	file.Baud = 9600
	file.Echo = false
	file.TxStyle = linedisc.StyleOldMac
	file.AutoStyle = linedisc.StyleUnix
	file.CharDelay = 5 * time.Millisecond
	file.LineDelay = 50 * time.Millisecond
	file.Macros[0] = "reset"
	require.NoError(t, file.Save(path))

	port := serial.NewMemoryPort(false)
	h := start(t, port, Options{SettingsPath: path})

	require.NoError(t, call(t, h.app, func() error { return h.app.LoadSettings("") }))
	assert.Equal(t, "settings loaded from "+path, call(t, h.app, h.app.Status))

	cfg := call(t, h.app, h.app.engine.Config)
	assert.Equal(t, linedisc.StyleOldMac, cfg.TxStyle)
	assert.False(t, cfg.Echo)
	assert.Equal(t, 5*time.Millisecond, cfg.CharDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.LineDelay)
	assert.Equal(t, linedisc.StyleUnix, call(t, h.app, h.app.engine.AutoStyle))
	assert.Equal(t, 9600, call(t, h.app, h.app.conn.Config).BaudRate)
	assert.True(t, port.IsOpen())
	assert.Equal(t, "reset", call(t, h.app, h.app.Settings).Macros[0])
}

func TestApp_LoadSettingsShortcut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serterm.ini")
	file := testSettings()
	file.TxStyle = linedisc.StyleUnix
	require.NoError(t, file.Save(path))

	h := startScreen(t, serial.NewMemoryPort(false), Options{SettingsPath: path})
	h.sim.InjectKey(tcell.KeyCtrlO, 0, tcell.ModCtrl)

	require.Eventually(t, func() bool {
		return call(t, h.app, h.app.engine.Config).TxStyle == linedisc.StyleUnix
	}, 2*time.Second, time.Millisecond)
}

func TestApp_LoadSettingsFailureChangesNothing(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		wantErr error
		status  string
	}{
		{"missing", nil, settings.ErrNotFound, "load failed: settings file not found"},
		{"empty", ptr(" \n"), settings.ErrEmpty, "load failed: settings file is empty"},
		{"malformed", ptr(`{"title": "serterm: saved settings", "txnl": `), settings.ErrMalformed, "load failed: settings file is not valid JSON"},
		{"bad marker", ptr(`{"title": "other", "txnl": "UNIX", "echo": "OFF"}`), settings.ErrBadMarker, "load failed: not a serterm settings file"},
		{"invalid values", ptr(`{"title": "serterm: saved settings", "txnl": "UNIX", "baud": "7"}`), settings.ErrInvalid, "load failed: settings file has invalid values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "serterm.ini")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0644))
			}

			s := testSettings()
			s.CharDelay = 20 * time.Millisecond
			port := serial.NewMemoryPort(false)
			h := start(t, port, Options{Settings: s, SettingsPath: path})

			before := call(t, h.app, h.app.engine.Config)
			beforeSettings := call(t, h.app, h.app.Settings)

			err := call(t, h.app, func() error { return h.app.LoadSettings("") })
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.status, call(t, h.app, h.app.Status))
			assert.Equal(t, before, call(t, h.app, h.app.engine.Config))
			assert.Equal(t, beforeSettings, call(t, h.app, h.app.Settings))
			assert.Equal(t, 115200, call(t, h.app, h.app.conn.Config).BaudRate)
			assert.True(t, port.IsOpen())
		})
	}
}

func TestApp_LoadSettingsWithoutPath(t *testing.T) {
	h := start(t, serial.NewMemoryPort(false), Options{})
	require.NoError(t, call(t, h.app, func() error { return h.app.LoadSettings("") }))
	assert.Equal(t, "no settings file", call(t, h.app, h.app.Status))
}

func ptr(s string) *string { return &s }

func TestApp_SaveCapture(t *testing.T) {
	port := serial.NewMemoryPort(true)
	h := start(t, port, Options{})

	require.NoError(t, call(t, h.app, func() error { return h.app.Send(0, "ping") }))
	waitWritten(t, port, "ping\r\n")
	require.Eventually(t, func() bool {
		return call(t, h.app, func() int { return h.app.Capture().Stats().RXBytes }) == 6
	}, 2*time.Second, time.Millisecond)

	path := filepath.Join(t.TempDir(), "cap.json")
	require.NoError(t, call(t, h.app, func() error { return h.app.SaveCapture(path) }))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"direction": "tx"`)
	assert.Contains(t, string(data), `"direction": "rx"`)
}

func TestApp_CaptureFileSavedOnExit(t *testing.T) {
	s := testSettings()
	s.CaptureFile = filepath.Join(t.TempDir(), "session.txt")
	port := serial.NewMemoryPort(false)
	h := start(t, port, Options{Settings: s})

	port.Inject([]byte("boot ok\r\n"))
	require.Eventually(t, func() bool {
		return call(t, h.app, func() int { return h.app.Capture().Len() }) == 1
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, h.stop(t))

	data, err := os.ReadFile(s.CaptureFile)
	require.NoError(t, err)
	assert.Equal(t, "boot ok\r\n", string(data))
}

func TestApp_OpenFailure(t *testing.T) {
	port := serial.NewMemoryPort(false)
	port.FailOpen(errors.New("permission denied"))
	h := startScreen(t, port, Options{})

	assert.Contains(t, call(t, h.app, h.app.Status), "open failed")

	require.NoError(t, call(t, h.app, func() error { return h.app.Type('k') }))
	require.Eventually(t, func() bool {
		return call(t, h.app, func() string { return h.app.buf.Text() }) == "k"
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, port.Written())
}

func TestApp_Reconnect(t *testing.T) {
	port := serial.NewMemoryPort(false)
	h := start(t, port, Options{})

	require.NoError(t, call(t, h.app, func() error { return h.app.Reconnect(context.Background()) }))
	assert.True(t, port.IsOpen())
	assert.Equal(t, "mem0 reconnected", call(t, h.app, h.app.Status))
	assert.Equal(t, linedisc.StyleWindows, call(t, h.app, h.app.engine.AutoStyle))
}

func TestApp_Tee(t *testing.T) {
	var tee safeBuffer
	port := serial.NewMemoryPort(false)
	start(t, port, Options{Tee: &tee})

	port.Inject([]byte("raw\r\n\x01"))
	require.Eventually(t, func() bool {
		return tee.String() == "raw\r\n\x01"
	}, 2*time.Second, time.Millisecond)
}

func TestApp_StatusLine(t *testing.T) {
	h := start(t, serial.NewMemoryPort(false), Options{})
	line := call(t, h.app, h.app.statusLine)
	assert.Contains(t, line, "mem0 115200 8N1 OPEN")
	assert.Contains(t, line, "tx WINDOWS")
	assert.Contains(t, line, "echo ON")
}

func TestKeyRune(t *testing.T) {
	tests := []struct {
		name string
		ev   *tcell.EventKey
		want rune
		ok   bool
	}{
		{"rune", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone), 'x', true},
		{"enter", tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone), '\r', true},
		{"tab", tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone), '\t', true},
		{"backspace", tcell.NewEventKey(tcell.KeyBackspace, 0, tcell.ModNone), '\b', true},
		{"delete as backspace", tcell.NewEventKey(tcell.KeyBackspace2, 0, tcell.ModNone), '\b', true},
		{"ctrl+c", tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModCtrl), 0x03, true},
		{"arrow", tcell.NewEventKey(tcell.KeyUp, 0, tcell.ModNone), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := keyRune(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, r)
		})
	}
}
