// Package app runs the terminal: one goroutine polls the port, paces the
// transmit queue, handles keys and redraws.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"serterm/pkg/display"
	"serterm/pkg/history"
	"serterm/pkg/linedisc"
	"serterm/pkg/serial"
	"serterm/pkg/settings"
)

const (
	DefaultPollInterval   = 10 * time.Millisecond
	DefaultRenderInterval = 50 * time.Millisecond
)

// Options configures an App. Only Settings and Transport are required.
type Options struct {
	Settings     *settings.Settings
	SettingsPath string // where Ctrl+S saves and Ctrl+O loads; empty disables both

	Transport serial.Transport
	Retry     serial.RetryConfig

	// Screen is an initialized tcell screen. When nil the app runs headless:
	// the transcript goes to Output and lines read from Input are sent.
	Screen tcell.Screen
	Output io.Writer
	Input  io.Reader
	Errors io.Writer

	Charset     *charmap.Charmap
	Tee         io.Writer // raw copy of everything received
	QueueSize   int
	CaptureSize int
	SendFile    string // sent once after the port opens

	Logger         zerolog.Logger
	PollInterval   time.Duration
	RenderInterval time.Duration
}

// App is a running terminal session. All fields are owned by the goroutine
// inside Run; other goroutines reach them through Do.
type App struct {
	opts     Options
	settings *settings.Settings

	conn    *serial.Connection
	engine  *linedisc.Engine
	capture *history.Log
	queue   *linedisc.ForwardQueue

	buf       *display.Buffer
	screen    *display.Screen
	headless  *display.Writer
	shortcuts *ShortcutManager

	calls  chan func()
	events chan tcell.Event
	done   chan struct{}

	timer  *time.Timer
	pacerC <-chan time.Time
	outbox []string

	prompt   *prompt
	choosing bool

	ctx     context.Context
	message string
	quit    bool
	log     zerolog.Logger
}

// New builds an app. Nothing is opened until Run.
func New(opts Options) (*App, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if opts.Retry == (serial.RetryConfig{}) {
		opts.Retry = serial.DefaultRetryConfig()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = DefaultRenderInterval
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Errors == nil {
		opts.Errors = os.Stderr
	}

	a := &App{
		opts:      opts,
		settings:  opts.Settings.Clone(),
		capture:   history.NewLog(opts.CaptureSize),
		shortcuts: NewShortcutManager(),
		calls:     make(chan func(), 64),
		events:    make(chan tcell.Event, 64),
		done:      make(chan struct{}),
		log:       opts.Logger,
		ctx:       context.Background(),
	}
	a.conn = serial.NewConnection(opts.Transport, opts.Retry, a.log.With().Str("component", "serial").Logger())

	var sink linedisc.Display
	if opts.Screen != nil {
		a.buf = display.NewBuffer(display.DefaultMaxLines)
		a.screen = display.NewScreen(opts.Screen, a.buf)
		sink = a.buf
	} else {
		a.headless = display.NewWriter(opts.Output)
		sink = a.headless
	}

	engineOpts := []linedisc.Option{
		linedisc.WithLogger(a.log.With().Str("component", "linedisc").Logger()),
		linedisc.WithStatus(a.setStatus),
		linedisc.WithCharset(opts.Charset),
		linedisc.WithTap(a.record),
	}
	if opts.Tee != nil {
		a.queue = linedisc.NewForwardQueue(opts.QueueSize, a.log)
		engineOpts = append(engineOpts, linedisc.WithForwardQueue(a.queue))
	}

	engine, err := linedisc.NewEngine(a.conn, sink, a.settings.LineConfig(), engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	engine.SetAutoStyle(a.settings.AutoStyle)
	a.engine = engine

	a.timer = time.NewTimer(time.Hour)
	a.timer.Stop()

	a.setupShortcuts()
	return a, nil
}

func (a *App) setupShortcuts() {
	sm := a.shortcuts
	sm.Add("quit", "Quit", tcell.KeyCtrlQ, func() error {
		a.Quit()
		return nil
	})
	sm.Add("help", "Show this help", tcell.KeyF1, func() error {
		a.ShowHelp()
		return nil
	})
	sm.Add("clear", "Clear the screen", tcell.KeyCtrlL, func() error {
		a.ClearScreen()
		return nil
	})
	sm.Add("echo", "Toggle local echo", tcell.KeyCtrlE, a.ToggleEcho)
	sm.Add("txnl", "Cycle transmit newline style", tcell.KeyCtrlT, a.CycleTxStyle)
	sm.Add("save", "Save settings", tcell.KeyCtrlS, a.SaveSettings)
	sm.Add("load", "Load settings", tcell.KeyCtrlO, func() error {
		return a.LoadSettings("")
	})
	sm.Add("edit", "Edit a send slot or macro", tcell.KeyCtrlW, func() error {
		a.BeginEdit()
		return nil
	})
	sm.Add("reconnect", "Reconnect the port", tcell.KeyCtrlR, func() error {
		return a.Reconnect(a.ctx)
	})
	for i := 0; i < settings.NumSlots; i++ {
		slot := i
		sm.Add(fmt.Sprintf("send%d", slot+1), fmt.Sprintf("Send slot %d", slot+1), tcell.KeyF2+tcell.Key(slot), func() error {
			return a.SendSlot(slot)
		})
	}
	for i := 0; i < settings.NumSlots; i++ {
		slot := i
		sm.Add(fmt.Sprintf("macro%d", slot+1), fmt.Sprintf("Send macro %d", slot+1), tcell.KeyF6+tcell.Key(slot), func() error {
			return a.SendMacro(slot)
		})
	}
	sm.Add("capture", "Save capture", tcell.KeyF10, func() error {
		return a.SaveCapture("")
	})
}

// Run opens the port and runs the loop until ctx is done or Quit is called.
// A port that fails to open is reported on the status line; the terminal
// still runs.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx
	defer close(a.done)

	var wg sync.WaitGroup
	if a.queue != nil {
		tee := NewTee(a.queue, a.opts.Tee, a.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tee.Run(ctx)
		}()
	}
	if a.opts.Screen != nil {
		go a.pollEvents(ctx)
	} else if a.opts.Input != nil {
		go a.readInput(ctx, a.opts.Input)
	}

	a.open(ctx)
	if a.opts.SendFile != "" {
		a.report(a.SendFile(a.opts.SendFile))
	}

	poll := time.NewTicker(a.opts.PollInterval)
	defer poll.Stop()
	render := time.NewTicker(a.opts.RenderInterval)
	defer render.Stop()
	a.render()

	for !a.quit {
		select {
		case <-ctx.Done():
			a.quit = true
		case <-poll.C:
			a.engine.Poll()
		case now := <-a.pacerC:
			a.pacerC = nil
			a.pump(now)
		case ev := <-a.events:
			a.handleEvent(ev)
		case fn := <-a.calls:
			fn()
		case <-render.C:
			a.render()
		}
		a.flushOutbox()
	}

	a.timer.Stop()
	a.engine.Poll()
	a.render()
	err := a.shutdown()
	cancel()
	wg.Wait()
	return err
}

func (a *App) shutdown() error {
	var errs []error
	if a.settings.CaptureFile != "" {
		if err := a.SaveCapture(a.settings.CaptureFile); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close port: %w", err))
	}
	if a.headless != nil {
		if err := a.headless.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to write output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Do queues fn to run on the loop goroutine. It returns false once the loop
// has stopped.
func (a *App) Do(fn func()) bool {
	select {
	case <-a.done:
		return false
	default:
	}
	select {
	case a.calls <- fn:
		return true
	case <-a.done:
		return false
	}
}

// Quit stops the loop after the current iteration.
func (a *App) Quit() {
	a.quit = true
}

func (a *App) open(ctx context.Context) {
	cfg := a.settings.SerialConfig()
	a.conn.SetConfig(cfg)
	if err := a.conn.OpenWithRetry(ctx, cfg); err != nil {
		a.setStatus(fmt.Sprintf("open failed: %v", err))
		return
	}
	a.setStatus(fmt.Sprintf("%s open", cfg.Port))
}

// pump runs the pacer and arms the timer for its next unit.
func (a *App) pump(now time.Time) {
	next, active := a.engine.Tick(now)
	if !active {
		a.pacerC = nil
		return
	}
	a.timer.Reset(max(0, next.Sub(now)))
	a.pacerC = a.timer.C
}

// submit starts a transmit job and emits its first unit right away.
func (a *App) submit(text string, suppressTrailingNewline bool) error {
	if !a.engine.Submit(text, suppressTrailingNewline) {
		if a.engine.Busy() {
			a.setStatus("transmit busy")
			return ErrBusy
		}
		return nil
	}
	a.pump(time.Now())
	return nil
}

// ErrBusy is returned when a send is attempted while a transmission runs.
var ErrBusy = errors.New("transmit busy")

// Type sends one typed character.
func (a *App) Type(r rune) error {
	return a.submit(string(r), true)
}

// Send transmits text through a send slot: the slot's no-newline flag
// applies and the text is recorded in the slot's history.
func (a *App) Send(slot int, text string) error {
	if slot < 0 || slot >= settings.NumSlots {
		return fmt.Errorf("invalid send slot: %d", slot)
	}
	if err := a.submit(text, a.settings.NoNewline[slot]); err != nil {
		return err
	}
	if text != "" {
		return a.settings.RecordSend(slot, text)
	}
	return nil
}

// SendSlot resends the most recent text of a slot.
func (a *App) SendSlot(slot int) error {
	if slot < 0 || slot >= settings.NumSlots {
		return fmt.Errorf("invalid send slot: %d", slot)
	}
	text := a.settings.LastSent(slot)
	if text == "" {
		a.setStatus(fmt.Sprintf("slot %d is empty", slot+1))
		return nil
	}
	return a.Send(slot, text)
}

// SendMacro transmits a macro followed by a newline.
func (a *App) SendMacro(slot int) error {
	if slot < 0 || slot >= settings.NumSlots {
		return fmt.Errorf("invalid macro slot: %d", slot)
	}
	text := a.settings.Macros[slot]
	if text == "" {
		a.setStatus(fmt.Sprintf("macro %d is empty", slot+1))
		return nil
	}
	return a.submit(text, false)
}

// SendFile transmits a file's contents as they are, with no newline added.
func (a *App) SendFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		a.setStatus(fmt.Sprintf("file read failed: %v", err))
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		a.setStatus("file is empty")
		return nil
	}
	return a.submit(string(data), true)
}

// ToggleEcho flips local echo.
func (a *App) ToggleEcho() error {
	err := a.engine.UpdateConfig(func(c *linedisc.Config) {
		c.Echo = !c.Echo
	})
	if err != nil {
		return err
	}
	a.setStatus("echo " + onOff(a.engine.Config().Echo))
	return nil
}

// CycleTxStyle moves to the next transmit newline style.
func (a *App) CycleTxStyle() error {
	err := a.engine.UpdateConfig(func(c *linedisc.Config) {
		c.TxStyle = c.TxStyle.Next()
	})
	if err != nil {
		return err
	}
	a.setStatus("tx newline " + a.engine.Config().TxStyle.String())
	return nil
}

// SaveSettings writes the current session to the settings file.
func (a *App) SaveSettings() error {
	if a.opts.SettingsPath == "" {
		a.setStatus("no settings file")
		return nil
	}
	a.syncSettings()
	if err := a.settings.Save(a.opts.SettingsPath); err != nil {
		a.setStatus(fmt.Sprintf("settings save failed: %v", err))
		return err
	}
	a.setStatus("settings saved to " + a.opts.SettingsPath)
	return nil
}

// LoadSettings reads path, or the settings file when path is empty, over the
// session. On any error the session is left as it was. A changed port
// configuration reopens the port.
func (a *App) LoadSettings(path string) error {
	if path == "" {
		path = a.opts.SettingsPath
	}
	if path == "" {
		a.setStatus("no settings file")
		return nil
	}

	a.syncSettings()
	loaded, err := settings.LoadOver(path, a.settings)
	if err != nil {
		a.setStatus(loadFailure(err))
		return err
	}
	if err := a.engine.SetConfig(loaded.LineConfig()); err != nil {
		a.setStatus(fmt.Sprintf("settings load failed: %v", err))
		return err
	}

	reopen := loaded.SerialConfig() != a.settings.SerialConfig()
	a.settings = loaded
	a.conn.SetConfig(loaded.SerialConfig())

	var openErr error
	if reopen {
		openErr = a.Reconnect(a.ctx)
	}
	a.engine.SetAutoStyle(loaded.AutoStyle)
	if openErr != nil {
		return openErr
	}
	a.setStatus("settings loaded from " + path)
	return nil
}

func loadFailure(err error) string {
	switch {
	case errors.Is(err, settings.ErrNotFound):
		return "load failed: settings file not found"
	case errors.Is(err, settings.ErrEmpty):
		return "load failed: settings file is empty"
	case errors.Is(err, settings.ErrMalformed):
		return "load failed: settings file is not valid JSON"
	case errors.Is(err, settings.ErrBadMarker):
		return "load failed: not a serterm settings file"
	case errors.Is(err, settings.ErrInvalid):
		return "load failed: settings file has invalid values"
	default:
		return "load failed: settings file unreadable"
	}
}

// Settings returns a copy of the session settings as they would be saved.
func (a *App) Settings() *settings.Settings {
	a.syncSettings()
	return a.settings.Clone()
}

func (a *App) syncSettings() {
	a.settings.ApplyLineConfig(a.engine.Config())
	a.settings.AutoStyle = a.engine.AutoStyle()
	if cfg := a.conn.Config(); cfg.Port != "" {
		a.settings.ApplySerialConfig(cfg)
	}
}

// Reconnect reopens the port and resets the line discipline.
func (a *App) Reconnect(ctx context.Context) error {
	a.setStatus("reconnecting")
	a.render()
	err := a.conn.Reconnect(ctx)
	a.engine.Reset()
	if err != nil {
		a.setStatus(fmt.Sprintf("open failed: %v", err))
		return err
	}
	a.setStatus(fmt.Sprintf("%s reconnected", a.conn.Config().Port))
	return nil
}

// SaveCapture writes the capture log. An empty path uses the settings'
// capture file or a timestamped name.
func (a *App) SaveCapture(path string) error {
	if path == "" {
		path = a.settings.CaptureFile
	}
	if path == "" {
		path = fmt.Sprintf("serterm_%s.txt", time.Now().Format("20060102_150405"))
	}
	if err := a.capture.SaveToFile(path, history.FormatFromPath(path)); err != nil {
		a.setStatus(fmt.Sprintf("capture save failed: %v", err))
		return err
	}
	a.setStatus("capture saved to " + path)
	return nil
}

// Capture returns the capture log.
func (a *App) Capture() *history.Log {
	return a.capture
}

// Stats returns the line discipline counters.
func (a *App) Stats() linedisc.Stats {
	return a.engine.Stats()
}

// ClearScreen empties the transcript.
func (a *App) ClearScreen() {
	if a.buf != nil {
		a.buf.Clear()
	}
}

// ShowHelp toggles the shortcut overlay.
func (a *App) ShowHelp() {
	if a.screen == nil {
		for _, l := range a.shortcuts.Help() {
			fmt.Fprintln(a.opts.Errors, l)
		}
		return
	}
	if a.screen.HasOverlay() {
		a.screen.ClearOverlay()
		return
	}
	a.screen.SetOverlay(append([]string{"serterm shortcuts", ""}, a.shortcuts.Help()...))
}

// Status returns the last status message.
func (a *App) Status() string {
	return a.message
}

func (a *App) setStatus(msg string) {
	a.message = msg
	a.log.Debug().Str("status", msg).Msg("status")
	if a.screen == nil {
		fmt.Fprintf(a.opts.Errors, "[%s]\n", msg)
	}
}

func (a *App) report(err error) {
	if err != nil && !errors.Is(err, ErrBusy) {
		a.log.Warn().Err(err).Msg("action failed")
	}
}

// record keeps everything crossing the port in the capture log.
func (a *App) record(data []byte, role linedisc.Role) {
	dir := history.DirectionRX
	if role == linedisc.RoleTX {
		dir = history.DirectionTX
	}
	if err := a.capture.Write(data, dir); err != nil {
		a.log.Warn().Err(err).Msg("capture write failed")
	}
}

func (a *App) statusLine() string {
	if a.prompt != nil {
		return a.prompt.String()
	}
	cfg := a.engine.Config()
	state := "CLOSED"
	if a.conn.IsOpen() {
		state = "OPEN"
	}
	line := fmt.Sprintf("%s %s | tx %s | echo %s | rx %s",
		a.conn.Config(), state, cfg.TxStyle, onOff(cfg.Echo), a.engine.AutoStyle())
	if a.engine.Busy() {
		line += " | sending"
	}
	if a.message != "" {
		line += " | " + a.message
	}
	return line
}

func (a *App) render() {
	if a.screen != nil {
		a.screen.SetStatus(a.statusLine())
		a.screen.Render()
		return
	}
	if err := a.headless.Flush(); err != nil {
		a.log.Error().Err(err).Msg("output write failed")
		a.quit = true
	}
}

func (a *App) handleEvent(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		a.handleKey(ev)
	case *tcell.EventResize:
		a.opts.Screen.Sync()
		a.screen.Invalidate()
	}
}

func (a *App) handleKey(ev *tcell.EventKey) {
	if a.screen != nil && a.screen.HasOverlay() {
		a.screen.ClearOverlay()
		return
	}

	if a.prompt != nil {
		a.editKey(ev)
		return
	}
	if a.choosing {
		a.chooseEdit(ev.Key())
		return
	}

	handled, err := a.shortcuts.ProcessKey(ev.Key())
	if handled {
		a.report(err)
		return
	}

	if r, ok := keyRune(ev); ok {
		a.report(a.Type(r))
	}
}

// keyRune maps a key event to the character it transmits.
func keyRune(ev *tcell.EventKey) (rune, bool) {
	k := ev.Key()
	switch {
	case k == tcell.KeyRune:
		return ev.Rune(), true
	case k == tcell.KeyBackspace2:
		return '\b', true
	case k >= tcell.KeyCtrlSpace && k <= tcell.KeyCtrlUnderscore:
		return rune(k), true
	default:
		return 0, false
	}
}

func (a *App) pollEvents(ctx context.Context) {
	for {
		ev := a.opts.Screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case a.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// readInput forwards lines read in headless mode to the loop. Lines are
// queued and sent one job at a time.
func (a *App) readInput(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case a.calls <- func() { a.outbox = append(a.outbox, line) }:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		a.log.Warn().Err(err).Msg("input read failed")
	}
}

func (a *App) flushOutbox() {
	if len(a.outbox) == 0 || a.engine.Busy() {
		return
	}
	line := a.outbox[0]
	a.outbox = a.outbox[1:]
	a.report(a.Send(0, line))
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
