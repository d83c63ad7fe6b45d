package linedisc

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
)

// Port is the part of the transport the engine drives.
type Port interface {
	Writer
	// ReadAvailable returns whatever bytes are pending without waiting. An
	// empty slice means nothing arrived.
	ReadAvailable() ([]byte, error)
}

// Tap observes raw bytes crossing the transport in either direction.
type Tap func(data []byte, role Role)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = logger
	}
}

// WithStatus sets the hook receiving status messages for the operator.
func WithStatus(fn func(string)) Option {
	return func(e *Engine) {
		e.status = fn
	}
}

// WithForwardQueue sets the queue receiving every raw inbound chunk.
func WithForwardQueue(q *ForwardQueue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

// WithCharset sets the character set used to display inbound bytes.
func WithCharset(cs *charmap.Charmap) Option {
	return func(e *Engine) {
		e.charset = cs
	}
}

// WithTap registers a tap called with every chunk read and every byte
// sequence written.
func WithTap(tap Tap) Option {
	return func(e *Engine) {
		e.tap = tap
	}
}

// Engine ties the line discipline together: it polls the port, normalizes what
// arrives, and paces what is submitted. It starts no goroutines and is not
// safe for concurrent use; the caller drives Poll and Tick from one loop.
type Engine struct {
	cfg     *Config
	port    Port
	display Display

	norm  *Normalizer
	pacer *Pacer
	queue *ForwardQueue

	charset *charmap.Charmap
	tap     Tap
	status  func(string)
	log     zerolog.Logger

	received  uint64
	readFails uint64
}

// NewEngine builds an engine around port and display using a copy of cfg.
func NewEngine(port Port, display Display, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid line config: %w", err)
	}

	e := &Engine{
		cfg:     &cfg,
		port:    port,
		display: display,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.norm = NewNormalizer(e.queue)
	e.norm.SetCharset(e.charset)

	var out Writer
	if port != nil {
		out = port
		if e.tap != nil {
			out = &tapWriter{Writer: port, tap: e.tap}
		}
	}
	e.pacer = NewPacer(e.cfg, e.norm.AutoStyle, out, display)
	e.pacer.SetLogger(e.log)
	e.pacer.SetStatus(e.report)

	return e, nil
}

// Poll drains everything the port has pending and feeds it through the
// normalizer. Nothing is read while the port is closed.
func (e *Engine) Poll() int {
	if e.port == nil || !e.port.IsOpen() {
		return 0
	}

	total := 0
	for {
		chunk, err := e.port.ReadAvailable()
		if err != nil {
			e.readFails++
			e.log.Warn().Err(err).Msg("read failed")
			e.report(fmt.Sprintf("rx read failed: %v", err))
			return total
		}
		if len(chunk) == 0 {
			return total
		}
		total += len(chunk)
		e.received += uint64(len(chunk))
		if e.tap != nil {
			e.tap(chunk, RoleRX)
		}
		e.norm.FeedChunk(chunk, e.display)
	}
}

// Tick advances the outbound pacer. See Pacer.Tick.
func (e *Engine) Tick(now time.Time) (time.Time, bool) {
	return e.pacer.Tick(now)
}

// Submit starts transmitting text. It returns false if a transmission is
// already in progress.
func (e *Engine) Submit(text string, suppressTrailingNewline bool) bool {
	ok := e.pacer.Submit(text, suppressTrailingNewline)
	if !ok {
		e.log.Debug().Int("len", len(text)).Msg("submit rejected, transmitter busy")
	}
	return ok
}

// Type submits a single typed rune as its own job.
func (e *Engine) Type(r rune) bool {
	return e.Submit(string(r), true)
}

// Busy reports whether a transmission is in progress.
func (e *Engine) Busy() bool {
	return e.pacer.Busy()
}

// Pending returns the part of the current transmission not sent yet.
func (e *Engine) Pending() string {
	return e.pacer.Pending()
}

// Config returns a copy of the current line settings.
func (e *Engine) Config() Config {
	return *e.cfg
}

// SetConfig replaces the line settings. The change applies from the next unit
// of a transmission already in progress.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid line config: %w", err)
	}
	*e.cfg = cfg
	e.log.Debug().
		Str("style", cfg.TxStyle.String()).
		Dur("char_delay", cfg.CharDelay).
		Dur("line_delay", cfg.LineDelay).
		Bool("echo", cfg.Echo).
		Msg("line config changed")
	return nil
}

// UpdateConfig applies fn to a copy of the settings and installs the result.
func (e *Engine) UpdateConfig(fn func(*Config)) error {
	cfg := *e.cfg
	fn(&cfg)
	return e.SetConfig(cfg)
}

// AutoStyle returns the newline convention detected from the remote.
func (e *Engine) AutoStyle() Style {
	return e.norm.AutoStyle()
}

// SetAutoStyle seeds the detected convention. Only concrete styles are
// accepted.
func (e *Engine) SetAutoStyle(s Style) bool {
	return e.norm.SetAutoStyle(s)
}

// TxNewlineStyle returns the concrete style a newline would be sent with now.
func (e *Engine) TxNewlineStyle() Style {
	return e.pacer.NewlineStyle()
}

// SetCharset changes the inbound character set. nil restores ISO-8859-1.
func (e *Engine) SetCharset(cs *charmap.Charmap) {
	e.charset = cs
	e.norm.SetCharset(cs)
}

// Reset forgets the per-session state after a reconnect: both partner states
// and the detected remote style. A transmission in progress is not touched.
func (e *Engine) Reset() {
	e.norm.Reset()
	e.pacer.ResetState()
	e.log.Debug().Msg("line discipline reset")
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Received    uint64
	Sent        uint64
	ReadErrors  uint64
	WriteErrors uint64
	Dropped     uint64
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	sent, writeErrs := e.pacer.Stats()
	s := Stats{
		Received:    e.received,
		Sent:        sent,
		ReadErrors:  e.readFails,
		WriteErrors: writeErrs,
	}
	if e.queue != nil {
		s.Dropped = e.queue.Dropped()
	}
	return s
}

func (e *Engine) report(msg string) {
	if e.status != nil {
		e.status(msg)
	}
}

// tapWriter reports every write to a tap before passing it on.
type tapWriter struct {
	Writer
	tap Tap
}

func (w *tapWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	if n > 0 {
		w.tap(p[:n], RoleTX)
	}
	return n, err
}
