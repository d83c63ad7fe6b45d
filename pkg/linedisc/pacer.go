package linedisc

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Writer is the outbound half of the transport.
type Writer interface {
	IsOpen() bool
	Write(p []byte) (int, error)
}

// Unit classifies what Charout did with one rune.
type Unit int

const (
	UnitChar Unit = iota
	UnitNewline
	UnitBackspace
	UnitSuppressed // second half of a CR/LF pair, nothing sent
)

// String returns the string representation of Unit
func (u Unit) String() string {
	switch u {
	case UnitChar:
		return "char"
	case UnitNewline:
		return "newline"
	case UnitBackspace:
		return "backspace"
	case UnitSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// txJob is the single in-flight transmission.
type txJob struct {
	buf    []rune
	cursor int
}

func (j *txJob) remaining() int {
	return len(j.buf) - j.cursor
}

// Pacer serializes outbound text onto the transport one unit at a time. At
// most one job exists; Submit while a job is active is rejected.
type Pacer struct {
	cfg     *Config
	auto    func() Style
	out     Writer
	display Display
	status  func(string)
	log     zerolog.Logger

	state suppression
	job   *txJob
	due   time.Time
	quiet time.Time // the delay owed after the previous job's last unit

	sent        uint64
	writeErrors uint64
}

// NewPacer creates a pacer reading cfg on every unit. auto supplies the
// detected remote style for AUTO and may be nil.
func NewPacer(cfg *Config, auto func() Style, out Writer, display Display) *Pacer {
	return &Pacer{
		cfg:     cfg,
		auto:    auto,
		out:     out,
		display: display,
		log:     zerolog.Nop(),
	}
}

// SetLogger sets the logger used for write failures.
func (p *Pacer) SetLogger(logger zerolog.Logger) {
	p.log = logger
}

// SetStatus sets the hook receiving operator-facing status messages.
func (p *Pacer) SetStatus(fn func(string)) {
	p.status = fn
}

// Submit starts a job for text, appending a newline unless
// suppressTrailingNewline is set. It returns false, changing nothing, when a
// job is already active. The first unit of the new job is not due before the
// delay owed by the previous job's last unit has passed, and a CR or LF at
// its start is never taken as the partner of the previous job's newline.
func (p *Pacer) Submit(text string, suppressTrailingNewline bool) bool {
	if p.job != nil {
		return false
	}
	if !suppressTrailingNewline {
		text += "\n"
	}
	if text == "" {
		return true
	}
	p.job = &txJob{buf: []rune(text)}
	p.due = p.quiet
	p.state = idle
	return true
}

// Busy reports whether a job is active.
func (p *Pacer) Busy() bool {
	return p.job != nil
}

// Pending returns the unsent part of the active job.
func (p *Pacer) Pending() string {
	if p.job == nil {
		return ""
	}
	return string(p.job.buf[p.job.cursor:])
}

// Progress returns the cursor and length of the active job.
func (p *Pacer) Progress() (cursor, total int) {
	if p.job == nil {
		return 0, 0
	}
	return p.job.cursor, len(p.job.buf)
}

// Due returns when the next unit should go out. The zero time means now.
func (p *Pacer) Due() (time.Time, bool) {
	return p.due, p.job != nil
}

// Tick emits the next unit if it is due at now and returns when the following
// one is due. Units swallowed as CR/LF partners take no time. The job is
// released as soon as its last unit has been emitted; the delay after that
// unit still holds back the next job.
func (p *Pacer) Tick(now time.Time) (time.Time, bool) {
	if p.job == nil {
		return time.Time{}, false
	}
	if !p.due.IsZero() && now.Before(p.due) {
		return p.due, true
	}

	for p.job != nil {
		r := p.job.buf[p.job.cursor]
		p.job.cursor++
		unit := p.Charout(r)

		next := now
		if unit != UnitSuppressed {
			next = now.Add(p.unitDelay(unit))
		}
		if p.job.remaining() == 0 {
			p.job = nil
			p.due = time.Time{}
			p.quiet = next
			return time.Time{}, false
		}
		if unit == UnitSuppressed {
			continue
		}
		p.due = next
		return p.due, true
	}
	return time.Time{}, false
}

func (p *Pacer) unitDelay(u Unit) time.Duration {
	if u == UnitNewline {
		return p.cfg.LineDelay
	}
	return p.cfg.CharDelay
}

// Charout translates and transmits one unit: canonical CR or LF become the
// configured newline bytes (a CR LF or LF CR pair counts once), backspace is
// passed through, anything else is sent as UTF-8.
func (p *Pacer) Charout(r rune) Unit {
	switch r {
	case cr, lf:
		if p.state.matches(r) {
			p.state = idle
			return UnitSuppressed
		}
		p.state = partnerOf(r)
		Echo(p.cfg, p.display, NewlineEvent(RoleTX))
		p.write(p.newlineBytes())
		return UnitNewline

	case bs:
		p.state = idle
		Echo(p.cfg, p.display, BackspaceEvent(RoleTX))
		p.write([]byte{bs})
		return UnitBackspace

	default:
		p.state = idle
		Echo(p.cfg, p.display, CharEvent(r, RoleTX))
		p.write(utf8.AppendRune(nil, r))
		return UnitChar
	}
}

// NewlineStyle returns the concrete style a newline is sent with right now.
func (p *Pacer) NewlineStyle() Style {
	style := p.cfg.TxStyle
	if style == StyleAuto && p.auto != nil {
		style = p.auto()
	}
	if !style.Concrete() {
		style = StyleWindows
	}
	return style
}

func (p *Pacer) newlineBytes() []byte {
	return p.NewlineStyle().Bytes()
}

// write sends data if the transport is open. Failures are reported and the
// job carries on.
func (p *Pacer) write(data []byte) {
	if p.out == nil || !p.out.IsOpen() {
		return
	}
	n, err := p.out.Write(data)
	p.sent += uint64(n)
	if err != nil {
		p.writeErrors++
		p.log.Warn().Err(err).Int("bytes", len(data)).Msg("transmit write failed")
		p.report(fmt.Sprintf("tx write failed: %v", err))
	}
}

func (p *Pacer) report(msg string) {
	if p.status != nil {
		p.status(msg)
	}
}

// ResetState clears the TX partner state and any delay still owed. The
// active job, if any, is kept.
func (p *Pacer) ResetState() {
	p.state = idle
	p.quiet = time.Time{}
}

// Stats returns bytes written and write failures so far.
func (p *Pacer) Stats() (sent, writeErrors uint64) {
	return p.sent, p.writeErrors
}
