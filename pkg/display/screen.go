package display

import (
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"serterm/pkg/linedisc"
)

var (
	rxStyle      = tcell.StyleDefault.Foreground(tcell.ColorReset).Background(tcell.ColorReset)
	txStyle      = tcell.StyleDefault.Foreground(tcell.ColorRed).Background(tcell.ColorReset)
	statusStyle  = tcell.StyleDefault.Reverse(true)
	overlayStyle = tcell.StyleDefault.Background(tcell.ColorDarkBlue).Foreground(tcell.ColorWhite)
)

// Screen draws a Buffer on a tcell screen. The transcript fills every row
// but the last, which holds the status line.
type Screen struct {
	screen  tcell.Screen
	buf     *Buffer
	status  string
	overlay []string
	dirty   bool
}

// NewScreen creates a renderer for buf on an initialized tcell screen.
func NewScreen(s tcell.Screen, buf *Buffer) *Screen {
	s.SetStyle(rxStyle)
	s.Clear()
	return &Screen{screen: s, buf: buf, dirty: true}
}

// Buffer returns the transcript being drawn.
func (s *Screen) Buffer() *Buffer {
	return s.buf
}

// SetStatus replaces the status line text.
func (s *Screen) SetStatus(msg string) {
	if msg != s.status {
		s.status = msg
		s.dirty = true
	}
}

// Status returns the status line text.
func (s *Screen) Status() string {
	return s.status
}

// SetOverlay shows a boxed block of text centered over the transcript.
func (s *Screen) SetOverlay(lines []string) {
	s.overlay = lines
	s.dirty = true
}

// ClearOverlay hides the overlay.
func (s *Screen) ClearOverlay() {
	if s.overlay != nil {
		s.overlay = nil
		s.dirty = true
	}
}

// HasOverlay reports whether an overlay is shown.
func (s *Screen) HasOverlay() bool {
	return s.overlay != nil
}

// Invalidate forces the next Render to redraw, e.g. after a resize.
func (s *Screen) Invalidate() {
	s.dirty = true
}

// Render redraws if anything changed and reports whether it did.
func (s *Screen) Render() bool {
	bufDirty := s.buf.TakeDirty()
	if !bufDirty && !s.dirty {
		return false
	}
	s.dirty = false
	s.Draw()
	return true
}

// Draw redraws the whole screen unconditionally.
func (s *Screen) Draw() {
	width, height := s.screen.Size()
	s.screen.Clear()
	if width < 1 || height < 1 {
		s.screen.Show()
		return
	}

	rows := height - 1
	lines := s.buf.Lines(width)
	start := max(0, len(lines)-rows)
	view := lines[start:]

	cx, cy := 0, 0
	for y, line := range view {
		x := 0
		for _, c := range line {
			style := rxStyle
			if c.Role == linedisc.RoleTX {
				style = txStyle
			}
			s.screen.SetContent(x, y, Glyph(c.Rune), nil, style)
			x += CellWidth(c.Rune)
		}
		cx, cy = x, y
	}
	if rows > 0 && cx < width {
		s.screen.ShowCursor(cx, cy)
	} else {
		s.screen.HideCursor()
	}

	s.drawStatus(width, height-1)
	if s.overlay != nil {
		s.drawOverlay(width, height)
	}
	s.screen.Show()
}

func (s *Screen) drawStatus(width, y int) {
	text := runewidth.Truncate(s.status, width, "…")
	x := 0
	for _, r := range text {
		s.screen.SetContent(x, y, r, nil, statusStyle)
		x += runewidth.RuneWidth(r)
	}
	for ; x < width; x++ {
		s.screen.SetContent(x, y, ' ', nil, statusStyle)
	}
}

func (s *Screen) drawOverlay(width, height int) {
	boxW := 0
	for _, l := range s.overlay {
		boxW = max(boxW, runewidth.StringWidth(l))
	}
	boxW = min(boxW+4, width)
	boxH := min(len(s.overlay)+2, height)
	if boxW < 2 || boxH < 2 {
		return
	}
	x0 := (width - boxW) / 2
	y0 := (height - boxH) / 2

	s.screen.SetContent(x0, y0, '┌', nil, overlayStyle)
	s.screen.SetContent(x0+boxW-1, y0, '┐', nil, overlayStyle)
	s.screen.SetContent(x0, y0+boxH-1, '└', nil, overlayStyle)
	s.screen.SetContent(x0+boxW-1, y0+boxH-1, '┘', nil, overlayStyle)
	for x := x0 + 1; x < x0+boxW-1; x++ {
		s.screen.SetContent(x, y0, '─', nil, overlayStyle)
		s.screen.SetContent(x, y0+boxH-1, '─', nil, overlayStyle)
	}
	for y := y0 + 1; y < y0+boxH-1; y++ {
		s.screen.SetContent(x0, y, '│', nil, overlayStyle)
		s.screen.SetContent(x0+boxW-1, y, '│', nil, overlayStyle)
		for x := x0 + 1; x < x0+boxW-1; x++ {
			s.screen.SetContent(x, y, ' ', nil, overlayStyle)
		}
	}

	for i, l := range s.overlay {
		y := y0 + 1 + i
		if y >= y0+boxH-1 {
			break
		}
		x := x0 + 2
		for _, r := range runewidth.Truncate(l, boxW-4, "") {
			s.screen.SetContent(x, y, r, nil, overlayStyle)
			x += runewidth.RuneWidth(r)
		}
	}
}
