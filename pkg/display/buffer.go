// Package display renders line-discipline events: a role-tagged transcript
// buffer, a tcell screen on top of it, and a plain writer for headless use.
package display

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"

	"serterm/pkg/linedisc"
)

// DefaultMaxLines bounds the transcript kept by a Buffer.
const DefaultMaxLines = 5000

// Cell is one shown unit. A newline cell carries no rune.
type Cell struct {
	Rune    rune
	Role    linedisc.Role
	Newline bool
}

// Line is one wrapped screen row, without its newline cell.
type Line []Cell

// Buffer is the transcript of everything shown, tagged by role so that a
// backspace only erases cells of the side that sent it.
type Buffer struct {
	cells    []Cell
	lines    int
	maxLines int
	dirty    bool
}

// NewBuffer creates a buffer keeping at most maxLines complete lines.
func NewBuffer(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Buffer{maxLines: maxLines}
}

// Show implements linedisc.Display.
func (b *Buffer) Show(ev linedisc.DisplayEvent) {
	switch ev.Kind {
	case linedisc.EventChar:
		b.cells = append(b.cells, Cell{Rune: ev.Char, Role: ev.Role})
	case linedisc.EventNewline:
		b.cells = append(b.cells, Cell{Role: ev.Role, Newline: true})
		b.lines++
		b.trim()
	case linedisc.EventBackspace:
		if !b.erase(ev.Role) {
			return
		}
	default:
		return
	}
	b.dirty = true
}

// erase removes the most recent cell of role, newline cells included.
func (b *Buffer) erase(role linedisc.Role) bool {
	for i := len(b.cells) - 1; i >= 0; i-- {
		if b.cells[i].Role != role {
			continue
		}
		if b.cells[i].Newline {
			b.lines--
		}
		b.cells = append(b.cells[:i], b.cells[i+1:]...)
		return true
	}
	return false
}

func (b *Buffer) trim() {
	if b.lines <= b.maxLines {
		return
	}
	drop := b.lines - b.maxLines
	cut := 0
	for i, c := range b.cells {
		if c.Newline {
			drop--
			if drop == 0 {
				cut = i + 1
				break
			}
		}
	}
	b.lines = b.maxLines
	b.cells = append(b.cells[:0:0], b.cells[cut:]...)
}

// Clear empties the transcript.
func (b *Buffer) Clear() {
	b.cells = nil
	b.lines = 0
	b.dirty = true
}

// Len returns the number of cells held.
func (b *Buffer) Len() int {
	return len(b.cells)
}

// TakeDirty reports whether the buffer changed since the last call.
func (b *Buffer) TakeDirty() bool {
	d := b.dirty
	b.dirty = false
	return d
}

// Text returns the transcript with newline cells as "\n".
func (b *Buffer) Text() string {
	var sb strings.Builder
	for _, c := range b.cells {
		if c.Newline {
			sb.WriteByte('\n')
			continue
		}
		sb.WriteRune(c.Rune)
	}
	return sb.String()
}

// Lines splits the transcript into rows at most width columns wide. The
// last row is the line in progress and is always present, possibly empty.
func (b *Buffer) Lines(width int) []Line {
	if width < 1 {
		width = 1
	}

	lines := []Line{}
	var cur Line
	col := 0
	for _, c := range b.cells {
		if c.Newline {
			lines = append(lines, cur)
			cur, col = nil, 0
			continue
		}
		w := CellWidth(c.Rune)
		if col+w > width && len(cur) > 0 {
			lines = append(lines, cur)
			cur, col = nil, 0
		}
		cur = append(cur, c)
		col += w
	}
	return append(lines, cur)
}

// Glyph maps a rune to what is drawn for it. Tabs become a space and other
// control characters a dot.
func Glyph(r rune) rune {
	switch {
	case r == '\t':
		return ' '
	case unicode.IsControl(r) || !unicode.IsPrint(r) && r != ' ':
		return '.'
	default:
		return r
	}
}

// CellWidth returns the number of columns the glyph for r occupies.
func CellWidth(r rune) int {
	if w := runewidth.RuneWidth(Glyph(r)); w > 0 {
		return w
	}
	return 1
}
