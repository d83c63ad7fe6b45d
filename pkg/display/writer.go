package display

import (
	"bufio"
	"io"

	"serterm/pkg/linedisc"
)

// Writer is a headless display that prints events as plain text. A
// backspace can only be shown when the erased cell is the last one printed,
// so it keeps the same role-tagged Buffer a Screen would and compares.
type Writer struct {
	w   *bufio.Writer
	buf *Buffer
	err error
}

// NewWriter creates a headless display writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), buf: NewBuffer(DefaultMaxLines)}
}

// Show implements linedisc.Display.
func (pw *Writer) Show(ev linedisc.DisplayEvent) {
	if pw.err != nil {
		return
	}

	switch ev.Kind {
	case linedisc.EventChar:
		_, pw.err = pw.w.WriteRune(Glyph(ev.Char))
	case linedisc.EventNewline:
		pw.err = pw.w.WriteByte('\n')
	case linedisc.EventBackspace:
		n := pw.buf.Len()
		if n == 0 {
			return
		}
		last := pw.buf.cells[n-1]
		if last.Role == ev.Role && !last.Newline {
			_, pw.err = pw.w.WriteString("\b \b")
		}
	}
	pw.buf.Show(ev)
}

// Flush writes out buffered output.
func (pw *Writer) Flush() error {
	if pw.err != nil {
		return pw.err
	}
	return pw.w.Flush()
}

// Err returns the first write error.
func (pw *Writer) Err() error {
	return pw.err
}
