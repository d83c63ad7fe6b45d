// Package linedisc implements the line discipline of the terminal: inbound
// newline normalization with auto-detection of the remote newline style, and
// paced, strictly ordered outbound transmission.
package linedisc

import (
	"fmt"
	"strings"
)

// Style is a newline convention.
type Style int

const (
	StyleWindows Style = iota // CR LF
	StyleUnix                 // LF
	StyleOldMac               // CR
	StyleAuto                 // whatever the remote device was last seen using
)

const (
	cr = '\r'
	lf = '\n'
	bs = 0x08
)

// String returns the name used in settings files.
func (s Style) String() string {
	switch s {
	case StyleWindows:
		return "WINDOWS"
	case StyleUnix:
		return "UNIX"
	case StyleOldMac:
		return "OLD MAC"
	case StyleAuto:
		return "AUTO"
	default:
		return "unknown"
	}
}

// Description is a short human readable form for the status line.
func (s Style) Description() string {
	switch s {
	case StyleWindows:
		return `NL=\r\n`
	case StyleUnix:
		return `NL=\n`
	case StyleOldMac:
		return `NL=\r`
	case StyleAuto:
		return "Mimic RX"
	default:
		return "?"
	}
}

// Valid reports whether s is one of the four known styles.
func (s Style) Valid() bool {
	return s >= StyleWindows && s <= StyleAuto
}

// Concrete reports whether s names an actual byte sequence (not Auto).
func (s Style) Concrete() bool {
	return s >= StyleWindows && s <= StyleOldMac
}

// Bytes returns the wire form of a concrete style. Auto has no wire form of
// its own and yields nil.
func (s Style) Bytes() []byte {
	switch s {
	case StyleWindows:
		return []byte{cr, lf}
	case StyleUnix:
		return []byte{lf}
	case StyleOldMac:
		return []byte{cr}
	default:
		return nil
	}
}

// Next cycles through the styles in display order.
func (s Style) Next() Style {
	return (s + 1) % (StyleAuto + 1)
}

// ParseStyle accepts the names produced by String, case-insensitively and
// ignoring surrounding or inner padding ("UNIX   " and "oldmac" both parse).
func ParseStyle(name string) (Style, error) {
	key := strings.ToUpper(strings.Join(strings.Fields(name), ""))
	switch key {
	case "WINDOWS", "CRLF", "DOS":
		return StyleWindows, nil
	case "UNIX", "LF":
		return StyleUnix, nil
	case "OLDMAC", "MAC", "CR":
		return StyleOldMac, nil
	case "AUTO":
		return StyleAuto, nil
	default:
		return StyleWindows, fmt.Errorf("unknown newline style: %q", name)
	}
}

// suppression remembers that the next byte, if it is the partner of the
// newline byte just seen, belongs to the same line boundary.
type suppression int

const (
	idle suppression = iota
	expectCR
	expectLF
)

func (s suppression) String() string {
	switch s {
	case idle:
		return "idle"
	case expectCR:
		return "expect-cr"
	case expectLF:
		return "expect-lf"
	default:
		return "unknown"
	}
}

// partnerOf returns the suppression state that waits for the other half of a
// two byte newline started by b.
func partnerOf(b rune) suppression {
	if b == cr {
		return expectLF
	}
	return expectCR
}

// matches reports whether b is the byte this state is waiting for.
func (s suppression) matches(b rune) bool {
	return (s == expectCR && b == cr) || (s == expectLF && b == lf)
}
