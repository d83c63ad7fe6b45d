package linedisc

import "fmt"

// Role tells the display which side of the link produced an event. It only
// selects styling.
type Role int

const (
	RoleRX Role = iota
	RoleTX
)

// String returns the string representation of Role
func (r Role) String() string {
	switch r {
	case RoleRX:
		return "rx"
	case RoleTX:
		return "tx"
	default:
		return "unknown"
	}
}

// EventKind is the tag of a DisplayEvent.
type EventKind int

const (
	EventChar EventKind = iota
	EventNewline
	EventBackspace
)

// DisplayEvent is one instruction for the display.
type DisplayEvent struct {
	Kind EventKind
	Role Role
	Char rune // only for EventChar
}

func (e DisplayEvent) String() string {
	switch e.Kind {
	case EventChar:
		return fmt.Sprintf("%s:%q", e.Role, e.Char)
	case EventNewline:
		return fmt.Sprintf("%s:NL", e.Role)
	case EventBackspace:
		return fmt.Sprintf("%s:BS", e.Role)
	default:
		return fmt.Sprintf("%s:?", e.Role)
	}
}

// CharEvent, NewlineEvent and BackspaceEvent build the three variants.
func CharEvent(r rune, role Role) DisplayEvent {
	return DisplayEvent{Kind: EventChar, Role: role, Char: r}
}

func NewlineEvent(role Role) DisplayEvent {
	return DisplayEvent{Kind: EventNewline, Role: role}
}

func BackspaceEvent(role Role) DisplayEvent {
	return DisplayEvent{Kind: EventBackspace, Role: role}
}

// Display consumes display events. A Backspace erases the most recently
// shown character of the same role and is a no-op when there is none.
type Display interface {
	Show(ev DisplayEvent)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(ev DisplayEvent)

func (f DisplayFunc) Show(ev DisplayEvent) {
	f(ev)
}

// Displays fans an event out to several displays in order.
type Displays []Display

func (ds Displays) Show(ev DisplayEvent) {
	for _, d := range ds {
		if d != nil {
			d.Show(ev)
		}
	}
}

// Echo mirrors a transmitted unit onto the display when local echo is on.
// It never touches the transport or the receive path.
func Echo(cfg *Config, d Display, ev DisplayEvent) {
	if cfg == nil || d == nil || !cfg.Echo {
		return
	}
	ev.Role = RoleTX
	d.Show(ev)
}
