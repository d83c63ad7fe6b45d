package app

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Shortcut binds a key to an action.
type Shortcut struct {
	Name        string
	Key         tcell.Key
	Description string
	Handler     func() error
	Enabled     bool
}

// Matches checks if the given key event matches this shortcut. Control keys
// arrive as their own tcell.Key, so modifiers are not compared.
func (s *Shortcut) Matches(key tcell.Key) bool {
	return s.Enabled && key != tcell.KeyRune && s.Key == key
}

// Execute executes the shortcut action
func (s *Shortcut) Execute() error {
	if !s.Enabled {
		return fmt.Errorf("shortcut %s is disabled", s.Name)
	}
	if s.Handler == nil {
		return fmt.Errorf("no handler defined for shortcut %s", s.Name)
	}
	return s.Handler()
}

// ShortcutManager holds the shortcuts in the order they are listed in help.
type ShortcutManager struct {
	shortcuts []*Shortcut
	enabled   bool
}

// NewShortcutManager creates an empty, enabled manager.
func NewShortcutManager() *ShortcutManager {
	return &ShortcutManager{enabled: true}
}

// Add registers a shortcut, replacing one with the same name.
func (sm *ShortcutManager) Add(name, description string, key tcell.Key, handler func() error) {
	s := &Shortcut{
		Name:        name,
		Key:         key,
		Description: description,
		Handler:     handler,
		Enabled:     true,
	}
	for i, old := range sm.shortcuts {
		if old.Name == name {
			sm.shortcuts[i] = s
			return
		}
	}
	sm.shortcuts = append(sm.shortcuts, s)
}

// Get returns a shortcut by name
func (sm *ShortcutManager) Get(name string) *Shortcut {
	for _, s := range sm.shortcuts {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// List returns all shortcuts in registration order.
func (sm *ShortcutManager) List() []*Shortcut {
	return append([]*Shortcut(nil), sm.shortcuts...)
}

// SetEnabled enables or disables the entire shortcut system
func (sm *ShortcutManager) SetEnabled(enabled bool) {
	sm.enabled = enabled
}

// ProcessKey runs the shortcut bound to key. It reports whether one matched.
func (sm *ShortcutManager) ProcessKey(key tcell.Key) (bool, error) {
	if !sm.enabled {
		return false, nil
	}
	for _, s := range sm.shortcuts {
		if s.Matches(key) {
			return true, s.Execute()
		}
	}
	return false, nil
}

// Help returns one line per enabled shortcut.
func (sm *ShortcutManager) Help() []string {
	lines := make([]string, 0, len(sm.shortcuts))
	for _, s := range sm.shortcuts {
		if !s.Enabled {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-8s %s", KeyName(s.Key), s.Description))
	}
	return lines
}

// KeyName formats a key the way help lists it, e.g. "Ctrl+Q" or "F5".
func KeyName(key tcell.Key) string {
	if key >= tcell.KeyCtrlA && key <= tcell.KeyCtrlZ {
		return fmt.Sprintf("Ctrl+%c", 'A'+rune(key-tcell.KeyCtrlA))
	}
	if key >= tcell.KeyF1 && key <= tcell.KeyF12 {
		return fmt.Sprintf("F%d", int(key-tcell.KeyF1)+1)
	}
	if name, ok := tcell.KeyNames[key]; ok {
		return name
	}
	return "Unknown"
}
