package app

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"serterm/pkg/settings"
)

// prompt is a one-line editor drawn in place of the status line.
type prompt struct {
	label string
	text  []rune
	done  func(text string) error
}

func (p *prompt) String() string {
	return p.label + "> " + string(p.text)
}

// BeginEdit waits for F2-F5 or F6-F9 to pick the send slot or macro to edit.
func (a *App) BeginEdit() {
	a.choosing = true
	a.setStatus("edit: F2-F5 send slot, F6-F9 macro, Esc cancel")
}

func (a *App) chooseEdit(k tcell.Key) {
	a.choosing = false
	switch {
	case k >= tcell.KeyF2 && k < tcell.KeyF2+settings.NumSlots:
		a.report(a.EditSlot(int(k - tcell.KeyF2)))
	case k >= tcell.KeyF6 && k < tcell.KeyF6+settings.NumSlots:
		a.report(a.EditMacro(int(k - tcell.KeyF6)))
	default:
		a.setStatus("edit cancelled")
	}
}

// EditSlot opens the prompt on a send slot's most recent text. Enter sends
// the edited text through the slot, which records it in the slot's history.
func (a *App) EditSlot(slot int) error {
	if slot < 0 || slot >= settings.NumSlots {
		return fmt.Errorf("invalid send slot: %d", slot)
	}
	a.prompt = &prompt{
		label: fmt.Sprintf("send %d", slot+1),
		text:  []rune(a.settings.LastSent(slot)),
		done: func(text string) error {
			if text == "" {
				a.setStatus(fmt.Sprintf("slot %d is empty", slot+1))
				return nil
			}
			return a.Send(slot, text)
		},
	}
	return nil
}

// EditMacro opens the prompt on a macro. Enter stores the edited text; an
// empty text clears the macro.
func (a *App) EditMacro(slot int) error {
	if slot < 0 || slot >= settings.NumSlots {
		return fmt.Errorf("invalid macro slot: %d", slot)
	}
	a.prompt = &prompt{
		label: fmt.Sprintf("macro %d", slot+1),
		text:  []rune(a.settings.Macros[slot]),
		done: func(text string) error {
			a.settings.Macros[slot] = text
			a.setStatus(fmt.Sprintf("macro %d set", slot+1))
			return nil
		},
	}
	return nil
}

// editKey feeds a key to the open prompt. Keys never reach the port while
// the prompt is open.
func (a *App) editKey(ev *tcell.EventKey) {
	p := a.prompt
	switch ev.Key() {
	case tcell.KeyEnter:
		a.prompt = nil
		a.report(p.done(string(p.text)))
	case tcell.KeyEscape:
		a.prompt = nil
		a.setStatus("edit cancelled")
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(p.text) > 0 {
			p.text = p.text[:len(p.text)-1]
		}
	case tcell.KeyCtrlU:
		p.text = p.text[:0]
	case tcell.KeyRune:
		p.text = append(p.text, ev.Rune())
	}
}
