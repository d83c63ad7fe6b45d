package linedisc

import (
	"golang.org/x/text/encoding/charmap"
)

// Normalizer turns the raw inbound byte stream into display events. A lone CR
// or LF is one line boundary; CR LF and LF CR are also one boundary, with the
// second byte swallowed even when the pair is split across two polls.
//
// The newline convention of the remote device is inferred as boundaries are
// resolved and is what AUTO transmits.
type Normalizer struct {
	state   suppression
	auto    Style
	charset *charmap.Charmap
	queue   *ForwardQueue
}

// NewNormalizer creates a normalizer. queue may be nil when nothing consumes
// the raw stream.
func NewNormalizer(queue *ForwardQueue) *Normalizer {
	return &Normalizer{
		state:   idle,
		auto:    StyleWindows,
		charset: charmap.ISO8859_1,
		queue:   queue,
	}
}

// SetCharset selects the single byte character set used to turn bytes into
// display runes. nil restores ISO-8859-1.
func (n *Normalizer) SetCharset(cs *charmap.Charmap) {
	if cs == nil {
		cs = charmap.ISO8859_1
	}
	n.charset = cs
}

// Feed consumes one byte and returns the display event it produces, if any.
func (n *Normalizer) Feed(b byte) (DisplayEvent, bool) {
	switch b {
	case cr, lf:
		r := rune(b)
		if n.state.matches(r) {
			n.state = idle
			n.auto = StyleWindows
			return DisplayEvent{}, false
		}
		n.resolveBare()
		n.state = partnerOf(r)
		return NewlineEvent(RoleRX), true

	case bs:
		n.resolveBare()
		n.state = idle
		return BackspaceEvent(RoleRX), true

	default:
		n.resolveBare()
		n.state = idle
		return CharEvent(n.charset.DecodeByte(b), RoleRX), true
	}
}

// FeedChunk offers the whole chunk, unmodified, to the forward queue and then
// feeds it byte by byte to d.
func (n *Normalizer) FeedChunk(chunk []byte, d Display) {
	if len(chunk) == 0 {
		return
	}
	if n.queue != nil {
		n.queue.Offer(chunk)
	}
	for _, b := range chunk {
		if ev, ok := n.Feed(b); ok && d != nil {
			d.Show(ev)
		}
	}
}

// resolveBare settles a pending boundary whose partner never came.
func (n *Normalizer) resolveBare() {
	switch n.state {
	case expectCR:
		n.auto = StyleUnix
	case expectLF:
		n.auto = StyleOldMac
	}
}

// AutoStyle returns the newline convention most recently seen from the remote.
func (n *Normalizer) AutoStyle() Style {
	return n.auto
}

// SetAutoStyle seeds the detected style, e.g. from saved settings. Only
// concrete styles are accepted.
func (n *Normalizer) SetAutoStyle(s Style) bool {
	if !s.Concrete() {
		return false
	}
	n.auto = s
	return true
}

// Reset forgets the session state: pending partner and detected style.
func (n *Normalizer) Reset() {
	n.state = idle
	n.auto = StyleWindows
}
