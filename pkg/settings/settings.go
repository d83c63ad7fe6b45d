// Package settings provides the persisted terminal settings and a store of
// named profiles.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"serterm/pkg/linedisc"
	"serterm/pkg/serial"
)

// Title is the marker a settings file must carry to be accepted.
const Title = "serterm: saved settings"

// NumSlots is the number of send slots and macros.
const NumSlots = 4

// MaxHistory is the number of entries kept per send slot.
const MaxHistory = 10

// Load failures. Each wraps the path and the underlying cause.
var (
	ErrNotFound   = errors.New("settings file not found")
	ErrUnreadable = errors.New("settings file unreadable")
	ErrEmpty      = errors.New("settings file is empty")
	ErrMalformed  = errors.New("settings file is not valid JSON")
	ErrBadMarker  = errors.New("not a serterm settings file")
	ErrInvalid    = errors.New("settings file has invalid values")
)

// Settings is everything the terminal remembers between runs.
type Settings struct {
	SavedAt string

	Port     string
	Baud     int
	Parity   string
	DataBits int
	StopBits float64

	Echo      bool
	TxStyle   linedisc.Style
	AutoStyle linedisc.Style
	CharDelay time.Duration
	LineDelay time.Duration

	SendHistory [NumSlots][]string
	Macros      [NumSlots]string
	NoNewline   [NumSlots]bool
	CaptureFile string
}

// Default returns 115200 8N1 on the platform default port, echo on, Windows
// newlines and no pacing.
func Default() *Settings {
	sc := serial.DefaultConfig()
	lc := linedisc.DefaultConfig()
	return &Settings{
		Port:      sc.Port,
		Baud:      sc.BaudRate,
		Parity:    sc.Parity,
		DataBits:  sc.DataBits,
		StopBits:  sc.StopBits,
		Echo:      lc.Echo,
		TxStyle:   lc.TxStyle,
		AutoStyle: linedisc.StyleWindows,
		CharDelay: lc.CharDelay,
		LineDelay: lc.LineDelay,
	}
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	c := *s
	for i := range c.SendHistory {
		c.SendHistory[i] = slices.Clone(s.SendHistory[i])
	}
	return &c
}

// Validate checks the port parameters and line settings.
func (s *Settings) Validate() error {
	if err := serial.ValidateBaudRate(s.Baud); err != nil {
		return err
	}
	if !slices.Contains(serial.Parities, s.Parity) {
		return fmt.Errorf("invalid parity: %s", s.Parity)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("data bits must be between 5 and 8, got: %d", s.DataBits)
	}
	if s.StopBits != 1 && s.StopBits != 1.5 && s.StopBits != 2 {
		return fmt.Errorf("stop bits must be 1, 1.5 or 2, got: %v", s.StopBits)
	}
	if !s.AutoStyle.Concrete() {
		return fmt.Errorf("auto style must be WINDOWS, UNIX or OLD MAC, got: %s", s.AutoStyle)
	}
	return s.LineConfig().Validate()
}

// LineConfig returns the line discipline part of the settings.
func (s *Settings) LineConfig() linedisc.Config {
	return linedisc.Config{
		TxStyle:   s.TxStyle,
		CharDelay: s.CharDelay,
		LineDelay: s.LineDelay,
		Echo:      s.Echo,
	}
}

// ApplyLineConfig copies cfg into the settings.
func (s *Settings) ApplyLineConfig(cfg linedisc.Config) {
	s.TxStyle = cfg.TxStyle
	s.CharDelay = cfg.CharDelay
	s.LineDelay = cfg.LineDelay
	s.Echo = cfg.Echo
}

// SerialConfig returns the port parameters.
func (s *Settings) SerialConfig() serial.SerialConfig {
	return serial.SerialConfig{
		Port:     s.Port,
		BaudRate: s.Baud,
		DataBits: s.DataBits,
		StopBits: s.StopBits,
		Parity:   s.Parity,
		Timeout:  serial.DefaultReadTimeout,
	}
}

// ApplySerialConfig copies the port parameters of cfg into the settings.
func (s *Settings) ApplySerialConfig(cfg serial.SerialConfig) {
	s.Port = cfg.Port
	s.Baud = cfg.BaudRate
	s.DataBits = cfg.DataBits
	s.StopBits = cfg.StopBits
	s.Parity = cfg.Parity
}

// RecordSend puts text at the front of the slot's history. An entry already
// present moves to the front; the list is capped at MaxHistory.
func (s *Settings) RecordSend(slot int, text string) error {
	if slot < 0 || slot >= NumSlots {
		return fmt.Errorf("send slot %d out of range", slot)
	}

	hist := s.SendHistory[slot]
	if idx := slices.Index(hist, text); idx >= 0 {
		hist = slices.Delete(hist, idx, idx+1)
	}
	hist = slices.Insert(hist, 0, text)
	if len(hist) > 1 && hist[len(hist)-1] == "" {
		hist = hist[:len(hist)-1]
	}
	if len(hist) > MaxHistory {
		hist = hist[:MaxHistory]
	}
	s.SendHistory[slot] = hist
	return nil
}

// LastSent returns the most recent entry of a slot, or "".
func (s *Settings) LastSent(slot int) string {
	if slot < 0 || slot >= NumSlots || len(s.SendHistory[slot]) == 0 {
		return ""
	}
	return s.SendHistory[slot][0]
}

// document is the on-disk form. Every field except the title is optional; a
// missing field leaves the corresponding setting unchanged on load.
type document struct {
	Title         string     `json:"title"`
	Time          string     `json:"time,omitempty"`
	Port          *string    `json:"port,omitempty"`
	Baud          *string    `json:"baud,omitempty"`
	Parity        *string    `json:"parity,omitempty"`
	DataBits      *string    `json:"databits,omitempty"`
	StopBits      *string    `json:"stopbits,omitempty"`
	Echo          *string    `json:"echo,omitempty"`
	SendHist      [][]string `json:"sendhist,omitempty"`
	SendMacro     []string   `json:"send_macro,omitempty"`
	SendSnls      []bool     `json:"send_snls,omitempty"`
	CapFile       *string    `json:"capfile,omitempty"`
	TxNL          *string    `json:"txnl,omitempty"`
	TxNLAutostyle *string    `json:"txnl_autostyle,omitempty"`
	CharDelayMs   *int64     `json:"char_delay_ms,omitempty"`
	LineDelayMs   *int64     `json:"line_delay_ms,omitempty"`
}

// Marshal encodes the settings as an indented settings document stamped with
// the current time.
func (s *Settings) Marshal() ([]byte, error) {
	str := func(v string) *string { return &v }
	ms := func(d time.Duration) *int64 { v := d.Milliseconds(); return &v }

	echo := "OFF"
	if s.Echo {
		echo = "ON"
	}

	hist := make([][]string, NumSlots)
	for i := range hist {
		hist[i] = slices.Clone(s.SendHistory[i])
		if hist[i] == nil {
			hist[i] = []string{}
		}
	}

	doc := document{
		Title:         Title,
		Time:          time.Now().Format(time.ANSIC),
		Port:          str(s.Port),
		Baud:          str(strconv.Itoa(s.Baud)),
		Parity:        str(strings.ToUpper(s.Parity)),
		DataBits:      str(strconv.Itoa(s.DataBits)),
		StopBits:      str(serial.FormatStopBits(s.StopBits)),
		Echo:          str(echo),
		SendHist:      hist,
		SendMacro:     s.Macros[:],
		SendSnls:      s.NoNewline[:],
		CapFile:       str(s.CaptureFile),
		TxNL:          str(s.TxStyle.String()),
		TxNLAutostyle: str(s.AutoStyle.String()),
		CharDelayMs:   ms(s.CharDelay),
		LineDelayMs:   ms(s.LineDelay),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a settings document over a copy of base. base is never
// modified.
func Unmarshal(data []byte, base *Settings) (*Settings, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Title != Title {
		return nil, ErrBadMarker
	}

	s := base.Clone()
	if err := doc.apply(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s, nil
}

func (d *document) apply(s *Settings) error {
	s.SavedAt = d.Time

	if d.Port != nil {
		s.Port = strings.TrimSpace(*d.Port)
	}
	if d.Baud != nil {
		v, err := strconv.Atoi(strings.TrimSpace(*d.Baud))
		if err != nil {
			return fmt.Errorf("invalid baud rate: %q", *d.Baud)
		}
		s.Baud = v
	}
	if d.Parity != nil {
		s.Parity = strings.ToLower(strings.TrimSpace(*d.Parity))
	}
	if d.DataBits != nil {
		v, err := strconv.Atoi(strings.TrimSpace(*d.DataBits))
		if err != nil {
			return fmt.Errorf("invalid data bits: %q", *d.DataBits)
		}
		s.DataBits = v
	}
	if d.StopBits != nil {
		v, err := serial.ParseStopBits(*d.StopBits)
		if err != nil {
			return err
		}
		s.StopBits = v
	}
	if d.Echo != nil {
		v, err := ParseOnOff(*d.Echo)
		if err != nil {
			return fmt.Errorf("echo: %w", err)
		}
		s.Echo = v
	}
	if d.SendHist != nil {
		for i := range s.SendHistory {
			var hist []string
			if i < len(d.SendHist) {
				hist = slices.Clone(d.SendHist[i])
			}
			if len(hist) > MaxHistory {
				hist = hist[:MaxHistory]
			}
			s.SendHistory[i] = hist
		}
	}
	for i := 0; i < NumSlots && i < len(d.SendMacro); i++ {
		s.Macros[i] = d.SendMacro[i]
	}
	for i := 0; i < NumSlots && i < len(d.SendSnls); i++ {
		s.NoNewline[i] = d.SendSnls[i]
	}
	if d.CapFile != nil {
		s.CaptureFile = *d.CapFile
	}
	if d.TxNL != nil {
		v, err := linedisc.ParseStyle(*d.TxNL)
		if err != nil {
			return err
		}
		s.TxStyle = v
	}
	if d.TxNLAutostyle != nil {
		v, err := linedisc.ParseStyle(*d.TxNLAutostyle)
		if err != nil {
			return err
		}
		s.AutoStyle = v
	}
	if d.CharDelayMs != nil {
		s.CharDelay = time.Duration(*d.CharDelayMs) * time.Millisecond
	}
	if d.LineDelayMs != nil {
		s.LineDelay = time.Duration(*d.LineDelayMs) * time.Millisecond
	}
	return nil
}

// ParseOnOff accepts ON or OFF in any case.
func ParseOnOff(v string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	default:
		return false, fmt.Errorf("must be ON or OFF, got %q", v)
	}
}

// Load reads a settings file on top of the defaults.
func Load(path string) (*Settings, error) {
	return LoadOver(path, Default())
}

// LoadOver reads a settings file on top of base. On any error base is left
// as it was and the returned error wraps one of the Err values above.
func LoadOver(path string, base *Settings) (*Settings, error) {
	path = strings.TrimSpace(path)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}

	s, err := Unmarshal(data, base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes the settings to path atomically.
func (s *Settings) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	// Write to temporary file first, then rename for atomic operation
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary settings file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary settings file: %w", err)
	}

	return nil
}
