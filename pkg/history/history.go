// Package history keeps a bounded log of the bytes exchanged with the device
// and exports it as a capture file.
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxSize is the default byte budget of a Log.
const DefaultMaxSize = 4 * 1024 * 1024

// Direction represents the direction of data flow
type Direction int

const (
	DirectionRX Direction = iota
	DirectionTX
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case DirectionRX:
		return "rx"
	case DirectionTX:
		return "tx"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the direction by name.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// FileFormat represents different file export formats
type FileFormat int

const (
	FormatPlainText FileFormat = iota
	FormatTimestamped
	FormatJSON
)

// String returns the string representation of FileFormat
func (f FileFormat) String() string {
	switch f {
	case FormatPlainText:
		return "plain_text"
	case FormatTimestamped:
		return "timestamped"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// FormatFromPath picks the export format from a file extension: .json is
// JSON, .log is timestamped, anything else is plain text.
func FormatFromPath(path string) FileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".log":
		return FormatTimestamped
	default:
		return FormatPlainText
	}
}

// Entry is one chunk read from or written to the device.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Data      []byte    `json:"data"`
}

// Validate checks if the entry is valid
func (e Entry) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}

	if e.Direction != DirectionRX && e.Direction != DirectionTX {
		return fmt.Errorf("invalid direction: %d", e.Direction)
	}

	if e.Data == nil {
		return fmt.Errorf("data cannot be nil")
	}

	return nil
}

// NewEntry creates an entry holding a copy of data.
func NewEntry(data []byte, direction Direction, at time.Time) Entry {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return Entry{
		Timestamp: at,
		Direction: direction,
		Data:      dataCopy,
	}
}

// Stats provides statistics about the log
type Stats struct {
	TotalEntries int        `json:"total_entries"`
	TotalBytes   int        `json:"total_bytes"`
	RXEntries    int        `json:"rx_entries"`
	TXEntries    int        `json:"tx_entries"`
	RXBytes      int        `json:"rx_bytes"`
	TXBytes      int        `json:"tx_bytes"`
	Evicted      int        `json:"evicted"`
	MaxSize      int        `json:"max_size"`
	OldestEntry  *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry  *time.Time `json:"newest_entry,omitempty"`
}

// Log is a bounded in-memory capture. When the byte budget is exceeded the
// oldest entries are evicted. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	maxSize int
	evicted int
	now     func() time.Time
}

// NewLog creates a log holding at most maxSize bytes of data.
func NewLog(maxSize int) *Log {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Log{
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Write appends a chunk. Empty chunks are ignored.
func (l *Log) Write(data []byte, direction Direction) error {
	if data == nil {
		return fmt.Errorf("data cannot be nil")
	}

	if direction != DirectionRX && direction != DirectionTX {
		return fmt.Errorf("invalid direction: %d", direction)
	}

	if len(data) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, NewEntry(data, direction, l.now()))
	l.size += len(data)
	l.trim()
	return nil
}

// trim evicts the oldest entries until the log fits. The newest entry is
// always kept, even if it alone exceeds the budget.
func (l *Log) trim() {
	drop := 0
	for l.size > l.maxSize && len(l.entries)-drop > 1 {
		l.size -= len(l.entries[drop].Data)
		drop++
	}
	if drop > 0 {
		l.evicted += drop
		l.entries = append(l.entries[:0:0], l.entries[drop:]...)
	}
}

// Size returns the number of data bytes held.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// MaxSize returns the byte budget.
func (l *Log) MaxSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxSize
}

// SetMaxSize changes the byte budget, evicting entries if needed.
func (l *Log) SetMaxSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("size must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
	l.trim()
	return nil
}

// Clear removes all entries.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.size = 0
}

// Entries returns a copy of count entries starting at start.
func (l *Log) Entries(start, count int) ([]Entry, error) {
	if start < 0 {
		return nil, fmt.Errorf("start cannot be negative")
	}

	if count < 0 {
		return nil, fmt.Errorf("count cannot be negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if start >= len(l.entries) {
		return []Entry{}, nil
	}

	end := min(start+count, len(l.entries))
	result := make([]Entry, end-start)
	copy(result, l.entries[start:end])
	return result, nil
}

// Stats returns statistics about the log
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		TotalEntries: len(l.entries),
		TotalBytes:   l.size,
		Evicted:      l.evicted,
		MaxSize:      l.maxSize,
	}

	for _, entry := range l.entries {
		switch entry.Direction {
		case DirectionRX:
			stats.RXEntries++
			stats.RXBytes += len(entry.Data)
		case DirectionTX:
			stats.TXEntries++
			stats.TXBytes += len(entry.Data)
		}
	}

	if n := len(l.entries); n > 0 {
		oldest := l.entries[0].Timestamp
		newest := l.entries[n-1].Timestamp
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}

	return stats
}

// SaveToFile writes the log to filename in the given format.
func (l *Log) SaveToFile(filename string, format FileFormat) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	entries, err := l.Entries(0, l.Len())
	if err != nil {
		return fmt.Errorf("failed to get entries: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := WriteEntries(file, entries, format); err != nil {
		file.Close()
		return err
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// WriteEntries encodes entries to w. Plain text holds only the received
// bytes, verbatim. Timestamped and JSON hold both directions.
func WriteEntries(w io.Writer, entries []Entry, format FileFormat) error {
	switch format {
	case FormatPlainText:
		return writePlainText(w, entries)
	case FormatTimestamped:
		return writeTimestamped(w, entries)
	case FormatJSON:
		return writeJSON(w, entries)
	default:
		return fmt.Errorf("unsupported format: %v", format)
	}
}

func writePlainText(w io.Writer, entries []Entry) error {
	for _, entry := range entries {
		if entry.Direction != DirectionRX {
			continue
		}
		if _, err := w.Write(entry.Data); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
	}
	return nil
}

var escaper = strings.NewReplacer("\r", `\r`, "\n", `\n`, "\b", `\b`, "\t", `\t`)

func writeTimestamped(w io.Writer, entries []Entry) error {
	for _, entry := range entries {
		direction := "<<"
		if entry.Direction == DirectionTX {
			direction = ">>"
		}

		line := fmt.Sprintf("[%s] %s %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05.000"),
			direction,
			escaper.Replace(string(entry.Data)))

		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("failed to write timestamped data: %w", err)
		}
	}
	return nil
}

// jsonEntry carries the data as text so the export is readable.
type jsonEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Length    int       `json:"length"`
}

func writeJSON(w io.Writer, entries []Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	out := make([]jsonEntry, len(entries))
	for i, e := range entries {
		out[i] = jsonEntry{
			Timestamp: e.Timestamp,
			Direction: e.Direction,
			Text:      string(e.Data),
			Length:    len(e.Data),
		}
	}

	data := struct {
		Entries []jsonEntry `json:"entries"`
		Count   int         `json:"count"`
	}{
		Entries: out,
		Count:   len(out),
	}

	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
