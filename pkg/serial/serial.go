// Package serial provides serial port communication functionality
package serial

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// BaudRates lists the accepted baud rates in ascending order.
var BaudRates = []int{
	300, 600, 1200, 2400, 4800, 9600, 14400, 19200, 28800,
	38400, 57600, 115200, 230400, 460800, 921600,
}

// Parities lists the accepted parity names.
var Parities = []string{"none", "odd", "even", "mark", "space"}

// ErrNotOpen is returned by I/O on a closed port.
var ErrNotOpen = errors.New("serial port is not open")

var errAlreadyOpen = errors.New("serial port is already open")

// DefaultReadTimeout bounds how long ReadAvailable may wait for the first
// byte. A zero Timeout in the config falls back to it.
const DefaultReadTimeout = time.Millisecond

// MaxReadTimeout keeps a poll from stalling the event loop.
const MaxReadTimeout = 50 * time.Millisecond

// SerialConfig defines the configuration for serial port communication
type SerialConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits float64       `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"` // read timeout, keep it short
}

// Validate checks if the serial configuration is valid
func (c SerialConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}

	if err := ValidateBaudRate(c.BaudRate); err != nil {
		return err
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("data bits must be between 5 and 8, got: %d", c.DataBits)
	}

	if c.StopBits != 1 && c.StopBits != 1.5 && c.StopBits != 2 {
		return fmt.Errorf("stop bits must be 1, 1.5 or 2, got: %v", c.StopBits)
	}

	if !slices.Contains(Parities, c.Parity) {
		return fmt.Errorf("invalid parity: %s", c.Parity)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	if c.Timeout > MaxReadTimeout {
		return fmt.Errorf("timeout %v exceeds maximum %v", c.Timeout, MaxReadTimeout)
	}

	return nil
}

// ValidateBaudRate reports an error unless baud is one of BaudRates.
func ValidateBaudRate(baud int) error {
	if !slices.Contains(BaudRates, baud) {
		return fmt.Errorf("invalid baud rate: %d", baud)
	}
	return nil
}

// ParseStopBits accepts "1", "1.5" and "2".
func ParseStopBits(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || (v != 1 && v != 1.5 && v != 2) {
		return 0, fmt.Errorf("invalid stop bits: %q", s)
	}
	return v, nil
}

// FormatStopBits is the inverse of ParseStopBits.
func FormatStopBits(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// String returns a short "port baud 8N1" summary.
func (c SerialConfig) String() string {
	parity := "N"
	if c.Parity != "" {
		parity = strings.ToUpper(c.Parity[:1])
	}
	return fmt.Sprintf("%s %d %d%s%s", c.Port, c.BaudRate, c.DataBits, parity, FormatStopBits(c.StopBits))
}

// DefaultPort returns a sensible first port name for the platform.
func DefaultPort() string {
	switch runtime.GOOS {
	case "windows":
		return "COM1"
	case "darwin":
		return "/dev/tty.usbserial"
	default:
		return "/dev/ttyUSB0"
	}
}

// DefaultConfig returns a default serial configuration
func DefaultConfig() SerialConfig {
	return SerialConfig{
		Port:     DefaultPort(),
		BaudRate: 115200,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
		Timeout:  DefaultReadTimeout,
	}
}

// Transport is the byte pipe the terminal runs over. ReadAvailable and Write
// must return promptly so they can be called from the event loop.
type Transport interface {
	Open(config SerialConfig) error
	IsOpen() bool
	Close() error
	ReadAvailable() ([]byte, error)
	Write(data []byte) (int, error)
}

// Port implements Transport using go.bug.st/serial
type Port struct {
	port   serial.Port
	config SerialConfig
	isOpen bool
	buf    []byte
}

// NewPort creates a closed port.
func NewPort() *Port {
	return &Port{buf: make([]byte, 4096)}
}

// Open opens the serial port with the given configuration
func (p *Port) Open(config SerialConfig) error {
	if p.isOpen {
		return NewSerialError("open", config.Port, errAlreadyOpen)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: convertStopBits(config.StopBits),
		Parity:   convertParity(config.Parity),
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return NewSerialError("open", config.Port, err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return NewSerialError("set read timeout", config.Port, err)
	}

	p.port = port
	p.config = config
	p.isOpen = true

	return nil
}

// Close closes the serial port
func (p *Port) Close() error {
	if !p.isOpen {
		return ErrNotOpen
	}

	err := p.port.Close()
	p.port = nil
	p.isOpen = false

	if err != nil {
		return NewSerialError("close", p.config.Port, err)
	}

	return nil
}

// ReadAvailable returns what arrived since the last call, waiting at most
// one read timeout. A full buffer is returned as is; the caller polls again.
func (p *Port) ReadAvailable() ([]byte, error) {
	if !p.isOpen {
		return nil, ErrNotOpen
	}

	n, err := p.port.Read(p.buf)
	if err != nil {
		return nil, NewSerialError("read", p.config.Port, err)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]byte, n)
	copy(out, p.buf[:n])
	return out, nil
}

// Write writes data to the serial port
func (p *Port) Write(data []byte) (int, error) {
	if !p.isOpen {
		return 0, ErrNotOpen
	}

	n, err := p.port.Write(data)
	if err != nil {
		return n, NewSerialError("write", p.config.Port, err)
	}

	return n, nil
}

// IsOpen returns true if the serial port is open
func (p *Port) IsOpen() bool {
	return p.isOpen
}

// Config returns the configuration the port was last opened with.
func (p *Port) Config() SerialConfig {
	return p.config
}

// convertStopBits converts our stop bits format to go.bug.st/serial format
func convertStopBits(stopBits float64) serial.StopBits {
	switch stopBits {
	case 1.5:
		return serial.OnePointFiveStopBits
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// convertParity converts our parity format to go.bug.st/serial format
func convertParity(parity string) serial.Parity {
	switch parity {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

// SerialError represents a serial port specific error
type SerialError struct {
	Operation string
	Port      string
	Cause     error
}

// Error implements the error interface
func (e *SerialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("serial %s failed on port %s: %v", e.Operation, e.Port, e.Cause)
	}
	return fmt.Sprintf("serial %s failed on port %s", e.Operation, e.Port)
}

func (e *SerialError) Unwrap() error {
	return e.Cause
}

// NewSerialError creates a new serial error
func NewSerialError(operation, port string, cause error) *SerialError {
	return &SerialError{
		Operation: operation,
		Port:      port,
		Cause:     cause,
	}
}

// ConnectionState represents the state of a serial connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
