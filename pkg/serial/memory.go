package serial

import (
	"sync"
)

// MemoryPort is an in-process Transport. Anything written can be read back
// (loopback), and Inject queues bytes as if a device had sent them. It is
// safe for concurrent use.
type MemoryPort struct {
	mu       sync.Mutex
	config   SerialConfig
	isOpen   bool
	loopback bool
	pending  []byte
	written  []byte
	writeErr error
	openErr  error
}

// NewMemoryPort creates a closed memory port. With loopback set, written data
// is echoed back as inbound data.
func NewMemoryPort(loopback bool) *MemoryPort {
	return &MemoryPort{loopback: loopback}
}

// Open marks the port open after validating the configuration.
func (m *MemoryPort) Open(config SerialConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return NewSerialError("open", config.Port, m.openErr)
	}
	if m.isOpen {
		return NewSerialError("open", config.Port, errAlreadyOpen)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	m.config = config
	m.isOpen = true
	return nil
}

// IsOpen reports whether the port is open.
func (m *MemoryPort) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

// Close closes the port and discards pending inbound data.
func (m *MemoryPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isOpen {
		return ErrNotOpen
	}
	m.isOpen = false
	m.pending = nil
	return nil
}

// ReadAvailable returns and clears the pending inbound bytes.
func (m *MemoryPort) ReadAvailable() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isOpen {
		return nil, ErrNotOpen
	}
	if len(m.pending) == 0 {
		return nil, nil
	}
	out := m.pending
	m.pending = nil
	return out, nil
}

// Write records data and, in loopback mode, queues it for reading.
func (m *MemoryPort) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isOpen {
		return 0, ErrNotOpen
	}
	if m.writeErr != nil {
		return 0, NewSerialError("write", m.config.Port, m.writeErr)
	}
	m.written = append(m.written, data...)
	if m.loopback {
		m.pending = append(m.pending, data...)
	}
	return len(data), nil
}

// Inject queues bytes as if received from the device.
func (m *MemoryPort) Inject(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, data...)
}

// Written returns a copy of everything written so far.
func (m *MemoryPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.written))
	copy(out, m.written)
	return out
}

// FailWrites makes subsequent writes fail with err. nil restores normal writes.
func (m *MemoryPort) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailOpen makes subsequent opens fail with err. nil restores normal opens.
func (m *MemoryPort) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Config returns the configuration the port was last opened with.
func (m *MemoryPort) Config() SerialConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}
