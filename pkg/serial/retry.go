package serial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// RetryConfig defines configuration for connection retry logic
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval"`
	BackoffFactor float64       `json:"backoff_factor"`
	MaxInterval   time.Duration `json:"max_interval"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		RetryInterval: 250 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxInterval:   2 * time.Second,
	}
}

// Validate checks if the retry configuration is valid
func (r RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if r.RetryInterval < 0 {
		return fmt.Errorf("retry interval cannot be negative")
	}

	if r.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff factor must be >= 1.0")
	}

	if r.MaxInterval < r.RetryInterval {
		return fmt.Errorf("max interval cannot be less than retry interval")
	}

	return nil
}

// Connection tracks the state of one Transport across opens and reconnects.
// A failed open leaves the connection usable with the port closed.
type Connection struct {
	Transport
	retry     RetryConfig
	config    SerialConfig
	state     ConnectionState
	lastError error
	log       zerolog.Logger
}

// NewConnection wraps t. The logger may be zerolog.Nop().
func NewConnection(t Transport, retry RetryConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		Transport: t,
		retry:     retry,
		state:     StateDisconnected,
		log:       logger,
	}
}

// OpenWithRetry opens the transport, retrying recoverable failures with
// exponential backoff until ctx is done or the retries run out.
func (c *Connection) OpenWithRetry(ctx context.Context, config SerialConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}

	c.config = config
	c.state = StateConnecting

	var lastErr error
	interval := c.retry.RetryInterval

attempts:
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			case <-time.After(interval):
			}
			interval = time.Duration(float64(interval) * c.retry.BackoffFactor)
			if interval > c.retry.MaxInterval {
				interval = c.retry.MaxInterval
			}
		}

		err := c.Transport.Open(config)
		if err == nil {
			c.state = StateConnected
			c.lastError = nil
			c.log.Info().Str("port", config.Port).Int("baud", config.BaudRate).Msg("port opened")
			return nil
		}

		lastErr = err
		c.log.Warn().Err(err).Str("port", config.Port).Int("attempt", attempt+1).Msg("open failed")

		if !isRecoverableError(err) {
			break
		}
	}

	c.state = StateError
	c.lastError = lastErr
	return fmt.Errorf("failed to open %s: %w", config.Port, lastErr)
}

// Close closes the transport and updates state
func (c *Connection) Close() error {
	if !c.Transport.IsOpen() {
		c.state = StateDisconnected
		return nil
	}

	err := c.Transport.Close()
	if err != nil {
		c.state = StateError
		c.lastError = err
		return err
	}

	c.state = StateDisconnected
	c.lastError = nil
	c.log.Info().Str("port", c.config.Port).Msg("port closed")
	return nil
}

// Reconnect closes the transport if open and opens it again with the last
// configuration.
func (c *Connection) Reconnect(ctx context.Context) error {
	if c.config.Port == "" {
		return fmt.Errorf("no previous configuration available for reconnection")
	}

	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close existing connection: %w", err)
	}

	return c.OpenWithRetry(ctx, c.config)
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	return c.state
}

// LastError returns the last error that occurred
func (c *Connection) LastError() error {
	return c.lastError
}

// Config returns the configuration of the last open attempt.
func (c *Connection) Config() SerialConfig {
	return c.config
}

// SetConfig records config for the next Reconnect without opening anything.
func (c *Connection) SetConfig(config SerialConfig) {
	c.config = config
}

// isRecoverableError determines if an error is recoverable and retry should be attempted
func isRecoverableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortBusy:
			return true
		case serial.PortNotFound, serial.PermissionDenied, serial.InvalidSerialPort:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"device busy",
		"resource temporarily unavailable",
		"timeout",
		"no such device",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
