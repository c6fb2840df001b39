// Package link keeps the line-oriented channel to the device aligned. The device
// answers commands with an unframed, unbounded number of status lines emitted at an
// unpredictable cadence, so output is drained by byte availability rather than by an
// expected line count.
package link

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jotfs/fsstress/internal/device"
	"github.com/jotfs/fsstress/internal/protocol"
)

// Default timings.
const (
	DefaultReadTimeout = 1 * time.Second
	DefaultWaitTimeout = 3 * time.Second
	DefaultPollTimeout = 10 * time.Millisecond
	DefaultLinePause   = 100 * time.Millisecond
)

// ErrClosed is returned when the connection was closed while an operation was in
// progress.
var ErrClosed = errors.New("link closed")

// Config stores the timings used by a Conn.
type Config struct {
	// ReadTimeout bounds a single read while collecting a line.
	ReadTimeout time.Duration

	// WaitTimeout is how long Drain waits for the first byte of a response.
	WaitTimeout time.Duration

	// PollTimeout is the read timeout used to check whether more bytes are pending.
	PollTimeout time.Duration

	// LinePause is slept after each suppressed line.
	LinePause time.Duration
}

// DefaultConfig returns the timings suited to the device at 2 Mbaud.
func DefaultConfig() Config {
	return Config{
		ReadTimeout: DefaultReadTimeout,
		WaitTimeout: DefaultWaitTimeout,
		PollTimeout: DefaultPollTimeout,
		LinePause:   DefaultLinePause,
	}
}

// Conn sends commands to the device and reads its response lines. It is not safe for
// concurrent use, except for Close.
type Conn struct {
	port    device.Port
	cfg     Config
	logger  zerolog.Logger
	buf     []byte
	scratch [256]byte
	timeout time.Duration
	closed  int32

	sleep func(time.Duration)
}

// New returns a Conn on an open port.
func New(port device.Port, cfg Config, logger zerolog.Logger) *Conn {
	return &Conn{port: port, cfg: cfg, logger: logger, timeout: -1, sleep: time.Sleep}
}

// Close closes the underlying port. Blocked reads return ErrClosed.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.port.Close()
}

func (c *Conn) wrap(op string, err error) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Send writes cmd as a single line.
func (c *Conn) Send(cmd protocol.Command) error {
	b, err := cmd.MarshalText()
	if err != nil {
		return err
	}
	c.logger.Debug().Str("cmd", cmd.String()).Msg("send")
	if _, err := c.port.Write(b); err != nil {
		return c.wrap("writing command "+cmd.Op, err)
	}
	return nil
}

// fill performs one read bounded by timeout and appends whatever arrived to the
// buffer. Returns false if the timeout expired with nothing read.
func (c *Conn) fill(timeout time.Duration) (bool, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false, ErrClosed
	}
	if timeout != c.timeout {
		if err := c.port.SetReadTimeout(timeout); err != nil {
			return false, c.wrap("setting read timeout", err)
		}
		c.timeout = timeout
	}
	n, err := c.port.Read(c.scratch[:])
	if n > 0 {
		c.buf = append(c.buf, c.scratch[:n]...)
	}
	if err != nil {
		return n > 0, c.wrap("reading", err)
	}
	return n > 0, nil
}

// Buffered reports whether any byte is pending at this instant. A false result is a
// snapshot: the device may still emit more later.
func (c *Conn) Buffered() (bool, error) {
	if len(c.buf) > 0 {
		return true, nil
	}
	return c.fill(c.cfg.PollTimeout)
}

// ReadLine reads one line. If a read times out before the newline arrives, the partial
// line read so far is returned, possibly empty.
func (c *Conn) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(c.buf, '\n'); i >= 0 {
			return c.take(i + 1), nil
		}
		ok, err := c.fill(c.cfg.ReadTimeout)
		if err != nil {
			return "", err
		}
		if !ok {
			return c.take(len(c.buf)), nil
		}
	}
}

func (c *Conn) take(n int) string {
	line := protocol.DecodeLine(c.buf[:n])
	c.buf = c.buf[n:]
	if len(c.buf) == 0 {
		c.buf = c.buf[:0:0]
	}
	return line
}

// Drain consumes the device output pending after a command. If waitForInput is true
// and nothing is buffered yet, it first waits up to the configured WaitTimeout for the
// response to start; a timeout is not an error. Lines are then read until no byte is
// pending. Unsuppressed lines are logged and returned. Suppressed lines are discarded
// with a short pause after each one, since the device may stream multi-line output
// with delays between lines.
func (c *Conn) Drain(suppress bool, waitForInput bool) ([]string, error) {
	if waitForInput && len(c.buf) == 0 {
		if _, err := c.fill(c.cfg.WaitTimeout); err != nil {
			return nil, err
		}
	}
	var lines []string
	for {
		ok, err := c.Buffered()
		if err != nil {
			return lines, err
		}
		if !ok {
			return lines, nil
		}
		line, err := c.ReadLine()
		if err != nil {
			return lines, err
		}
		if suppress {
			c.sleep(c.cfg.LinePause)
			continue
		}
		c.logger.Info().Str("line", line).Msg("device")
		lines = append(lines, line)
	}
}
