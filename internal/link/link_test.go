package link

import (
	"errors"
	"testing"
	"time"

	"github.com/jotfs/fsstress/internal/device/sim"
	"github.com/jotfs/fsstress/internal/protocol"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptPort returns one queued chunk per Read, then times out.
type scriptPort struct {
	chunks   [][]byte
	written  []byte
	timeouts []time.Duration
	err      error
	closed   bool
}

func (p *scriptPort) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if len(p.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks[0] = p.chunks[0][n:]
	if len(p.chunks[0]) == 0 {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *scriptPort) Write(b []byte) (int, error) {
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *scriptPort) Close() error {
	p.closed = true
	return nil
}

func (p *scriptPort) SetReadTimeout(t time.Duration) error {
	p.timeouts = append(p.timeouts, t)
	return nil
}

func testConn(port *scriptPort) (*Conn, *[]time.Duration) {
	c := New(port, DefaultConfig(), zerolog.Nop())
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func TestSend(t *testing.T) {
	port := &scriptPort{}
	c, _ := testConn(port)
	require.NoError(t, c.Send(protocol.Mkfile("ABCD", "XYZ")))
	assert.Equal(t, "mkfile ABCD >XYZ\n", string(port.written))

	err := c.Send(protocol.Cat("A B"))
	assert.True(t, errors.Is(err, protocol.ErrInvalidArgument))
}

func TestReadLine(t *testing.T) {
	port := &scriptPort{chunks: [][]byte{[]byte("HEL"), []byte("LO\r\nWOR"), []byte("LD")}}
	c, _ := testConn(port)

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "HELLO", line)

	// No newline before the read times out: the partial line is returned
	line, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "WORLD", line)

	line, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "", line)
	assert.Equal(t, []time.Duration{DefaultReadTimeout}, port.timeouts)
}

func TestDrainWaitsForFirstByte(t *testing.T) {
	port := &scriptPort{}
	c, slept := testConn(port)

	lines, err := c.Drain(false, true)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Empty(t, *slept)
	assert.Equal(t, []time.Duration{DefaultWaitTimeout, DefaultPollTimeout}, port.timeouts)
}

func TestDrainNoWait(t *testing.T) {
	port := &scriptPort{}
	c, _ := testConn(port)

	lines, err := c.Drain(false, false)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, []time.Duration{DefaultPollTimeout}, port.timeouts)
}

func TestDrainBuffered(t *testing.T) {
	port := &scriptPort{chunks: [][]byte{[]byte("one\r\ntwo\r\n"), []byte("three\r\n")}}
	c, slept := testConn(port)

	// Bytes already pending: no wait for input, no pause between lines
	_, err := c.Buffered()
	require.NoError(t, err)
	lines, err := c.Drain(false, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Empty(t, *slept)
	assert.NotContains(t, port.timeouts, DefaultWaitTimeout)
	assert.Empty(t, port.chunks)
}

func TestDrainSuppressed(t *testing.T) {
	port := &scriptPort{chunks: [][]byte{[]byte("a\nb\n"), []byte("c\n")}}
	c, slept := testConn(port)

	lines, err := c.Drain(true, true)
	require.NoError(t, err)
	assert.Nil(t, lines)
	assert.Equal(t, []time.Duration{DefaultLinePause, DefaultLinePause, DefaultLinePause}, *slept)
	assert.Empty(t, port.chunks)
}

func TestDrainSim(t *testing.T) {
	d := sim.New()
	c := New(d, DefaultConfig(), zerolog.Nop())
	c.sleep = func(time.Duration) {}

	require.NoError(t, c.Send(protocol.Mkfs(1024)))
	lines, err := c.Drain(false, true)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "mkfs successful", lines[2])
	assert.Zero(t, d.Pending())

	d.Emit("late")
	require.NoError(t, c.Send(protocol.Ping()))
	lines, err = c.Drain(false, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"late", "pong"}, lines)
}

func TestErrors(t *testing.T) {
	ioErr := errors.New("device disconnected")
	port := &scriptPort{err: ioErr}
	c, _ := testConn(port)

	_, err := c.Drain(false, true)
	assert.True(t, errors.Is(err, ioErr))
	_, err = c.ReadLine()
	assert.True(t, errors.Is(err, ioErr))

	require.NoError(t, c.Close())
	assert.True(t, port.closed)
	_, err = c.ReadLine()
	assert.Equal(t, ErrClosed, err)
	_, err = c.Drain(false, false)
	assert.Equal(t, ErrClosed, err)
}
