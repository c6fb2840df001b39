package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalText(t *testing.T) {
	tests := []struct {
		cmd  Command
		line string
	}{
		{Wipe(), "wipe\n"},
		{Mkfs(1024), "mkfs 1024\n"},
		{Readfs(), "readfs\n"},
		{Mkfile("AB12", "XYZ"), "mkfile AB12 >XYZ\n"},
		{Mkdir("DIR1"), "mkdir DIR1\n"},
		{Rm("AB12"), "rm AB12\n"},
		{RmWipe("AB12"), "rm AB12 wipe\n"},
		{Cat("AB12"), "cat AB12\n"},
		{WriteCycles(), "writecycles\n"},
		{Ping(), "ping\n"},
	}
	for _, test := range tests {
		b, err := test.cmd.MarshalText()
		assert.NoError(t, err)
		assert.Equal(t, test.line, string(b))
	}
}

func TestValidate(t *testing.T) {
	bad := []Command{
		Mkfile("A B", "X"),
		Mkfile("A>B", "X"),
		Mkfile("AB", "X\nY"),
		Cat(""),
		Rm("A\n"),
		{Op: ""},
	}
	for _, c := range bad {
		_, err := c.MarshalText()
		assert.True(t, errors.Is(err, ErrInvalidArgument), c.String())
	}

	// The payload may contain spaces and '>' since the device reads it verbatim
	assert.NoError(t, Mkfile("AB", "X >Y").Validate())
}

func TestParseCommand(t *testing.T) {
	for _, c := range []Command{Mkfile("NAME", "DATA9"), Rm("X1Y2"), Mkfs(64), Wipe()} {
		b, err := c.MarshalText()
		assert.NoError(t, err)
		assert.Equal(t, c, ParseCommand(string(b)))
	}
}

func TestDecodeLine(t *testing.T) {
	assert.Equal(t, "HELLO", DecodeLine([]byte("HELLO\r\n")))
	assert.Equal(t, "  lead", DecodeLine([]byte("  lead \t\n")))
	assert.Equal(t, "", DecodeLine([]byte("\r\n")))
	assert.Equal(t, "a�b", DecodeLine([]byte{'a', 0xff, 'b', '\n'}))
}

func TestParseWriteCycles(t *testing.T) {
	v, ok := ParseWriteCycles("123")
	assert.True(t, ok)
	assert.Equal(t, uint64(123), v)

	v, ok = ParseWriteCycles(" 7 ")
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)

	for _, s := range []string{"abc", "", "-1", "12a", "Created new file successfully."} {
		_, ok := ParseWriteCycles(s)
		assert.False(t, ok, s)
	}
}
