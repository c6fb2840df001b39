// Package protocol encodes commands for the device's line-oriented filesystem shell
// and decodes the text lines it answers with.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// DataMarker prefixes the payload argument of mkfile. Everything after it, up to the
// newline, is taken verbatim by the device.
const DataMarker = '>'

// Command names understood by the device.
const (
	OpWipe        = "wipe"
	OpMkfs        = "mkfs"
	OpReadfs      = "readfs"
	OpMkfile      = "mkfile"
	OpMkdir       = "mkdir"
	OpRm          = "rm"
	OpCat         = "cat"
	OpWriteCycles = "writecycles"
	OpPing        = "ping"
	OpMemStats    = "memstats"
	OpLs          = "ls"
	OpTree        = "tree"
)

// ErrInvalidArgument is returned by Validate when an argument would break the framing
// of a command line.
var ErrInvalidArgument = errors.New("invalid argument")

// Command is a single device command: an operation name followed by its arguments.
type Command struct {
	Op   string
	Args []string

	// data is the mkfile payload, sent after DataMarker.
	data    string
	hasData bool
}

func Wipe() Command   { return Command{Op: OpWipe} }
func Readfs() Command { return Command{Op: OpReadfs} }
func Ping() Command   { return Command{Op: OpPing} }

// Mkfs creates a new filesystem of size bytes starting at address 0.
func Mkfs(size int) Command {
	return Command{Op: OpMkfs, Args: []string{strconv.Itoa(size)}}
}

// Mkfile creates a regular file holding data in the current directory.
func Mkfile(name string, data string) Command {
	return Command{Op: OpMkfile, Args: []string{name}, data: data, hasData: true}
}

func Mkdir(name string) Command { return Command{Op: OpMkdir, Args: []string{name}} }
func Rm(name string) Command    { return Command{Op: OpRm, Args: []string{name}} }

// RmWipe removes a file and zero-fills the bytes it occupied.
func RmWipe(name string) Command { return Command{Op: OpRm, Args: []string{name, "wipe"}} }

// Cat prints the content of a file as a single line.
func Cat(name string) Command { return Command{Op: OpCat, Args: []string{name}} }

// WriteCycles asks the device for its total number of EEPROM writes.
func WriteCycles() Command { return Command{Op: OpWriteCycles} }

func MemStats() Command { return Command{Op: OpMemStats} }
func Ls() Command       { return Command{Op: OpLs} }
func Tree() Command     { return Command{Op: OpTree} }

// Data returns the mkfile payload, if the command carries one.
func (c Command) Data() (string, bool) {
	return c.data, c.hasData
}

// Validate checks that no argument contains a character with meaning to the device's
// command parser. No escaping exists on the wire.
func (c Command) Validate() error {
	if c.Op == "" || strings.ContainsAny(c.Op, " >\r\n") {
		return fmt.Errorf("%w: operation %q", ErrInvalidArgument, c.Op)
	}
	for i, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " >\r\n") {
			return fmt.Errorf("%w: %s argument %d %q", ErrInvalidArgument, c.Op, i, a)
		}
	}
	if c.hasData && strings.ContainsAny(c.data, "\r\n") {
		return fmt.Errorf("%w: %s data contains a newline", ErrInvalidArgument, c.Op)
	}
	return nil
}

// String returns the command line without its terminating newline.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Op)
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	if c.hasData {
		b.WriteByte(' ')
		b.WriteRune(DataMarker)
		b.WriteString(c.data)
	}
	return b.String()
}

// MarshalText returns the newline-terminated command line sent to the device.
func (c Command) MarshalText() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []byte(c.String() + "\n"), nil
}

// DecodeLine converts a raw response line to a string. Invalid UTF-8 is replaced and
// trailing whitespace, including the line terminator, is removed.
func DecodeLine(b []byte) string {
	s := strings.ToValidUTF8(string(b), "�")
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

// ParseWriteCycles parses the response to writecycles. ok is false if the line is not
// a non-negative integer.
func ParseWriteCycles(line string) (cycles uint64, ok bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseCommand is the inverse of Command.String, splitting a line the same way the
// device firmware does: spaces separate arguments until DataMarker, after which the
// rest of the line is data.
func ParseCommand(line string) Command {
	line = strings.TrimRight(line, "\r\n")
	var c Command
	if i := strings.IndexRune(line, DataMarker); i >= 0 {
		c.data, c.hasData = line[i+1:], true
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) > 0 {
		c.Op = fields[0]
		if len(fields) > 1 {
			c.Args = fields[1:]
		}
	}
	return c
}
