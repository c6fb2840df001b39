// Package sim provides an in-memory stand-in for the serial filesystem device. It
// answers the same commands with the same status lines as the firmware, and supports
// fault injection for exercising mismatch handling.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jotfs/fsstress/internal/protocol"
)

// ErrClosed is returned by Read and Write once the device is closed.
var ErrClosed = errors.New("sim: port closed")

const (
	eepromSize = 1024
	headerSize = 5
	rootSize   = 7
	minFSSize  = 16
	fileHeader = 3
	dirEntry   = 2
)

type entry struct {
	data string
	dir  bool
}

// Device is a simulated device. It implements device.Port. Reads never block: when no
// output is pending Read returns (0, nil) immediately, as a serial port does once its
// read timeout expires.
type Device struct {
	mu sync.Mutex

	in  []byte
	out []byte

	fsSize    int
	formatted bool
	files     map[string]entry
	cycles    uint64
	closed    bool

	corrupt    int
	wearReply  []string
	commands   []protocol.Command
	timeouts   []time.Duration
	emptyReads int
}

// New returns a simulated device with a blank EEPROM.
func New() *Device {
	return &Device{files: make(map[string]entry)}
}

// SetReadTimeout records the timeout. The simulation never waits.
func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts = append(d.timeouts, t)
	return nil
}

func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	if len(d.out) == 0 {
		d.emptyReads++
		return 0, nil
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	d.in = append(d.in, p...)
	for {
		i := strings.IndexByte(string(d.in), '\n')
		if i < 0 {
			break
		}
		line := string(d.in[:i])
		d.in = d.in[i+1:]
		d.exec(protocol.ParseCommand(line))
	}
	return len(p), nil
}

// Close closes the device. Subsequent reads and writes fail with ErrClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// CorruptNext makes the next n cat responses differ from the stored data.
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt += n
}

// ReplyWriteCycles queues a literal reply for the next writecycles command.
func (d *Device) ReplyWriteCycles(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wearReply = append(d.wearReply, line)
}

// Emit queues unsolicited output lines, as the device does when it logs on its own.
func (d *Device) Emit(lines ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range lines {
		d.println(l)
	}
}

// Pending returns the number of output bytes not yet read.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.out)
}

// Files returns the sorted names of the entries in the root directory, or nil if it is
// empty.
func (d *Device) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commands returns every command received so far.
func (d *Device) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.commands...)
}

// Timeouts returns every read timeout set so far.
func (d *Device) Timeouts() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.timeouts...)
}

// EmptyReads returns the number of reads which found no pending output.
func (d *Device) EmptyReads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emptyReads
}

// WriteCycles returns the simulated EEPROM write counter.
func (d *Device) WriteCycles() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

func (d *Device) println(s string) {
	d.out = append(d.out, s...)
	d.out = append(d.out, '\r', '\n')
}

func (d *Device) used() int {
	n := headerSize + rootSize + 1
	for name, e := range d.files {
		n += fileHeader + len(name) + len(e.data) + dirEntry
	}
	return n
}

func (d *Device) exec(c protocol.Command) {
	d.commands = append(d.commands, c)
	arg := func(i int) string {
		if i < len(c.Args) {
			return c.Args[i]
		}
		return ""
	}

	switch c.Op {
	case protocol.OpPing:
		d.println("pong")
	case protocol.OpWipe:
		d.cycles += uint64(d.used())
		d.formatted = false
		d.files = make(map[string]entry)
		d.println("wiping successful")
	case protocol.OpMkfs:
		size, _ := strconv.Atoi(arg(0))
		if size < minFSSize || size > eepromSize {
			d.println("mkfs unsuccessful")
			return
		}
		d.fsSize = size
		d.formatted = true
		d.files = make(map[string]entry)
		d.cycles += headerSize + rootSize + 1
		d.readfs()
		d.println("mkfs successful")
	case protocol.OpReadfs:
		d.readfs()
	case protocol.OpMkfile, protocol.OpMkdir:
		data, _ := c.Data()
		d.mkfile(arg(0), data, c.Op == protocol.OpMkdir)
	case protocol.OpRm:
		name := arg(0)
		e, ok := d.files[name]
		if !ok {
			d.println("Error: File not found")
			return
		}
		delete(d.files, name)
		d.cycles += dirEntry
		if arg(1) == "wipe" {
			d.cycles += uint64(fileHeader + len(name) + len(e.data))
		}
		d.println("Removed root/" + name)
	case protocol.OpCat:
		e, ok := d.files[arg(0)]
		if !ok {
			d.println("File not found.")
			d.println("")
			return
		}
		data := e.data
		if d.corrupt > 0 {
			d.corrupt--
			data = corruptString(data)
		}
		d.println(data)
	case protocol.OpWriteCycles:
		if len(d.wearReply) > 0 {
			d.println(d.wearReply[0])
			d.wearReply = d.wearReply[1:]
			return
		}
		d.println(strconv.FormatUint(d.cycles, 10))
	case protocol.OpMemStats:
		d.memstats()
	case protocol.OpLs:
		d.println("Content of root/")
		names := make([]string, 0, len(d.files))
		for name := range d.files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			e := d.files[name]
			isDir := 0
			if e.dir {
				isDir = 1
			}
			d.println(fmt.Sprintf("%d\t0\t%d\t%s", isDir, len(e.data), name))
		}
	default:
		// The firmware ignores unknown commands
	}
}

func (d *Device) readfs() {
	if !d.formatted {
		d.println("Error: 'Filesystem header not detected.'")
		return
	}
	d.println(fmt.Sprintf("Found filesystem of %d bytes starting from address 0", d.fsSize))
	d.memstats()
}

func (d *Device) memstats() {
	used := d.used()
	bar := used * 30 / eepromSize
	d.println(fmt.Sprintf("[%s%s]\t%d/%d bytes allocated.", strings.Repeat("#", bar), strings.Repeat(" ", 30-bar), used, eepromSize))
}

func (d *Device) mkfile(name string, data string, dir bool) {
	if !d.formatted {
		return
	}
	if _, ok := d.files[name]; ok {
		d.println("Error: File already exists: " + name)
		return
	}
	need := fileHeader + len(name) + len(data)
	if d.used()+need+dirEntry > d.fsSize {
		d.println(fmt.Sprintf("Error: No free contiguous memory segment >= %d bytes found.", need))
		d.println("Unable to create file. Reverting all changes..")
		return
	}
	d.files[name] = entry{data: data, dir: dir}
	d.cycles += uint64(need + dirEntry)
	d.println("Created new file successfully.")
}

func corruptString(s string) string {
	if s == "" {
		return "?"
	}
	b := []byte(s)
	if b[len(b)-1] == 'Z' {
		b[len(b)-1] = '0'
	} else {
		b[len(b)-1] = 'Z'
	}
	return string(b)
}
