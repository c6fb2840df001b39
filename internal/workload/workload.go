// Package workload generates the random names and payloads used to stress the device
// and tracks which names the harness believes are live on it.
package workload

import (
	"fmt"
	"math/rand"
)

// Alphabet holds every character a generated name or payload may contain. None of them
// is significant to the device's command parser.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Default size bounds, inclusive.
const (
	MinNameSize = 4
	MaxNameSize = 8
	MinDataSize = 3
	MaxDataSize = 45
)

// Range is an inclusive integer range.
type Range struct {
	Min int
	Max int
}

func (r Range) validate() error {
	if r.Min < 1 || r.Max < r.Min {
		return fmt.Errorf("invalid range [%d, %d]", r.Min, r.Max)
	}
	return nil
}

// Config stores the parameters of a Generator.
type Config struct {
	NameSize Range
	DataSize Range

	// DirRatio is the probability that Next creates a directory instead of a file.
	DirRatio float64

	// DeleteRatio is the probability of deleting a live entry after each iteration.
	DeleteRatio float64
}

// DefaultConfig returns the standard workload: files only, names of 4 to 8 characters,
// payloads of 3 to 45 characters and a 70% chance of a delete per iteration.
func DefaultConfig() Config {
	return Config{
		NameSize:    Range{MinNameSize, MaxNameSize},
		DataSize:    Range{MinDataSize, MaxDataSize},
		DeleteRatio: 0.7,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.NameSize.validate(); err != nil {
		return fmt.Errorf("name size: %w", err)
	}
	if err := c.DataSize.validate(); err != nil {
		return fmt.Errorf("data size: %w", err)
	}
	if c.DirRatio < 0 || c.DirRatio > 1 {
		return fmt.Errorf("dir ratio %v must be in range 0 to 1", c.DirRatio)
	}
	if c.DeleteRatio < 0 || c.DeleteRatio > 1 {
		return fmt.Errorf("delete ratio %v must be in range 0 to 1", c.DeleteRatio)
	}
	return nil
}

// File is an entry created on the device. Payload is empty for directories.
type File struct {
	Name    string
	Payload string
	Dir     bool
}

// Generator produces random workload decisions from a single source.
type Generator struct {
	rnd *rand.Rand
	cfg Config
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed int64, cfg Config) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed)), cfg: cfg}
}

// String returns n characters drawn uniformly from Alphabet.
func (g *Generator) String(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = Alphabet[g.rnd.Intn(len(Alphabet))]
	}
	return string(b)
}

func (g *Generator) between(r Range) int {
	return r.Min + g.rnd.Intn(r.Max-r.Min+1)
}

// NameSize returns a name length drawn uniformly from the configured range.
func (g *Generator) NameSize() int { return g.between(g.cfg.NameSize) }

// DataSize returns a payload length drawn uniformly from the configured range.
func (g *Generator) DataSize() int { return g.between(g.cfg.DataSize) }

// Dir decides whether the next entry is a directory.
func (g *Generator) Dir() bool { return g.chance(g.cfg.DirRatio) }

// Delete decides whether to delete a live entry this iteration.
func (g *Generator) Delete() bool { return g.chance(g.cfg.DeleteRatio) }

func (g *Generator) chance(p float64) bool {
	return p > 0 && g.rnd.Float64() < p
}

// File returns a new entry with a name of nameSize characters and, unless dir is
// true, a payload of dataSize characters.
func (g *Generator) File(nameSize int, dataSize int, dir bool) File {
	f := File{Name: g.String(nameSize), Dir: dir}
	if !dir {
		f.Payload = g.String(dataSize)
	}
	return f
}

// Intn returns a uniform integer in [0, n).
func (g *Generator) Intn(n int) int { return g.rnd.Intn(n) }
