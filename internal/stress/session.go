// Package stress drives a randomized create/verify/delete workload against the device
// and watches its wear counter.
package stress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jotfs/fsstress/internal/journal"
	"github.com/jotfs/fsstress/internal/link"
	"github.com/jotfs/fsstress/internal/log"
	"github.com/jotfs/fsstress/internal/protocol"
	"github.com/jotfs/fsstress/internal/stats"
	"github.com/jotfs/fsstress/internal/sum"
	"github.com/jotfs/fsstress/internal/workload"
)

const (
	defaultFSSize    = 1024
	defaultWearEvery = 10
	defaultWearPause = 100 * time.Millisecond

	// maxNameAttempts bounds how often Create redraws a name colliding with a live one.
	maxNameAttempts = 16
)

// ErrHandshake is returned by Startup when the device does not answer ping.
var ErrHandshake = errors.New("device did not answer ping")

// Config stores the parameters of a Session.
type Config struct {
	// FSSize is the size in bytes of the filesystem created at startup.
	FSSize int

	// WearEvery is the number of iterations between progress reports and wear samples.
	WearEvery uint64

	// WearPause is slept after a valid wear sample before draining trailing output.
	WearPause time.Duration

	// Handshake sends ping before the startup sequence and requires pong back.
	Handshake bool

	// DeepRemove zero-fills the space of deleted files.
	DeepRemove bool

	Seed     int64
	Workload workload.Config
}

// DefaultConfig returns the standard run parameters.
func DefaultConfig() Config {
	return Config{
		FSSize:    defaultFSSize,
		WearEvery: defaultWearEvery,
		WearPause: defaultWearPause,
		Seed:      time.Now().UnixNano(),
		Workload:  workload.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FSSize < 16 || c.FSSize > 65535 {
		return fmt.Errorf("filesystem size %d must be in range 16 to 65535", c.FSSize)
	}
	if c.WearEvery == 0 {
		return errors.New("wear interval must be positive")
	}
	return c.Workload.Validate()
}

// Journal records run events. Failures to record never interrupt a run.
type Journal interface {
	InsertWear(iteration uint64, cycles uint64) error
	InsertMismatch(m journal.Mismatch) error
}

type nopJournal struct{}

func (nopJournal) InsertWear(uint64, uint64) error { return nil }
func (nopJournal) InsertMismatch(journal.Mismatch) error { return nil }

// Session owns the connection to the device together with everything the harness
// believes about the device's state. It is not safe for concurrent use.
type Session struct {
	conn    *link.Conn
	cfg     Config
	gen     *workload.Generator
	live    *workload.LiveSet
	stats   stats.Run
	wear    stats.Wear
	journal Journal
	logger  zerolog.Logger

	iteration uint64

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Session on conn. j may be nil.
func New(conn *link.Conn, cfg Config, logger zerolog.Logger, j Journal) *Session {
	if j == nil {
		j = nopJournal{}
	}
	return &Session{
		conn:    conn,
		cfg:     cfg,
		gen:     workload.NewGenerator(cfg.Seed, cfg.Workload),
		live:    workload.NewLiveSet(),
		journal: j,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Stats returns the counters accumulated so far.
func (s *Session) Stats() stats.Run { return s.stats }

// Wear returns the last valid wear sample.
func (s *Session) Wear() stats.Wear { return s.wear }

// Live returns the names believed to exist on the device.
func (s *Session) Live() []string { return s.live.Names() }

// Iteration returns the index of the next iteration.
func (s *Session) Iteration() uint64 { return s.iteration }

func (s *Session) exec(cmd protocol.Command, suppress bool) ([]string, error) {
	if err := s.conn.Send(cmd); err != nil {
		return nil, err
	}
	return s.conn.Drain(suppress, true)
}

// Startup brings the device to a known empty state: wipe, create a filesystem, then
// read it back. The live set is cleared.
func (s *Session) Startup(ctx context.Context) error {
	if s.cfg.Handshake {
		lines, err := s.exec(protocol.Ping(), false)
		if err != nil {
			return err
		}
		if !contains(lines, "pong") {
			return ErrHandshake
		}
	}
	cmds := []protocol.Command{protocol.Wipe(), protocol.Mkfs(s.cfg.FSSize), protocol.Readfs()}
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.exec(cmd, false); err != nil {
			return fmt.Errorf("startup %s: %w", cmd.Op, err)
		}
	}
	s.live.Reset()
	s.logger.Info().Int("fs_size", s.cfg.FSSize).Msg("device formatted")
	return nil
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) == want {
			return true
		}
	}
	return false
}

// Create creates a file, or a directory if dir is true, with a random name of nameSize
// characters and a random payload of dataSize characters. The device output is drained
// silently. Returns the entry and the time taken.
func (s *Session) Create(nameSize int, dataSize int, dir bool) (workload.File, time.Duration, error) {
	start := s.now()
	f := s.gen.File(nameSize, dataSize, dir)
	for i := 1; i < maxNameAttempts && s.live.Contains(f.Name); i++ {
		f.Name = s.gen.String(nameSize)
	}

	cmd := protocol.Mkfile(f.Name, f.Payload)
	if dir {
		cmd = protocol.Mkdir(f.Name)
	}
	if _, err := s.exec(cmd, true); err != nil {
		return workload.File{}, 0, err
	}
	s.live.Add(f.Name)
	return f, s.now().Sub(start), nil
}

// Read returns the content of a file as reported by the device.
func (s *Session) Read(name string) (string, error) {
	if err := s.conn.Send(protocol.Cat(name)); err != nil {
		return "", err
	}
	return s.conn.ReadLine()
}

// Verify reports whether a payload read back equals what was written.
func Verify(written string, observed string) bool {
	return written == observed
}

func (s *Session) rm(name string) error {
	cmd := protocol.Rm(name)
	if s.cfg.DeepRemove {
		cmd = protocol.RmWipe(name)
	}
	_, err := s.exec(cmd, false)
	return err
}

// Remove deletes a file from the device and from the live set.
func (s *Session) Remove(name string) error {
	if err := s.rm(name); err != nil {
		return err
	}
	s.live.Remove(name)
	return nil
}

// MaybeDelete deletes a uniformly chosen live file with the configured probability.
// Returns the deleted name, if any.
func (s *Session) MaybeDelete() (string, bool, error) {
	if !s.gen.Delete() {
		return "", false, nil
	}
	name, ok := s.live.PopRandom(s.gen.Intn)
	if !ok {
		return "", false, nil
	}
	if err := s.rm(name); err != nil {
		return name, true, err
	}
	s.stats.Deletes++
	return name, true, nil
}

// EvictionBound returns how many live files are evicted after a mismatch detected
// with live files tracked: half of them, rounded up.
func EvictionBound(live int) int {
	return (live + 1) / 2
}

// Recover evicts random live files from the device and the live set after a mismatch,
// shedding state which may have desynchronized the harness from the device. Returns
// the number of files evicted.
func (s *Session) Recover() (int, error) {
	bound := EvictionBound(s.live.Len())
	evicted := 0
	for ; evicted < bound; evicted++ {
		name, ok := s.live.PopRandom(s.gen.Intn)
		if !ok {
			break
		}
		s.logger.Debug().Str("name", name).Msg("evicting")
		if err := s.rm(name); err != nil {
			return evicted, err
		}
		s.stats.Evictions++
	}
	return evicted, nil
}

func (s *Session) mismatch(f workload.File, observed string) error {
	s.stats.Mismatches++
	live := s.live.Len()
	evicted, err := s.Recover()
	s.logger.Warn().
		Uint64("iteration", s.iteration).
		Str("name", f.Name).
		Str("written", f.Payload).
		Str("observed", observed).
		Str("written_sum", sum.OfString(f.Payload).Short()).
		Str("observed_sum", sum.OfString(observed).Short()).
		Int("live", live).
		Int("evicted", evicted).
		Msg("payload mismatch")
	log.OnError(s.logger, func() error {
		return s.journal.InsertMismatch(journal.Mismatch{
			Iteration: s.iteration,
			Name:      f.Name,
			Written:   f.Payload,
			Observed:  observed,
			Evicted:   evicted,
			At:        s.now(),
		})
	})
	return err
}

// PollWear samples the device's write-cycle counter. A reply which is not an integer
// is discarded and leaves the last sample unchanged.
func (s *Session) PollWear() error {
	if err := s.conn.Send(protocol.WriteCycles()); err != nil {
		return err
	}
	line, err := s.conn.ReadLine()
	if err != nil {
		return err
	}
	cycles, ok := protocol.ParseWriteCycles(line)
	if !ok {
		s.stats.WearDropped++
		s.logger.Debug().Str("line", line).Msg("discarding wear sample")
		return nil
	}
	s.stats.WearSamples++
	if s.wear.Record(cycles, s.iteration) {
		s.logger.Warn().Uint64("cycles", cycles).Msg("write cycle counter went down")
	}
	s.logger.Info().Uint64("cycles", cycles).Uint64("iteration", s.iteration).Msg("write cycles")
	log.OnError(s.logger, func() error {
		return s.journal.InsertWear(s.iteration, cycles)
	})
	s.sleep(s.cfg.WearPause)
	_, err = s.conn.Drain(false, false)
	return err
}

func (s *Session) report() {
	s.logger.Info().
		Uint64("iterations", s.stats.Iterations).
		Dur("avg_latency", s.stats.AvgLatency()).
		Int("live", s.live.Len()).
		Uint64("mismatches", s.stats.Mismatches).
		Msg("progress")
}

// Step runs one iteration: create a random entry, read it back and verify it, then
// possibly delete a live entry. A mismatch triggers recovery in place of the delete.
// Every WearEvery iterations progress is reported and the wear counter sampled.
func (s *Session) Step() error {
	f, elapsed, err := s.Create(s.gen.NameSize(), s.gen.DataSize(), s.gen.Dir())
	if err != nil {
		return err
	}

	ok := true
	if !f.Dir {
		observed, err := s.Read(f.Name)
		if err != nil {
			return err
		}
		if ok = Verify(f.Payload, observed); !ok {
			if err := s.mismatch(f, observed); err != nil {
				return err
			}
		}
	}
	s.logger.Debug().Str("name", f.Name).Bool("ok", ok).Dur("elapsed", elapsed).Msg("created")

	s.stats.Observe(elapsed)
	if ok {
		if _, _, err := s.MaybeDelete(); err != nil {
			return err
		}
	}

	if s.iteration%s.cfg.WearEvery == 0 {
		s.report()
		if err := s.PollWear(); err != nil {
			return err
		}
	}
	s.iteration++
	return nil
}

// Run executes iterations until ctx is cancelled or the transport fails. It never
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(); err != nil {
			if errors.Is(err, link.ErrClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
