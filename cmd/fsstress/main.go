package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jotfs/fsstress/internal/archive"
	"github.com/jotfs/fsstress/internal/device"
	"github.com/jotfs/fsstress/internal/device/sim"
	"github.com/jotfs/fsstress/internal/journal"
	"github.com/jotfs/fsstress/internal/link"
	"github.com/jotfs/fsstress/internal/log"
	"github.com/jotfs/fsstress/internal/store/s3"
	"github.com/jotfs/fsstress/internal/stress"
	"github.com/jotfs/fsstress/internal/workload"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

// Build flags
var (
	Version   string
	BuildDate string
	CommitID  string
)

const archiveTimeout = 30 * time.Second

func getLoggerLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var logger zerolog.Logger

func openJournal(filename string) (*journal.Adapter, error) {
	if filename == ":memory:" {
		return journal.Empty()
	}
	exists, err := fileExists(filename)
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %v", filename, err)
	}
	if exists {
		logger.Info().Str("file", filename).Msg("using existing journal")
	} else {
		logger.Info().Str("file", filename).Msg("creating new journal")
	}
	sqldb, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_fk=true", filename))
	if err != nil {
		return nil, err
	}
	if err := sqldb.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect")
	}
	adapter := journal.NewAdapter(sqldb)
	if !exists {
		if err := adapter.InitSchema(); err != nil {
			return nil, fmt.Errorf("internal error: creating journal schema: %v", err)
		}
	}
	return adapter, nil
}

func openPort(cfg deviceConfig) (device.Port, string, error) {
	if cfg.Simulate {
		return sim.New(), "sim", nil
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", cfg.Port, err)
	}
	return port, cfg.Port, nil
}

func sessionConfig(cfg config) stress.Config {
	sc := stress.DefaultConfig()
	if cfg.Device.FSSize != 0 {
		sc.FSSize = cfg.Device.FSSize
	}
	sc.Handshake = cfg.Device.Handshake

	wl := cfg.Workload
	if wl.Seed != 0 {
		sc.Seed = wl.Seed
	}
	if wl.WearEvery != 0 {
		sc.WearEvery = wl.WearEvery
	}
	sc.DeepRemove = wl.DeepRemove
	w := workload.DefaultConfig()
	if wl.MinName != 0 {
		w.NameSize.Min = wl.MinName
	}
	if wl.MaxName != 0 {
		w.NameSize.Max = wl.MaxName
	}
	if wl.MinData != 0 {
		w.DataSize.Min = wl.MinData
	}
	if wl.MaxData != 0 {
		w.DataSize.Max = wl.MaxData
	}
	w.DirRatio = wl.DirRatio
	if wl.DeleteRatio != nil {
		w.DeleteRatio = *wl.DeleteRatio
	}
	sc.Workload = w
	return sc
}

func newReport(run *journal.Run, sess *stress.Session, stopErr error) archive.Report {
	st := sess.Stats()
	wear := sess.Wear()
	r := archive.Report{
		RunID:             run.ID,
		Port:              run.Port,
		Seed:              run.Seed,
		StartedAt:         run.StartedAt,
		FinishedAt:        time.Now().UTC(),
		Iterations:        st.Iterations,
		AvgLatencyMs:      float64(st.AvgLatency().Microseconds()) / 1000,
		Deletes:           st.Deletes,
		Mismatches:        st.Mismatches,
		Evictions:         st.Evictions,
		LiveFiles:         len(sess.Live()),
		WearSamples:       st.WearSamples,
		WearDropped:       st.WearDropped,
		LastWearCycles:    wear.Cycles,
		LastWearIteration: wear.Iteration,
	}
	if stopErr != nil {
		r.StopReason = stopErr.Error()
	}
	return r
}

func uploadReport(cfg archiveConfig, r archive.Report) error {
	s, err := s3.New(s3.Config{
		Region:     cfg.Region,
		Endpoint:   cfg.Endpoint,
		AccessKey:  cfg.AccessKey,
		SecretKey:  cfg.SecretKey,
		PathStyle:  cfg.PathStyle,
		DisableSSL: cfg.DisableSSL,
	})
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	key, err := archive.New(s, cfg.Bucket, cfg.Prefix).Put(ctx, r)
	if err != nil {
		return err
	}
	logger.Info().Str("bucket", cfg.Bucket).Str("key", key).Msg("report archived")
	return nil
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configFile := fs.String("config", "", "path to an optional TOML config file")
	debug := fs.Bool("debug", false, "enable debug output")
	version := fs.Bool("version", false, "output version info and exit")
	override := flagOverrides(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *version {
		format := "%-10s:  %s\n"
		fmt.Printf(format, "Version", Version)
		fmt.Printf(format, "Build date", BuildDate)
		fmt.Printf(format, "Commit ID", CommitID)
		return nil
	}

	var cfg config
	if *configFile != "" {
		var err error
		if cfg, err = readConfig(*configFile); err != nil {
			return fmt.Errorf("reading config: %v", err)
		}
	}
	override(&cfg)
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	cfg.setDefaults()

	// Configure the logger
	if *debug {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(getLoggerLevel(cfg.LogLevel))
	}

	sc := sessionConfig(cfg)
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}

	adapter, err := openJournal(cfg.Journal.Database)
	if err != nil {
		return fmt.Errorf("journal: %v", err)
	}
	defer log.OnError(logger, adapter.Close)

	port, portName, err := openPort(*cfg.Device)
	if err != nil {
		return err
	}
	lc := link.DefaultConfig()
	lc.ReadTimeout = time.Duration(cfg.Device.ReadTimeoutMs) * time.Millisecond
	conn := link.New(port, lc, logger)
	defer log.OnError(logger, conn.Close)

	jrun, err := adapter.StartRun(portName, sc.Seed)
	if err != nil {
		return fmt.Errorf("journal: %v", err)
	}
	logger = logger.With().Str("run", jrun.ID).Logger()
	logger.Info().Str("port", portName).Int64("seed", sc.Seed).Msg("starting")

	sess := stress.New(conn, sc, logger, jrun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sess.Startup(gctx)
		if err == nil {
			err = sess.Run(gctx)
		}
		if errors.Is(err, link.ErrClosed) && gctx.Err() != nil {
			return gctx.Err()
		}
		return err
	})
	g.Go(func() error {
		// Unblock a pending read once the run is interrupted
		<-gctx.Done()
		return conn.Close()
	})
	err = g.Wait()

	report := newReport(jrun, sess, err)
	logger.Info().
		Uint64("iterations", report.Iterations).
		Float64("avg_latency_ms", report.AvgLatencyMs).
		Uint64("mismatches", report.Mismatches).
		Uint64("evictions", report.Evictions).
		Uint64("write_cycles", report.LastWearCycles).
		Msg("stopped")
	if cfg.Archive != nil {
		log.OnError(logger, func() error { return uploadReport(*cfg.Archive, report) })
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
