package main

import (
	"context"
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/jotfs/fsstress/internal/link"
	"github.com/jotfs/fsstress/internal/stress"
	"github.com/jotfs/fsstress/internal/workload"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log_level = "debug"

[device]
port = "/dev/ttyUSB1"
fs_size = 512
handshake = true

[workload]
seed = 99
max_data = 20
delete_ratio = 0.0
wear_every = 5

[archive]
bucket = "reports"
`

func writeConfig(t *testing.T, content string) string {
	dir, err := ioutil.TempDir("", "fsstress")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	name := filepath.Join(dir, "fsstress.toml")
	require.NoError(t, ioutil.WriteFile(name, []byte(content), 0600))
	return name
}

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	cfg.setDefaults()

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Device.Port)
	assert.Equal(t, defaultBaud, cfg.Device.Baud)
	assert.Equal(t, uint(defaultReadTimeoutMs), cfg.Device.ReadTimeoutMs)
	assert.Equal(t, defaultDatabase, cfg.Journal.Database)
	assert.Equal(t, defaultArchivePrefix, cfg.Archive.Prefix)
	require.NotNil(t, cfg.Workload.DeleteRatio)

	sc := sessionConfig(cfg)
	assert.NoError(t, sc.Validate())
	assert.Equal(t, 512, sc.FSSize)
	assert.True(t, sc.Handshake)
	assert.Equal(t, int64(99), sc.Seed)
	assert.Equal(t, uint64(5), sc.WearEvery)
	assert.Equal(t, workload.Range{Min: 3, Max: 20}, sc.Workload.DataSize)
	assert.Equal(t, workload.Range{Min: 4, Max: 8}, sc.Workload.NameSize)
	assert.Equal(t, 0.0, sc.Workload.DeleteRatio)

	_, err = readConfig(filepath.Join(os.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.Error(t, config{}.validate())
	assert.Error(t, config{Device: &deviceConfig{}}.validate())
	assert.NoError(t, config{Device: &deviceConfig{Simulate: true}}.validate())
	assert.Error(t, config{LogLevel: "trace", Device: &deviceConfig{Simulate: true}}.validate())
	assert.Error(t, config{Device: &deviceConfig{Simulate: true}, Archive: &archiveConfig{}}.validate())
}

func TestFlagOverrides(t *testing.T) {
	cfg, err := readConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	fs := flag.NewFlagSet("fsstress", flag.ContinueOnError)
	override := flagOverrides(fs)
	require.NoError(t, fs.Parse([]string{"-port", "/dev/ttyACM0", "-delete_ratio", "0.5", "-db", ":memory:"}))
	override(&cfg)
	require.NoError(t, cfg.validate())
	cfg.setDefaults()

	assert.Equal(t, "/dev/ttyACM0", cfg.Device.Port)
	assert.Equal(t, 512, cfg.Device.FSSize)
	assert.Equal(t, ":memory:", cfg.Journal.Database)
	assert.Equal(t, 0.5, sessionConfig(cfg).Workload.DeleteRatio)

	// Flags alone are enough to run against the simulator
	var fresh config
	fs = flag.NewFlagSet("fsstress", flag.ContinueOnError)
	override = flagOverrides(fs)
	require.NoError(t, fs.Parse([]string{"-simulate"}))
	override(&fresh)
	require.NoError(t, fresh.validate())
	fresh.setDefaults()
	assert.Nil(t, fresh.Archive)
	sc := sessionConfig(fresh)
	assert.NoError(t, sc.Validate())
	assert.Equal(t, workload.DefaultConfig(), sc.Workload)
}

func TestNewReport(t *testing.T) {
	adapter, err := openJournal(":memory:")
	require.NoError(t, err)
	defer adapter.Close()

	cfg := config{Device: &deviceConfig{Simulate: true}}
	cfg.setDefaults()
	port, name, err := openPort(*cfg.Device)
	require.NoError(t, err)
	assert.Equal(t, "sim", name)

	sc := sessionConfig(cfg)
	sc.Seed = 3
	sc.WearPause = 0
	lc := link.DefaultConfig()
	lc.LinePause = 0
	conn := link.New(port, lc, zerolog.Nop())
	run, err := adapter.StartRun(name, sc.Seed)
	require.NoError(t, err)

	sess := stress.New(conn, sc, zerolog.Nop(), run)
	require.NoError(t, sess.Startup(context.Background()))
	for i := 0; i < 25; i++ {
		require.NoError(t, sess.Step())
	}

	r := newReport(run, sess, context.Canceled)
	assert.Equal(t, run.ID, r.RunID)
	assert.Equal(t, "sim", r.Port)
	assert.Equal(t, uint64(25), r.Iterations)
	assert.Equal(t, "context canceled", r.StopReason)
	assert.Equal(t, uint64(3), r.WearSamples)
	assert.Equal(t, uint64(20), r.LastWearIteration)
	assert.Equal(t, len(sess.Live()), r.LiveFiles)

	s, err := run.Summary()
	require.NoError(t, err)
	assert.Equal(t, 3, s.WearSamples)
	assert.Equal(t, r.LastWearCycles, s.LastCycles)
}
