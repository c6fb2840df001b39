package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	defaultDatabase      = "./fsstress.db"
	defaultBaud          = 2000000
	defaultReadTimeoutMs = 1000
	defaultLogLevel      = "info"
	defaultArchivePrefix = "fsstress/"
)

type deviceConfig struct {
	Port          string `toml:"port"`
	Baud          int    `toml:"baud"`
	ReadTimeoutMs uint   `toml:"read_timeout_ms"`
	Simulate      bool   `toml:"simulate"`
	Handshake     bool   `toml:"handshake"`
	FSSize        int    `toml:"fs_size"`
}

type workloadConfig struct {
	Seed        int64    `toml:"seed"`
	MinName     int      `toml:"min_name"`
	MaxName     int      `toml:"max_name"`
	MinData     int      `toml:"min_data"`
	MaxData     int      `toml:"max_data"`
	DirRatio    float64  `toml:"dir_ratio"`
	DeleteRatio *float64 `toml:"delete_ratio"`
	WearEvery   uint64   `toml:"wear_every"`
	DeepRemove  bool     `toml:"deep_remove"`
}

type journalConfig struct {
	Database string `toml:"database"`
}

type archiveConfig struct {
	Bucket     string `toml:"bucket"`
	Prefix     string `toml:"prefix"`
	Region     string `toml:"region"`
	Endpoint   string `toml:"endpoint"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
	PathStyle  bool   `toml:"path_style"`
	DisableSSL bool   `toml:"disable_ssl"`
}

type config struct {
	LogLevel string          `toml:"log_level"`
	Device   *deviceConfig   `toml:"device"`
	Workload *workloadConfig `toml:"workload"`
	Journal  *journalConfig  `toml:"journal"`
	Archive  *archiveConfig  `toml:"archive"`
}

func readConfig(filename string) (config, error) {
	if exists, err := fileExists(filename); err != nil {
		return config{}, err
	} else if !exists {
		return config{}, fmt.Errorf("config file %s not found", filename)
	}

	var cfg config
	if _, err := toml.DecodeFile(filename, &cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func fileExists(f string) (bool, error) {
	info, err := os.Stat(f)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, errors.New("is a directory but a file is required")
	}
	return true, nil
}

func requiredFieldError(field string) error {
	return fmt.Errorf("field %q is required", field)
}

func (c deviceConfig) validate() error {
	if c.Port == "" && !c.Simulate {
		return requiredFieldError("port")
	}
	if c.Baud < 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	return nil
}

func (c archiveConfig) validate() error {
	if c.Bucket == "" {
		return requiredFieldError("bucket")
	}
	return nil
}

func (c config) validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
		break
	default:
		return fmt.Errorf("invalid log level %q. Must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.Device == nil {
		return fmt.Errorf("section [device] is required")
	}
	if err := c.Device.validate(); err != nil {
		return fmt.Errorf("[device]: %w", err)
	}
	if c.Archive != nil {
		if err := c.Archive.validate(); err != nil {
			return fmt.Errorf("[archive]: %w", err)
		}
	}
	return nil
}

func (c *deviceConfig) setDefaults() {
	if c.Baud == 0 {
		c.Baud = defaultBaud
	}
	if c.ReadTimeoutMs == 0 {
		c.ReadTimeoutMs = defaultReadTimeoutMs
	}
}

func (c *journalConfig) setDefaults() {
	if c.Database == "" {
		c.Database = defaultDatabase
	}
}

func (c *archiveConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = defaultArchivePrefix
	}
}

func (c *config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Device == nil {
		c.Device = &deviceConfig{}
	}
	if c.Workload == nil {
		c.Workload = &workloadConfig{}
	}
	if c.Journal == nil {
		c.Journal = &journalConfig{}
	}
	c.Device.setDefaults()
	c.Journal.setDefaults()
	if c.Archive != nil {
		c.Archive.setDefaults()
	}
}

// flagOverrides registers command line flags on fs. The returned function copies the
// flags set explicitly on the command line into cfg, so they take precedence over the
// config file.
func flagOverrides(fs *flag.FlagSet) func(cfg *config) {
	var (
		dev         deviceConfig
		wl          workloadConfig
		jnl         journalConfig
		arc         archiveConfig
		logLevel    string
		deleteRatio float64
	)
	fs.StringVar(&logLevel, "log_level", defaultLogLevel, "logging level")
	fs.StringVar(&dev.Port, "port", "", "serial port of the device, e.g. /dev/ttyUSB1")
	fs.IntVar(&dev.Baud, "baud", defaultBaud, "serial baud rate")
	fs.UintVar(&dev.ReadTimeoutMs, "read_timeout", defaultReadTimeoutMs, "serial read timeout in milliseconds")
	fs.BoolVar(&dev.Simulate, "simulate", false, "run against a simulated device instead of a serial port")
	fs.BoolVar(&dev.Handshake, "handshake", false, "require the device to answer ping before starting")
	fs.IntVar(&dev.FSSize, "fs_size", 0, "size in bytes of the filesystem created at startup (default 1024)")
	fs.Int64Var(&wl.Seed, "seed", 0, "random seed (default: current time)")
	fs.Float64Var(&wl.DirRatio, "dir_ratio", 0, "probability of creating a directory instead of a file")
	fs.Float64Var(&deleteRatio, "delete_ratio", 0.7, "probability of deleting a live file each iteration")
	fs.Uint64Var(&wl.WearEvery, "wear_every", 10, "iterations between wear samples")
	fs.BoolVar(&wl.DeepRemove, "deep_remove", false, "zero-fill the space of deleted files")
	fs.StringVar(&jnl.Database, "db", defaultDatabase, "location of the run journal, or :memory:")
	fs.StringVar(&arc.Bucket, "archive_bucket", "", "bucket to upload the run report to")
	fs.StringVar(&arc.Endpoint, "archive_endpoint", "", "endpoint of S3-compatible store. Connects to AWS S3 by default")
	fs.StringVar(&arc.Region, "archive_region", "", "store region name")

	return func(cfg *config) {
		if cfg.Device == nil {
			cfg.Device = &deviceConfig{}
		}
		if cfg.Workload == nil {
			cfg.Workload = &workloadConfig{}
		}
		if cfg.Journal == nil {
			cfg.Journal = &journalConfig{}
		}
		fs.Visit(func(fl *flag.Flag) {
			switch fl.Name {
			case "log_level":
				cfg.LogLevel = logLevel
			case "port":
				cfg.Device.Port = dev.Port
			case "baud":
				cfg.Device.Baud = dev.Baud
			case "read_timeout":
				cfg.Device.ReadTimeoutMs = dev.ReadTimeoutMs
			case "simulate":
				cfg.Device.Simulate = dev.Simulate
			case "handshake":
				cfg.Device.Handshake = dev.Handshake
			case "fs_size":
				cfg.Device.FSSize = dev.FSSize
			case "seed":
				cfg.Workload.Seed = wl.Seed
			case "dir_ratio":
				cfg.Workload.DirRatio = wl.DirRatio
			case "delete_ratio":
				cfg.Workload.DeleteRatio = &deleteRatio
			case "wear_every":
				cfg.Workload.WearEvery = wl.WearEvery
			case "deep_remove":
				cfg.Workload.DeepRemove = wl.DeepRemove
			case "db":
				cfg.Journal.Database = jnl.Database
			case "archive_bucket", "archive_endpoint", "archive_region":
				if cfg.Archive == nil {
					cfg.Archive = &archiveConfig{}
				}
				switch fl.Name {
				case "archive_bucket":
					cfg.Archive.Bucket = arc.Bucket
				case "archive_endpoint":
					cfg.Archive.Endpoint = arc.Endpoint
				case "archive_region":
					cfg.Archive.Region = arc.Region
				}
			}
		})
	}
}
