// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2023 The Spacemesh developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/proofmesh/proofmesh/admission"
	"github.com/proofmesh/proofmesh/dispatcher"
	"github.com/proofmesh/proofmesh/hashguard"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/miner"
	"github.com/proofmesh/proofmesh/scheduler"
	"github.com/proofmesh/proofmesh/validator"
)

const (
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultRunDirname     = "runs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultBlockTime      = 12 * time.Second
)

// Roles a node can run.
const (
	RoleValidator = "validator"
	RoleWorker    = "worker"
)

// Config defines the configuration options for a proofmesh node.
//
// Flags are parsed first, the config file overlays them,
// then flags are parsed again so the command line wins.
type Config struct {
	Role           string  `long:"role"           description:"Role of this node"                                                  choice:"validator" choice:"worker"`
	BaseDir        string  `long:"basedir"        description:"The base directory that contains the node's data, logs, configuration file, etc."`
	ConfigFile     string  `long:"configfile"     description:"Path to configuration file"                                         short:"c"`
	DataDir        string  `long:"datadir"        description:"The directory to store the node's data within."                     short:"b"`
	LogDir         string  `long:"logdir"         description:"Directory to log output."`
	DebugLog       bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	MetricsPort    *uint16 `long:"metrics-port"   description:"The port to expose metrics"`

	CircuitsFile string        `long:"circuits"   description:"TOML registry of circuits"`
	MembersFile  string        `long:"members"    description:"TOML membership of the development ledger"`
	BlockTime    time.Duration `long:"block-time" description:"Block interval of the development ledger"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Admission  admission.Config  `group:"Admission"`
	Dispatcher dispatcher.Config `group:"Dispatcher"`
	HashGuard  hashguard.Config  `group:"HashGuard"`
	Scheduler  scheduler.Config  `group:"Scheduler"`
	Worker     miner.Config      `group:"Worker"     namespace:"worker"`
	Validator  validator.Config  `group:"Validator"  namespace:"validator"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	baseDir := "./proofmesh"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		baseDir = filepath.Join(cacheDir, "proofmesh")
	}

	return &Config{
		Role:           RoleWorker,
		BaseDir:        baseDir,
		DataDir:        filepath.Join(baseDir, defaultDataDirname),
		LogDir:         filepath.Join(baseDir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		BlockTime:      defaultBlockTime,
		Admission:      admission.DefaultConfig(),
		Dispatcher:     dispatcher.DefaultConfig(),
		HashGuard:      hashguard.DefaultConfig(),
		Scheduler:      scheduler.DefaultConfig(),
		Worker:         miner.DefaultConfig(),
		Validator:      validator.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided base directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.BaseDir != defaultCfg.BaseDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.BaseDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.BaseDir, defaultLogDirname)
		}
	}

	if err := os.MkdirAll(cfg.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.BaseDir, err)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.CircuitsFile = cleanAndExpandPath(cfg.CircuitsFile)
	cfg.MembersFile = cleanAndExpandPath(cfg.MembersFile)
	cfg.Worker.CommitmentFile = cleanAndExpandPath(cfg.Worker.CommitmentFile)
	cfg.Validator.ArchiveDir = cleanAndExpandPath(cfg.Validator.ArchiveDir)
	if cfg.Validator.RunDir == "" {
		cfg.Validator.RunDir = filepath.Join(cfg.DataDir, defaultRunDirname)
	}
	cfg.Validator.RunDir = cleanAndExpandPath(cfg.Validator.RunDir)

	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("role", c.Role)
	enc.AddString("datadir", c.DataDir)
	enc.AddString("circuits", c.CircuitsFile)
	enc.AddString("members", c.MembersFile)
	enc.AddDuration("block-time", c.BlockTime)
	if err := enc.AddObject("admission", c.Admission); err != nil {
		return err
	}
	if err := enc.AddObject("dispatcher", c.Dispatcher); err != nil {
		return err
	}
	if err := enc.AddObject("scheduler", c.Scheduler); err != nil {
		return err
	}
	switch c.Role {
	case RoleValidator:
		return enc.AddObject("validator", c.Validator)
	default:
		return enc.AddObject("worker", c.Worker)
	}
}
