// Package config builds the kernel's runtime configuration the way
// cmd/simulator's own config package builds its loader config: a pflag
// FlagSet bound into a viper.Viper so each setting can come from a flag,
// an environment variable, or its default, in that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/poskernel/core/internal/kernel"
)

// Viper keys. Each key is also the name of the flag that sets it.
const (
	DataDirKey         = "data-dir"
	TerminalIDKey      = "terminal-id"
	WalSegmentBytesKey = "wal-segment-bytes"
	ListenAddrKey      = "listen-addr"
	LogLevelKey        = "log-level"
	VersionKey         = "version"
)

const envPrefix = "POSKERNEL"

// Config is the fully resolved, validated runtime configuration for one
// poskernel process.
type Config struct {
	DataDir         string
	TerminalID      string
	WalSegmentBytes int64
	ListenAddr      string
	LogLevel        string
}

// BuildFlagSet declares every flag this process accepts. It is kept
// separate from parsing so that both the "serve" entrypoint and tests
// can construct a FlagSet without touching os.Args.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("poskernel", pflag.ContinueOnError)

	defaultDataDir, err := defaultDataDir()
	if err != nil {
		defaultDataDir = "."
	}

	fs.String(DataDirKey, defaultDataDir, "directory holding terminal WALs and shared coordination state")
	fs.String(TerminalIDKey, "", "identifier of the terminal this process owns (required for serve and inspect-wal; recover replays every terminal when omitted)")
	fs.Int64(WalSegmentBytesKey, kernel.DefaultSegmentBytes, "WAL segment rotation threshold in bytes")
	fs.String(ListenAddrKey, "127.0.0.1:8545", "address the JSON-RPC and metrics HTTP servers listen on")
	fs.String(LogLevelKey, "info", "minimum log level: trace, debug, info, warn, error, crit")
	fs.Bool(VersionKey, false, "accepted but ignored by subcommands; the top-level 'poskernel --version' prints the version")
	return fs
}

// BuildViper parses args against fs and layers environment variables
// (POSKERNEL_DATA_DIR, POSKERNEL_WAL_SEGMENT_BYTES, ...) over the flag
// defaults, returning a Viper a caller can query before committing to a
// validated Config. Returns pflag.ErrHelp if args requested -h/--help,
// matching cmd/simulator's own "print usage and exit 0" convention.
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: binding flags: %w", err)
	}
	return v, nil
}

// BuildConfig validates v's resolved values into a Config. It does not
// read VersionKey.
func BuildConfig(v *viper.Viper) (Config, error) {
	segmentBytes := v.GetInt64(WalSegmentBytesKey)
	if segmentBytes <= 0 {
		return Config{}, fmt.Errorf("config: %s must be positive, got %d", WalSegmentBytesKey, segmentBytes)
	}
	dataDir := v.GetString(DataDirKey)
	if dataDir == "" {
		return Config{}, fmt.Errorf("config: %s must not be empty", DataDirKey)
	}
	return Config{
		DataDir:         dataDir,
		TerminalID:      v.GetString(TerminalIDKey),
		WalSegmentBytes: segmentBytes,
		ListenAddr:      v.GetString(ListenAddrKey),
		LogLevel:        v.GetString(LogLevelKey),
	}, nil
}

// defaultDataDir mirrors the teacher's node default-datadir convention
// (an OS-appropriate per-user directory) rather than hardcoding a path.
func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch {
	case os.Getenv("XDG_DATA_HOME") != "":
		return filepath.Join(os.Getenv("XDG_DATA_HOME"), "poskernel"), nil
	default:
		return filepath.Join(home, ".poskernel"), nil
	}
}
