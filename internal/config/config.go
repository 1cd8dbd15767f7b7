// Package config assembles the CLI/env configuration for clapshotd.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete runtime configuration of the ingestion core.
type Config struct {
	DataDir       string        `yaml:"data_dir" env:"CLAPSHOT_DATA_DIR" default:"./data"`
	URLBase       string        `yaml:"url_base" env:"CLAPSHOT_URL_BASE" default:"/"`
	Host          string        `yaml:"host" env:"CLAPSHOT_HOST" default:"0.0.0.0"`
	Port          int           `yaml:"port" env:"CLAPSHOT_PORT" default:"8080"`
	PollInterval  time.Duration `yaml:"poll" env:"CLAPSHOT_POLL" default:"2s"`
	Workers       int           `yaml:"workers" env:"CLAPSHOT_WORKERS" default:"0"`
	TargetBitrate uint64        `yaml:"target_bitrate" env:"CLAPSHOT_TARGET_BITRATE" default:"2500000"`
	LogFile       string        `yaml:"log" env:"CLAPSHOT_LOG" default:""`
	Debug         bool          `yaml:"debug" env:"CLAPSHOT_DEBUG" default:"false"`
	MuteTopics    []string      `yaml:"mute" env:"CLAPSHOT_MUTE" default:""`

	// OrganizerPlugin is the path to an external organizer binary (spec
	// §1, §9). Empty disables the integration entirely.
	OrganizerPlugin string `yaml:"organizer_plugin" env:"CLAPSHOT_ORGANIZER_PLUGIN" default:""`

	// ResubmitDelay is the minimum time between the two stability polls
	// of a file in incoming/ before the Incoming Monitor emits it.
	ResubmitDelay time.Duration `yaml:"resubmit_delay" env:"CLAPSHOT_RESUBMIT_DELAY" default:"3s"`
}

type muteFlags []string

func (m *muteFlags) String() string { return fmt.Sprintf("%v", []string(*m)) }
func (m *muteFlags) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// Parse builds a Config from CLI flags, falling back to environment
// variables, then an optional --config YAML file, and finally struct
// defaults, in that precedence order.
func Parse(args []string) (*Config, error) {
	var file Config
	if path := configPathFromArgs(args); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		file = *loaded
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("clapshotd", flag.ContinueOnError)

	var configPath string
	fs.StringVar(&configPath, "config", "", "path to a YAML config file (lowest-priority source)")

	fs.StringVar(&cfg.DataDir, "data-dir", strOrEnvOrDefault(file.DataDir, "CLAPSHOT_DATA_DIR", "./data"), "data directory root")
	fs.StringVar(&cfg.URLBase, "url-base", strOrEnvOrDefault(file.URLBase, "CLAPSHOT_URL_BASE", "/"), "base URL path for the API")
	fs.StringVar(&cfg.Host, "host", strOrEnvOrDefault(file.Host, "CLAPSHOT_HOST", "0.0.0.0"), "HTTP listen host")
	fs.IntVar(&cfg.Port, "port", intOrEnvOrDefault(file.Port, "CLAPSHOT_PORT", 8080), "HTTP listen port")
	fs.DurationVar(&cfg.PollInterval, "poll", durationOrEnvOrDefault(file.PollInterval, "CLAPSHOT_POLL", 2*time.Second), "incoming/ poll interval")
	fs.IntVar(&cfg.Workers, "workers", intOrEnvOrDefault(file.Workers, "CLAPSHOT_WORKERS", 0), "worker pool size for extractor/transcoder (0 = CPU count)")
	fs.Uint64Var(&cfg.TargetBitrate, "target-bitrate", uint64OrEnvOrDefault(file.TargetBitrate, "CLAPSHOT_TARGET_BITRATE", 2500000), "target video bitrate in bits/sec")
	fs.StringVar(&cfg.LogFile, "log", strOrEnvOrDefault(file.LogFile, "CLAPSHOT_LOG", ""), "log file path (empty = stderr)")
	fs.BoolVar(&cfg.Debug, "debug", envOrDefaultBool("CLAPSHOT_DEBUG", file.Debug), "enable debug logging")
	fs.StringVar(&cfg.OrganizerPlugin, "organizer-plugin", strOrEnvOrDefault(file.OrganizerPlugin, "CLAPSHOT_ORGANIZER_PLUGIN", ""), "path to an organizer plugin binary (empty disables it)")

	mutes := muteFlags(file.MuteTopics)
	if v := os.Getenv("CLAPSHOT_MUTE"); v != "" {
		mutes = muteFlags(strings.Split(v, ","))
	}
	fs.Var(&mutes, "mute", "mute a notification topic (repeatable)")

	fs.DurationVar(&cfg.ResubmitDelay, "resubmit-delay", durationOrEnvOrDefault(file.ResubmitDelay, "CLAPSHOT_RESUBMIT_DELAY", 3*time.Second), "minimum delay between stability polls")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.MuteTopics = mutes

	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkerCount()
	}

	return cfg, nil
}

func strOrEnvOrDefault(fileVal string, envKey, def string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fileVal != "" {
		return fileVal
	}
	return def
}

func intOrEnvOrDefault(fileVal int, envKey string, def int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func uint64OrEnvOrDefault(fileVal uint64, envKey string, def uint64) uint64 {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func durationOrEnvOrDefault(fileVal time.Duration, envKey string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
