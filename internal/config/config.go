// Package config loads ptywatch configuration.
//
// Defaults are defined in code, an optional TOML file overlays them, and
// command-line flags override both. Nothing in the scan/classify/rank/kill
// pipeline reads configuration ambiently; each component receives the values
// it needs at construction time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full ptywatch configuration tree.
type Config struct {
	// RuntimeDir holds the cache file, PID file, daemon log, and audit log.
	RuntimeDir string `toml:"runtime_dir"`

	Scan     ScanConfig     `toml:"scan"`
	Classify ClassifyConfig `toml:"classify"`
	Kill     KillConfig     `toml:"kill"`
	Rank     RankConfig     `toml:"rank"`
}

// ScanConfig controls the daemon loop and the lsof invocation.
type ScanConfig struct {
	// IntervalSeconds is the time between daemon scan cycles.
	IntervalSeconds int `toml:"interval_seconds"`
	// TimeoutSeconds bounds a single lsof invocation. A hung lsof call is
	// treated as a failed scan, not a hung daemon.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// LsofPath is the enumeration binary. Leave empty to search PATH.
	LsofPath string `toml:"lsof_path"`
}

// ClassifyConfig holds the leak heuristic thresholds and patterns.
// All thresholds use strictly-greater-than semantics: a process with exactly
// heavy_threshold PTYs is not a heavy user.
type ClassifyConfig struct {
	HeavyThreshold   int `toml:"heavy_threshold"`
	RuntimeThreshold int `toml:"runtime_threshold"`
	GenericThreshold int `toml:"generic_threshold"`

	// AgentPattern matches agent-like commands (rule 1).
	AgentPattern string `toml:"agent_pattern"`
	// RuntimePattern matches high-fanout runtimes like dev-server node
	// processes (rule 2).
	RuntimePattern string `toml:"runtime_pattern"`
}

// KillConfig controls remediation.
type KillConfig struct {
	// AutoThreshold enables daemon auto-kill when > 0: any suspected leak
	// holding more PTYs than this is terminated. 0 disables auto-kill.
	AutoThreshold int `toml:"auto_threshold"`
	// LowPIDBoundary protects core system processes: PIDs below this are
	// never targeted, regardless of any threshold.
	LowPIDBoundary int `toml:"low_pid_boundary"`
	// GraceSeconds is how long to wait for a process to exit after SIGTERM
	// before escalating to SIGKILL.
	GraceSeconds int `toml:"grace_seconds"`
}

// RankConfig weights the scoring factors used to order kill candidates.
//
// The score for a candidate is the sum of:
//
//	pty_count_weight    * pty count
//	recency_weight      * 1/(1+age in hours)      (0 when age unknown)
//	rule_weight         * rule strength (3/2/1 for rules 1/2/3)
//	orphan_weight       * 1 if parent is init     (0 when unknown)
//	idle_weight         * (1 - cpu%/100)          (0 when unknown)
//	memory_weight       * resident set in MB      (0 when unknown)
//
// The defaults keep the factors in strict priority order; tune the file
// values rather than the code.
type RankConfig struct {
	PTYCountWeight float64 `toml:"pty_count_weight"`
	RecencyWeight  float64 `toml:"recency_weight"`
	RuleWeight     float64 `toml:"rule_weight"`
	OrphanWeight   float64 `toml:"orphan_weight"`
	IdleWeight     float64 `toml:"idle_weight"`
	MemoryWeight   float64 `toml:"memory_weight"`
}

// Paths are the well-known files under the runtime directory.
type Paths struct {
	CacheFile  string // latest snapshot (versioned JSON)
	PIDFile    string // daemon PID, single line
	StateFile  string // daemon state (started_at, cycle count)
	LogFile    string // daemon log
	ActionsLog string // append-only remediation audit log
	LockFile   string // daemon singleton flock
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RuntimeDir: DefaultRuntimeDir(),
		Scan: ScanConfig{
			IntervalSeconds: 30,
			TimeoutSeconds:  10,
		},
		Classify: ClassifyConfig{
			HeavyThreshold:   4,
			RuntimeThreshold: 8,
			GenericThreshold: 10,
			AgentPattern:     `(?i)(copilot|claude|agent)`,
			RuntimePattern:   `(?i)(^|/| )node( |$)`,
		},
		Kill: KillConfig{
			AutoThreshold:  0,
			LowPIDBoundary: 100,
			GraceSeconds:   2,
		},
		Rank: RankConfig{
			PTYCountWeight: 10,
			RecencyWeight:  5,
			RuleWeight:     3,
			OrphanWeight:   2,
			IdleWeight:     1.5,
			MemoryWeight:   0.001,
		},
	}
}

// DefaultRuntimeDir returns the runtime directory under the system temp dir.
// Consumers outside this tool (the dashboard, scripts) read the cache file
// from here directly.
func DefaultRuntimeDir() string {
	return filepath.Join(os.TempDir(), "ptywatch")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ptywatch", "config.toml")
}

// Load returns the defaults overlaid with the TOML file at path.
// A missing file is only an error when the path was explicitly requested;
// the default path is allowed to be absent.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scan.IntervalSeconds <= 0 {
		return fmt.Errorf("scan.interval_seconds must be positive")
	}
	if c.Scan.TimeoutSeconds <= 0 {
		return fmt.Errorf("scan.timeout_seconds must be positive")
	}
	if c.Classify.HeavyThreshold < 0 || c.Classify.RuntimeThreshold < 0 || c.Classify.GenericThreshold < 0 {
		return fmt.Errorf("classify thresholds must be non-negative")
	}
	if c.Kill.LowPIDBoundary < 1 {
		return fmt.Errorf("kill.low_pid_boundary must be at least 1")
	}
	return nil
}

// ScanInterval returns the cycle interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.IntervalSeconds) * time.Second
}

// ScanTimeout returns the lsof timeout as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutSeconds) * time.Second
}

// KillGrace returns the post-signal wait as a duration.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Kill.GraceSeconds) * time.Second
}

// Paths resolves the well-known file locations under the runtime directory.
func (c *Config) Paths() Paths {
	dir := c.RuntimeDir
	if dir == "" {
		dir = DefaultRuntimeDir()
	}
	return Paths{
		CacheFile:  filepath.Join(dir, "cache.json"),
		PIDFile:    filepath.Join(dir, "daemon.pid"),
		StateFile:  filepath.Join(dir, "state.json"),
		LogFile:    filepath.Join(dir, "daemon.log"),
		ActionsLog: filepath.Join(dir, "actions.log"),
		LockFile:   filepath.Join(dir, "daemon.lock"),
	}
}
