// Package manifest handles cldc.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/cldc/vm"
)

// FileName is the configuration file Load and FindAndLoad look for.
const FileName = "cldc.toml"

// Config represents a cldc.toml file.
type Config struct {
	Project     Project     `toml:"project"`
	ClassPath   ClassPath   `toml:"classpath"`
	Scheduler   Scheduler   `toml:"scheduler"`
	JIT         JIT         `toml:"jit"`
	Yield       Yield       `toml:"yield"`
	Cache       Cache       `toml:"cache"`
	Log         Log         `toml:"log"`
	Diagnostics Diagnostics `toml:"diagnostics"`

	// Dir is the directory containing the cldc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// ClassPath lists where classes come from and which one has main.
type ClassPath struct {
	Dirs []string `toml:"dirs"`
	Jars []string `toml:"jars"`
	Main string   `toml:"main"`
}

// Scheduler configures the thread scheduler.
type Scheduler struct {
	WindowMS   int  `toml:"window_ms"`
	MinSliceUS int  `toml:"min_slice_us"`
	Strict     bool `toml:"strict"`
}

// JIT configures the baseline compiler.
type JIT struct {
	Enabled           *bool  `toml:"enabled"`
	MethodThreshold   uint64 `toml:"method_threshold"`
	BackedgeThreshold uint64 `toml:"backedge_threshold"`
}

// Yield extends the yield classifier's tables.
type Yield struct {
	Roots         []string `toml:"roots"`
	NonSuspending []string `toml:"non_suspending"`
}

// Cache configures the compile cache.
type Cache struct {
	Path          string `toml:"path"`
	MemoryEntries int    `toml:"memory_entries"`
	Disabled      bool   `toml:"disabled"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Diagnostics configures crash dumps.
type Diagnostics struct {
	DumpDir string `toml:"dump_dir"`
}

// Default returns the configuration used when no cldc.toml exists.
func Default(dir string) *Config {
	c := &Config{Dir: dir}
	c.applyDefaults()
	return c
}

// Load parses a cldc.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if len(c.ClassPath.Dirs) == 0 && len(c.ClassPath.Jars) == 0 {
		c.ClassPath.Dirs = []string{"classes"}
	}
	if c.Scheduler.WindowMS == 0 {
		c.Scheduler.WindowMS = 20
	}
	if c.Scheduler.MinSliceUS == 0 {
		c.Scheduler.MinSliceUS = 1000
	}
	if c.JIT.Enabled == nil {
		on := true
		c.JIT.Enabled = &on
	}
	if c.JIT.MethodThreshold == 0 {
		c.JIT.MethodThreshold = 100
	}
	if c.JIT.BackedgeThreshold == 0 {
		c.JIT.BackedgeThreshold = 1000
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(".cldc", "cache.db")
	}
	if c.Cache.MemoryEntries == 0 {
		c.Cache.MemoryEntries = 512
	}
	if c.Log.Verbosity == 0 {
		c.Log.Verbosity = 1
	}
}

func (c *Config) validate() error {
	switch {
	case c.Scheduler.WindowMS < 0:
		return fmt.Errorf("scheduler.window_ms must be positive, got %d", c.Scheduler.WindowMS)
	case c.Scheduler.MinSliceUS < 0:
		return fmt.Errorf("scheduler.min_slice_us must be positive, got %d", c.Scheduler.MinSliceUS)
	case c.Cache.MemoryEntries < 0:
		return fmt.Errorf("cache.memory_entries must be positive, got %d", c.Cache.MemoryEntries)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a cldc.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Path resolves p relative to the configuration directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// CachePath returns the absolute compile-cache path, or "" when the cache
// is disabled.
func (c *Config) CachePath() string {
	if c.Cache.Disabled {
		return ""
	}
	return c.Path(c.Cache.Path)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (c *Config) LogFile() string {
	return c.Path(c.Log.File)
}

// VMOptions converts the configuration into VM options. The class path
// must already be resolved; see ResolveClassPath.
func (c *Config) VMOptions(classPath []string) vm.Options {
	opts := vm.DefaultOptions()
	opts.ClassPath = classPath
	opts.Window = time.Duration(c.Scheduler.WindowMS) * time.Millisecond
	opts.MinSlice = time.Duration(c.Scheduler.MinSliceUS) * time.Microsecond
	opts.Strict = c.Scheduler.Strict
	opts.JIT = *c.JIT.Enabled
	opts.MethodThreshold = c.JIT.MethodThreshold
	opts.BackedgeThreshold = c.JIT.BackedgeThreshold
	opts.YieldRoots = append(opts.YieldRoots, c.Yield.Roots...)
	opts.NonSuspending = append(opts.NonSuspending, c.Yield.NonSuspending...)
	opts.DumpDir = c.Path(c.Diagnostics.DumpDir)
	return opts
}
