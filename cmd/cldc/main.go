// Command cldc runs and inspects CLDC class files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli/v2"

	"github.com/chazu/cldc/cache"
	"github.com/chazu/cldc/host"
	"github.com/chazu/cldc/manifest"
	"github.com/chazu/cldc/vm"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "directory holding " + manifest.FileName + " (default: search upward from the working directory)",
	}
	classPathFlag = &cli.StringSliceFlag{
		Name:    "cp",
		Aliases: []string{"classpath"},
		Usage:   "class directory or jar, searched before the configured class path",
	}
	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Aliases: []string{"v"},
		Usage:   "log verbosity (0 quiet, 1 info, 2 debug)",
		Value:   -1,
	}
	noJITFlag = &cli.BoolFlag{
		Name:  "nojit",
		Usage: "interpret every method",
	}
	noCacheFlag = &cli.BoolFlag{
		Name:  "nocache",
		Usage: "do not read or write the compile cache",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "cldc",
		Usage: "a cooperative CLDC virtual machine",
		Flags: []cli.Flag{configFlag, classPathFlag, verbosityFlag},
		Commands: []*cli.Command{
			runCommand,
			analyzeCommand,
			disasmCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads cldc.toml from --config, or the nearest one above the
// working directory, and configures logging from it.
func loadConfig(c *cli.Context) (*manifest.Config, error) {
	var (
		cfg *manifest.Config
		err error
	)
	if dir := c.String(configFlag.Name); dir != "" {
		cfg, err = manifest.Load(dir)
	} else {
		cfg, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		wd, err := filepath.Abs(".")
		if err != nil {
			return nil, err
		}
		cfg = manifest.Default(wd)
	}

	verbosity := cfg.Log.Verbosity
	if v := c.Int(verbosityFlag.Name); v >= 0 {
		verbosity = v
	}
	var logFile *string
	if path := cfg.LogFile(); path != "" {
		logFile = &path
	}
	commonlog.Configure(verbosity, logFile)
	return cfg, nil
}

// newVM builds a VM from cfg. Class path entries given with --cp come
// first. The returned cleanup closes the VM and the compile cache.
func newVM(c *cli.Context, cfg *manifest.Config, h host.Host) (*vm.VM, func(), error) {
	entries, err := cfg.ResolveClassPath(c.StringSlice(classPathFlag.Name)...)
	if err != nil {
		return nil, nil, err
	}
	opts := cfg.VMOptions(manifest.Paths(entries))
	if c.Bool(noJITFlag.Name) {
		opts.JIT = false
	}

	var store cache.Store
	if opts.JIT && !c.Bool(noCacheFlag.Name) {
		if path := cfg.CachePath(); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating cache directory: %w", err)
			}
			if store, err = cache.Open(path, cfg.Cache.MemoryEntries); err != nil {
				return nil, nil, err
			}
			opts.Cache = store
		}
	}
	if opts.DumpDir != "" {
		if err := os.MkdirAll(opts.DumpDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating dump directory: %w", err)
		}
	}

	machine, err := vm.New(h, opts)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	cleanup := func() {
		machine.Close()
		if store != nil {
			if err := store.Close(); err != nil {
				log.Warningf("closing compile cache: %s", err)
			}
		}
	}
	return machine, cleanup, nil
}

var log = commonlog.GetLogger("cldc")
