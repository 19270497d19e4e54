package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chazu/cldc/host"
	"github.com/chazu/cldc/manifest"
	"github.com/chazu/cldc/vm"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a class's main method",
	ArgsUsage: "[MainClass] [args...]",
	Flags:     []cli.Flag{configFlag, classPathFlag, verbosityFlag, noJITFlag, noCacheFlag},
	Action:    runMain,
}

func runMain(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mainClass := cfg.ClassPath.Main
	args := c.Args().Slice()
	if len(args) > 0 {
		mainClass, args = args[0], args[1:]
	}
	if mainClass == "" {
		return fmt.Errorf("no main class: name one or set classpath.main in %s", cfg.Path(manifest.FileName))
	}
	mainClass = strings.ReplaceAll(mainClass, ".", "/")

	loop := host.NewLoop()
	machine, cleanup, err := newVM(c, cfg, loop)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := machine.Preload(ctx); err != nil {
		return err
	}

	var (
		main     *vm.Context
		startErr error
	)
	machine.OnExit(loop.Stop)
	loop.Post(func() {
		main, startErr = machine.Start(mainClass, args)
		if startErr != nil {
			loop.Stop()
		}
	})
	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	if startErr != nil {
		return startErr
	}
	if main == nil || main.State() != vm.ThreadTerminated {
		return cli.Exit("interrupted", 130)
	}
	if jit := machine.JIT(); jit != nil {
		st := jit.Stats()
		log.Infof("jit: %d compiled, %d bailouts, %d cache hits in %s",
			st.Compiled, st.Bailouts, st.CacheHits, st.CompilationTime)
	}
	if fe := main.Fatal(); fe != nil {
		return cli.Exit(fe.Error(), 70)
	}
	if main.Result().Status == vm.Threw {
		return cli.Exit("", 1)
	}
	return nil
}
