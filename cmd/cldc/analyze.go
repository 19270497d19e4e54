package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chazu/cldc/compiler"
	"github.com/chazu/cldc/host"
	"github.com/chazu/cldc/vm"
)

var analyzeCommand = &cli.Command{
	Name:      "analyze",
	Usage:     "print the block map and yield reason of every method of a class",
	ArgsUsage: "Class...",
	Flags:     []cli.Flag{configFlag, classPathFlag, verbosityFlag},
	Action:    analyze,
}

func analyze(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("analyze: name at least one class", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// Nothing runs, so the host is never driven.
	machine, cleanup, err := newVM(c, cfg, host.NewManual(time.Now()))
	if err != nil {
		return err
	}
	defer cleanup()

	out := c.App.Writer
	for _, name := range c.Args().Slice() {
		class, err := machine.LoadClass(strings.ReplaceAll(name, ".", "/"))
		if err != nil {
			return err
		}
		analyzeClass(out, machine, class)
	}
	return nil
}

func analyzeClass(out io.Writer, machine *vm.VM, class *vm.Class) {
	fmt.Fprintf(out, "class %s\n", class.Name)
	for _, m := range class.Methods {
		reason := machine.Classifier().Classify(m)
		fmt.Fprintf(out, "\n  %s%s  yield=%s\n", m.Name, m.Desc, reason)
		if m.Code == nil {
			continue
		}
		bm, err := compiler.BuildBlockMap(m.Code, m.Handlers)
		if err != nil {
			fmt.Fprintf(out, "    %s\n", err)
			continue
		}
		fmt.Fprintf(out, "    %d blocks, %d loops, trap sites %v\n", len(bm.Order), bm.LoopCount, bm.TrapSites())
		for _, line := range strings.Split(strings.TrimRight(bm.String(), "\n"), "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
}
