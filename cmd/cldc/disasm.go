package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/chazu/cldc/pkg/bytecode"
	"github.com/chazu/cldc/pkg/classfile"
)

var disasmCommand = &cli.Command{
	Name:      "disasm",
	Usage:     "disassemble class files",
	ArgsUsage: "file.class...",
	Action:    disasm,
}

func disasm(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("disasm: name at least one class file", 2)
	}
	for _, path := range c.Args().Slice() {
		cf, err := classfile.ParseFile(path)
		if err != nil {
			return err
		}
		printClass(c.App.Writer, cf)
	}
	return nil
}

func printClass(out io.Writer, cf *classfile.ClassFile) {
	fmt.Fprintf(out, "class %s extends %s", cf.Name(), cf.SuperClassName())
	if ifaces := cf.InterfaceNames(); len(ifaces) > 0 {
		fmt.Fprintf(out, " implements %v", ifaces)
	}
	fmt.Fprintln(out)
	for _, f := range cf.Fields {
		fmt.Fprintf(out, "  field %s %s (flags %#04x)\n", f.Name, f.Descriptor, f.AccessFlags)
	}
	for i := range cf.Methods {
		m := &cf.Methods[i]
		fmt.Fprintf(out, "\n  %s (flags %#04x)\n", m, m.AccessFlags)
		if m.Code == nil {
			continue
		}
		fmt.Fprintf(out, "    stack=%d locals=%d\n", m.Code.MaxStack, m.Code.MaxLocals)
		for _, line := range bytecode.DisassembleToLines(m.Code.Code, cf.ConstantPool) {
			fmt.Fprintf(out, "  %s\n", line)
		}
		for _, h := range m.Code.ExceptionHandlers {
			catch := "any"
			if h.CatchType != 0 {
				catch, _ = cf.ConstantPool.ClassName(h.CatchType)
			}
			fmt.Fprintf(out, "    catch %s [%d, %d) -> %d\n", catch, h.StartPC, h.EndPC, h.HandlerPC)
		}
	}
}
