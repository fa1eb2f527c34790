package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/ext/tlflag"

	"github.com/slowlang/stackptx/compiler"
	"github.com/slowlang/stackptx/compiler/inject"
	"github.com/slowlang/stackptx/compiler/toolchain"
)

func main() {
	programFlag := cli.NewFlag("program,p", "", "stack program file (yaml)")
	outputFlag := cli.NewFlag("output,o", "", "output file, stdout if empty")
	skipFlag := cli.NewFlag("skip", "", "comma separated markers to leave as is")

	parseCmd := &cli.Command{
		Name:        "parse",
		Description: "list injection markers of ptx files",
		Action:      parseAct,
		Args:        cli.Args{},
	}

	annotateCmd := &cli.Command{
		Name:        "annotate",
		Description: "rewrite PTX_INJECT macros of a cuda file into inline asm",
		Action:      annotateAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			outputFlag,
		},
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile stack programs against the markers of a ptx file and print stubs",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			programFlag,
		},
	}

	renderCmd := &cli.Command{
		Name:        "render",
		Description: "compile stack programs and splice them into a ptx file",
		Action:      renderAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			programFlag,
			outputFlag,
			skipFlag,
		},
	}

	buildCmd := &cli.Command{
		Name:        "build",
		Description: "annotate, compile with nvcc, render and assemble a cuda file into a cubin",
		Action:      buildAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			programFlag,
			outputFlag,
			skipFlag,
			cli.NewFlag("nvcc", "nvcc", "nvcc binary"),
			cli.NewFlag("ptxas", "ptxas", "ptxas binary"),
			cli.NewFlag("arch", "sm_80", "target architecture"),
			cli.NewFlag("include,I", "", "comma separated include dirs"),
		},
	}

	app := &cli.Command{
		Name:        "stackptx",
		Description: "stackptx compiles stack programs into annotated ptx",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("log", "stderr?console=dm", "log output file (or stderr)"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			parseCmd,
			annotateCmd,
			compileCmd,
			renderCmd,
			buildCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	w, err := tlflag.OpenWriter(c.String("log"))
	if err != nil {
		return errors.Wrap(err, "open log file")
	}

	tlog.DefaultLogger = tlog.New(w)

	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func parseAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		doc, err := readPTX(ctx, a)
		if err != nil {
			return err
		}

		for _, name := range doc.Names() {
			l, _ := doc.Get(name)

			fmt.Printf("%s: marker %s (%d occurrences)\n", a, name, len(l))

			for _, x := range l {
				fmt.Printf("  #%d line %d\n", x.Index, x.Line)

				for _, arg := range x.Args {
					fmt.Printf("    %-4v %-4v %-8s %-6v %v\n", arg.Mut, arg.Kind, arg.Name, arg.Reg, arg.Target)
				}
			}
		}
	}

	return nil
}

func annotateAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	src, err := readArg(c)
	if err != nil {
		return err
	}

	res, n, err := inject.ProcessCUDA(ctx, string(src))
	if err != nil {
		return errors.Wrap(err, "process cuda")
	}

	tlog.Printw("annotated", "sites", n)

	return writeOutput(c.String("output"), []byte(res))
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	f, err := compiler.LoadProgramFile(c.String("program"))
	if err != nil {
		return errors.Wrap(err, "load program")
	}

	for _, a := range c.Args {
		doc, err := readPTX(ctx, a)
		if err != nil {
			return err
		}

		stubs, err := f.Compile(ctx, doc)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		for _, name := range doc.Names() {
			s, ok := stubs[name]
			if !ok {
				continue
			}

			fmt.Printf("// %s: %s (%d instructions, outputs %v)\n%s", a, name, s.Instructions, s.Outputs, s.Code)
		}
	}

	return nil
}

func renderAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	f, err := compiler.LoadProgramFile(c.String("program"))
	if err != nil {
		return errors.Wrap(err, "load program")
	}

	if len(c.Args) != 1 {
		return errors.New("exactly one ptx file expected")
	}

	doc, err := readPTX(ctx, c.Args[0])
	if err != nil {
		return err
	}

	res, err := compiler.Inject(ctx, doc, f, splitList(c.String("skip"))...)
	if err != nil {
		return errors.Wrap(err, "inject")
	}

	return writeOutput(c.String("output"), []byte(res))
}

func buildAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	f, err := compiler.LoadProgramFile(c.String("program"))
	if err != nil {
		return errors.Wrap(err, "load program")
	}

	src, err := readArg(c)
	if err != nil {
		return err
	}

	tc := toolchain.NVCC{
		NVCC:    c.String("nvcc"),
		PTXAS:   c.String("ptxas"),
		Arch:    c.String("arch"),
		Include: splitList(c.String("include")),
	}

	mod, err := build(ctx, tc, f, string(src), splitList(c.String("skip")))
	if err != nil {
		return err
	}

	return writeOutput(c.String("output"), mod)
}

func build(ctx context.Context, tc toolchain.Compiler, f *compiler.ProgramFile, src string, skip []string) ([]byte, error) {
	annotated, _, err := inject.ProcessCUDA(ctx, src)
	if err != nil {
		return nil, errors.Wrap(err, "process cuda")
	}

	ptx, err := tc.CUDAToPTX(ctx, annotated)
	if err != nil {
		return nil, errors.Wrap(err, "cuda to ptx")
	}

	doc, err := inject.Parse(ctx, ptx)
	if err != nil {
		return nil, errors.Wrap(err, "parse ptx")
	}

	res, err := compiler.Inject(ctx, doc, f, skip...)
	if err != nil {
		return nil, errors.Wrap(err, "inject")
	}

	mod, err := tc.PTXToModule(ctx, res)
	if err != nil {
		return nil, errors.Wrap(err, "ptx to module")
	}

	return mod, nil
}

func readPTX(ctx context.Context, name string) (*inject.PTXInject, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	doc, err := inject.Parse(ctx, string(text))
	if err != nil {
		return nil, errors.Wrap(err, "parse %v", name)
	}

	return doc, nil
}

func readArg(c *cli.Command) ([]byte, error) {
	if len(c.Args) != 1 {
		return nil, errors.New("exactly one input file expected")
	}

	data, err := os.ReadFile(c.Args[0])
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return data, nil
}

func writeOutput(name string, data []byte) error {
	if name == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	err := os.WriteFile(name, data, 0o644)
	if err != nil {
		return errors.Wrap(err, "write output")
	}

	return nil
}

func splitList(s string) []string {
	var l []string

	for _, x := range strings.Split(s, ",") {
		if x = strings.TrimSpace(x); x != "" {
			l = append(l, x)
		}
	}

	return l
}
