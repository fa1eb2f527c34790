package compiler

import (
	"context"

	"github.com/slowlang/stackptx/compiler/back"
	"github.com/slowlang/stackptx/compiler/format"
	"github.com/slowlang/stackptx/compiler/front"
	"github.com/slowlang/stackptx/compiler/inject"
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/regs"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// Compile builds prog against a frozen registry and emits a stub.
// requests[i] is written with the i-th value from the stack top.
func Compile(ctx context.Context, reg *regs.Registry, cat *ir.Catalog, prog []ir.Instr, requests []ir.Reg, lim ir.Limits) (stub *ir.Stub, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "instrs", len(prog), "requests", requests, "limits", lim)
	defer tr.Finish("err", &err)

	if tr.If("dump_program") {
		tr.Printw("program", "text", string(format.Program(nil, prog)))
	}

	err = lim.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "limits")
	}

	err = reg.Check()
	if err != nil {
		return nil, err
	}

	if cat == nil {
		return nil, errors.New("no catalog")
	}

	t, err := front.Build(ctx, reg, cat, prog, requests, lim)
	if err != nil {
		return nil, errors.Wrap(err, "build")
	}

	if tr.If("dump_tree") {
		tr.Printw("tree", "text", string(format.Tree(nil, t)))
	}

	stub, err = back.Compile(ctx, t, lim)
	if err != nil {
		return nil, errors.Wrap(err, "emit")
	}

	return stub, nil
}

// Inject compiles every stub of the program file against doc and renders it.
func Inject(ctx context.Context, doc *inject.PTXInject, f *ProgramFile, skip ...string) (_ string, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "inject", "stubs", len(f.Stubs), "markers", doc.Names())
	defer tr.Finish("err", &err)

	stubs, err := f.Compile(ctx, doc)
	if err != nil {
		return "", err
	}

	return doc.Render(ctx, stubs, skip...)
}
