package front

import (
	"context"
	"fmt"

	"github.com/slowlang/stackptx/compiler/ast"
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/regs"
	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	// BuildError is a structural error at program position Pos.
	// Routine is the innermost routine being expanded, if any.
	BuildError struct {
		Pos     int
		Instr   string
		Routine string
		Err     error
	}

	builder struct {
		reg *regs.Registry
		cat *ir.Catalog
		lim ir.Limits

		tree  *ast.Tree
		stack []ast.NodeID
		store []ast.NodeID

		// used is the max_ast_size budget spent: nodes plus expanded routine steps.
		used int
	}

	frame struct {
		name string
		body []ir.Instr
		pc   int
	}
)

var (
	ErrUnderflow      = errors.New("stack underflow")
	ErrType           = errors.New("type mismatch")
	ErrUnbound        = errors.New("register is not in the registry")
	ErrEmptySlot      = errors.New("store slot is empty")
	ErrUnknownRoutine = errors.New("unknown routine")
	ErrUnresolved     = errors.New("request can't be resolved")
	ErrBadInstr       = errors.New("bad instruction")
	ErrWriteOnly      = errors.New("register is write only")
)

// Build turns the flat program into an expression graph.
// requests[i] receives the i-th value counting from the stack top.
// Every created node and every instruction run inside a routine
// is charged against lim.MaxASTSize.
func Build(ctx context.Context, reg *regs.Registry, cat *ir.Catalog, prog []ir.Instr, requests []ir.Reg, lim ir.Limits) (t *ast.Tree, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: build", "instrs", len(prog), "requests", len(requests))
	defer func() {
		nodes := 0
		if t != nil {
			nodes = t.Len()
		}

		tr.Finish("nodes", nodes, "err", &err)
	}()

	if err = reg.Check(); err != nil {
		return nil, err
	}

	b := &builder{
		reg:   reg,
		cat:   cat,
		lim:   lim,
		tree:  &ast.Tree{},
		store: make([]ast.NodeID, lim.StoreSize),
	}

	for i := range b.store {
		b.store[i] = ast.Nowhere
	}

	frames := []frame{{body: prog}}
	pos := 0

	for len(frames) != 0 {
		f := &frames[len(frames)-1]

		if f.pc == len(f.body) {
			frames = frames[:len(frames)-1]
			continue
		}

		x := f.body[f.pc]
		f.pc++

		routine := f.name

		if routine != "" {
			err = b.charge()
			if err != nil {
				return nil, newError(pos, x, routine, err)
			}
		}

		tr.V("build_step").Printw("step", "pos", pos, "instr", x.String(), "depth", len(b.stack), "frames", len(frames))

		if c, ok := x.(ir.Call); ok {
			body, ok := b.cat.Routine(c.Name)
			if !ok {
				return nil, newError(pos, x, routine, ErrUnknownRoutine)
			}

			if len(frames) > lim.MaxFrameDepth {
				return nil, newError(pos, x, routine, ir.NewLimitError(ir.LimitFrameDepth, lim.MaxFrameDepth))
			}

			frames = append(frames, frame{name: c.Name, body: body})
			pos++

			continue
		}

		err = b.step(pos, x)
		if err != nil {
			return nil, newError(pos, x, routine, err)
		}

		pos++
	}

	err = b.resolve(requests)
	if err != nil {
		return nil, err
	}

	if tr.If("dump_tree") {
		for id, n := range b.tree.Nodes {
			tr.Printw("node", "id", id, "node", n.String(), "kind", n.Kind.String(), "args", n.Args, "pos", n.Pos)
		}
	}

	return b.tree, nil
}

func (b *builder) step(pos int, x ir.Instr) error {
	switch x := x.(type) {
	case ir.Push:
		bind, ok := b.reg.Lookup(x.Reg)
		if !ok {
			return errors.Wrap(ErrUnbound, "%v", x.Reg)
		}

		if bind.WriteOnly {
			return errors.Wrap(ErrWriteOnly, "%v", x.Reg)
		}

		if x.Kind.Valid() && x.Kind != bind.Kind {
			return errors.Wrap(ErrType, "%v is bound as %v, pushed as %v", x.Reg, bind.Kind, x.Kind)
		}

		return b.leaf(bind.Push(), bind.Kind, pos)
	case ir.Special:
		if !x.Kind.Valid() {
			return errors.Wrap(ErrBadInstr, "special register %v has no kind", x.Name)
		}

		return b.leaf(x, x.Kind, pos)
	case ir.Const:
		if !x.Kind.Valid() || x.Kind == tp.Pred {
			return errors.Wrap(ErrBadInstr, "no literals of kind %v", x.Kind)
		}

		return b.leaf(x, x.Kind, pos)
	case ir.Apply:
		return b.apply(x.Op, pos)
	case ir.Meta:
		return b.meta(x)
	default:
		return errors.Wrap(ErrBadInstr, "%T", x)
	}
}

func (b *builder) apply(op *ir.Op, pos int) error {
	if op == nil {
		return errors.Wrap(ErrBadInstr, "nil op")
	}

	n := len(op.In)

	if len(b.stack) < n {
		return errors.Wrap(ErrUnderflow, "need %d, have %d", n, len(b.stack))
	}

	base := len(b.stack) - n

	for j, want := range op.In {
		got := b.tree.Nodes[b.stack[base+j]].Kind

		if got != want {
			return errors.Wrap(ErrType, "operand %d: want %v, got %v", j, want, got)
		}
	}

	args := append([]ast.NodeID{}, b.stack[base:]...)
	b.stack = b.stack[:base]

	k := tp.Invalid
	if len(op.Out) != 0 {
		k = op.Out[0]
	}

	id, err := b.alloc(func(a *ast.Arena) ast.NodeID {
		return a.AddOp(op, k, args, pos)
	})
	if err != nil {
		return err
	}

	if len(op.Out) == 0 {
		b.tree.Effects = append(b.tree.Effects, id)

		return nil
	}

	return b.push(id)
}

func (b *builder) meta(x ir.Meta) error {
	n := x.Op.Arity()

	if len(b.stack) < n {
		return errors.Wrap(ErrUnderflow, "need %d, have %d", n, len(b.stack))
	}

	if x.Kind.Valid() {
		for _, id := range b.stack[len(b.stack)-n:] {
			if got := b.tree.Nodes[id].Kind; got != x.Kind {
				return errors.Wrap(ErrType, "want %v, got %v", x.Kind, got)
			}
		}
	}

	top := len(b.stack) - 1

	switch x.Op {
	case ir.Dup:
		return b.push(b.stack[top])
	case ir.Drop:
		b.stack = b.stack[:top]
	case ir.Swap:
		b.stack[top], b.stack[top-1] = b.stack[top-1], b.stack[top]
	case ir.Store:
		if x.Slot < 0 || x.Slot >= len(b.store) {
			return errors.Wrap(ir.NewLimitError(ir.LimitStoreSize, b.lim.StoreSize), "slot %d", x.Slot)
		}

		b.store[x.Slot] = b.stack[top]
		b.stack = b.stack[:top]
	case ir.Load:
		if x.Slot < 0 || x.Slot >= len(b.store) {
			return errors.Wrap(ir.NewLimitError(ir.LimitStoreSize, b.lim.StoreSize), "slot %d", x.Slot)
		}

		id := b.store[x.Slot]
		if id == ast.Nowhere {
			return errors.Wrap(ErrEmptySlot, "slot %d", x.Slot)
		}

		return b.push(id)
	default:
		return errors.Wrap(ErrBadInstr, "meta op %v", x.Op)
	}

	return nil
}

func (b *builder) leaf(x ir.Instr, k tp.Kind, pos int) error {
	id, err := b.alloc(func(a *ast.Arena) ast.NodeID {
		return a.AddLeaf(x, k, pos)
	})
	if err != nil {
		return err
	}

	return b.push(id)
}

func (b *builder) alloc(f func(a *ast.Arena) ast.NodeID) (ast.NodeID, error) {
	err := b.charge()
	if err != nil {
		return ast.Nowhere, err
	}

	return f(&b.tree.Arena), nil
}

func (b *builder) charge() error {
	if b.used >= b.lim.MaxASTSize {
		return ir.NewLimitError(ir.LimitASTSize, b.lim.MaxASTSize)
	}

	b.used++

	return nil
}

func (b *builder) push(id ast.NodeID) error {
	if len(b.stack) >= b.lim.StackSize {
		return ir.NewLimitError(ir.LimitStackSize, b.lim.StackSize)
	}

	b.stack = append(b.stack, id)

	return nil
}

func (b *builder) resolve(requests []ir.Reg) error {
	seen := make(map[ir.Reg]struct{}, len(requests))

	for i, r := range requests {
		fail := func(err error) error {
			return &BuildError{Pos: i, Instr: "request " + string(r), Err: err}
		}

		bind, ok := b.reg.Lookup(r)
		if !ok {
			return fail(ErrUnbound)
		}

		if _, ok := seen[r]; ok {
			return fail(errors.Wrap(ErrUnresolved, "requested twice"))
		}

		seen[r] = struct{}{}

		j := len(b.stack) - 1 - i
		if j < 0 {
			return fail(errors.Wrap(ErrUnresolved, "stack has %d values", len(b.stack)))
		}

		id := b.stack[j]

		if got := b.tree.Nodes[id].Kind; got != bind.Kind {
			return fail(errors.Wrap(ErrType, "%v is %v, value is %v", r, bind.Kind, got))
		}

		b.tree.Roots = append(b.tree.Roots, id)
		b.tree.Outputs = append(b.tree.Outputs, r)
		b.tree.Kinds = append(b.tree.Kinds, bind.Kind)
	}

	return nil
}

func newError(pos int, x ir.Instr, routine string, err error) *BuildError {
	return &BuildError{Pos: pos, Instr: x.String(), Routine: routine, Err: err}
}

func (e *BuildError) Error() string {
	if e.Routine != "" {
		return fmt.Sprintf("build: %v (in %v) at %d: %v", e.Instr, e.Routine, e.Pos, e.Err)
	}

	return fmt.Sprintf("build: %v at %d: %v", e.Instr, e.Pos, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
