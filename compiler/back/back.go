package back

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"github.com/slowlang/stackptx/compiler/ast"
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/set"
	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	// CompileError is a bound violation while emitting node Node.
	// Node is ast.Nowhere when it happened while writing outputs.
	CompileError struct {
		Node  ast.NodeID
		Instr string
		Err   error
	}

	emitter struct {
		tree *ast.Tree
		lim  ir.Limits

		uses  []int
		done  set.Bits[ast.NodeID]
		regOf []ir.Reg
		slot  []int

		alloc *slots
		decl  map[tp.Kind]int

		b []byte
		n int
	}

	visit struct {
		id ast.NodeID
		i  int
	}
)

// TempPrefix starts the names of registers the emitter declares.
const TempPrefix = "%_s"

// Compile emits ptx for t. Every node is emitted at most once
// and outputs are written after all roots are computed.
func Compile(ctx context.Context, t *ast.Tree, lim ir.Limits) (stub *ir.Stub, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile", "nodes", t.Len(), "roots", len(t.Roots), "effects", len(t.Effects))
	defer tr.Finish("err", &err)

	e := newEmitter(t, lim)

	err = e.run(ctx)
	if err != nil {
		return nil, err
	}

	stub = &ir.Stub{
		Code:         string(e.finish()),
		Outputs:      append([]ir.Reg{}, t.Outputs...),
		Kinds:        append([]tp.Kind{}, t.Kinds...),
		Instructions: e.n,
	}

	tr.Printw("compiled", "instructions", e.n, "slots", e.alloc.high)

	return stub, nil
}

func newEmitter(t *ast.Tree, lim ir.Limits) *emitter {
	e := &emitter{
		tree:  t,
		lim:   lim,
		uses:  t.Uses(t.Effects, t.Roots),
		done:  set.MakeBits[ast.NodeID](t.Len()),
		regOf: make([]ir.Reg, t.Len()),
		slot:  make([]int, t.Len()),
		alloc: newSlots(lim.StackSize),
		decl:  make(map[tp.Kind]int),
	}

	for i := range e.slot {
		e.slot[i] = -1
	}

	return e
}

func (e *emitter) run(ctx context.Context) error {
	for _, id := range e.tree.Effects {
		err := e.walk(ctx, id)
		if err != nil {
			return err
		}
	}

	for _, id := range e.tree.Roots {
		err := e.walk(ctx, id)
		if err != nil {
			return err
		}
	}

	return e.commit(ctx)
}

// walk is an iterative post-order traversal. The visit stack is the current path
// from root so its length is the depth being checked.
func (e *emitter) walk(ctx context.Context, root ast.NodeID) error {
	if e.done.IsSet(root) {
		return nil
	}

	depth := e.lim.MaxASTToVisitStackDepth

	if depth < 1 {
		return e.error(root, ir.NewLimitError(ir.LimitVisitDepth, depth))
	}

	stack := []visit{{id: root}}

	for len(stack) != 0 {
		v := &stack[len(stack)-1]
		n := e.tree.Node(v.id)

		if v.i < len(n.Args) {
			arg := n.Args[v.i]
			v.i++

			if e.done.IsSet(arg) {
				continue
			}

			if len(stack) >= depth {
				return e.error(arg, ir.NewLimitError(ir.LimitVisitDepth, depth))
			}

			stack = append(stack, visit{id: arg})

			continue
		}

		id := v.id
		stack = stack[:len(stack)-1]

		err := e.emit(ctx, id)
		if err != nil {
			return e.error(id, err)
		}

		e.done.Set(id)
	}

	return nil
}

func (e *emitter) emit(ctx context.Context, id ast.NodeID) (err error) {
	n := e.tree.Node(id)

	switch n.Tag {
	case ast.Leaf:
		switch x := n.Leaf.(type) {
		case ir.Push:
			e.regOf[id] = x.Reg

			return nil
		case ir.Special:
			return e.mov(id, n.Kind, string(x.Reg))
		case ir.Const:
			return e.mov(id, n.Kind, n.Kind.Literal(x.Bits))
		default:
			return errors.New("unsupported leaf: %T", x)
		}
	case ast.Op:
	default:
		return errors.New("bad node tag: %v", n.Tag)
	}

	ins := make([]ir.Reg, len(n.Args))

	for i, arg := range n.Args {
		ins[i] = e.regOf[arg]
	}

	for _, arg := range n.Args {
		e.release(arg)
	}

	var dst ir.Reg

	if n.Kind.Valid() {
		dst, err = e.temp(id, n.Kind)
		if err != nil {
			return err
		}
	}

	err = e.count()
	if err != nil {
		return err
	}

	e.b = hfmt.Appendf(e.b, "\t%s", n.Op.Asm)

	sep := " "

	if dst != "" {
		e.b = hfmt.Appendf(e.b, " %s", dst)
		sep = ", "
	}

	for _, r := range ins {
		e.b = hfmt.Appendf(e.b, "%s%s", sep, r)
		sep = ", "
	}

	e.b = append(e.b, ";\n"...)

	tlog.SpanFromContext(ctx).V("emit").Printw("emit", "node", id, "op", n.Op.Name, "dst", dst, "ins", ins)

	return nil
}

func (e *emitter) mov(id ast.NodeID, k tp.Kind, src string) error {
	dst, err := e.temp(id, k)
	if err != nil {
		return err
	}

	err = e.count()
	if err != nil {
		return err
	}

	e.b = hfmt.Appendf(e.b, "\tmov.%s %s, %s;\n", k.Mov(), dst, src)

	return nil
}

// commit writes roots into output registers.
// A source that is itself an output of another root is copied first.
func (e *emitter) commit(ctx context.Context) error {
	t := e.tree

	outs := make(map[ir.Reg]struct{}, len(t.Outputs))
	for _, r := range t.Outputs {
		outs[r] = struct{}{}
	}

	src := make([]ir.Reg, len(t.Roots))
	var temps []int

	for i, id := range t.Roots {
		src[i] = e.regOf[id]

		if src[i] == t.Outputs[i] {
			continue
		}

		if _, ok := outs[src[i]]; !ok {
			continue
		}

		k := t.Kinds[i]

		s, err := e.alloc.Get()
		if err != nil {
			return e.error(ast.Nowhere, err)
		}

		r := e.name(k, s)

		err = e.count()
		if err != nil {
			return e.error(ast.Nowhere, err)
		}

		e.b = hfmt.Appendf(e.b, "\tmov.%s %s, %s;\n", k.Mov(), r, src[i])
		src[i] = r
		temps = append(temps, s)
	}

	for i, id := range t.Roots {
		if src[i] != t.Outputs[i] {
			err := e.count()
			if err != nil {
				return e.error(ast.Nowhere, err)
			}

			e.b = hfmt.Appendf(e.b, "\tmov.%s %s, %s;\n", t.Kinds[i].Mov(), t.Outputs[i], src[i])
		}

		e.release(id)
	}

	for _, s := range temps {
		e.alloc.Put(s)
	}

	tlog.SpanFromContext(ctx).V("emit").Printw("outputs written", "outputs", t.Outputs, "live", e.alloc.live.Size())

	return nil
}

func (e *emitter) temp(id ast.NodeID, k tp.Kind) (ir.Reg, error) {
	s, err := e.alloc.Get()
	if err != nil {
		return "", err
	}

	e.slot[id] = s
	e.regOf[id] = e.name(k, s)

	return e.regOf[id], nil
}

func (e *emitter) name(k tp.Kind, s int) ir.Reg {
	if s >= e.decl[k] {
		e.decl[k] = s + 1
	}

	return ir.Reg(TempPrefix + k.Short() + strconv.Itoa(s))
}

func (e *emitter) release(id ast.NodeID) {
	e.uses[id]--

	if e.uses[id] != 0 || e.slot[id] < 0 {
		return
	}

	e.alloc.Put(e.slot[id])
	e.slot[id] = -1
}

func (e *emitter) count() error {
	if e.n >= e.lim.ExecutionLimit {
		return ir.NewLimitError(ir.LimitExecution, e.lim.ExecutionLimit)
	}

	e.n++

	return nil
}

func (e *emitter) finish() []byte {
	b := append([]byte{}, "{\n"...)

	for _, k := range tp.Kinds() {
		n, ok := e.decl[k]
		if !ok {
			continue
		}

		b = hfmt.Appendf(b, "\t.reg %s %s%s<%d>;\n", k.Reg(), TempPrefix, k.Short(), n)
	}

	b = append(b, e.b...)
	b = append(b, "}\n"...)

	return b
}

func (e *emitter) error(id ast.NodeID, err error) error {
	var instr string

	if id != ast.Nowhere {
		instr = e.tree.Node(id).String()
	}

	return &CompileError{Node: id, Instr: instr, Err: err}
}

func (e *CompileError) Error() string {
	if e.Node == ast.Nowhere {
		return fmt.Sprintf("compile: outputs: %v", e.Err)
	}

	return fmt.Sprintf("compile: node %d (%v): %v", e.Node, e.Instr, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
