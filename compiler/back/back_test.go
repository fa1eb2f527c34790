package back

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/stackptx/compiler/ast"
	"github.com/slowlang/stackptx/compiler/front"
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/regs"
	"github.com/slowlang/stackptx/compiler/tp"
)

var testLimits = ir.Limits{
	ExecutionLimit:          100,
	MaxASTSize:              100,
	MaxASTToVisitStackDepth: 100,
	StackSize:               16,
	MaxFrameDepth:           4,
	StoreSize:               2,
}

type fixture struct {
	cat *ir.Catalog
	reg *regs.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	cat := ir.Default()
	b := regs.New(cat)

	require.NoError(t, b.Add("%_x0", tp.F32, "x"))
	require.NoError(t, b.Add("%_x1", tp.F32, "y"))
	require.NoError(t, b.Add("%_x2", tp.F32, "z"))

	return fixture{cat: cat, reg: b.Freeze()}
}

// prog resolves space separated names against the registry and catalog.
func (f fixture) prog(s string) []ir.Instr {
	var l []ir.Instr

	for _, tok := range strings.Fields(s) {
		if b, ok := f.reg.Named(tok); ok {
			l = append(l, b.Push())
			continue
		}

		l = append(l, f.cat.Must(tok))
	}

	return l
}

func (f fixture) tree(t *testing.T, prog string, req ...ir.Reg) *ast.Tree {
	t.Helper()

	tr, err := front.Build(context.Background(), f.reg, f.cat, f.prog(prog), req, testLimits)
	require.NoError(t, err)

	return tr
}

func TestCompile(t *testing.T) {
	f := newFixture(t)

	stub, err := Compile(context.Background(), f.tree(t, "x y add_f32", "%_x2"), testLimits)
	require.NoError(t, err)

	exp := "{\n" +
		"\t.reg .f32 %_sf<1>;\n" +
		"\tadd.f32 %_sf0, %_x0, %_x1;\n" +
		"\tmov.f32 %_x2, %_sf0;\n" +
		"}\n"

	assert.Equal(t, exp, stub.Code)
	assert.Equal(t, []ir.Reg{"%_x2"}, stub.Outputs)
	assert.Equal(t, []tp.Kind{tp.F32}, stub.Kinds)
	assert.Equal(t, 2, stub.Instructions)
}

func TestCompileSharedOnce(t *testing.T) {
	f := newFixture(t)

	stub, err := Compile(context.Background(), f.tree(t, "x dup_f32 mul_f32 dup_f32 mul_f32", "%_x2"), testLimits)
	require.NoError(t, err)

	exp := "{\n" +
		"\t.reg .f32 %_sf<1>;\n" +
		"\tmul.f32 %_sf0, %_x0, %_x0;\n" +
		"\tmul.f32 %_sf0, %_sf0, %_sf0;\n" +
		"\tmov.f32 %_x2, %_sf0;\n" +
		"}\n"

	assert.Equal(t, exp, stub.Code)
}

func TestCompileSharedAcrossRoots(t *testing.T) {
	f := newFixture(t)

	stub, err := Compile(context.Background(), f.tree(t, "x y mul_f32 dup_f32", "%_x2", "%_x0"), testLimits)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(stub.Code, "mul.f32"))
	assert.Contains(t, stub.Code, "\tmov.f32 %_x2, %_sf0;\n\tmov.f32 %_x0, %_sf0;\n")
}

func TestCompileLeaves(t *testing.T) {
	f := newFixture(t)

	stub, err := Compile(context.Background(), f.tree(t, "tid_x cvt_rn_f32_u32", "%_x2"), testLimits)
	require.NoError(t, err)

	exp := "{\n" +
		"\t.reg .u32 %_su<1>;\n" +
		"\t.reg .f32 %_sf<1>;\n" +
		"\tmov.u32 %_su0, %tid.x;\n" +
		"\tcvt.rn.f32.u32 %_sf0, %_su0;\n" +
		"\tmov.f32 %_x2, %_sf0;\n" +
		"}\n"

	assert.Equal(t, exp, stub.Code)

	prog := append(f.prog("x"), ir.F32(2), f.cat.Must("mul_f32"))

	tr, err := front.Build(context.Background(), f.reg, f.cat, prog, []ir.Reg{"%_x2"}, testLimits)
	require.NoError(t, err)

	stub, err = Compile(context.Background(), tr, testLimits)
	require.NoError(t, err)

	assert.Contains(t, stub.Code, "\tmov.f32 %_sf0, 0f40000000;\n\tmul.f32 %_sf0, %_x0, %_sf0;\n")
}

func TestCompileEffectsFirst(t *testing.T) {
	f := newFixture(t)

	stub, err := Compile(context.Background(), f.tree(t, "x membar_cta", "%_x1"), testLimits)
	require.NoError(t, err)

	assert.Equal(t, "{\n\tmembar.cta;\n\tmov.f32 %_x1, %_x0;\n}\n", stub.Code)
}

func TestCompileIdentity(t *testing.T) {
	f := newFixture(t)

	stub, err := Compile(context.Background(), f.tree(t, "x", "%_x0"), testLimits)
	require.NoError(t, err)

	assert.Equal(t, "{\n}\n", stub.Code)
	assert.Equal(t, 0, stub.Instructions)
}

func TestCompileParallelMove(t *testing.T) {
	f := newFixture(t)

	stub, err := Compile(context.Background(), f.tree(t, "x y", "%_x0", "%_x1"), testLimits)
	require.NoError(t, err)

	exp := "{\n" +
		"\t.reg .f32 %_sf<2>;\n" +
		"\tmov.f32 %_sf0, %_x1;\n" +
		"\tmov.f32 %_sf1, %_x0;\n" +
		"\tmov.f32 %_x0, %_sf0;\n" +
		"\tmov.f32 %_x1, %_sf1;\n" +
		"}\n"

	assert.Equal(t, exp, stub.Code)
}

func TestCommitReleasesTemps(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct {
		prog string
		req  []ir.Reg
		high int
	}{
		{"x y", []ir.Reg{"%_x0", "%_x1"}, 2},
		{"x y add_f32 x y", []ir.Reg{"%_x0", "%_x1", "%_x2"}, 3},
	} {
		e := newEmitter(f.tree(t, tc.prog, tc.req...), testLimits)

		require.NoError(t, e.run(context.Background()), tc.prog)

		assert.Equal(t, 0, e.alloc.live.Size(), tc.prog)
		assert.Equal(t, tc.high, e.alloc.high, tc.prog)
	}
}

func TestCompileLimits(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct {
		name  string
		prog  string
		lim   func(l *ir.Limits, ok bool)
		limit string
	}{
		{"execution", "x y add_f32", func(l *ir.Limits, ok bool) {
			l.ExecutionLimit = map[bool]int{true: 2, false: 1}[ok]
		}, ir.LimitExecution},
		{"visit_depth", "x dup_f32 mul_f32 dup_f32 mul_f32", func(l *ir.Limits, ok bool) {
			l.MaxASTToVisitStackDepth = map[bool]int{true: 3, false: 2}[ok]
		}, ir.LimitVisitDepth},
		{"stack_size", "x y add_f32 x y sub_f32 mul_f32", func(l *ir.Limits, ok bool) {
			l.StackSize = map[bool]int{true: 2, false: 1}[ok]
		}, ir.LimitStackSize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := f.tree(t, tc.prog, "%_x2")

			lim := testLimits
			tc.lim(&lim, true)

			_, err := Compile(context.Background(), tr, lim)
			require.NoError(t, err)

			lim = testLimits
			tc.lim(&lim, false)

			_, err = Compile(context.Background(), tr, lim)

			var lerr *ir.LimitError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tc.limit, lerr.Limit)

			var cerr *CompileError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestSlots(t *testing.T) {
	s := newSlots(3)

	for i := 0; i < 3; i++ {
		x, err := s.Get()
		require.NoError(t, err)
		assert.Equal(t, i, x)
	}

	_, err := s.Get()
	assert.Error(t, err)

	s.Put(2)
	s.Put(0)

	x, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, 0, x)

	assert.Equal(t, 3, s.high)
	assert.Panics(t, func() { s.Put(0); s.Put(0) })
}
