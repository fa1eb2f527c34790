package compiler

import (
	"context"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/stackptx/compiler/front"
	"github.com/slowlang/stackptx/compiler/inject"
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/regs"
	"github.com/slowlang/stackptx/compiler/tp"
)

const markers = `	// PTX_INJECT_START func
	// _x0 in f32 F32 x %f1
	// _x1 mod f32 F32 y %f2
	// _x2 out f32 F32 z %f3
	// PTX_INJECT_END
	// PTX_INJECT_START func
	// _x0 in f32 F32 x %f4
	// _x1 mod f32 F32 y %f5
	// _x2 out f32 F32 z %f6
	// PTX_INJECT_END
`

const limits = `
limits:
  execution_limit: 100
  max_ast_size: 100
  max_ast_to_visit_stack_depth: 100
  stack_size: 16
  max_frame_depth: 4
  store_size: 4
`

var testLimits = ir.Limits{
	ExecutionLimit:          100,
	MaxASTSize:              100,
	MaxASTToVisitStackDepth: 100,
	StackSize:               16,
	MaxFrameDepth:           4,
	StoreSize:               4,
}

func TestInjectKeepsUnrequested(t *testing.T) {
	env := render(t, limits+`
stubs:
  func:
    instructions: [x, y, add_f32, x, add_f32, y]
    requests: [y, z]
`, map[string]float32{"%f1": 5, "%f2": 3, "%f4": 5, "%f5": 3})

	assert.Equal(t, float32(13), env["%f3"])
	assert.Equal(t, float32(3), env["%f2"])

	assert.Equal(t, float32(13), env["%f6"])
	assert.Equal(t, float32(3), env["%f5"])
}

func TestInjectSharedValue(t *testing.T) {
	env := render(t, limits+`
stubs:
  func:
    instructions: [x, y, add_f32, dup_f32, x, add_f32]
    requests: [z, y]
`, map[string]float32{"%f1": 5, "%f2": 3, "%f4": 1, "%f5": 2})

	assert.Equal(t, float32(13), env["%f3"])
	assert.Equal(t, float32(8), env["%f2"])

	assert.Equal(t, float32(4), env["%f6"])
	assert.Equal(t, float32(3), env["%f5"])
}

func TestInjectRoutinesAndBindings(t *testing.T) {
	env := render(t, limits+`
routines:
  sq: [dup_f32, mul_f32]
  quad: [sq, sq]
stubs:
  func:
    bindings:
      - {arg: x, name: a}
      - {arg: y}
      - {arg: z, name: out}
    instructions: [a, quad, "f32:0.5", mul_f32, y, swap, "store:0", "load:0", "load:0", add_f32]
    requests: [out, y]
`, map[string]float32{"%f1": 2, "%f2": 3, "%f4": 1, "%f5": 7})

	assert.Equal(t, float32(16), env["%f3"])
	assert.Equal(t, float32(3), env["%f2"])

	assert.Equal(t, float32(1), env["%f6"])
	assert.Equal(t, float32(7), env["%f5"])
}

func TestInjectErrors(t *testing.T) {
	ctx := context.Background()

	doc, err := inject.Parse(ctx, markers)
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		prog string
		err  error
	}{
		{"not_assigned", `
stubs:
  func:
    instructions: [x]
    requests: [y]
`, inject.ErrOutputMismatch},
		{"in_targeted", `
stubs:
  func:
    instructions: [y, y, x]
    requests: [x, y, z]
`, inject.ErrInTargeted},
		{"stub_limits", `
stubs:
  func:
    limits: {execution_limit: 1, max_ast_size: 100, max_ast_to_visit_stack_depth: 100, stack_size: 16, max_frame_depth: 4, store_size: 4}
    instructions: [x, y, add_f32, y]
    requests: [y, z]
`, &ir.LimitError{}},
		{"read_out_arg", `
stubs:
  func:
    instructions: [z, y]
    requests: [y, z]
`, front.ErrWriteOnly},
		{"unknown_marker", `
stubs:
  other:
    instructions: [x]
    requests: [x]
`, inject.ErrNoMarker},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, err := LoadProgram([]byte(limits + tc.prog))
			require.NoError(t, err)

			_, err = Inject(ctx, doc, f)

			if lerr, ok := tc.err.(*ir.LimitError); ok {
				require.ErrorAs(t, err, &lerr)
				assert.Equal(t, ir.LimitExecution, lerr.Limit)

				return
			}

			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLoadProgramErrors(t *testing.T) {
	_, err := LoadProgram([]byte(limits))
	assert.Error(t, err)

	_, err = LoadProgram([]byte(limits + "stubz: {}\n"))
	assert.Error(t, err)

	_, err = LoadProgram([]byte("limits: [1]\nstubs: {f: {}}\n"))
	assert.Error(t, err)

	ctx := context.Background()

	doc, err := inject.Parse(ctx, markers)
	require.NoError(t, err)

	for _, prog := range []string{
		"stubs: {func: {instructions: [w], requests: [z]}}\n",
		"stubs: {func: {instructions: [x], requests: [w]}}\n",
		"stubs: {func: {bindings: [{arg: w}], instructions: [x], requests: [z]}}\n",
		"stubs: {func: {bindings: [{arg: x, name: add_f32}], instructions: [x], requests: [z]}}\n",
		"routines: {add_f32: [x]}\nstubs: {func: {instructions: [x], requests: [z]}}\n",
		"routines: {r: [x]}\nstubs: {func: {instructions: [r], requests: [z]}}\n",
		"specials: [{name: smid, reg: '%smid', kind: F16}]\nstubs: {func: {instructions: [x], requests: [z]}}\n",
	} {
		f, err := LoadProgram([]byte(limits + prog))
		require.NoError(t, err, prog)

		_, err = f.Compile(ctx, doc)
		assert.Error(t, err, prog)
	}
}

func TestCompile(t *testing.T) {
	ctx := context.Background()
	cat := ir.Default()

	b := regs.New(cat)
	require.NoError(t, b.Add("%_x0", tp.F32, "x"))
	require.NoError(t, b.Add("%_x1", tp.F32, "y"))

	reg := b.Freeze()

	prog := []ir.Instr{reg.MustPush("x"), reg.MustPush("x"), cat.Must("add_f32")}

	stub, err := Compile(ctx, reg, cat, prog, []ir.Reg{"%_x1"}, testLimits)
	require.NoError(t, err)
	assert.Equal(t, []ir.Reg{"%_x1"}, stub.Outputs)
	assert.Equal(t, 2, stub.Instructions)

	_, err = Compile(ctx, &regs.Registry{}, cat, prog, []ir.Reg{"%_x1"}, testLimits)
	assert.ErrorIs(t, err, regs.ErrNotFrozen)

	_, err = Compile(ctx, reg, nil, prog, []ir.Reg{"%_x1"}, testLimits)
	assert.Error(t, err)

	_, err = Compile(ctx, reg, cat, prog, []ir.Reg{"%_x1"}, ir.Limits{})
	assert.Error(t, err)

	lim := testLimits
	lim.MaxASTSize = 1

	_, err = Compile(ctx, reg, cat, prog, []ir.Reg{"%_x1"}, lim)

	var lerr *ir.LimitError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, ir.LimitASTSize, lerr.Limit)
}

func TestParseInstr(t *testing.T) {
	cat := ir.Default()

	b := regs.New(cat)
	require.NoError(t, b.Add("%_x0", tp.F32, "x"))

	reg := b.Freeze()

	for _, tc := range []struct {
		tok string
		exp ir.Instr
	}{
		{"x", ir.Push{Reg: "%_x0", Kind: tp.F32, Name: "x"}},
		{"store:3", ir.StoreTo(3)},
		{"load:0", ir.LoadFrom(0)},
		{"f32:1", ir.F32(1)},
		{"s32:-7", ir.S32(-7)},
		{"u64:0x10", ir.U64(16)},
		{"tid_x", ir.Special{Name: "tid_x", Reg: "%tid.x", Kind: tp.U32}},
		{"dup", ir.Meta{Op: ir.Dup}},
	} {
		x, err := ParseInstr(tc.tok, reg, cat)
		if assert.NoError(t, err, tc.tok) {
			assert.Equal(t, tc.exp, x, tc.tok)
		}
	}

	for _, tok := range []string{"store:x", "f16:1", "s32:abc", "nope", "pred:1"} {
		_, err := ParseInstr(tok, reg, cat)
		assert.Error(t, err, tok)
	}

	_, err := ParseInstr("x", nil, cat)
	assert.Error(t, err)
}

// render compiles the program against markers, substitutes stubs
// and runs the resulting ptx with the initial register values.
func render(t *testing.T, prog string, env map[string]float32) map[string]float32 {
	t.Helper()

	ctx := context.Background()

	f, err := LoadProgram([]byte(prog))
	require.NoError(t, err)

	doc, err := inject.Parse(ctx, markers)
	require.NoError(t, err)

	res, err := Inject(ctx, doc, f)
	require.NoError(t, err)

	t.Logf("rendered\n%s", res)

	run(t, res, env)

	return env
}

// run interprets the subset of ptx the emitter produces for f32 programs.
// Scopes are ignored since temp names never outlive one site.
func run(t *testing.T, text string, env map[string]float32) {
	t.Helper()

	val := func(s string) float32 {
		if strings.HasPrefix(s, "0f") {
			bits, err := strconv.ParseUint(s[2:], 16, 32)
			require.NoError(t, err)

			return math.Float32frombits(uint32(bits))
		}

		v, ok := env[s]
		require.True(t, ok, "undefined register %v", s)

		return v
	}

	for _, l := range strings.Split(text, "\n") {
		if p := strings.Index(l, "//"); p >= 0 {
			l = l[:p]
		}

		l = strings.TrimSpace(l)

		if l == "" || l == "{" || l == "}" || strings.HasPrefix(l, ".reg") {
			continue
		}

		op, rest, _ := strings.Cut(strings.TrimSuffix(l, ";"), " ")

		args := strings.Split(rest, ",")
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}

		switch op {
		case "mov.f32":
			env[args[0]] = val(args[1])
		case "add.f32":
			env[args[0]] = val(args[1]) + val(args[2])
		case "sub.f32":
			env[args[0]] = val(args[1]) - val(args[2])
		case "mul.f32":
			env[args[0]] = val(args[1]) * val(args[2])
		default:
			t.Fatalf("unsupported instruction: %q", l)
		}
	}
}
