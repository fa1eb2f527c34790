package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/stackptx/compiler"
)

type fakeToolchain struct {
	ptx string

	src    string
	module string
}

func (f *fakeToolchain) CUDAToPTX(ctx context.Context, src string) (string, error) {
	f.src = src

	return f.ptx, nil
}

func (f *fakeToolchain) PTXToModule(ctx context.Context, ptx string) ([]byte, error) {
	f.module = ptx

	return []byte("module"), nil
}

func TestBuild(t *testing.T) {
	tc := &fakeToolchain{
		ptx: "\t// PTX_INJECT_START func\n" +
			"\t// _x0 in f32 F32 x %f1\n" +
			"\t// _x1 out f32 F32 y %f2\n" +
			"\t// PTX_INJECT_END\n",
	}

	f, err := compiler.LoadProgram([]byte(`
limits:
  execution_limit: 10
  max_ast_size: 10
  max_ast_to_visit_stack_depth: 10
  stack_size: 4
  max_frame_depth: 2
  store_size: 1
stubs:
  func:
    instructions: [x, dup_f32, add_f32]
    requests: [y]
`))
	require.NoError(t, err)

	src := "__global__ void kernel(float *p) {\n\tfloat y;\n\tPTX_INJECT(\"func\", PTX_IN(F32, x, p[0]), PTX_OUT(F32, y, y));\n\tp[1] = y;\n}\n"

	mod, err := build(context.Background(), tc, f, src, nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("module"), mod)
	assert.Contains(t, tc.src, "asm volatile (")
	assert.NotContains(t, tc.src, "PTX_INJECT(")
	assert.Contains(t, tc.module, "add.f32 %_sf0, %_x0, %_x0;")
	assert.Contains(t, tc.module, "mov.f32 %f2, %_x1;")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
	assert.Equal(t, "x", strings.Join(splitList("x"), ","))
}
