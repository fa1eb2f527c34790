package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/tp"
)

func TestUses(t *testing.T) {
	cat := ir.Default()
	add, _ := cat.Op("add_f32")
	fence, _ := cat.Op("membar_cta")

	var a Arena

	x := a.AddLeaf(ir.Push{Reg: "%_x0", Kind: tp.F32, Name: "x"}, tp.F32, 0)
	s := a.AddOp(add, tp.F32, []NodeID{x, x}, 1)
	r := a.AddOp(add, tp.F32, []NodeID{s, x}, 2)
	e := a.AddOp(fence, tp.Invalid, nil, 3)
	unused := a.AddLeaf(ir.F32(1), tp.F32, 4)

	uses := a.Uses([]NodeID{e}, []NodeID{r, s})

	assert.Equal(t, 5, a.Len())
	assert.Equal(t, []int{3, 2, 1, 1, 0}, uses)
	assert.Equal(t, 0, uses[unused])

	assert.Equal(t, "add_f32", a.Node(r).String())
	assert.Equal(t, "x", a.Node(x).String())
	assert.Equal(t, "f32:0f3F800000", a.Node(unused).String())
}
