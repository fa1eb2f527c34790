package format

import (
	"github.com/nikandfor/hacked/hfmt"
	"github.com/slowlang/stackptx/compiler/ast"
	"github.com/slowlang/stackptx/compiler/ir"
)

// Program formats instructions as space separated tokens,
// the same tokens program files use.
func Program(b []byte, prog []ir.Instr) []byte {
	for i, x := range prog {
		if i != 0 {
			b = append(b, ' ')
		}

		b = append(b, x.String()...)
	}

	return b
}

// Tree formats every root as an indented expression.
// A node printed before is referenced as @id.
func Tree(b []byte, t *ast.Tree) []byte {
	seen := make([]bool, t.Len())

	for _, id := range t.Effects {
		b = app(b, 0, "effect\n")
		b = formatNode(b, t, seen, id, 1)
	}

	for i, id := range t.Roots {
		b = app(b, 0, "%v %v <-\n", t.Outputs[i], t.Kinds[i])
		b = formatNode(b, t, seen, id, 1)
	}

	return b
}

func formatNode(b []byte, t *ast.Tree, seen []bool, id ast.NodeID, d int) []byte {
	n := t.Node(id)

	if seen[id] && n.Tag == ast.Op {
		return app(b, d, "@%d\n", id)
	}

	seen[id] = true

	if n.Tag == ast.Leaf {
		return app(b, d, "%v\n", n)
	}

	if n.Kind.Valid() {
		b = app(b, d, "%v %v @%d\n", n, n.Kind, id)
	} else {
		b = app(b, d, "%v @%d\n", n, id)
	}

	for _, arg := range n.Args {
		b = formatNode(b, t, seen, arg, d+1)
	}

	return b
}

func app(b []byte, d int, f string, args ...any) []byte {
	for i := 0; i < d; i++ {
		b = append(b, "  "...)
	}

	return hfmt.Appendf(b, f, args...)
}
