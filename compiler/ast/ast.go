package ast

import (
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/tlog/tlwire"
)

type (
	// NodeID is an index into Arena.Nodes. Nodes never point at each other directly.
	NodeID int

	Tag int

	// Node is either a Leaf (register, special register or literal)
	// or an Op applied to Args.
	Node struct {
		Tag  Tag
		Kind tp.Kind

		Leaf ir.Instr
		Op   *ir.Op
		Args []NodeID

		// Pos is the program position that created the node.
		Pos int
	}

	Arena struct {
		Nodes []Node
	}

	// Tree is the result of building one program.
	// Roots[i] is the value written to Outputs[i].
	// Effects are side effect nodes in program order.
	Tree struct {
		Arena

		Roots   []NodeID
		Outputs []ir.Reg
		Kinds   []tp.Kind

		Effects []NodeID
	}
)

const (
	Leaf Tag = iota + 1
	Op
)

var Nowhere NodeID = -1

func (a *Arena) Len() int { return len(a.Nodes) }

func (a *Arena) Node(id NodeID) *Node {
	return &a.Nodes[id]
}

func (a *Arena) alloc(n Node) NodeID {
	id := NodeID(len(a.Nodes))
	a.Nodes = append(a.Nodes, n)

	return id
}

func (a *Arena) AddLeaf(x ir.Instr, k tp.Kind, pos int) NodeID {
	return a.alloc(Node{Tag: Leaf, Kind: k, Leaf: x, Pos: pos})
}

// AddOp adds an op node. k is tp.Invalid for side effects.
func (a *Arena) AddOp(op *ir.Op, k tp.Kind, args []NodeID, pos int) NodeID {
	return a.alloc(Node{Tag: Op, Kind: k, Op: op, Args: args, Pos: pos})
}

// Uses counts references to every node reachable from roots.
// A root referenced twice counts twice.
func (a *Arena) Uses(roots ...[]NodeID) []int {
	uses := make([]int, len(a.Nodes))
	seen := make([]bool, len(a.Nodes))

	var queue []NodeID

	for _, l := range roots {
		for _, id := range l {
			uses[id]++

			if !seen[id] {
				seen[id] = true
				queue = append(queue, id)
			}
		}
	}

	for len(queue) != 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		for _, arg := range a.Nodes[id].Args {
			uses[arg]++

			if !seen[arg] {
				seen[arg] = true
				queue = append(queue, arg)
			}
		}
	}

	return uses
}

func (n Node) String() string {
	switch n.Tag {
	case Leaf:
		return n.Leaf.String()
	case Op:
		return n.Op.Name
	default:
		return "<bad node>"
	}
}

func (n Node) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)

	b = e.AppendKeyInt(b, "tag", int(n.Tag))
	b = e.AppendKeyInt(b, "kind", int(n.Kind))
	b = e.AppendKeyInt(b, "args", len(n.Args))

	return b
}
