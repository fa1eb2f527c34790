package ir

import (
	"math"
	"strconv"

	"github.com/slowlang/stackptx/compiler/tp"
)

type (
	// Reg is a ptx register name including the leading '%'.
	Reg string

	// Instr is one element of an instruction program.
	// The set of implementations is closed.
	Instr interface {
		String() string

		instr()
	}

	// Push pushes a registry bound register.
	Push struct {
		Reg  Reg
		Kind tp.Kind
		Name string
	}

	// Special pushes a special register such as %tid.x.
	Special struct {
		Name string
		Reg  Reg
		Kind tp.Kind
	}

	// Const pushes a literal. Bits are raw value bits of Kind.
	Const struct {
		Kind tp.Kind
		Bits uint64
	}

	// Apply pops len(Op.In) values and pushes len(Op.Out) values.
	Apply struct {
		Op *Op
	}

	// Meta is a stack manipulation primitive.
	// Kind, when set, is checked against the top value.
	Meta struct {
		Op   MetaOp
		Kind tp.Kind
		Slot int
	}

	// Call expands the named routine in place.
	Call struct {
		Name string
	}

	MetaOp int
)

const (
	_ MetaOp = iota
	Dup
	Drop
	Swap
	Store
	Load
)

var metaNames = []string{
	Dup:   "dup",
	Drop:  "drop",
	Swap:  "swap",
	Store: "store",
	Load:  "load",
}

func (Push) instr()    {}
func (Special) instr() {}
func (Const) instr()   {}
func (Apply) instr()   {}
func (Meta) instr()    {}
func (Call) instr()    {}

func F32(v float32) Const { return Const{Kind: tp.F32, Bits: uint64(math.Float32bits(v))} }
func F64(v float64) Const { return Const{Kind: tp.F64, Bits: math.Float64bits(v)} }
func S32(v int32) Const   { return Const{Kind: tp.S32, Bits: uint64(v)} }
func U32(v uint32) Const  { return Const{Kind: tp.U32, Bits: uint64(v)} }
func S64(v int64) Const   { return Const{Kind: tp.S64, Bits: uint64(v)} }
func U64(v uint64) Const  { return Const{Kind: tp.U64, Bits: v} }

func DupOf(k tp.Kind) Meta  { return Meta{Op: Dup, Kind: k} }
func DropOf(k tp.Kind) Meta { return Meta{Op: Drop, Kind: k} }
func SwapOf(k tp.Kind) Meta { return Meta{Op: Swap, Kind: k} }

func StoreTo(slot int) Meta  { return Meta{Op: Store, Slot: slot} }
func LoadFrom(slot int) Meta { return Meta{Op: Load, Slot: slot} }

// Arity is the number of values the meta op pops.
func (m MetaOp) Arity() int {
	switch m {
	case Dup, Drop, Store:
		return 1
	case Swap:
		return 2
	default:
		return 0
	}
}

func (m MetaOp) String() string {
	if m <= 0 || int(m) >= len(metaNames) {
		return "meta(" + strconv.Itoa(int(m)) + ")"
	}

	return metaNames[m]
}

func (x Push) String() string {
	if x.Name != "" {
		return x.Name
	}

	return string(x.Reg)
}

func (x Special) String() string { return x.Name }

func (x Const) String() string {
	return x.Kind.Mov() + ":" + x.Kind.Literal(x.Bits)
}

func (x Apply) String() string {
	if x.Op == nil {
		return "<nil op>"
	}

	return x.Op.Name
}

func (x Meta) String() string {
	switch {
	case x.Op == Store || x.Op == Load:
		return x.Op.String() + ":" + strconv.Itoa(x.Slot)
	case x.Kind.Valid():
		return x.Op.String() + "_" + x.Kind.Mov()
	default:
		return x.Op.String()
	}
}

func (x Call) String() string { return x.Name }
