package inject

import (
	"fmt"
	"strings"

	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
)

type (
	// Mut is the mutability contract of an injection argument.
	Mut int

	// Arg is one argument of one marker occurrence.
	// Reg is the name stub code uses for it, the same at every occurrence.
	// Target is the register the native compiler assigned at this occurrence.
	Arg struct {
		Name   string
		Mut    Mut
		Kind   tp.Kind
		Reg    ir.Reg
		Target ir.Reg
	}

	// Inject is one occurrence of a marker.
	// [Start, End) is the byte span replaced on render, Line is 1-based.
	Inject struct {
		Name  string
		Index int
		Args  []Arg

		Start int
		End   int
		Line  int
	}

	// PTXInject is a parsed document. It is not modified after Parse.
	PTXInject struct {
		Text string

		names   []string
		injects map[string][]*Inject
	}

	ParseError struct {
		Name       string
		Occurrence int
		Line       int
		Err        error
	}

	RenderError struct {
		Name       string
		Occurrence int
		Err        error
	}
)

const (
	In Mut = iota + 1
	Mod
	Out
)

const (
	StartMarker = "PTX_INJECT_START"
	EndMarker   = "PTX_INJECT_END"

	// ArgPrefix names stub facing registers: %_x0, %_x1, ...
	ArgPrefix = "_x"
)

var (
	ErrUnterminated = errors.New("unterminated marker")
	ErrMalformed    = errors.New("malformed marker")
	ErrUnresolved   = errors.New("register can't be resolved")
	ErrDuplicateArg = errors.New("duplicate argument name")
	ErrSignature    = errors.New("signature differs from the first occurrence")
	ErrNoMarker     = errors.New("no such marker")

	ErrMissingStub    = errors.New("no stub for marker")
	ErrUnknownMarker  = errors.New("stub for unknown marker")
	ErrOutputMismatch = errors.New("stub outputs don't match OUT and MOD arguments")
	ErrInTargeted     = errors.New("IN argument is a stub output")
	ErrKindMismatch   = errors.New("stub output kind differs from argument kind")
)

func ParseMut(s string) (Mut, error) {
	switch strings.ToLower(s) {
	case "in":
		return In, nil
	case "mod":
		return Mod, nil
	case "out":
		return Out, nil
	default:
		return 0, errors.New("unknown mutability: %q", s)
	}
}

func (m Mut) String() string {
	switch m {
	case In:
		return "in"
	case Mod:
		return "mod"
	case Out:
		return "out"
	default:
		return fmt.Sprintf("mut(%d)", int(m))
	}
}

// Reads reports whether the fragment may read the argument on entry.
func (m Mut) Reads() bool { return m == In || m == Mod }

// Writes reports whether the fragment must assign the argument.
func (m Mut) Writes() bool { return m == Mod || m == Out }

// ArgReg is the stub facing register of the i-th argument.
func ArgReg(i int) ir.Reg {
	return ir.Reg(fmt.Sprintf("%%%s%d", ArgPrefix, i))
}

// Names returns marker names in order of first appearance.
func (p *PTXInject) Names() []string {
	return append([]string{}, p.names...)
}

// Get returns all occurrences of the named marker.
func (p *PTXInject) Get(name string) ([]*Inject, error) {
	l, ok := p.injects[name]
	if !ok {
		return nil, errors.Wrap(ErrNoMarker, "%v", name)
	}

	return l, nil
}

// Len is the total number of occurrences.
func (p *PTXInject) Len() (n int) {
	for _, l := range p.injects {
		n += len(l)
	}

	return n
}

func (x *Inject) Arg(name string) (Arg, bool) {
	for _, a := range x.Args {
		if a.Name == name {
			return a, true
		}
	}

	return Arg{}, false
}

// Outputs are the stub facing registers of MOD and OUT arguments.
func (x *Inject) Outputs() []ir.Reg {
	var l []ir.Reg

	for _, a := range x.Args {
		if a.Mut.Writes() {
			l = append(l, a.Reg)
		}
	}

	return l
}

func (x *Inject) sameSignature(y *Inject) bool {
	if len(x.Args) != len(y.Args) {
		return false
	}

	for i, a := range x.Args {
		b := y.Args[i]

		if a.Name != b.Name || a.Mut != b.Mut || a.Kind != b.Kind {
			return false
		}
	}

	return true
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: marker %q occurrence %d (line %d): %v", e.Name, e.Occurrence, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *RenderError) Error() string {
	if e.Occurrence < 0 {
		return fmt.Sprintf("render: marker %q: %v", e.Name, e.Err)
	}

	return fmt.Sprintf("render: marker %q occurrence %d: %v", e.Name, e.Occurrence, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
