package regs

import (
	"fmt"

	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
)

type (
	// Binding ties an externally supplied register to a stack kind
	// and an optional friendly name.
	// A WriteOnly register holds no value on entry: it can be requested but not pushed.
	Binding struct {
		Reg  ir.Reg
		Kind tp.Kind
		Name string

		WriteOnly bool

		from loc.PC
	}

	// Builder collects bindings. It is consumed by Freeze.
	Builder struct {
		cat *ir.Catalog

		list  []Binding
		regs  map[ir.Reg]int
		names map[string]int

		frozen *Registry
	}

	// Registry is the immutable snapshot the compiler works with.
	Registry struct {
		list  []Binding
		regs  map[ir.Reg]int
		names map[string]int

		frozen bool
	}

	Error struct {
		Op   string
		Reg  ir.Reg
		Name string
		Err  error
	}
)

var (
	ErrFrozen    = errors.New("registry is frozen")
	ErrNotFrozen = errors.New("registry is not frozen")
	ErrDuplicate = errors.New("register already bound")
	ErrName      = errors.New("name is taken")
	ErrNotFound  = errors.New("not found")
)

// New creates a builder. Friendly names are checked against cat.
func New(cat *ir.Catalog) *Builder {
	return &Builder{
		cat:   cat,
		regs:  make(map[ir.Reg]int),
		names: make(map[string]int),
	}
}

func (b *Builder) Add(reg ir.Reg, k tp.Kind, name string) error {
	return b.add(reg, k, name, false)
}

// AddWriteOnly binds an output register the program must not read.
func (b *Builder) AddWriteOnly(reg ir.Reg, k tp.Kind, name string) error {
	return b.add(reg, k, name, true)
}

func (b *Builder) add(reg ir.Reg, k tp.Kind, name string, wo bool) error {
	if b.frozen != nil {
		return newError("add", reg, name, ErrFrozen)
	}

	if reg == "" {
		return newError("add", reg, name, errors.New("empty register"))
	}

	if !k.Valid() {
		return newError("add", reg, name, errors.New("invalid kind"))
	}

	if i, ok := b.regs[reg]; ok {
		return newError("add", reg, name, errors.Wrap(ErrDuplicate, "first bound at %v", b.list[i].from))
	}

	if name != "" {
		if _, ok := b.names[name]; ok {
			return newError("add", reg, name, ErrName)
		}

		if b.cat != nil && b.cat.Reserved(name) {
			return newError("add", reg, name, errors.Wrap(ErrName, "reserved by catalog"))
		}
	}

	i := len(b.list)

	b.list = append(b.list, Binding{
		Reg:  reg,
		Kind: k,
		Name: name,

		WriteOnly: wo,

		from: loc.Caller(2),
	})

	b.regs[reg] = i

	if name != "" {
		b.names[name] = i
	}

	return nil
}

// Freeze returns the immutable registry. Calling it again returns the same snapshot.
func (b *Builder) Freeze() *Registry {
	if b.frozen != nil {
		return b.frozen
	}

	b.frozen = &Registry{
		list:   b.list,
		regs:   b.regs,
		names:  b.names,
		frozen: true,
	}

	return b.frozen
}

func (b *Builder) Frozen() bool { return b.frozen != nil }

// Check fails for a registry not produced by Freeze.
func (r *Registry) Check() error {
	if r == nil || !r.frozen {
		return newError("use", "", "", ErrNotFrozen)
	}

	return nil
}

func (r *Registry) Len() int { return len(r.list) }

func (r *Registry) Bindings() []Binding {
	return append([]Binding{}, r.list...)
}

func (r *Registry) Lookup(reg ir.Reg) (Binding, bool) {
	i, ok := r.regs[reg]
	if !ok {
		return Binding{}, false
	}

	return r.list[i], true
}

func (r *Registry) Named(name string) (Binding, bool) {
	i, ok := r.names[name]
	if !ok {
		return Binding{}, false
	}

	return r.list[i], true
}

// Push returns the instruction pushing the register bound to name.
func (r *Registry) Push(name string) (ir.Push, error) {
	b, ok := r.Named(name)
	if !ok {
		return ir.Push{}, newError("lookup", "", name, ErrNotFound)
	}

	return b.Push(), nil
}

func (r *Registry) MustPush(name string) ir.Push {
	p, err := r.Push(name)
	if err != nil {
		panic(err)
	}

	return p
}

func (b Binding) Push() ir.Push {
	return ir.Push{Reg: b.Reg, Kind: b.Kind, Name: b.Name}
}

func (b Binding) From() loc.PC { return b.from }

func newError(op string, reg ir.Reg, name string, err error) *Error {
	return &Error{Op: op, Reg: reg, Name: name, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Reg != "":
		return fmt.Sprintf("registry: %v %v (%v): %v", e.Op, e.Reg, e.Name, e.Err)
	case e.Name != "":
		return fmt.Sprintf("registry: %v %v: %v", e.Op, e.Name, e.Err)
	case e.Reg != "":
		return fmt.Sprintf("registry: %v %v: %v", e.Op, e.Reg, e.Err)
	default:
		return fmt.Sprintf("registry: %v: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }
