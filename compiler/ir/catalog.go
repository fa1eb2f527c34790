package ir

import (
	"strings"

	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
)

type (
	// Op is a ptx operator. It is emitted as "Asm out, in0, in1, ...;".
	// Ops without Out are side effects.
	Op struct {
		Name string
		Asm  string

		In  []tp.Kind
		Out []tp.Kind
	}

	// Catalog is the closed instruction set of one program:
	// operators, special registers, meta ops and routines.
	Catalog struct {
		ops      map[string]*Op
		specials map[string]Special
		metas    map[string]Meta
		routines map[string][]Instr
	}
)

// OpName derives the catalog name from the ptx mnemonic: add.ftz.f32 -> add_ftz_f32.
func OpName(asm string) string {
	return strings.ReplaceAll(asm, ".", "_")
}

// Default returns a new catalog built from DefaultOps and DefaultSpecials.
func Default() *Catalog {
	c, err := NewCatalog(DefaultOps, DefaultSpecials)
	if err != nil {
		panic(err)
	}

	return c
}

func NewCatalog(ops []Op, specials []Special) (*Catalog, error) {
	c := &Catalog{
		ops:      make(map[string]*Op, len(ops)),
		specials: make(map[string]Special, len(specials)),
		metas:    make(map[string]Meta),
		routines: make(map[string][]Instr),
	}

	for _, m := range []MetaOp{Dup, Drop, Swap} {
		c.metas[m.String()] = Meta{Op: m}

		for _, k := range tp.Kinds() {
			x := Meta{Op: m, Kind: k}
			c.metas[x.String()] = x
		}
	}

	for i := range ops {
		op := ops[i]

		if op.Name == "" {
			op.Name = OpName(op.Asm)
		}

		if len(op.Out) > 1 {
			return nil, errors.New("op %v: at most one output", op.Name)
		}

		if c.Reserved(op.Name) {
			return nil, errors.New("op %v: name redefined", op.Name)
		}

		c.ops[op.Name] = &op
	}

	for _, s := range specials {
		err := c.AddSpecial(s)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Catalog) AddSpecial(s Special) error {
	if s.Name == "" || s.Reg == "" || !s.Kind.Valid() {
		return errors.New("special register: name, reg and kind required: %+v", s)
	}

	if c.Reserved(s.Name) {
		return errors.New("special register %v: name redefined", s.Name)
	}

	c.specials[s.Name] = s

	return nil
}

// AddRoutine registers a named instruction sequence.
// Routines may call other routines; expansion depth is bounded at build time.
func (c *Catalog) AddRoutine(name string, body []Instr) error {
	if name == "" {
		return errors.New("routine name required")
	}

	if c.Reserved(name) {
		return errors.New("routine %v: name redefined", name)
	}

	c.routines[name] = append([]Instr{}, body...)

	return nil
}

// Reserved reports whether name is taken by any catalog entry.
func (c *Catalog) Reserved(name string) bool {
	if _, ok := c.ops[name]; ok {
		return true
	}

	if _, ok := c.specials[name]; ok {
		return true
	}

	if _, ok := c.metas[name]; ok {
		return true
	}

	if _, ok := c.routines[name]; ok {
		return true
	}

	return name == Store.String() || name == Load.String()
}

func (c *Catalog) Op(name string) (*Op, bool) {
	op, ok := c.ops[name]
	return op, ok
}

func (c *Catalog) Routine(name string) ([]Instr, bool) {
	r, ok := c.routines[name]
	return r, ok
}

// Lookup resolves a catalog name to an instruction.
// Store and load need a slot and are not resolved by name.
func (c *Catalog) Lookup(name string) (Instr, bool) {
	if op, ok := c.ops[name]; ok {
		return Apply{Op: op}, true
	}

	if s, ok := c.specials[name]; ok {
		return s, true
	}

	if m, ok := c.metas[name]; ok {
		return m, true
	}

	if _, ok := c.routines[name]; ok {
		return Call{Name: name}, true
	}

	return nil, false
}

// Must is Lookup for static programs.
func (c *Catalog) Must(name string) Instr {
	x, ok := c.Lookup(name)
	if !ok {
		panic("no such instruction: " + name)
	}

	return x
}
