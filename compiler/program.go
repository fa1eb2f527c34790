package compiler

import (
	"bytes"
	"context"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/slowlang/stackptx/compiler/inject"
	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/regs"
	"github.com/slowlang/stackptx/compiler/tp"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	// ProgramFile describes stubs for the markers of one document.
	ProgramFile struct {
		Limits   ir.Limits           `yaml:"limits"`
		Specials []SpecialSpec       `yaml:"specials,omitempty"`
		Routines map[string][]string `yaml:"routines,omitempty"`
		Stubs    map[string]StubSpec `yaml:"stubs"`
	}

	SpecialSpec struct {
		Name string `yaml:"name"`
		Reg  string `yaml:"reg"`
		Kind string `yaml:"kind"`
	}

	StubSpec struct {
		// Limits override file limits for this stub.
		Limits *ir.Limits `yaml:"limits,omitempty"`

		// Bindings select marker arguments for the registry.
		// Empty means every argument, named as in the marker.
		Bindings []BindingSpec `yaml:"bindings,omitempty"`

		Instructions []string `yaml:"instructions"`
		Requests     []string `yaml:"requests"`
	}

	BindingSpec struct {
		Arg  string `yaml:"arg"`
		Name string `yaml:"name,omitempty"`
	}
)

func LoadProgramFile(name string) (*ProgramFile, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	f, err := LoadProgram(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return f, nil
}

func LoadProgram(data []byte) (*ProgramFile, error) {
	var f ProgramFile

	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)

	err := d.Decode(&f)
	if err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	if len(f.Stubs) == 0 {
		return nil, errors.New("no stubs")
	}

	return &f, nil
}

// Catalog builds the program catalog: defaults plus declared specials and routines.
func (f *ProgramFile) Catalog() (*ir.Catalog, error) {
	cat := ir.Default()

	for _, s := range f.Specials {
		k, err := tp.ParseKind(s.Kind)
		if err != nil {
			return nil, errors.Wrap(err, "special %v", s.Name)
		}

		err = cat.AddSpecial(ir.Special{Name: s.Name, Reg: ir.Reg(s.Reg), Kind: k})
		if err != nil {
			return nil, err
		}
	}

	names := sortedKeys(f.Routines)

	for _, name := range names {
		if cat.Reserved(name) {
			return nil, errors.New("routine %v: name redefined", name)
		}
	}

	for _, name := range names {
		body := make([]ir.Instr, len(f.Routines[name]))

		for i, tok := range f.Routines[name] {
			if _, ok := f.Routines[tok]; ok {
				body[i] = ir.Call{Name: tok}
				continue
			}

			x, err := ParseInstr(tok, nil, cat)
			if err != nil {
				return nil, errors.Wrap(err, "routine %v: instruction %d", name, i)
			}

			body[i] = x
		}

		err := cat.AddRoutine(name, body)
		if err != nil {
			return nil, err
		}
	}

	return cat, nil
}

// Compile compiles every stub against the first occurrence of its marker.
// All occurrences share argument registers so the stub fits each of them.
func (f *ProgramFile) Compile(ctx context.Context, doc *inject.PTXInject) (stubs map[string]*ir.Stub, err error) {
	cat, err := f.Catalog()
	if err != nil {
		return nil, errors.Wrap(err, "catalog")
	}

	stubs = make(map[string]*ir.Stub, len(f.Stubs))

	for _, name := range sortedKeys(f.Stubs) {
		spec := f.Stubs[name]

		l, err := doc.Get(name)
		if err != nil {
			return nil, err
		}

		stub, err := spec.compile(ctx, l[0], cat, f.Limits)
		if err != nil {
			return nil, errors.Wrap(err, "stub %v", name)
		}

		stubs[name] = stub
	}

	return stubs, nil
}

func (s StubSpec) compile(ctx context.Context, x *inject.Inject, cat *ir.Catalog, lim ir.Limits) (*ir.Stub, error) {
	b := regs.New(cat)

	if len(s.Bindings) == 0 {
		for _, a := range x.Args {
			err := bindArg(b, a, a.Name)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, bs := range s.Bindings {
		a, ok := x.Arg(bs.Arg)
		if !ok {
			return nil, errors.New("marker %v has no argument %v", x.Name, bs.Arg)
		}

		name := bs.Name
		if name == "" {
			name = a.Name
		}

		err := bindArg(b, a, name)
		if err != nil {
			return nil, err
		}
	}

	reg := b.Freeze()

	prog := make([]ir.Instr, len(s.Instructions))

	for i, tok := range s.Instructions {
		in, err := ParseInstr(tok, reg, cat)
		if err != nil {
			return nil, errors.Wrap(err, "instruction %d", i)
		}

		prog[i] = in
	}

	reqs := make([]ir.Reg, len(s.Requests))

	for i, name := range s.Requests {
		bind, ok := reg.Named(name)
		if !ok {
			return nil, errors.New("request %d: no binding named %v", i, name)
		}

		reqs[i] = bind.Reg
	}

	if s.Limits != nil {
		lim = *s.Limits
	}

	tlog.SpanFromContext(ctx).V("program").Printw("stub program", "marker", x.Name, "bindings", reg.Len(), "instrs", len(prog), "requests", s.Requests)

	return Compile(ctx, reg, cat, prog, reqs, lim)
}

// bindArg binds a marker argument. OUT arguments hold no value on entry.
func bindArg(b *regs.Builder, a inject.Arg, name string) error {
	if a.Mut.Reads() {
		return b.Add(a.Reg, a.Kind, name)
	}

	return b.AddWriteOnly(a.Reg, a.Kind, name)
}

// ParseInstr resolves an instruction token:
// a registry name, a catalog name, store:N, load:N or <kind>:<literal>.
// reg may be nil.
func ParseInstr(tok string, reg *regs.Registry, cat *ir.Catalog) (ir.Instr, error) {
	if p := strings.IndexByte(tok, ':'); p >= 0 {
		pre, val := tok[:p], tok[p+1:]

		switch pre {
		case ir.Store.String(), ir.Load.String():
			slot, err := strconv.Atoi(val)
			if err != nil {
				return nil, errors.Wrap(err, "%v slot", pre)
			}

			if pre == ir.Store.String() {
				return ir.StoreTo(slot), nil
			}

			return ir.LoadFrom(slot), nil
		}

		k, err := tp.ParseKind(pre)
		if err != nil {
			return nil, errors.Wrap(err, "instruction %q", tok)
		}

		bits, err := k.ParseLiteral(val)
		if err != nil {
			return nil, errors.Wrap(err, "instruction %q", tok)
		}

		return ir.Const{Kind: k, Bits: bits}, nil
	}

	if reg != nil {
		if b, ok := reg.Named(tok); ok {
			return b.Push(), nil
		}
	}

	if x, ok := cat.Lookup(tok); ok {
		return x, nil
	}

	return nil, errors.New("unknown instruction: %q", tok)
}

func sortedKeys[V any](m map[string]V) []string {
	l := make([]string, 0, len(m))

	for k := range m {
		l = append(l, k)
	}

	sort.Strings(l)

	return l
}
