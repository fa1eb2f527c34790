package inject

import (
	"context"
	"sort"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"github.com/slowlang/stackptx/compiler/ir"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type site struct {
	x    *Inject
	stub *ir.Stub
}

// Render substitutes stubs at every occurrence of every marker and returns the new text.
// Markers named in skip are left as they are; any other marker without a stub is an error.
func (p *PTXInject) Render(ctx context.Context, stubs map[string]*ir.Stub, skip ...string) (_ string, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "inject: render", "stubs", len(stubs), "skip", skip)
	defer tr.Finish("err", &err)

	for name := range stubs {
		if _, ok := p.injects[name]; !ok {
			return "", &RenderError{Name: name, Occurrence: -1, Err: ErrUnknownMarker}
		}
	}

	var sites []site

	for _, name := range p.names {
		stub, ok := stubs[name]
		if !ok || stub == nil {
			if contains(skip, name) {
				continue
			}

			return "", &RenderError{Name: name, Occurrence: -1, Err: ErrMissingStub}
		}

		for _, x := range p.injects[name] {
			err = validate(x, stub)
			if err != nil {
				return "", &RenderError{Name: name, Occurrence: x.Index, Err: err}
			}

			sites = append(sites, site{x: x, stub: stub})
		}
	}

	sort.Slice(sites, func(i, j int) bool {
		return sites[i].x.Start > sites[j].x.Start
	})

	b := []byte(p.Text)

	for _, s := range sites {
		frag := renderSite(nil, p.Text, s.x, s.stub)

		b = append(b[:s.x.Start:s.x.Start], append(frag, b[s.x.End:]...)...)

		tr.V("render_site").Printw("substituted", "name", s.x.Name, "occurrence", s.x.Index, "line", s.x.Line, "size", len(frag))
	}

	tr.Printw("rendered", "sites", len(sites), "size", len(b))

	return string(b), nil
}

func validate(x *Inject, stub *ir.Stub) error {
	if len(stub.Kinds) != len(stub.Outputs) {
		return errors.New("stub has %d outputs and %d kinds", len(stub.Outputs), len(stub.Kinds))
	}

	seen := make(map[ir.Reg]struct{}, len(stub.Outputs))

	for i, r := range stub.Outputs {
		if _, ok := seen[r]; ok {
			return errors.Wrap(ErrOutputMismatch, "%v assigned twice", r)
		}

		seen[r] = struct{}{}

		a, ok := x.byReg(r)
		if !ok {
			return errors.Wrap(ErrOutputMismatch, "%v is not an argument", r)
		}

		if a.Mut == In {
			return errors.Wrap(ErrInTargeted, "%v (%v)", a.Name, r)
		}

		if stub.Kinds[i] != a.Kind {
			return errors.Wrap(ErrKindMismatch, "%v (%v): argument is %v, stub writes %v", a.Name, r, a.Kind, stub.Kinds[i])
		}
	}

	for _, a := range x.Args {
		if !a.Mut.Writes() {
			continue
		}

		if _, ok := seen[a.Reg]; !ok {
			return errors.Wrap(ErrOutputMismatch, "%v %v (%v) is not assigned", a.Mut, a.Name, a.Reg)
		}
	}

	return nil
}

// renderSite keeps the marker header so the result parses back to the same arguments.
func renderSite(b []byte, text string, x *Inject, stub *ir.Stub) []byte {
	head := text[x.Start:x.End]
	ind := head[:len(head)-len(strings.TrimLeft(head, " \t"))]

	b = hfmt.Appendf(b, "%s// %s %s\n", ind, StartMarker, x.Name)

	for i, a := range x.Args {
		b = appendArgLine(b, ind, i, a, string(a.Target))
	}

	b = hfmt.Appendf(b, "%s{\n", ind)

	for _, a := range x.Args {
		b = hfmt.Appendf(b, "%s.reg %s %s;\n", ind, a.Kind.Reg(), a.Reg)
	}

	for _, a := range x.Args {
		if a.Mut.Reads() {
			b = hfmt.Appendf(b, "%smov.%s %s, %s;\n", ind, a.Kind.Mov(), a.Reg, a.Target)
		}
	}

	for _, l := range strings.Split(strings.TrimRight(stub.Code, "\n"), "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}

		b = hfmt.Appendf(b, "%s%s\n", ind, l)
	}

	for _, a := range x.Args {
		if a.Mut.Writes() {
			b = hfmt.Appendf(b, "%smov.%s %s, %s;\n", ind, a.Kind.Mov(), a.Target, a.Reg)
		}
	}

	b = hfmt.Appendf(b, "%s}\n", ind)
	b = hfmt.Appendf(b, "%s// %s", ind, EndMarker)

	if strings.HasSuffix(head, "\n") {
		b = append(b, '\n')
	}

	return b
}

// appendArgLine writes an argument comment. reg is the register or inline asm operand.
func appendArgLine(b []byte, ind string, i int, a Arg, reg string) []byte {
	return hfmt.Appendf(b, "%s// %s%d %s %s %s %s %s\n", ind, ArgPrefix, i, a.Mut, a.Kind.Mov(), a.Kind, a.Name, reg)
}

func (x *Inject) byReg(r ir.Reg) (Arg, bool) {
	for _, a := range x.Args {
		if a.Reg == r {
			return a, true
		}
	}

	return Arg{}, false
}

func contains(l []string, s string) bool {
	for _, x := range l {
		if x == s {
			return true
		}
	}

	return false
}
