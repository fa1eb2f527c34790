package inject

import (
	"context"
	"strconv"
	"strings"

	"github.com/slowlang/stackptx/compiler/ir"
	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type parser struct {
	p *PTXInject

	cur    *Inject
	inArgs bool
}

// Parse finds marker occurrences in compiled ptx.
// It stops at the first structural error.
func Parse(ctx context.Context, text string) (p *PTXInject, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "inject: parse", "size", len(text))
	defer tr.Finish("err", &err)

	s := &parser{
		p: &PTXInject{
			Text:    text,
			injects: make(map[string][]*Inject),
		},
	}

	line := 0

	for st := 0; st < len(text); {
		end := strings.IndexByte(text[st:], '\n')
		if end < 0 {
			end = len(text)
		} else {
			end += st + 1
		}

		line++

		err = s.line(text[st:end], st, end, line)
		if err != nil {
			return nil, err
		}

		st = end
	}

	if s.cur != nil {
		return nil, s.error(ErrUnterminated)
	}

	for _, name := range s.p.names {
		tr.V("markers").Printw("marker", "name", name, "occurrences", len(s.p.injects[name]), "args", len(s.p.injects[name][0].Args))
	}

	tr.Printw("parsed", "markers", len(s.p.names), "occurrences", s.p.Len())

	return s.p, nil
}

func (s *parser) line(l string, st, end, lnum int) error {
	f, ok := commentFields(l)
	if !ok || len(f) == 0 {
		s.inArgs = false
		return nil
	}

	switch {
	case f[0] == StartMarker:
		if s.cur != nil {
			return s.error(errors.Wrap(ErrUnterminated, "%v starts at line %d", StartMarker, lnum))
		}

		if len(f) != 2 {
			cur := &Inject{Line: lnum}
			if len(f) > 1 {
				cur.Name = f[1]
			}

			s.cur = cur

			return s.error(errors.Wrap(ErrMalformed, "want %v <name>", StartMarker))
		}

		s.cur = &Inject{
			Name:  f[1],
			Index: len(s.p.injects[f[1]]),
			Start: st,
			Line:  lnum,
		}
		s.inArgs = true

		return nil
	case s.cur == nil:
		if f[0] == EndMarker {
			s.cur = &Inject{Line: lnum}
			return s.error(errors.Wrap(ErrMalformed, "%v without %v", EndMarker, StartMarker))
		}

		return nil
	case f[0] == EndMarker:
		s.cur.End = end

		return s.finish()
	case s.inArgs && strings.HasPrefix(f[0], ArgPrefix):
		return s.arg(f)
	default:
		s.inArgs = false

		return nil
	}
}

// arg parses "_x<i> <mut> <ptx type> <KIND> <name> <register>".
func (s *parser) arg(f []string) error {
	x := s.cur

	idx, err := strconv.Atoi(strings.TrimPrefix(f[0], ArgPrefix))
	if err != nil || idx != len(x.Args) {
		return s.error(errors.Wrap(ErrMalformed, "argument %q out of sequence, want %v%d", f[0], ArgPrefix, len(x.Args)))
	}

	if len(f) < 5 || len(f) > 6 {
		return s.error(errors.Wrap(ErrMalformed, "argument %v: want <mut> <type> <kind> <name> <register>", f[0]))
	}

	mut, err := ParseMut(f[1])
	if err != nil {
		return s.error(errors.Wrap(ErrMalformed, "argument %v: %v", f[0], err))
	}

	k, err := tp.ParseKind(f[3])
	if err != nil {
		return s.error(errors.Wrap(ErrMalformed, "argument %v: %v", f[0], err))
	}

	if f[2] != k.Mov() {
		return s.error(errors.Wrap(ErrMalformed, "argument %v: register type %v doesn't match kind %v", f[0], f[2], k))
	}

	name := f[4]

	if !isIdent(name) {
		return s.error(errors.Wrap(ErrMalformed, "argument %v: bad name %q", f[0], name))
	}

	if len(f) < 6 || len(f[5]) < 2 || f[5][0] != '%' {
		return s.error(errors.Wrap(ErrUnresolved, "argument %v", name))
	}

	if _, dup := x.Arg(name); dup {
		return s.error(errors.Wrap(ErrDuplicateArg, "%v", name))
	}

	x.Args = append(x.Args, Arg{
		Name:   name,
		Mut:    mut,
		Kind:   k,
		Reg:    ArgReg(idx),
		Target: ir.Reg(f[5]),
	})

	return nil
}

func (s *parser) finish() error {
	x := s.cur

	if len(x.Args) == 0 {
		return s.error(errors.Wrap(ErrMalformed, "no arguments"))
	}

	l := s.p.injects[x.Name]

	if len(l) != 0 && !l[0].sameSignature(x) {
		return s.error(ErrSignature)
	}

	if len(l) == 0 {
		s.p.names = append(s.p.names, x.Name)
	}

	s.p.injects[x.Name] = append(l, x)
	s.cur = nil
	s.inArgs = false

	return nil
}

func (s *parser) error(err error) error {
	return &ParseError{
		Name:       s.cur.Name,
		Occurrence: s.cur.Index,
		Line:       s.cur.Line,
		Err:        err,
	}
}

// commentFields splits a "// ..." line into fields.
func commentFields(l string) ([]string, bool) {
	l = strings.TrimSpace(l)

	if !strings.HasPrefix(l, "//") {
		return nil, false
	}

	return strings.Fields(l[2:]), true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i != 0 && c >= '0' && c <= '9' {
			continue
		}

		return false
	}

	return true
}
