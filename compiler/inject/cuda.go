package inject

import (
	"context"
	"strconv"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	macroArg struct {
		Arg
		Expr string
	}
)

const (
	InjectMacro = "PTX_INJECT"
)

var mutMacros = map[string]Mut{
	"PTX_IN":  In,
	"PTX_MOD": Mod,
	"PTX_OUT": Out,
}

// ProcessCUDA rewrites PTX_INJECT("name", PTX_IN(F32, x, expr), ...) invocations
// into inline asm producing marker comments in the compiled ptx.
// It returns the new source and the number of rewritten sites.
func ProcessCUDA(ctx context.Context, src string) (_ string, n int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "inject: process cuda", "size", len(src))
	defer tr.Finish("sites", &n, "err", &err)

	var b []byte
	last := 0
	line := 1
	counts := make(map[string]int)

	for i := 0; i < len(src); {
		j := strings.Index(src[i:], InjectMacro)
		if j < 0 {
			break
		}

		st := i + j
		i = st + len(InjectMacro)

		if st > 0 && isIdentChar(src[st-1]) || i < len(src) && isIdentChar(src[i]) {
			continue
		}

		p := skipSpaces(src, i)
		if p == len(src) || src[p] != '(' {
			continue
		}

		line += strings.Count(src[last:st], "\n")

		args, end, err := splitArgs(src, p)
		if err != nil {
			return "", n, &ParseError{Name: InjectMacro, Occurrence: n, Line: line, Err: err}
		}

		name, margs, err := parseMacro(args)
		if err != nil {
			return "", n, &ParseError{Name: name, Occurrence: counts[name], Line: line, Err: err}
		}

		end = skipSpaces(src, end)
		if end < len(src) && src[end] == ';' {
			end++
		}

		ls := strings.LastIndexByte(src[:st], '\n') + 1
		ind := src[ls:st]
		ind = ind[:len(ind)-len(strings.TrimLeft(ind, " \t"))]

		b = append(b, src[last:st]...)
		b = appendAsm(b, ind, name, margs)

		line += strings.Count(src[st:end], "\n")
		last = end
		i = end
		n++
		counts[name]++

		tr.V("cuda_site").Printw("site", "name", name, "args", len(margs), "line", line)
	}

	b = append(b, src[last:]...)

	return string(b), n, nil
}

func parseMacro(args []string) (name string, l []macroArg, err error) {
	if len(args) < 2 {
		return "", nil, errors.Wrap(ErrMalformed, "want a name and at least one argument")
	}

	name, err = strconv.Unquote(args[0])
	if err != nil || name == "" || strings.ContainsAny(name, " \t\n") {
		return "", nil, errors.Wrap(ErrMalformed, "bad marker name %v", args[0])
	}

	for i, a := range args[1:] {
		p := strings.IndexByte(a, '(')
		if p < 0 {
			return name, nil, errors.Wrap(ErrMalformed, "argument %d: %v", i, a)
		}

		mut, ok := mutMacros[strings.TrimSpace(a[:p])]
		if !ok {
			return name, nil, errors.Wrap(ErrMalformed, "argument %d: unknown macro %v", i, a[:p])
		}

		sub, end, err := splitArgs(a, p)
		if err != nil {
			return name, nil, errors.Wrap(err, "argument %d", i)
		}

		if strings.TrimSpace(a[end:]) != "" || len(sub) != 3 {
			return name, nil, errors.Wrap(ErrMalformed, "argument %d: want (KIND, name, expr)", i)
		}

		k, err := tp.ParseKind(sub[0])
		if err != nil {
			return name, nil, errors.Wrap(ErrMalformed, "argument %d: %v", i, err)
		}

		if k.Constraint() == "" {
			return name, nil, errors.Wrap(ErrMalformed, "argument %d: %v can't be bound to a variable", i, k)
		}

		if !isIdent(sub[1]) {
			return name, nil, errors.Wrap(ErrMalformed, "argument %d: bad name %q", i, sub[1])
		}

		for _, x := range l {
			if x.Name == sub[1] {
				return name, nil, errors.Wrap(ErrDuplicateArg, "%v", sub[1])
			}
		}

		l = append(l, macroArg{
			Arg: Arg{
				Name: sub[1],
				Mut:  mut,
				Kind: k,
				Reg:  ArgReg(i),
			},
			Expr: sub[2],
		})
	}

	return name, l, nil
}

// appendAsm writes the inline asm statement.
// Operands are numbered outputs first, in declaration order, then inputs.
func appendAsm(b []byte, ind, name string, args []macroArg) []byte {
	op := make([]int, len(args))
	k := 0

	for i, a := range args {
		if a.Mut.Writes() {
			op[i] = k
			k++
		}
	}

	for i, a := range args {
		if !a.Mut.Writes() {
			op[i] = k
			k++
		}
	}

	b = append(b, "asm volatile (\n"...)
	b = hfmt.Appendf(b, "%s\t\"// %s %s\\n\\t\"\n", ind, StartMarker, name)

	for i, a := range args {
		line := appendArgLine(nil, "", i, a.Arg, "%"+strconv.Itoa(op[i]))
		line = line[:len(line)-1]

		b = hfmt.Appendf(b, "%s\t\"%s\\n\\t\"\n", ind, line)
	}

	b = hfmt.Appendf(b, "%s\t\"// %s\"\n", ind, EndMarker)

	b = hfmt.Appendf(b, "%s\t:", ind)
	b = appendOperands(b, args, true)
	b = hfmt.Appendf(b, "\n%s\t:", ind)
	b = appendOperands(b, args, false)
	b = hfmt.Appendf(b, "\n%s);", ind)

	return b
}

func appendOperands(b []byte, args []macroArg, outputs bool) []byte {
	sep := " "

	for _, a := range args {
		if a.Mut.Writes() != outputs {
			continue
		}

		var mod string

		switch a.Mut {
		case Mod:
			mod = "+"
		case Out:
			mod = "="
		}

		b = hfmt.Appendf(b, "%s\"%s%s\"(%s)", sep, mod, a.Kind.Constraint(), strings.TrimSpace(a.Expr))
		sep = ", "
	}

	return b
}

// splitArgs splits the parenthesized list starting at src[p] == '(' at top level commas.
// end is the index after the closing paren.
func splitArgs(src string, p int) (args []string, end int, err error) {
	depth := 0
	st := p + 1

	for i := p; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '\'':
			j, err := skipQuoted(src, i)
			if err != nil {
				return nil, i, err
			}

			i = j - 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--

			if depth == 0 {
				if c != ')' {
					return nil, i, errors.Wrap(ErrMalformed, "unbalanced %q", c)
				}

				if a := strings.TrimSpace(src[st:i]); a != "" || len(args) != 0 {
					args = append(args, a)
				}

				return args, i + 1, nil
			}
		case ',':
			if depth == 1 {
				args = append(args, strings.TrimSpace(src[st:i]))
				st = i + 1
			}
		}
	}

	return nil, len(src), errors.Wrap(ErrUnterminated, "missing ')'")
}

func skipQuoted(src string, i int) (int, error) {
	q := src[i]

	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case q:
			return j + 1, nil
		case '\n':
			return j, errors.Wrap(ErrMalformed, "newline in literal")
		}
	}

	return len(src), errors.Wrap(ErrUnterminated, "unterminated literal")
}

func skipSpaces(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}

		break
	}

	return i
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
