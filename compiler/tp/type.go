package tp

import (
	"math"
	"strconv"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
)

type (
	// Kind is a scalar element kind.
	// It is both the type of a stack value and the data type of an injection argument.
	Kind int

	kindInfo struct {
		Tag        string
		Short      string
		Constraint string
		Bits       int16
		Float      bool
		Signed     bool
	}
)

const (
	Invalid Kind = iota
	Pred
	B32
	U32
	S32
	U64
	S64
	F32
	F64

	numKinds
)

var kinds = [numKinds]kindInfo{
	Invalid: {Tag: "INVALID"},
	Pred:    {Tag: "PRED", Short: "p", Bits: 1},
	B32:     {Tag: "B32", Short: "b", Constraint: "r", Bits: 32},
	U32:     {Tag: "U32", Short: "u", Constraint: "r", Bits: 32},
	S32:     {Tag: "S32", Short: "s", Constraint: "r", Bits: 32, Signed: true},
	U64:     {Tag: "U64", Short: "ul", Constraint: "l", Bits: 64},
	S64:     {Tag: "S64", Short: "sl", Constraint: "l", Bits: 64, Signed: true},
	F32:     {Tag: "F32", Short: "f", Constraint: "f", Bits: 32, Float: true},
	F64:     {Tag: "F64", Short: "d", Constraint: "d", Bits: 64, Float: true},
}

// Kinds lists all valid kinds.
func Kinds() []Kind {
	return []Kind{Pred, B32, U32, S32, U64, S64, F32, F64}
}

// ParseKind accepts both the tag ("F32") and the ptx spelling ("f32", ".f32").
func ParseKind(s string) (Kind, error) {
	s = strings.TrimPrefix(s, ".")

	for k := Pred; k < numKinds; k++ {
		if strings.EqualFold(s, kinds[k].Tag) {
			return k, nil
		}
	}

	return Invalid, errors.New("unknown kind: %q", s)
}

func (k Kind) Valid() bool { return k > Invalid && k < numKinds }

func (k Kind) info() kindInfo {
	if !k.Valid() {
		return kinds[Invalid]
	}

	return kinds[k]
}

func (k Kind) String() string { return k.info().Tag }

// Mov is the ptx instruction type suffix: mov.<Mov>.
func (k Kind) Mov() string { return strings.ToLower(k.info().Tag) }

// Reg is the ptx register declaration type.
func (k Kind) Reg() string { return "." + k.Mov() }

// Short is used to name temporaries of this kind.
func (k Kind) Short() string { return k.info().Short }

// Constraint is the inline asm operand constraint.
// Empty means the kind can't be bound to a CUDA variable.
func (k Kind) Constraint() string { return k.info().Constraint }

func (k Kind) Size() int {
	if k == Pred {
		return 0
	}

	return int(k.info().Bits) / 8
}

func (k Kind) Float() bool  { return k.info().Float }
func (k Kind) Signed() bool { return k.info().Signed }

// Literal formats raw value bits as a ptx immediate.
func (k Kind) Literal(bits uint64) string {
	switch k {
	case F32:
		return string(hfmt.Appendf(nil, "0f%08X", uint32(bits)))
	case F64:
		return string(hfmt.Appendf(nil, "0d%016X", bits))
	case S32:
		return strconv.FormatInt(int64(int32(bits)), 10)
	case S64:
		return strconv.FormatInt(int64(bits), 10)
	case U32, B32:
		return strconv.FormatUint(uint64(uint32(bits)), 10)
	default:
		return strconv.FormatUint(bits, 10)
	}
}

// ParseLiteral parses a value of kind k into raw bits.
// Floats also accept the ptx hex forms 0fXXXXXXXX and 0dXXXXXXXXXXXXXXXX.
func (k Kind) ParseLiteral(s string) (bits uint64, err error) {
	if k.Float() && len(s) > 2 && (s[:2] == "0f" || s[:2] == "0d") {
		if k == F32 && s[1] != 'f' || k == F64 && s[1] != 'd' {
			return 0, errors.New("%v literal of kind %v", s[:2], k)
		}

		bits, err = strconv.ParseUint(s[2:], 16, int(k.info().Bits))
		if err != nil {
			return 0, errors.Wrap(err, "parse %v", k)
		}

		return bits, nil
	}

	switch k {
	case F32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, errors.Wrap(err, "parse %v", k)
		}

		return uint64(math.Float32bits(float32(v))), nil
	case F64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse %v", k)
		}

		return math.Float64bits(v), nil
	case S32, S64:
		v, err := strconv.ParseInt(s, 0, int(k.info().Bits))
		if err != nil {
			return 0, errors.Wrap(err, "parse %v", k)
		}

		return uint64(v), nil
	case U32, B32, U64:
		v, err := strconv.ParseUint(s, 0, int(k.info().Bits))
		if err != nil {
			return 0, errors.Wrap(err, "parse %v", k)
		}

		return v, nil
	default:
		return 0, errors.New("no literals of kind %v", k)
	}
}
