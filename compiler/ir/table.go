package ir

import "github.com/slowlang/stackptx/compiler/tp"

var DefaultOps = concat(
	binary(tp.F32, "add.f32", "add.ftz.f32", "sub.f32", "sub.ftz.f32", "mul.f32", "mul.ftz.f32",
		"div.rn.f32", "div.approx.ftz.f32", "min.f32", "min.ftz.f32", "max.f32", "max.ftz.f32"),
	unary(tp.F32, "neg.f32", "neg.ftz.f32", "abs.f32", "abs.ftz.f32", "sqrt.rn.f32", "sqrt.approx.ftz.f32",
		"rcp.rn.f32", "rcp.approx.ftz.f32", "rsqrt.approx.ftz.f32", "ex2.approx.ftz.f32", "lg2.approx.ftz.f32",
		"sin.approx.ftz.f32", "cos.approx.ftz.f32", "tanh.approx.f32"),
	ternary(tp.F32, "fma.rn.f32", "fma.rn.ftz.f32"),

	binary(tp.F64, "add.f64", "sub.f64", "mul.f64", "div.rn.f64", "min.f64", "max.f64"),
	unary(tp.F64, "neg.f64", "abs.f64", "sqrt.rn.f64", "rcp.rn.f64"),
	ternary(tp.F64, "fma.rn.f64"),

	binary(tp.S32, "add.s32", "sub.s32", "mul.lo.s32", "div.s32", "rem.s32", "min.s32", "max.s32"),
	unary(tp.S32, "neg.s32", "abs.s32"),
	ternary(tp.S32, "mad.lo.s32"),
	binary(tp.U32, "add.u32", "sub.u32", "mul.lo.u32", "div.u32", "rem.u32", "min.u32", "max.u32"),
	ternary(tp.U32, "mad.lo.u32"),
	binary(tp.B32, "and.b32", "or.b32", "xor.b32"),
	unary(tp.B32, "not.b32"),
	binary(tp.S64, "add.s64", "sub.s64", "mul.lo.s64"),
	binary(tp.U64, "add.u64", "sub.u64", "mul.lo.u64"),

	[]Op{
		op("shl.b32", tp.B32, tp.B32, tp.U32),
		op("shr.u32", tp.U32, tp.U32, tp.U32),
		op("shr.s32", tp.S32, tp.S32, tp.U32),

		op("cvt.rn.f32.s32", tp.F32, tp.S32),
		op("cvt.rn.f32.u32", tp.F32, tp.U32),
		op("cvt.rzi.s32.f32", tp.S32, tp.F32),
		op("cvt.rzi.u32.f32", tp.U32, tp.F32),
		op("cvt.f64.f32", tp.F64, tp.F32),
		op("cvt.rn.f32.f64", tp.F32, tp.F64),
		op("cvt.u64.u32", tp.U64, tp.U32),
		op("cvt.s64.s32", tp.S64, tp.S32),
		op("cvt.u32.u64", tp.U32, tp.U64),

		op("selp.f32", tp.F32, tp.F32, tp.F32, tp.Pred),
		op("selp.s32", tp.S32, tp.S32, tp.S32, tp.Pred),
		op("selp.u32", tp.U32, tp.U32, tp.U32, tp.Pred),

		op("and.pred", tp.Pred, tp.Pred, tp.Pred),
		op("or.pred", tp.Pred, tp.Pred, tp.Pred),
		op("xor.pred", tp.Pred, tp.Pred, tp.Pred),
		op("not.pred", tp.Pred, tp.Pred),

		{Asm: "membar.cta"},
	},

	compare(tp.F32, "f32"),
	compare(tp.S32, "s32"),
	compare(tp.U32, "u32"),
)

var DefaultSpecials = []Special{
	{Name: "tid_x", Reg: "%tid.x", Kind: tp.U32},
	{Name: "tid_y", Reg: "%tid.y", Kind: tp.U32},
	{Name: "tid_z", Reg: "%tid.z", Kind: tp.U32},
	{Name: "ntid_x", Reg: "%ntid.x", Kind: tp.U32},
	{Name: "ntid_y", Reg: "%ntid.y", Kind: tp.U32},
	{Name: "ntid_z", Reg: "%ntid.z", Kind: tp.U32},
	{Name: "ctaid_x", Reg: "%ctaid.x", Kind: tp.U32},
	{Name: "ctaid_y", Reg: "%ctaid.y", Kind: tp.U32},
	{Name: "ctaid_z", Reg: "%ctaid.z", Kind: tp.U32},
	{Name: "nctaid_x", Reg: "%nctaid.x", Kind: tp.U32},
	{Name: "nctaid_y", Reg: "%nctaid.y", Kind: tp.U32},
	{Name: "nctaid_z", Reg: "%nctaid.z", Kind: tp.U32},
	{Name: "laneid", Reg: "%laneid", Kind: tp.U32},
	{Name: "warpid", Reg: "%warpid", Kind: tp.U32},
	{Name: "clock", Reg: "%clock", Kind: tp.U32},
	{Name: "clock64", Reg: "%clock64", Kind: tp.U64},
}

func op(asm string, out tp.Kind, in ...tp.Kind) Op {
	return Op{Asm: asm, In: in, Out: []tp.Kind{out}}
}

func unary(k tp.Kind, asm ...string) []Op {
	return nary(k, 1, asm)
}

func binary(k tp.Kind, asm ...string) []Op {
	return nary(k, 2, asm)
}

func ternary(k tp.Kind, asm ...string) []Op {
	return nary(k, 3, asm)
}

func nary(k tp.Kind, n int, asm []string) []Op {
	l := make([]Op, len(asm))

	for i, a := range asm {
		in := make([]tp.Kind, n)

		for j := range in {
			in[j] = k
		}

		l[i] = op(a, k, in...)
	}

	return l
}

func compare(k tp.Kind, suffix string) []Op {
	var l []Op

	for _, c := range []string{"eq", "ne", "lt", "le", "gt", "ge"} {
		l = append(l, op("setp."+c+"."+suffix, tp.Pred, k, k))
	}

	return l
}

func concat(ls ...[]Op) []Op {
	var r []Op

	for _, l := range ls {
		r = append(r, l...)
	}

	return r
}
