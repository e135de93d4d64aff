package lower

import (
	"fmt"
	"math"

	"github.com/gogpu/nir/ir"
)

// DoubleOps selects which unsupported double-precision operations
// LowerDoubles rewrites. Operations whose flag is unset pass through
// unmodified.
type DoubleOps uint32

const (
	LowerDRcp DoubleOps = 1 << iota
	LowerDSqrt
	LowerDRsq
	LowerDTrunc
	LowerDFloor
	LowerDCeil
	LowerDFract
	LowerDRoundEven
)

// LowerDAll enables every double-precision lowering.
const LowerDAll = LowerDRcp | LowerDSqrt | LowerDRsq | LowerDTrunc |
	LowerDFloor | LowerDCeil | LowerDFract | LowerDRoundEven

// LowerDoubles rewrites the enabled double-precision operations in
// every function of the module into sequences of supported primitives:
// pack/unpack of a double into two 32-bit words, conversion to and from
// single precision, double add/mul/fma, conditional select, and 32-bit
// integer and float arithmetic. Reports whether anything changed.
func LowerDoubles(m *ir.Module, ops DoubleOps) bool {
	progress := false
	for _, fn := range m.Functions {
		if LowerDoublesFunc(fn, ops) {
			progress = true
		}
	}
	return progress
}

// LowerDoublesFunc runs the double-op lowering over a single function.
func LowerDoublesFunc(fn *ir.Function, ops DoubleOps) bool {
	progress := false
	b := ir.NewBuilder(fn)
	for _, blk := range fn.Blocks() {
		// Instructions keep their identity across the block splits the
		// branchy decompositions perform, so snapshotting the next
		// pointer before each rewrite keeps the walk safe.
		for in := blk.First(); in != nil; {
			next := in.Next()
			if alu, ok := in.(*ir.Alu); ok && lowerDoublesInstr(b, alu, ops) {
				progress = true
			}
			in = next
		}
	}
	return progress
}

func lowerDoublesInstr(b *ir.Builder, alu *ir.Alu, ops DoubleOps) bool {
	switch alu.Op {
	case ir.OpFRcp:
		if ops&LowerDRcp == 0 {
			return false
		}
	case ir.OpFSqrt:
		if ops&LowerDSqrt == 0 {
			return false
		}
	case ir.OpFRsq:
		if ops&LowerDRsq == 0 {
			return false
		}
	case ir.OpFTrunc:
		if ops&LowerDTrunc == 0 {
			return false
		}
	case ir.OpFFloor:
		if ops&LowerDFloor == 0 {
			return false
		}
	case ir.OpFCeil:
		if ops&LowerDCeil == 0 {
			return false
		}
	case ir.OpFFract:
		if ops&LowerDFract == 0 {
			return false
		}
	case ir.OpFRoundEven:
		if ops&LowerDRoundEven == 0 {
			return false
		}
	default:
		return false
	}

	dest := alu.Dest.Dest.SSA
	if dest == nil {
		panic(fmt.Sprintf("%s fed to double lowering with a register destination", alu.Op))
	}
	if dest.BitSize != 64 {
		return false
	}

	b.SetCursorBefore(alu)
	src := b.MovAlu(alu.Srcs[0], dest.NumComponents)

	var result *ir.Value
	switch alu.Op {
	case ir.OpFRcp:
		result = lowerRcp(b, src)
	case ir.OpFSqrt:
		result = lowerSqrtRsq(b, src, true)
	case ir.OpFRsq:
		result = lowerSqrtRsq(b, src, false)
	case ir.OpFTrunc:
		result = lowerTrunc(b, src)
	case ir.OpFFloor:
		result = lowerFloor(b, src)
	case ir.OpFCeil:
		result = lowerCeil(b, src)
	case ir.OpFFract:
		result = lowerFract(b, src)
	case ir.OpFRoundEven:
		result = lowerRoundEven(b, src)
	default:
		panic(fmt.Sprintf("unhandled opcode %s", alu.Op))
	}

	dest.RewriteUses(result)
	ir.Remove(alu)
	return true
}

// setExponent overwrites the 11-bit biased exponent field of a double
// (bits 52-62), leaving sign and mantissa untouched.
func setExponent(b *ir.Builder, src, exp *ir.Value) *ir.Value {
	lo := b.Unpack64Lo(src)
	hi := b.Unpack64Hi(src)
	// The exponent is bits 20-30 of the high word.
	newHi := b.Bfi(b.ImmUint(0x7ff00000), exp, hi)
	return b.Pack64(lo, newHi)
}

// getExponent extracts the biased exponent field of a double.
func getExponent(b *ir.Builder, src *ir.Value) *ir.Value {
	hi := b.Unpack64Hi(src)
	return b.UBfe(hi, b.ImmInt(20), b.ImmInt(11))
}

// signedInf returns infinity carrying the sign of zero, which must be
// +/-0. Only the sign bit of zero can be set, so OR-ing it into the
// high word of +inf produces the correctly-signed infinity.
func signedInf(b *ir.Builder, zero *ir.Value) *ir.Value {
	zeroHi := b.Unpack64Hi(zero)
	infHi := b.IOr(b.ImmUint(0x7ff00000), zeroHi)
	return b.Pack64(b.ImmInt(0), infHi)
}

// fixInvResult patches the result of an inverse operation: flush to 0
// when the computed exponent is too small to represent (denormal) or
// the input was infinity, and produce the correctly-signed infinity
// when the input was zero. Positive/negative zero distinction of the
// flushed result is not preserved.
func fixInvResult(b *ir.Builder, res, src, exp *ir.Value) *ir.Value {
	res = b.BCSel(b.IOr(b.IGe(b.ImmInt(0), exp),
		b.FEq(b.FAbs(src), b.ImmDouble(math.Inf(1)))),
		b.ImmDouble(0), res)

	res = b.BCSel(b.FNe(src, b.ImmDouble(0)), res, signedInf(b, src))

	return res
}

func lowerRcp(b *ir.Builder, src *ir.Value) *ir.Value {
	// Normalize the input exponent to 1023 to avoid range issues, then
	// seed with the single-precision hardware reciprocal.
	srcNorm := setExponent(b, src, b.ImmInt(1023))
	ra := b.F32ToF64(b.FRcp(b.F64ToF32(srcNorm)))

	// Undo the range reduction on the result's exponent. Whether this
	// went out of range is checked in fixInvResult.
	newExp := b.ISub(getExponent(b, ra),
		b.ISub(getExponent(b, src), b.ImmInt(1023)))
	ra = setExponent(b, ra, newExp)

	// Two Newton-Raphson steps recover full double precision from the
	// ~24-bit seed; each step doubles the precision. The usual
	// x' = x * (2 - x*src) is rearranged as x' = x - x*(x*src - 1) so
	// both halves are fused multiply-adds.
	ra = b.FFma(b.FNeg(ra), b.FFma(ra, src, b.ImmDouble(-1)), ra)
	ra = b.FFma(b.FNeg(ra), b.FFma(ra, src, b.ImmDouble(-1)), ra)

	return fixInvResult(b, ra, src, newExp)
}

func lowerSqrtRsq(b *ir.Builder, src *ir.Value, sqrt bool) *ir.Value {
	// 1/sqrt(m * 2^e) = 1/sqrt(m) * 2^(-e/2) when e is even, and
	// 1/sqrt(m * 2) * 2^(-(e-1)/2) when e is odd. Force the reduced
	// exponent to 1023 or 1024 depending on the parity of e, and
	// subtract e/2 (shifted right, rounding toward negative infinity)
	// from the seed's exponent afterwards.
	unbiased := b.ISub(getExponent(b, src), b.ImmInt(1023))
	even := b.IAnd(unbiased, b.ImmInt(1))
	half := b.IShr(unbiased, b.ImmInt(1))

	srcNorm := setExponent(b, src, b.IAdd(b.ImmInt(1023), even))
	ra := b.F32ToF64(b.FRsq(b.F64ToF32(srcNorm)))
	newExp := b.ISub(getExponent(b, ra), half)
	ra = setExponent(b, ra, newExp)

	// One round of Goldschmidt's algorithm on the rsqrt estimate y0:
	//
	//	h0 = .5 * y0
	//	g0 = a * y0
	//	r0 = .5 - h0 * g0
	//	h1 = h0 * r0 + h0
	//
	// after which g0*r0 + g0 ~= sqrt(a) and h1 ~= 1/(2*sqrt(a)).
	// Another Goldschmidt round would stop referring back to a and
	// accumulate rounding error, so the final correction is one
	// Newton-Raphson step instead, reusing the half-products so no
	// reciprocal is needed:
	//
	//	sqrt:  g1 = g0 * r0 + g0
	//	       r1 = a - g1 * g1
	//	       g2 = h1 * r1 + g1
	//	rsqrt: y1 = 2 * h1
	//	       r1 = .5 - y1 * (h1 * a)
	//	       y2 = y1 * r1 + y1
	oneHalf := b.ImmDouble(0.5)
	h0 := b.FMul(oneHalf, ra)
	g0 := b.FMul(src, ra)
	r0 := b.FFma(b.FNeg(h0), g0, oneHalf)
	h1 := b.FFma(h0, r0, h0)

	var res *ir.Value
	if sqrt {
		g1 := b.FFma(g0, r0, g0)
		r1 := b.FFma(b.FNeg(g1), g1, src)
		res = b.FFma(h1, r1, g1)
	} else {
		y1 := b.FMul(b.ImmDouble(2), h1)
		r1 := b.FFma(b.FNeg(y1), b.FMul(h1, src), oneHalf)
		res = b.FFma(y1, r1, y1)
	}

	if sqrt {
		// sqrt passes 0 and +inf through unchanged.
		res = b.BCSel(b.IOr(b.FEq(src, b.ImmDouble(0)),
			b.FEq(src, b.ImmDouble(math.Inf(1)))),
			src, res)
	} else {
		res = fixInvResult(b, res, src, newExp)
	}

	return res
}

func lowerTrunc(b *ir.Builder, src *ir.Value) *ir.Value {
	unbiased := b.ISub(getExponent(b, src), b.ImmInt(1023))
	fracBits := b.ISub(b.ImmInt(52), unbiased)

	// Build a mask of the mantissa bits below the binary point:
	//
	//	if (exp < 0)       mask = 0x7fffffffffffffff  (result is +/-0)
	//	else if (exp > 52) mask = 0                   (already integral)
	//	else               mask = (1 << fracBits) - 1
	//
	// The in-range branch needs a 64-bit shift expressed in 32-bit
	// arithmetic, so it goes to real control flow split across the two
	// words; the other two cases share a select in the else branch.
	cond := b.IAnd(b.IGe(unbiased, b.ImmInt(0)),
		b.ILt(unbiased, b.ImmInt(53)))
	iff := b.InsertIf(cond)

	b.SetCursorAtEndOfThen(iff)
	maskLo := b.BCSel(b.IGe(fracBits, b.ImmInt(32)),
		b.ImmUint(0xffffffff),
		b.ISub(b.IShl(b.ImmInt(1), fracBits), b.ImmInt(1)))
	maskHi := b.BCSel(b.ILt(fracBits, b.ImmInt(33)),
		b.ImmInt(0),
		b.ISub(b.IShl(b.ImmInt(1), b.ISub(fracBits, b.ImmInt(32))), b.ImmInt(1)))
	thenDest := b.Pack64(maskLo, maskHi)

	b.SetCursorAtEndOfElse(iff)
	elseDest := b.BCSel(b.ILt(unbiased, b.ImmInt(0)),
		b.Pack64(b.ImmUint(0xffffffff), b.ImmUint(0x7fffffff)),
		b.ImmDouble(0))

	b.SetCursorAfterIf(iff)
	mask := b.Phi(
		ir.PhiEntry{Pred: iff.LastThenBlock(), Src: ir.SrcForSSA(thenDest)},
		ir.PhiEntry{Pred: iff.LastElseBlock(), Src: ir.SrcForSSA(elseDest)},
	)

	// Clear the masked mantissa bits in both words.
	maskLo = b.Unpack64Lo(mask)
	maskHi = b.Unpack64Hi(mask)
	srcLo := b.Unpack64Lo(src)
	srcHi := b.Unpack64Hi(src)
	zero := b.ImmInt(0)
	return b.Pack64(b.Bfi(maskLo, zero, srcLo), b.Bfi(maskHi, zero, srcHi))
}

func lowerFloor(b *ir.Builder, src *ir.Value) *ir.Value {
	// floor(x) = trunc(x) for x >= 0; for x < 0 it is x itself when x
	// is integral and trunc(x) - 1 otherwise.
	tr := lowerTrunc(b, src)
	return b.BCSel(b.FGe(src, b.ImmDouble(0)),
		tr,
		b.BCSel(b.FNe(b.FSub(src, tr), b.ImmDouble(0)),
			b.FSub(tr, b.ImmDouble(1)),
			src))
}

func lowerCeil(b *ir.Builder, src *ir.Value) *ir.Value {
	// ceil(x) = trunc(x) for x < 0, -floor(-x) otherwise.
	tr := lowerTrunc(b, src)
	cond := b.FLt(src, b.ImmDouble(0))
	return b.BCSel(cond, tr, b.FNeg(lowerFloor(b, b.FNeg(src))))
}

func lowerFract(b *ir.Builder, src *ir.Value) *ir.Value {
	return b.FSub(src, lowerFloor(b, src))
}

func lowerRoundEven(b *ir.Builder, src *ir.Value) *ir.Value {
	// When fract(x) != 0.5 round as floor(x + 0.5). On a tie the
	// direction follows mod(|x|, 2):
	//
	//	< 1: truncate      (0.5 -> 0, 2.5 -> 2, -0.5 -> -0)
	//	>= 1: away from 0  (1.5 -> 2, 3.5 -> 4, -1.5 -> -2)
	//
	// The non-tie case is by far the more likely, so it goes to
	// control flow and selects handle the tie.
	fract := lowerFract(b, src)

	iff := b.InsertIf(b.FNe(fract, b.ImmDouble(0.5)))

	b.SetCursorAtEndOfThen(iff)
	thenDest := lowerFloor(b, b.FAdd(src, b.ImmDouble(0.5)))

	b.SetCursorAtEndOfElse(iff)
	// mod(|x|, 2) = |x| - 2 * floor(|x| / 2)
	two := b.ImmDouble(2)
	absSrc := b.FAbs(src)
	mod := b.FSub(absSrc,
		b.FMul(two, lowerFloor(b, b.FMul(absSrc, b.ImmDouble(0.5)))))
	elseDest := b.BCSel(b.FLt(mod, b.ImmDouble(1)),
		lowerTrunc(b, src),
		b.BCSel(b.FGe(src, b.ImmDouble(0)),
			b.FAdd(src, b.ImmDouble(0.5)),
			b.FSub(src, b.ImmDouble(0.5))))

	b.SetCursorAfterIf(iff)
	return b.Phi(
		ir.PhiEntry{Pred: iff.LastThenBlock(), Src: ir.SrcForSSA(thenDest)},
		ir.PhiEntry{Pred: iff.LastElseBlock(), Src: ir.SrcForSSA(elseDest)},
	)
}
