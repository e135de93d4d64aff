package lower

import (
	"math"
	"math/big"
	"testing"

	"github.com/gogpu/nir/ir"
)

// buildUnary constructs a function computing op(x) on a double
// immediate and copying the result into out, so the evaluated bits can
// be read back after lowering.
func buildUnary(t *testing.T, op ir.Opcode, x float64) (*ir.Function, *ir.Value) {
	t.Helper()
	m := ir.NewModule()
	fn := m.NewFunction("main")
	b := ir.NewBuilder(fn)
	src := b.ImmDouble(x)

	var v *ir.Value
	switch op {
	case ir.OpFRcp:
		v = b.FRcp(src)
	case ir.OpFSqrt:
		v = b.FSqrt(src)
	case ir.OpFRsq:
		v = b.FRsq(src)
	case ir.OpFTrunc:
		v = b.FTrunc(src)
	case ir.OpFFloor:
		v = b.FFloor(src)
	case ir.OpFCeil:
		v = b.FCeil(src)
	case ir.OpFFract:
		v = b.FFract(src)
	case ir.OpFRoundEven:
		v = b.FRoundEven(src)
	default:
		t.Fatalf("no unary builder for %s", op)
	}
	out := b.Mov(v)
	return fn, out
}

// countOps returns how many ALU instructions in fn have the given
// opcode at the given destination width.
func countOps(fn *ir.Function, op ir.Opcode, bitSize uint8) int {
	n := 0
	for _, blk := range fn.Blocks() {
		for in := blk.First(); in != nil; in = in.Next() {
			alu, ok := in.(*ir.Alu)
			if !ok || alu.Op != op {
				continue
			}
			var w uint8
			if d := alu.Dest.Dest.SSA; d != nil {
				w = d.BitSize
			} else {
				w = alu.Dest.Dest.Reg.Reg.BitSize
			}
			if w == bitSize {
				n++
			}
		}
	}
	return n
}

var loweredOps = []ir.Opcode{
	ir.OpFRcp, ir.OpFSqrt, ir.OpFRsq, ir.OpFTrunc,
	ir.OpFFloor, ir.OpFCeil, ir.OpFFract, ir.OpFRoundEven,
}

// checkFullyLowered fails if any 64-bit occurrence of a lowered op
// survives, including ones the decompositions themselves generate. One
// pass must reach a fixed point.
func checkFullyLowered(t *testing.T, fn *ir.Function) {
	t.Helper()
	for _, op := range loweredOps {
		if n := countOps(fn, op, 64); n != 0 {
			t.Errorf("%d 64-bit %s instructions survive lowering", n, op)
		}
	}
}

// lowerUnary builds op(x), lowers it with all flags, checks the result
// stream, and returns the evaluated result bits.
func lowerUnary(t *testing.T, op ir.Opcode, x float64) uint64 {
	t.Helper()
	fn, out := buildUnary(t, op, x)
	if !LowerDoublesFunc(fn, LowerDAll) {
		t.Fatalf("lowering %s(%v) reported no progress", op, x)
	}
	checkFullyLowered(t, fn)

	m := newMachine()
	m.run(fn)
	return m.values[out][0]
}

func ulpDiff(a, b float64) uint64 {
	ia := orderedBits(a)
	ib := orderedBits(b)
	if ia < ib {
		return uint64(ib - ia)
	}
	return uint64(ia - ib)
}

// orderedBits maps float bit patterns to integers that increase
// monotonically with the float value.
func orderedBits(x float64) int64 {
	b := int64(math.Float64bits(x))
	if b < 0 {
		return math.MinInt64 - b
	}
	return b
}

func checkBits(t *testing.T, op ir.Opcode, x, want float64) {
	t.Helper()
	got := lowerUnary(t, op, x)
	if got != math.Float64bits(want) {
		t.Errorf("%s(%v) = %v (%#016x), want %v (%#016x)",
			op, x, math.Float64frombits(got), got, want, math.Float64bits(want))
	}
}

func checkUlps(t *testing.T, op ir.Opcode, x, want float64, tol uint64) {
	t.Helper()
	got := math.Float64frombits(lowerUnary(t, op, x))
	if d := ulpDiff(got, want); d > tol {
		t.Errorf("%s(%v) = %v, want %v (off by %d ulps, tolerance %d)",
			op, x, got, want, d, tol)
	}
}

var roundOps = []struct {
	op  ir.Opcode
	ref func(float64) float64
}{
	{ir.OpFTrunc, math.Trunc},
	{ir.OpFFloor, math.Floor},
	{ir.OpFCeil, math.Ceil},
	{ir.OpFFract, func(x float64) float64 { return x - math.Floor(x) }},
}

func TestLowerRoundingOps(t *testing.T) {
	inputs := []float64{
		0, math.Copysign(0, -1),
		0.25, -0.25, 0.5, -0.5, 0.75, -0.75,
		1, -1, 1.5, -1.5, 1.9, -1.9,
		2, -2, 2.5, -2.5, 3.5, -3.5,
		math.Pi, -math.Pi, math.E,
		123456.789, -123456.789,
		// Around the integral threshold at 2^52.
		math.Ldexp(1, 51) + 0.5, math.Ldexp(1, 52), math.Ldexp(1, 53),
		1e300, -1e300,
		// Denormals truncate to signed zero.
		5e-324, -5e-324, 1e-310,
		math.Inf(1), math.Inf(-1),
	}
	for _, tc := range roundOps {
		for _, x := range inputs {
			checkBits(t, tc.op, x, tc.ref(x))
		}
	}
}

func TestLowerTruncExponentSweep(t *testing.T) {
	for e := -60; e <= 60; e++ {
		x := math.Ldexp(1.640625, e)
		checkBits(t, ir.OpFTrunc, x, math.Trunc(x))
		checkBits(t, ir.OpFTrunc, -x, math.Trunc(-x))
		checkBits(t, ir.OpFFloor, x, math.Floor(x))
		checkBits(t, ir.OpFFloor, -x, math.Floor(-x))
	}
}

func TestLowerRoundEvenNearest(t *testing.T) {
	inputs := []float64{
		0, 0.25, 0.75, -0.75, 1, -1, 1.9, -1.9, 2, -2,
		math.Pi, -math.Pi, math.E, 123456.789, -123456.789,
		math.Ldexp(1, 52), math.Ldexp(1, 53), 1e300, -1e300,
		1e-310, math.Inf(1), math.Inf(-1),
	}
	for _, x := range inputs {
		checkBits(t, ir.OpFRoundEven, x, math.RoundToEven(x))
	}

	// Off the tie the result comes from floor(x + 0.5), which rounds
	// negative inputs above -0.5 to positive zero.
	for _, x := range []float64{math.Copysign(0, -1), -0.25, -5e-324} {
		checkBits(t, ir.OpFRoundEven, x, 0)
	}
}

func TestLowerRoundEvenTies(t *testing.T) {
	// On a tie the result is even; elsewhere it is the nearest integer.
	cases := []struct{ in, want float64 }{
		{0.5, 0}, {1.5, 2}, {2.5, 2}, {3.5, 4}, {4.5, 4},
		{-0.5, math.Copysign(0, -1)}, {-1.5, -2}, {-2.5, -2}, {-3.5, -4},
		{10.5, 10}, {11.5, 12},
	}
	for _, tc := range cases {
		checkBits(t, ir.OpFRoundEven, tc.in, tc.want)
	}
}

func TestLowerRcpExactPowersOfTwo(t *testing.T) {
	for e := -40; e <= 40; e++ {
		x := math.Ldexp(1, e)
		checkBits(t, ir.OpFRcp, x, 1/x)
		checkBits(t, ir.OpFRcp, -x, -1/x)
	}
}

func TestLowerRcpAccuracy(t *testing.T) {
	inputs := []float64{
		1.1, -1.1, 2.7, math.Pi, math.E, 0.3333333333333333,
		3, 7, 9.99, 1e10, 1e-10, 123456.789, 6.02e23, -0.007,
	}
	for _, x := range inputs {
		checkUlps(t, ir.OpFRcp, x, 1/x, 1)
	}
}

func TestLowerRcpSpecials(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, math.Inf(1)},
		{math.Copysign(0, -1), math.Inf(-1)},
		// Reciprocals of infinity and of values whose reciprocal is
		// denormal flush to +0.
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
		{1e308, 0},
	}
	for _, tc := range cases {
		checkBits(t, ir.OpFRcp, tc.in, tc.want)
	}
}

func TestLowerSqrtExact(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{1, 1}, {4, 2}, {16, 4}, {0.25, 0.5}, {0.0625, 0.25},
		{math.Ldexp(1, 40), math.Ldexp(1, 20)},
		{math.Ldexp(1, -40), math.Ldexp(1, -20)},
	}
	for _, tc := range cases {
		checkBits(t, ir.OpFSqrt, tc.in, tc.want)
	}
}

func TestLowerSqrtAccuracy(t *testing.T) {
	inputs := []float64{
		2, 3, 5, 7, 0.5, 1.5, math.Pi, 10, 1e10, 1e-10,
		123456.789, 2.2250738585072014e-308, 1e300,
	}
	for _, x := range inputs {
		checkUlps(t, ir.OpFSqrt, x, math.Sqrt(x), 1)
	}
}

func TestLowerSqrtSpecials(t *testing.T) {
	// Zero and +inf pass through with their sign preserved.
	cases := []struct{ in, want float64 }{
		{0, 0},
		{math.Copysign(0, -1), math.Copysign(0, -1)},
		{math.Inf(1), math.Inf(1)},
	}
	for _, tc := range cases {
		checkBits(t, ir.OpFSqrt, tc.in, tc.want)
	}
}

// rsqRef computes a correctly rounded 1/sqrt(x) through extended
// precision, since composing math.Sqrt and a division can itself be a
// ulp off.
func rsqRef(x float64) float64 {
	b := new(big.Float).SetPrec(200).SetFloat64(x)
	b.Sqrt(b)
	b.Quo(new(big.Float).SetPrec(200).SetInt64(1), b)
	f, _ := b.Float64()
	return f
}

func TestLowerRsqExact(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{1, 1}, {4, 0.5}, {0.25, 2}, {16, 0.25}, {0.0625, 4},
		{math.Ldexp(1, 40), math.Ldexp(1, -20)},
	}
	for _, tc := range cases {
		checkBits(t, ir.OpFRsq, tc.in, tc.want)
	}
}

func TestLowerRsqAccuracy(t *testing.T) {
	inputs := []float64{
		2, 3, 5, 0.5, 1.5, math.Pi, 10, 100, 1e10, 1e-10, 123456.789,
	}
	for _, x := range inputs {
		checkUlps(t, ir.OpFRsq, x, rsqRef(x), 2)
	}
}

func TestLowerRsqSpecials(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, math.Inf(1)},
		{math.Copysign(0, -1), math.Inf(-1)},
		{math.Inf(1), 0},
	}
	for _, tc := range cases {
		checkBits(t, ir.OpFRsq, tc.in, tc.want)
	}
}

func TestLowerDoublesRespectsFlags(t *testing.T) {
	fn, _ := buildUnary(t, ir.OpFTrunc, 1.5)
	if LowerDoublesFunc(fn, LowerDAll&^LowerDTrunc) {
		t.Fatal("lowering reported progress with ftrunc disabled")
	}
	if n := countOps(fn, ir.OpFTrunc, 64); n != 1 {
		t.Fatalf("ftrunc count = %d, want 1", n)
	}
}

func TestLowerDoublesSkips32Bit(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("main")
	b := ir.NewBuilder(fn)
	out := b.Mov(b.FRcp(b.ImmFloat(4)))

	if LowerDoublesFunc(fn, LowerDAll) {
		t.Fatal("lowering reported progress on a 32-bit frcp")
	}
	if n := countOps(fn, ir.OpFRcp, 32); n != 1 {
		t.Fatalf("32-bit frcp count = %d, want 1", n)
	}

	mach := newMachine()
	mach.run(fn)
	if got := mach.values[out][0]; got != uint64(math.Float32bits(0.25)) {
		t.Fatalf("frcp(4) = %#x, want %#x", got, math.Float32bits(0.25))
	}
}

func TestLowerDoublesModule(t *testing.T) {
	m := ir.NewModule()
	fa := m.NewFunction("a")
	b := ir.NewBuilder(fa)
	b.Mov(b.FSqrt(b.ImmDouble(2)))

	fb := m.NewFunction("b")
	b = ir.NewBuilder(fb)
	b.Mov(b.FAdd(b.ImmDouble(1), b.ImmDouble(2)))

	if !LowerDoubles(m, LowerDAll) {
		t.Fatal("module lowering reported no progress")
	}
	checkFullyLowered(t, fa)
	if n := countOps(fb, ir.OpFAdd, 64); n != 1 {
		t.Fatalf("unrelated function changed: fadd count = %d, want 1", n)
	}
}
