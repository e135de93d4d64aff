package lower

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gogpu/nir/ir"
)

// machine executes a function body on concrete bit patterns, so the
// rewritten instruction streams can be checked against real IEEE-754
// arithmetic. It supports everything the passes produce: straight-line
// code, if regions, phis, registers with write masks, and swizzles.
type machine struct {
	values map[*ir.Value][4]uint64
	regs   map[*ir.Register][4]uint64

	// pred is the most recently completed block, used to resolve phis.
	pred *ir.Block
}

func newMachine() *machine {
	return &machine{
		values: make(map[*ir.Value][4]uint64),
		regs:   make(map[*ir.Register][4]uint64),
	}
}

func (m *machine) setReg(r *ir.Register, vals [4]uint64) {
	m.regs[r] = vals
}

func (m *machine) run(fn *ir.Function) {
	m.execNodes(fn.Body.Nodes)
}

func (m *machine) execNodes(nodes []ir.CFNode) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *ir.Block:
			m.execBlock(n)
		case *ir.If:
			if m.readSrc(n.Condition, 0) != 0 {
				m.execNodes(n.Then)
			} else {
				m.execNodes(n.Else)
			}
		default:
			panic(fmt.Sprintf("unknown CF node: %T", n))
		}
	}
}

func (m *machine) execBlock(blk *ir.Block) {
	for in := blk.First(); in != nil; in = in.Next() {
		switch in := in.(type) {
		case *ir.LoadConst:
			m.values[in.Def] = in.Values
		case *ir.Phi:
			matched := false
			for _, e := range in.Entries {
				if e.Pred == m.pred {
					m.values[in.Def] = m.readAllSrc(e.Src)
					matched = true
					break
				}
			}
			if !matched {
				panic(fmt.Sprintf("phi v%d has no entry for predecessor b%d",
					in.Def.Index, m.pred.Index))
			}
		case *ir.Alu:
			m.execAlu(in)
		default:
			panic(fmt.Sprintf("unknown instruction: %T", in))
		}
	}
	m.pred = blk
}

func (m *machine) readSrc(s ir.Src, comp uint8) uint64 {
	if s.SSA != nil {
		return m.mustValue(s.SSA)[comp]
	}
	vals, ok := m.regs[s.Reg.Reg]
	if !ok {
		panic(fmt.Sprintf("read of unwritten register r%d", s.Reg.Reg.Index))
	}
	return vals[comp]
}

func (m *machine) readAllSrc(s ir.Src) [4]uint64 {
	if s.SSA != nil {
		return m.mustValue(s.SSA)
	}
	return m.regs[s.Reg.Reg]
}

func (m *machine) mustValue(v *ir.Value) [4]uint64 {
	vals, ok := m.values[v]
	if !ok {
		panic(fmt.Sprintf("read of unevaluated value v%d", v.Index))
	}
	return vals
}

func (m *machine) execAlu(a *ir.Alu) {
	read := func(i int, comp uint8) uint64 {
		return m.readSrc(a.Srcs[i].Src, a.Srcs[i].Swizzle[comp])
	}

	var width uint8
	var out [4]uint64
	if d := a.Dest.Dest.SSA; d != nil {
		width = d.BitSize
	} else {
		width = a.Dest.Dest.Reg.Reg.BitSize
	}

	switch {
	case a.Op.IsVec():
		si := 0
		for c := uint8(0); c < 4; c++ {
			if a.Dest.WriteMask&(1<<c) == 0 {
				continue
			}
			out[c] = m.readSrc(a.Srcs[si].Src, a.Srcs[si].Swizzle[0])
			si++
		}
	case a.Op.Info().Reduction:
		dot := m.evalDot(a, read)
		for c := uint8(0); c < 4; c++ {
			out[c] = dot
		}
	default:
		for c := uint8(0); c < 4; c++ {
			srcs := make([]uint64, len(a.Srcs))
			for i := range a.Srcs {
				srcs[i] = read(i, c)
			}
			out[c] = evalOp(a.Op, width, srcs)
		}
	}

	if d := a.Dest.Dest.SSA; d != nil {
		m.values[d] = out
		return
	}
	reg := a.Dest.Dest.Reg.Reg
	cur := m.regs[reg]
	for c := uint8(0); c < 4; c++ {
		if a.Dest.WriteMask&(1<<c) != 0 {
			cur[c] = out[c]
		}
	}
	m.regs[reg] = cur
}

func (m *machine) evalDot(a *ir.Alu, read func(int, uint8) uint64) uint64 {
	var n uint8
	switch a.Op {
	case ir.OpFDot2:
		n = 2
	case ir.OpFDot3:
		n = 3
	case ir.OpFDot4:
		n = 4
	default:
		panic(fmt.Sprintf("unknown reduction op %s", a.Op))
	}
	width := a.Srcs[0].Src.BitSize()
	if width == 64 {
		sum := 0.0
		for c := uint8(0); c < n; c++ {
			sum += f64(read(0, c)) * f64(read(1, c))
		}
		return b64(sum)
	}
	sum := float32(0)
	for c := uint8(0); c < n; c++ {
		sum += f32(read(0, c)) * f32(read(1, c))
	}
	return b32f(sum)
}

func f64(x uint64) float64  { return math.Float64frombits(x) }
func b64(x float64) uint64  { return math.Float64bits(x) }
func f32(x uint64) float32  { return math.Float32frombits(uint32(x)) }
func b32f(x float32) uint64 { return uint64(math.Float32bits(x)) }

func boolBits(c bool) uint64 {
	if c {
		return 0xffffffff
	}
	return 0
}

func evalFloat1(width uint8, x uint64, f func(float64) float64) uint64 {
	if width == 64 {
		return b64(f(f64(x)))
	}
	return b32f(float32(f(float64(f32(x)))))
}

func evalOp(op ir.Opcode, width uint8, s []uint64) uint64 {
	switch op {
	case ir.OpMov:
		return s[0]

	case ir.OpFAdd:
		if width == 32 {
			return b32f(f32(s[0]) + f32(s[1]))
		}
		return b64(f64(s[0]) + f64(s[1]))
	case ir.OpFSub:
		if width == 32 {
			return b32f(f32(s[0]) - f32(s[1]))
		}
		return b64(f64(s[0]) - f64(s[1]))
	case ir.OpFMul:
		if width == 32 {
			return b32f(f32(s[0]) * f32(s[1]))
		}
		return b64(f64(s[0]) * f64(s[1]))
	case ir.OpFFma:
		if width == 32 {
			return b32f(float32(math.FMA(float64(f32(s[0])), float64(f32(s[1])), float64(f32(s[2])))))
		}
		return b64(math.FMA(f64(s[0]), f64(s[1]), f64(s[2])))
	case ir.OpFNeg:
		return evalFloat1(width, s[0], func(x float64) float64 { return -x })
	case ir.OpFAbs:
		return evalFloat1(width, s[0], math.Abs)

	case ir.OpFRcp:
		return evalFloat1(width, s[0], func(x float64) float64 { return 1 / x })
	case ir.OpFSqrt:
		return evalFloat1(width, s[0], math.Sqrt)
	case ir.OpFRsq:
		return evalFloat1(width, s[0], func(x float64) float64 { return 1 / math.Sqrt(x) })

	case ir.OpFTrunc:
		return evalFloat1(width, s[0], math.Trunc)
	case ir.OpFFloor:
		return evalFloat1(width, s[0], math.Floor)
	case ir.OpFCeil:
		return evalFloat1(width, s[0], math.Ceil)
	case ir.OpFFract:
		return evalFloat1(width, s[0], func(x float64) float64 { return x - math.Floor(x) })
	case ir.OpFRoundEven:
		return evalFloat1(width, s[0], math.RoundToEven)

	case ir.OpFEq:
		return cmpFloat(width, s, func(a, b float64) bool { return a == b })
	case ir.OpFNe:
		return cmpFloat(width, s, func(a, b float64) bool { return a != b })
	case ir.OpFLt:
		return cmpFloat(width, s, func(a, b float64) bool { return a < b })
	case ir.OpFGe:
		return cmpFloat(width, s, func(a, b float64) bool { return a >= b })

	case ir.OpF64ToF32:
		return b32f(float32(f64(s[0])))
	case ir.OpF32ToF64:
		return b64(float64(f32(s[0])))

	case ir.OpIAdd:
		return uint64(uint32(s[0]) + uint32(s[1]))
	case ir.OpISub:
		return uint64(uint32(s[0]) - uint32(s[1]))
	case ir.OpIAnd:
		return uint64(uint32(s[0]) & uint32(s[1]))
	case ir.OpIOr:
		return uint64(uint32(s[0]) | uint32(s[1]))
	case ir.OpIShl:
		return uint64(uint32(s[0]) << (uint32(s[1]) & 31))
	case ir.OpIShr:
		return uint64(uint32(int32(uint32(s[0])) >> (uint32(s[1]) & 31)))
	case ir.OpIGe:
		return boolBits(int32(uint32(s[0])) >= int32(uint32(s[1])))
	case ir.OpILt:
		return boolBits(int32(uint32(s[0])) < int32(uint32(s[1])))

	case ir.OpBfi:
		mask := uint32(s[0])
		if mask == 0 {
			return uint64(uint32(s[2]))
		}
		tz := uint32(bits.TrailingZeros32(mask))
		return uint64((uint32(s[2]) &^ mask) | ((uint32(s[1]) << tz) & mask))
	case ir.OpUBfe:
		offset := uint32(s[1]) & 31
		width := uint32(s[2]) & 31
		if width == 0 {
			return 0
		}
		return uint64((uint32(s[0]) >> offset) & ((1 << width) - 1))

	case ir.OpBCSel:
		if uint32(s[0]) != 0 {
			return s[1]
		}
		return s[2]

	case ir.OpPack64x2Split:
		return uint64(uint32(s[0])) | uint64(uint32(s[1]))<<32
	case ir.OpUnpack64x2SplitX:
		return s[0] & 0xffffffff
	case ir.OpUnpack64x2SplitY:
		return s[0] >> 32

	default:
		panic(fmt.Sprintf("unhandled opcode %s", op))
	}
}

func cmpFloat(width uint8, s []uint64, f func(a, b float64) bool) uint64 {
	if width != 32 {
		panic("comparison result must be bool32")
	}
	// The operand width is not recoverable from the destination for
	// comparisons; infer it from the bit patterns' container. Both
	// passes only compare doubles, which the caller encodes in full
	// 64-bit patterns.
	return boolBits(f(f64(s[0]), f64(s[1])))
}
