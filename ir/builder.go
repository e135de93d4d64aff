package ir

import (
	"fmt"
	"math"
)

// Builder carries an insertion cursor into a function and constructs
// instructions at it. Every constructor inserts the new instruction at
// the cursor and advances the cursor past it.
type Builder struct {
	fn *Function

	// Cursor: when before is non-nil, insert before it; otherwise
	// append to block.
	before Instr
	block  *Block
}

// NewBuilder returns a builder positioned at the end of the function's
// entry block.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn, block: fn.EntryBlock()}
}

// Function returns the function being built.
func (b *Builder) Function() *Function { return b.fn }

// SetCursorBefore positions the cursor immediately before an
// instruction.
func (b *Builder) SetCursorBefore(in Instr) {
	if in.Block() == nil {
		panic("cursor target is detached")
	}
	b.before = in
	b.block = nil
}

// SetCursorAtEnd positions the cursor at the end of a block.
func (b *Builder) SetCursorAtEnd(blk *Block) {
	b.before = nil
	b.block = blk
}

// SetCursorAtEndOfThen positions the cursor at the end of the last
// block of the region's then branch.
func (b *Builder) SetCursorAtEndOfThen(iff *If) {
	b.SetCursorAtEnd(iff.LastThenBlock())
}

// SetCursorAtEndOfElse positions the cursor at the end of the last
// block of the region's else branch.
func (b *Builder) SetCursorAtEndOfElse(iff *If) {
	b.SetCursorAtEnd(iff.LastElseBlock())
}

// SetCursorAfterIf positions the cursor at the start of the region's
// merge block.
func (b *Builder) SetCursorAfterIf(iff *If) {
	merge := iff.MergeBlock()
	if first := merge.First(); first != nil {
		b.SetCursorBefore(first)
	} else {
		b.SetCursorAtEnd(merge)
	}
}

func (b *Builder) insert(in Instr) {
	if b.before != nil {
		InsertBefore(b.before, in)
	} else {
		b.block.Append(in)
	}
	// Advance past the inserted instruction.
	if next := in.Next(); next != nil {
		b.before = next
		b.block = nil
	} else {
		b.before = nil
		b.block = in.Block()
	}
}

// InsertIf creates an if region on the given condition at the cursor,
// splitting the current block. The cursor is left unchanged relative to
// the instructions around it; callers position it into the region
// explicitly.
func (b *Builder) InsertIf(cond *Value) *If {
	var blk *Block
	var split Instr
	if b.before != nil {
		blk = b.before.Block()
		split = b.before
	} else {
		blk = b.block
	}
	return insertIf(b.fn, blk, split, cond)
}

// Phi creates a merge value at the cursor, which must be at the head of
// a merge block. One entry per direct predecessor of that block is
// required.
func (b *Builder) Phi(entries ...PhiEntry) *Value {
	if len(entries) == 0 {
		panic("phi requires at least one entry")
	}
	first := entries[0].Src
	phi := &Phi{Entries: entries}
	phi.Def = b.fn.newValue(phi, first.NumComponents(), first.BitSize())
	b.insert(phi)

	blk := phi.Block()
	if len(entries) != len(blk.Preds) {
		panic(fmt.Sprintf("phi in b%d has %d entries for %d predecessors",
			blk.Index, len(entries), len(blk.Preds)))
	}
	for _, e := range entries {
		found := false
		for _, p := range blk.Preds {
			if p == e.Pred {
				found = true
				break
			}
		}
		if !found {
			panic(fmt.Sprintf("phi entry names b%d, which is not a predecessor of b%d",
				e.Pred.Index, blk.Index))
		}
	}
	return phi.Def
}

// ---------------------------------------------------------------------------
// Immediates
// ---------------------------------------------------------------------------

func (b *Builder) loadConst(bitSize uint8, bits uint64) *Value {
	lc := &LoadConst{}
	lc.Values[0] = bits
	lc.Def = b.fn.newValue(lc, 1, bitSize)
	b.insert(lc)
	return lc.Def
}

// ImmInt creates a 32-bit signed integer immediate.
func (b *Builder) ImmInt(v int32) *Value {
	return b.loadConst(32, uint64(uint32(v)))
}

// ImmUint creates a 32-bit unsigned integer immediate.
func (b *Builder) ImmUint(v uint32) *Value {
	return b.loadConst(32, uint64(v))
}

// ImmFloat creates a 32-bit float immediate.
func (b *Builder) ImmFloat(v float32) *Value {
	return b.loadConst(32, uint64(math.Float32bits(v)))
}

// ImmDouble creates a 64-bit float immediate.
func (b *Builder) ImmDouble(v float64) *Value {
	return b.loadConst(64, math.Float64bits(v))
}

// ---------------------------------------------------------------------------
// ALU constructors
// ---------------------------------------------------------------------------

func (b *Builder) alu(op Opcode, numComponents, bitSize uint8, srcs ...*Value) *Value {
	aluSrcs := make([]AluSrc, len(srcs))
	for i, s := range srcs {
		aluSrcs[i] = AluSrcForSSA(s)
		if s.NumComponents == 1 && numComponents > 1 {
			// Broadcast scalar operands across the result components.
			aluSrcs[i].Swizzle = [4]uint8{0, 0, 0, 0}
		}
	}
	a := &Alu{Op: op, Srcs: aluSrcs}
	v := b.fn.newValue(a, numComponents, bitSize)
	a.Dest = AluDest{Dest: Dest{SSA: v}, WriteMask: WriteMaskAll(numComponents)}
	b.insert(a)
	return v
}

// sameShape checks operand agreement for a per-component op and
// returns the result's component count and bit width. Scalar operands
// may mix with vector ones; they broadcast.
func sameShape(op Opcode, srcs ...*Value) (uint8, uint8) {
	n, w := srcs[0].NumComponents, srcs[0].BitSize
	for _, s := range srcs[1:] {
		if s.NumComponents > n {
			n = s.NumComponents
		}
		if s.BitSize != w {
			panic(fmt.Sprintf("%s operands disagree: v%d is %d-bit, v%d is %d-bit",
				op, srcs[0].Index, w, s.Index, s.BitSize))
		}
	}
	for _, s := range srcs {
		if s.NumComponents != n && s.NumComponents != 1 {
			panic(fmt.Sprintf("%s operand v%d has %d components, want %d or 1",
				op, s.Index, s.NumComponents, n))
		}
	}
	return n, w
}

func (b *Builder) float2(op Opcode, x, y *Value) *Value {
	n, w := sameShape(op, x, y)
	return b.alu(op, n, w, x, y)
}

// FAdd builds a float addition.
func (b *Builder) FAdd(x, y *Value) *Value { return b.float2(OpFAdd, x, y) }

// FSub builds a float subtraction.
func (b *Builder) FSub(x, y *Value) *Value { return b.float2(OpFSub, x, y) }

// FMul builds a float multiplication.
func (b *Builder) FMul(x, y *Value) *Value { return b.float2(OpFMul, x, y) }

// FFma builds a fused multiply-add x*y + z with a single rounding.
func (b *Builder) FFma(x, y, z *Value) *Value {
	n, w := sameShape(OpFFma, x, y, z)
	return b.alu(OpFFma, n, w, x, y, z)
}

// FNeg builds a float negation.
func (b *Builder) FNeg(x *Value) *Value {
	return b.alu(OpFNeg, x.NumComponents, x.BitSize, x)
}

// FAbs builds a float absolute value.
func (b *Builder) FAbs(x *Value) *Value {
	return b.alu(OpFAbs, x.NumComponents, x.BitSize, x)
}

// FRcp builds a reciprocal approximation at the operand's precision.
func (b *Builder) FRcp(x *Value) *Value {
	return b.alu(OpFRcp, x.NumComponents, x.BitSize, x)
}

// FRsq builds an inverse-square-root approximation at the operand's
// precision.
func (b *Builder) FRsq(x *Value) *Value {
	return b.alu(OpFRsq, x.NumComponents, x.BitSize, x)
}

// FSqrt builds a square root.
func (b *Builder) FSqrt(x *Value) *Value {
	return b.alu(OpFSqrt, x.NumComponents, x.BitSize, x)
}

// FTrunc builds a round toward zero.
func (b *Builder) FTrunc(x *Value) *Value {
	return b.alu(OpFTrunc, x.NumComponents, x.BitSize, x)
}

// FFloor builds a round toward negative infinity.
func (b *Builder) FFloor(x *Value) *Value {
	return b.alu(OpFFloor, x.NumComponents, x.BitSize, x)
}

// FCeil builds a round toward positive infinity.
func (b *Builder) FCeil(x *Value) *Value {
	return b.alu(OpFCeil, x.NumComponents, x.BitSize, x)
}

// FFract builds a fractional-part computation x - floor(x).
func (b *Builder) FFract(x *Value) *Value {
	return b.alu(OpFFract, x.NumComponents, x.BitSize, x)
}

// FRoundEven builds a round to the nearest integer, ties to even.
func (b *Builder) FRoundEven(x *Value) *Value {
	return b.alu(OpFRoundEven, x.NumComponents, x.BitSize, x)
}

func (b *Builder) fcmp(op Opcode, x, y *Value) *Value {
	n, _ := sameShape(op, x, y)
	return b.alu(op, n, 32, x, y)
}

// FEq builds an ordered float equality test producing bool32.
func (b *Builder) FEq(x, y *Value) *Value { return b.fcmp(OpFEq, x, y) }

// FNe builds a float inequality test producing bool32.
func (b *Builder) FNe(x, y *Value) *Value { return b.fcmp(OpFNe, x, y) }

// FLt builds a float less-than test producing bool32.
func (b *Builder) FLt(x, y *Value) *Value { return b.fcmp(OpFLt, x, y) }

// FGe builds a float greater-or-equal test producing bool32.
func (b *Builder) FGe(x, y *Value) *Value { return b.fcmp(OpFGe, x, y) }

// F64ToF32 converts double precision to single precision.
func (b *Builder) F64ToF32(x *Value) *Value {
	if x.BitSize != 64 {
		panic(fmt.Sprintf("f64tof32 operand v%d is %d-bit", x.Index, x.BitSize))
	}
	return b.alu(OpF64ToF32, x.NumComponents, 32, x)
}

// F32ToF64 converts single precision to double precision.
func (b *Builder) F32ToF64(x *Value) *Value {
	if x.BitSize != 32 {
		panic(fmt.Sprintf("f32tof64 operand v%d is %d-bit", x.Index, x.BitSize))
	}
	return b.alu(OpF32ToF64, x.NumComponents, 64, x)
}

func (b *Builder) int2(op Opcode, x, y *Value) *Value {
	n, w := sameShape(op, x, y)
	if w != 32 {
		panic(fmt.Sprintf("%s requires 32-bit operands, got %d-bit", op, w))
	}
	return b.alu(op, n, 32, x, y)
}

// IAdd builds a wrapping 32-bit integer addition.
func (b *Builder) IAdd(x, y *Value) *Value { return b.int2(OpIAdd, x, y) }

// ISub builds a wrapping 32-bit integer subtraction.
func (b *Builder) ISub(x, y *Value) *Value { return b.int2(OpISub, x, y) }

// IAnd builds a bitwise AND.
func (b *Builder) IAnd(x, y *Value) *Value { return b.int2(OpIAnd, x, y) }

// IOr builds a bitwise OR.
func (b *Builder) IOr(x, y *Value) *Value { return b.int2(OpIOr, x, y) }

// IShl builds a left shift; the shift count is masked to 5 bits.
func (b *Builder) IShl(x, y *Value) *Value { return b.int2(OpIShl, x, y) }

// IShr builds an arithmetic right shift; the count is masked to 5 bits.
func (b *Builder) IShr(x, y *Value) *Value { return b.int2(OpIShr, x, y) }

// IGe builds a signed greater-or-equal test producing bool32.
func (b *Builder) IGe(x, y *Value) *Value { return b.int2(OpIGe, x, y) }

// ILt builds a signed less-than test producing bool32.
func (b *Builder) ILt(x, y *Value) *Value { return b.int2(OpILt, x, y) }

// Bfi builds a bit-field insert: insert is shifted to the lowest set
// bit of mask and replaces the masked bits of base.
func (b *Builder) Bfi(mask, insert, base *Value) *Value {
	n, w := sameShape(OpBfi, mask, insert, base)
	if w != 32 {
		panic(fmt.Sprintf("bfi requires 32-bit operands, got %d-bit", w))
	}
	return b.alu(OpBfi, n, 32, mask, insert, base)
}

// UBfe builds an unsigned bit-field extract of bits counting from
// offset in value.
func (b *Builder) UBfe(value, offset, bits *Value) *Value {
	n, w := sameShape(OpUBfe, value, offset, bits)
	if w != 32 {
		panic(fmt.Sprintf("ubfe requires 32-bit operands, got %d-bit", w))
	}
	return b.alu(OpUBfe, n, 32, value, offset, bits)
}

// BCSel builds a per-component boolean select: where cond is true the
// result takes x, elsewhere y.
func (b *Builder) BCSel(cond, x, y *Value) *Value {
	n, w := sameShape(OpBCSel, x, y)
	if cond.BitSize != 32 {
		panic(fmt.Sprintf("bcsel condition v%d must be bool32", cond.Index))
	}
	return b.alu(OpBCSel, n, w, cond, x, y)
}

// Pack64 packs a low and a high 32-bit word into one 64-bit value.
func (b *Builder) Pack64(lo, hi *Value) *Value {
	n, w := sameShape(OpPack64x2Split, lo, hi)
	if w != 32 {
		panic(fmt.Sprintf("pack64_2x32_split requires 32-bit operands, got %d-bit", w))
	}
	return b.alu(OpPack64x2Split, n, 64, lo, hi)
}

// Unpack64Lo extracts bits 0-31 of a 64-bit value.
func (b *Builder) Unpack64Lo(x *Value) *Value {
	if x.BitSize != 64 {
		panic(fmt.Sprintf("unpack64_2x32_split_x operand v%d is %d-bit", x.Index, x.BitSize))
	}
	return b.alu(OpUnpack64x2SplitX, x.NumComponents, 32, x)
}

// Unpack64Hi extracts bits 32-63 of a 64-bit value.
func (b *Builder) Unpack64Hi(x *Value) *Value {
	if x.BitSize != 64 {
		panic(fmt.Sprintf("unpack64_2x32_split_y operand v%d is %d-bit", x.Index, x.BitSize))
	}
	return b.alu(OpUnpack64x2SplitY, x.NumComponents, 32, x)
}

// Mov builds a type-preserving copy of a value.
func (b *Builder) Mov(x *Value) *Value {
	return b.alu(OpMov, x.NumComponents, x.BitSize, x)
}

// MovAlu materializes an ALU operand as a plain value over the first
// numComponents components, resolving any pending swizzle.
func (b *Builder) MovAlu(src AluSrc, numComponents uint8) *Value {
	a := &Alu{Op: OpMov, Srcs: []AluSrc{src}}
	v := b.fn.newValue(a, numComponents, src.Src.BitSize())
	a.Dest = AluDest{Dest: Dest{SSA: v}, WriteMask: WriteMaskAll(numComponents)}
	b.insert(a)
	return v
}
