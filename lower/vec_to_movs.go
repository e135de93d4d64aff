package lower

import (
	"fmt"

	"github.com/gogpu/nir/ir"
)

// LowerVecToMovs rewrites every vector-construction instruction in the
// module into a series of partial-write moves, folding single-use
// producer instructions directly into the vector's destination where
// that is legal. Reports whether anything changed.
func LowerVecToMovs(m *ir.Module) bool {
	progress := false
	for _, fn := range m.Functions {
		if LowerVecToMovsFunc(fn) {
			progress = true
		}
	}
	return progress
}

// LowerVecToMovsFunc runs the vector lowering over a single function.
func LowerVecToMovsFunc(fn *ir.Function) bool {
	progress := false
	for _, blk := range fn.Blocks() {
		for in := blk.First(); in != nil; {
			next := in.Next()
			if vec, ok := in.(*ir.Alu); ok && vec.Op.IsVec() {
				lowerVecInstr(fn, vec)
				progress = true
			}
			in = next
		}
	}
	return progress
}

func lowerVecInstr(fn *ir.Function, vec *ir.Alu) {
	// The replacement is a series of partial register writes, so the
	// destination must already be a register.
	if vec.Dest.Dest.SSA != nil {
		panic(fmt.Sprintf("%s with an SSA destination fed to vector lowering", vec.Op))
	}

	// Emit a mov for any component whose source aliases the
	// destination register before anything else writes it: a folded
	// clone or another mov landing first could shadow the component it
	// reads.
	var finished uint8
	srcIdx := 0
	for i := uint8(0); i < 4; i++ {
		if vec.Dest.WriteMask&(1<<i) == 0 {
			continue
		}
		idx := srcIdx
		srcIdx++

		if srcMatchesDestReg(&vec.Dest.Dest, &vec.Srcs[idx].Src) {
			finished |= insertMov(vec, i, idx, finished)
			break
		}
	}

	// Then try to fold producers: when a pending component's source
	// register is written by a single-use instruction, clone that
	// instruction to write the component directly and drop the
	// intermediate.
	srcIdx = 0
	for i := uint8(0); i < 4; i++ {
		if vec.Dest.WriteMask&(1<<i) == 0 {
			continue
		}
		idx := srcIdx
		srcIdx++

		if finished&(1<<i) != 0 {
			continue
		}

		// Constants and other SSA sources are not propagated.
		if vec.Srcs[idx].Src.SSA != nil {
			continue
		}
		// A source aliasing the destination always goes through a move
		// reading the old contents, never a retargeted producer.
		if srcMatchesDestReg(&vec.Dest.Dest, &vec.Srcs[idx].Src) {
			continue
		}
		reg := vec.Srcs[idx].Src.Reg.Reg

		for _, producer := range reg.Defs() {
			if producer == vec {
				continue
			}
			// Folding a plain mov producer is known to be unsafe here;
			// keep it excluded.
			if producer.Op == ir.OpMov {
				continue
			}

			// Only fold producers whose destination register has no
			// use besides this vector instruction.
			if reg.NumUses() != 1 {
				continue
			}

			clone := cloneAluOverrideDest(producer, &vec.Dest, i)
			finished |= clone.Dest.WriteMask

			ir.Remove(producer)
			if reg.NumDefs() == 0 {
				fn.RemoveRegister(reg)
			}

			ir.InsertBefore(vec, clone)
		}
	}

	// Moves for everything else, one per distinct remaining source.
	srcIdx = 0
	for i := uint8(0); i < 4; i++ {
		if vec.Dest.WriteMask&(1<<i) == 0 {
			continue
		}
		idx := srcIdx
		srcIdx++

		if finished&(1<<i) == 0 {
			finished |= insertMov(vec, i, idx, finished)
		}
	}

	ir.Remove(vec)
}

// insertMov emits a mov of the vector source at startIdx into the
// vector's destination component startChannel, merging in every later
// pending component that reads the exact same source. Returns the write
// mask of the emitted mov.
func insertMov(vec *ir.Alu, startChannel uint8, startIdx int, finished uint8) uint8 {
	mov := &ir.Alu{
		Op:   ir.OpMov,
		Dest: copyAluDest(vec.Dest),
		Srcs: []ir.AluSrc{copyAluSrc(vec.Srcs[startIdx])},
	}
	mov.Dest.WriteMask = 1 << startChannel
	mov.Srcs[0].Swizzle[startChannel] = vec.Srcs[startIdx].Swizzle[0]

	srcIdx := startIdx + 1
	for i := startChannel + 1; i < 4; i++ {
		if vec.Dest.WriteMask&(1<<i) == 0 {
			continue
		}
		idx := srcIdx
		srcIdx++

		if finished&(1<<i) != 0 {
			continue
		}
		if ir.SrcsEqual(vec.Srcs[idx].Src, vec.Srcs[startIdx].Src) {
			mov.Dest.WriteMask |= 1 << i
			mov.Srcs[0].Swizzle[i] = vec.Srcs[idx].Swizzle[0]
		}
	}

	ir.InsertBefore(vec, mov)
	return mov.Dest.WriteMask
}

// cloneAluOverrideDest clones an ALU instruction, overriding its
// destination to write component index of newDest. Source swizzles are
// remapped from the producer's written component, except for reduction
// ops whose output has no per-component swizzle.
func cloneAluOverrideDest(producer *ir.Alu, newDest *ir.AluDest, index uint8) *ir.Alu {
	clone := &ir.Alu{
		Op:   producer.Op,
		Srcs: make([]ir.AluSrc, len(producer.Srcs)),
	}

	channel := producer.FirstWrittenComponent()

	for i := range producer.Srcs {
		clone.Srcs[i] = copyAluSrc(producer.Srcs[i])

		switch producer.Op {
		case ir.OpFDot2, ir.OpFDot3, ir.OpFDot4:
			continue
		default:
		}

		clone.Srcs[i].Swizzle[index] = producer.Srcs[i].Swizzle[channel]
	}

	clone.Dest = copyAluDest(*newDest)
	clone.Dest.WriteMask = 1 << index

	return clone
}

// copyAluSrc deep-copies an operand so the copy owns fresh register
// reference slots.
func copyAluSrc(s ir.AluSrc) ir.AluSrc {
	out := s
	out.Src = copySrc(s.Src)
	return out
}

func copySrc(s ir.Src) ir.Src {
	if s.Reg == nil {
		return s
	}
	ref := *s.Reg
	if ref.Indirect != nil {
		ind := copySrc(*ref.Indirect)
		ref.Indirect = &ind
	}
	return ir.Src{Reg: &ref}
}

func copyAluDest(d ir.AluDest) ir.AluDest {
	out := d
	if d.Dest.Reg != nil {
		ref := *d.Dest.Reg
		if ref.Indirect != nil {
			ind := copySrc(*ref.Indirect)
			ref.Indirect = &ind
		}
		out.Dest.Reg = &ref
	}
	return out
}

// srcMatchesDestReg reports whether a source reads exactly the storage
// the destination writes: same register, same base offset, neither
// indirect.
func srcMatchesDestReg(dest *ir.Dest, src *ir.Src) bool {
	if dest.SSA != nil || src.SSA != nil {
		return false
	}
	return dest.Reg.Reg == src.Reg.Reg &&
		dest.Reg.BaseOffset == src.Reg.BaseOffset &&
		dest.Reg.Indirect == nil &&
		src.Reg.Indirect == nil
}
