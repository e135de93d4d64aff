package ir

import "fmt"

// Opcode identifies an ALU operation. The set is closed: every switch
// over opcodes must either be exhaustive or end in a fatal default.
type Opcode uint8

const (
	// OpMov is a type-preserving copy, materializing any swizzle.
	OpMov Opcode = iota

	// Vector construction from scalar sources, one per component.
	OpVec2
	OpVec3
	OpVec4

	// Float arithmetic. Operand bit width (32 or 64) follows the
	// sources; all sources must agree.
	OpFAdd
	OpFSub
	OpFMul
	OpFFma
	OpFNeg
	OpFAbs

	// Hardware approximation ops. 64-bit forms are what the lowering
	// passes replace; the 32-bit forms are the hardware seeds.
	OpFRcp
	OpFSqrt
	OpFRsq

	// Float rounding. Only the 64-bit forms are lowered.
	OpFTrunc
	OpFFloor
	OpFCeil
	OpFFract
	OpFRoundEven

	// Float comparisons producing 32-bit booleans (all ones = true).
	OpFEq
	OpFNe
	OpFLt
	OpFGe

	// Precision conversions.
	OpF64ToF32
	OpF32ToF64

	// 32-bit integer arithmetic.
	OpIAdd
	OpISub
	OpIAnd
	OpIOr
	OpIShl
	OpIShr // arithmetic shift right
	OpIGe  // signed compare, bool32 result
	OpILt  // signed compare, bool32 result

	// Bit-field ops. OpBfi inserts src1 into src2 under the mask src0,
	// shifted to the mask's lowest set bit. OpUBfe extracts the
	// unsigned field of src2 bits starting at bit src1 of src0.
	OpBfi
	OpUBfe

	// OpBCSel selects src1 where the bool32 src0 is true, else src2,
	// per component.
	OpBCSel

	// Pack/unpack between one 64-bit value and two 32-bit words.
	OpPack64x2Split
	OpUnpack64x2SplitX
	OpUnpack64x2SplitY

	// Dot products: reductions whose scalar output has no independent
	// per-component swizzle.
	OpFDot2
	OpFDot3
	OpFDot4

	numOpcodes
)

// OpInfo describes the fixed properties of an opcode.
type OpInfo struct {
	Name      string
	NumInputs int

	// Reduction marks ops that collapse all source components into one
	// output component (dot products).
	Reduction bool
}

var opInfos = [numOpcodes]OpInfo{
	OpMov:  {"mov", 1, false},
	OpVec2: {"vec2", 2, false},
	OpVec3: {"vec3", 3, false},
	OpVec4: {"vec4", 4, false},

	OpFAdd: {"fadd", 2, false},
	OpFSub: {"fsub", 2, false},
	OpFMul: {"fmul", 2, false},
	OpFFma: {"ffma", 3, false},
	OpFNeg: {"fneg", 1, false},
	OpFAbs: {"fabs", 1, false},

	OpFRcp:  {"frcp", 1, false},
	OpFSqrt: {"fsqrt", 1, false},
	OpFRsq:  {"frsq", 1, false},

	OpFTrunc:     {"ftrunc", 1, false},
	OpFFloor:     {"ffloor", 1, false},
	OpFCeil:      {"fceil", 1, false},
	OpFFract:     {"ffract", 1, false},
	OpFRoundEven: {"fround_even", 1, false},

	OpFEq: {"feq", 2, false},
	OpFNe: {"fne", 2, false},
	OpFLt: {"flt", 2, false},
	OpFGe: {"fge", 2, false},

	OpF64ToF32: {"f64tof32", 1, false},
	OpF32ToF64: {"f32tof64", 1, false},

	OpIAdd: {"iadd", 2, false},
	OpISub: {"isub", 2, false},
	OpIAnd: {"iand", 2, false},
	OpIOr:  {"ior", 2, false},
	OpIShl: {"ishl", 2, false},
	OpIShr: {"ishr", 2, false},
	OpIGe:  {"ige", 2, false},
	OpILt:  {"ilt", 2, false},

	OpBfi:  {"bfi", 3, false},
	OpUBfe: {"ubfe", 3, false},

	OpBCSel: {"bcsel", 3, false},

	OpPack64x2Split:    {"pack64_2x32_split", 2, false},
	OpUnpack64x2SplitX: {"unpack64_2x32_split_x", 1, false},
	OpUnpack64x2SplitY: {"unpack64_2x32_split_y", 1, false},

	OpFDot2: {"fdot2", 2, true},
	OpFDot3: {"fdot3", 2, true},
	OpFDot4: {"fdot4", 2, true},
}

// Info returns the fixed properties of the opcode.
func (op Opcode) Info() OpInfo {
	if op >= numOpcodes {
		panic(fmt.Sprintf("unknown opcode %d", op))
	}
	return opInfos[op]
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	return op.Info().Name
}

// IsVec reports whether the opcode is a vector-construction op.
func (op Opcode) IsVec() bool {
	return op == OpVec2 || op == OpVec3 || op == OpVec4
}
