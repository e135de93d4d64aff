package ir

import "fmt"

// Module represents a shader module in IR form.
type Module struct {
	// Functions holds all function bodies
	Functions []*Function
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{}
}

// NewFunction creates a function with a single empty entry block and
// appends it to the module.
func (m *Module) NewFunction(name string) *Function {
	fn := &Function{Name: name}
	fn.Body = &Body{fn: fn}
	entry := fn.newBlock()
	entry.list = &fn.Body.Nodes
	fn.Body.Nodes = []CFNode{entry}
	m.Functions = append(m.Functions, fn)
	return fn
}

// Function represents a function body: the unit of traversal for
// lowering passes. It exclusively owns its blocks, instructions,
// values, and registers.
type Function struct {
	Name string

	// Body is the control-flow tree over the function's blocks.
	Body *Body

	// Registers holds the mutable storage locations owned by this
	// function.
	Registers []*Register

	nextValue uint32
	nextReg   uint32
	nextBlock uint32
}

// EntryBlock returns the first block of the function body.
func (fn *Function) EntryBlock() *Block {
	return fn.Body.Nodes[0].(*Block)
}

// Blocks returns a snapshot of all blocks in control-flow tree order.
// Blocks created after the call are not included, which makes the
// result safe to iterate while the function is being rewritten.
func (fn *Function) Blocks() []*Block {
	var out []*Block
	collectBlocks(fn.Body.Nodes, &out)
	return out
}

func collectBlocks(nodes []CFNode, out *[]*Block) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *Block:
			*out = append(*out, n)
		case *If:
			collectBlocks(n.Then, out)
			collectBlocks(n.Else, out)
		default:
			panic(fmt.Sprintf("unknown CF node: %T", n))
		}
	}
}

// NewRegister creates a register owned by the function.
func (fn *Function) NewRegister(numComponents, bitSize uint8) *Register {
	r := &Register{
		Index:         fn.nextReg,
		NumComponents: numComponents,
		BitSize:       bitSize,
	}
	fn.nextReg++
	fn.Registers = append(fn.Registers, r)
	return r
}

// RemoveRegister detaches a register from the function's register list.
// The register must have no remaining defining instructions.
func (fn *Function) RemoveRegister(r *Register) {
	if len(r.defs) != 0 {
		panic(fmt.Sprintf("removing register r%d with %d live definitions", r.Index, len(r.defs)))
	}
	for i, reg := range fn.Registers {
		if reg == r {
			fn.Registers = append(fn.Registers[:i], fn.Registers[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("register r%d is not owned by function %s", r.Index, fn.Name))
}

func (fn *Function) newValue(parent Instr, numComponents, bitSize uint8) *Value {
	if numComponents < 1 || numComponents > 4 {
		panic(fmt.Sprintf("value component count must be 1-4, got %d", numComponents))
	}
	if bitSize != 32 && bitSize != 64 {
		panic(fmt.Sprintf("value bit size must be 32 or 64, got %d", bitSize))
	}
	v := &Value{
		Parent:        parent,
		Index:         fn.nextValue,
		NumComponents: numComponents,
		BitSize:       bitSize,
	}
	fn.nextValue++
	return v
}

// Value is a single-assignment definition. It is produced by exactly
// one instruction and is immutable once defined.
type Value struct {
	// Parent is the defining instruction.
	Parent Instr

	Index         uint32
	NumComponents uint8
	BitSize       uint8

	uses []*Src
}

// NumUses returns the number of source slots referencing this value.
func (v *Value) NumUses() int {
	return len(v.uses)
}

// RewriteUses repoints every use of v to the replacement value. The
// replacement must match v's bit width and component count, since
// swizzles at the use sites are preserved.
func (v *Value) RewriteUses(to *Value) {
	if to.BitSize != v.BitSize || to.NumComponents != v.NumComponents {
		panic(fmt.Sprintf("rewriting uses of v%d (%dx%d) with mismatched v%d (%dx%d)",
			v.Index, v.NumComponents, v.BitSize, to.Index, to.NumComponents, to.BitSize))
	}
	for _, slot := range v.uses {
		slot.SSA = to
		to.uses = append(to.uses, slot)
	}
	v.uses = nil
}

// Register is a mutable, possibly multiply-defined storage location.
type Register struct {
	Index         uint32
	NumComponents uint8
	BitSize       uint8

	defs []*Alu
	uses []*Src
}

// NumDefs returns the number of instructions currently writing the
// register.
func (r *Register) NumDefs() int {
	return len(r.defs)
}

// NumUses returns the number of source slots currently reading the
// register.
func (r *Register) NumUses() int {
	return len(r.uses)
}

// Defs returns a snapshot of the register's defining instructions, in
// the order the definitions were inserted. Safe to iterate while
// definitions are being removed.
func (r *Register) Defs() []*Alu {
	out := make([]*Alu, len(r.defs))
	copy(out, r.defs)
	return out
}

// RegRef is a reference to a register, with an optional base offset and
// indirect index for register arrays.
type RegRef struct {
	Reg        *Register
	BaseOffset uint32
	Indirect   *Src
}

// Src references either an SSA value or a register. Exactly one of the
// two fields is set.
type Src struct {
	SSA *Value
	Reg *RegRef
}

// SrcForSSA returns a source referencing an SSA value.
func SrcForSSA(v *Value) Src {
	return Src{SSA: v}
}

// SrcForReg returns a source referencing a register at base offset 0.
func SrcForReg(r *Register) Src {
	return Src{Reg: &RegRef{Reg: r}}
}

// NumComponents returns the component count of the referenced storage.
func (s *Src) NumComponents() uint8 {
	if s.SSA != nil {
		return s.SSA.NumComponents
	}
	return s.Reg.Reg.NumComponents
}

// BitSize returns the bit width of the referenced storage.
func (s *Src) BitSize() uint8 {
	if s.SSA != nil {
		return s.SSA.BitSize
	}
	return s.Reg.Reg.BitSize
}

// SrcsEqual reports whether two sources reference the same storage at
// the same offset.
func SrcsEqual(a, b Src) bool {
	if a.SSA != nil || b.SSA != nil {
		return a.SSA == b.SSA
	}
	if a.Reg.Reg != b.Reg.Reg || a.Reg.BaseOffset != b.Reg.BaseOffset {
		return false
	}
	if (a.Reg.Indirect == nil) != (b.Reg.Indirect == nil) {
		return false
	}
	if a.Reg.Indirect != nil {
		return SrcsEqual(*a.Reg.Indirect, *b.Reg.Indirect)
	}
	return true
}

// AluSrc is an ALU operand: a source plus a per-component swizzle
// selecting which component of the source feeds each consumed
// component.
type AluSrc struct {
	Src     Src
	Swizzle [4]uint8
}

// IdentitySwizzle is the swizzle that reads each component from itself.
var IdentitySwizzle = [4]uint8{0, 1, 2, 3}

// AluSrcForSSA returns an identity-swizzled operand for a value.
func AluSrcForSSA(v *Value) AluSrc {
	return AluSrc{Src: SrcForSSA(v), Swizzle: IdentitySwizzle}
}

// AluSrcForReg returns an identity-swizzled operand for a register.
func AluSrcForReg(r *Register) AluSrc {
	return AluSrc{Src: SrcForReg(r), Swizzle: IdentitySwizzle}
}

// Dest is an instruction destination: an owned SSA value or a register
// reference. Exactly one of the two fields is set.
type Dest struct {
	SSA *Value
	Reg *RegRef
}

// DestForReg returns a destination writing a register at base offset 0.
func DestForReg(r *Register) Dest {
	return Dest{Reg: &RegRef{Reg: r}}
}

// AluDest is an ALU destination plus a write mask selecting which of up
// to 4 components the instruction defines.
type AluDest struct {
	Dest      Dest
	WriteMask uint8
}

// WriteMaskAll returns the write mask covering the first n components.
func WriteMaskAll(n uint8) uint8 {
	return uint8(1<<n) - 1
}
