package ir

import "fmt"

// Instr is a node in a block's instruction list. The closed variants
// are *Alu, *LoadConst, and *Phi.
type Instr interface {
	// Block returns the block containing the instruction, or nil if it
	// is detached.
	Block() *Block

	// Prev and Next navigate the containing block's instruction list.
	// An instruction moved between blocks keeps its identity, so a
	// snapshotted Next pointer stays valid across block splits.
	Prev() Instr
	Next() Instr

	common() *instrCommon
	srcSlots() []*Src
	destRef() *Dest
}

type instrCommon struct {
	block      *Block
	prev, next Instr
}

func (c *instrCommon) Block() *Block { return c.block }
func (c *instrCommon) Prev() Instr   { return c.prev }
func (c *instrCommon) Next() Instr   { return c.next }

// Alu is an instruction with an opcode, swizzled operands, and a
// write-masked destination.
type Alu struct {
	instrCommon
	Op   Opcode
	Dest AluDest
	Srcs []AluSrc
}

func (a *Alu) common() *instrCommon { return &a.instrCommon }
func (a *Alu) destRef() *Dest       { return &a.Dest.Dest }

func (a *Alu) srcSlots() []*Src {
	slots := make([]*Src, 0, len(a.Srcs))
	for i := range a.Srcs {
		slots = append(slots, &a.Srcs[i].Src)
		if ind := a.Srcs[i].Src.Reg; ind != nil && ind.Indirect != nil {
			slots = append(slots, ind.Indirect)
		}
	}
	if d := a.Dest.Dest.Reg; d != nil && d.Indirect != nil {
		slots = append(slots, d.Indirect)
	}
	return slots
}

// NewAlu creates a detached ALU instruction. The source count must
// match the opcode's arity.
func NewAlu(op Opcode, dest AluDest, srcs ...AluSrc) *Alu {
	if len(srcs) != op.Info().NumInputs {
		panic(fmt.Sprintf("%s takes %d operands, got %d", op, op.Info().NumInputs, len(srcs)))
	}
	return &Alu{Op: op, Dest: dest, Srcs: srcs}
}

// FirstWrittenComponent returns the lowest component index enabled by
// the destination write mask.
func (a *Alu) FirstWrittenComponent() uint8 {
	for i := uint8(0); i < 4; i++ {
		if a.Dest.WriteMask&(1<<i) != 0 {
			return i
		}
	}
	panic(fmt.Sprintf("%s instruction with empty write mask", a.Op))
}

// LoadConst is an immediate: up to 4 components of raw bit patterns.
// Its destination is always an SSA value.
type LoadConst struct {
	instrCommon
	Def    *Value
	Values [4]uint64
}

func (l *LoadConst) common() *instrCommon { return &l.instrCommon }
func (l *LoadConst) srcSlots() []*Src     { return nil }
func (l *LoadConst) destRef() *Dest       { return nil }

// Phi merges values at a control-flow join point. It must sit at the
// head of its block and carry exactly one entry per direct predecessor.
type Phi struct {
	instrCommon
	Def     *Value
	Entries []PhiEntry
}

// PhiEntry maps a predecessor block to the value live-out from it.
type PhiEntry struct {
	Pred *Block
	Src  Src
}

func (p *Phi) common() *instrCommon { return &p.instrCommon }
func (p *Phi) destRef() *Dest       { return nil }

func (p *Phi) srcSlots() []*Src {
	slots := make([]*Src, len(p.Entries))
	for i := range p.Entries {
		slots[i] = &p.Entries[i].Src
	}
	return slots
}

// DefValue returns the SSA value defined by the instruction, or nil if
// the instruction writes a register.
func DefValue(in Instr) *Value {
	switch in := in.(type) {
	case *Alu:
		return in.Dest.Dest.SSA
	case *LoadConst:
		return in.Def
	case *Phi:
		return in.Def
	default:
		panic(fmt.Sprintf("unknown instruction: %T", in))
	}
}

// registerInstr wires an instruction's sources and register destination
// into the owned back-reference sets.
func registerInstr(in Instr) {
	for _, slot := range in.srcSlots() {
		registerUse(slot)
	}
	if d := in.destRef(); d != nil && d.Reg != nil {
		a := in.(*Alu)
		d.Reg.Reg.defs = append(d.Reg.Reg.defs, a)
	}
}

func unregisterInstr(in Instr) {
	for _, slot := range in.srcSlots() {
		unregisterUse(slot)
	}
	if d := in.destRef(); d != nil && d.Reg != nil {
		a := in.(*Alu)
		r := d.Reg.Reg
		for i, def := range r.defs {
			if def == a {
				r.defs = append(r.defs[:i], r.defs[i+1:]...)
				break
			}
		}
	}
}

func registerUse(slot *Src) {
	switch {
	case slot.SSA != nil:
		slot.SSA.uses = append(slot.SSA.uses, slot)
	case slot.Reg != nil:
		r := slot.Reg.Reg
		r.uses = append(r.uses, slot)
	default:
		panic("source slot references neither a value nor a register")
	}
}

func unregisterUse(slot *Src) {
	switch {
	case slot.SSA != nil:
		uses := slot.SSA.uses
		for i, u := range uses {
			if u == slot {
				slot.SSA.uses = append(uses[:i], uses[i+1:]...)
				return
			}
		}
	case slot.Reg != nil:
		r := slot.Reg.Reg
		for i, u := range r.uses {
			if u == slot {
				r.uses = append(r.uses[:i], r.uses[i+1:]...)
				return
			}
		}
	}
}

// InsertBefore inserts a detached instruction immediately before ref in
// ref's block.
func InsertBefore(ref, in Instr) {
	blk := ref.Block()
	if blk == nil {
		panic("reference instruction is detached")
	}
	if in.Block() != nil {
		panic("inserting an instruction that is already attached")
	}
	c := in.common()
	rc := ref.common()
	c.block = blk
	c.next = ref
	c.prev = rc.prev
	if rc.prev != nil {
		rc.prev.common().next = in
	} else {
		blk.first = in
	}
	rc.prev = in
	registerInstr(in)
}

// Remove detaches an instruction from its block and releases its
// def/use bookkeeping. An instruction defining an SSA value that still
// has uses must not be removed.
func Remove(in Instr) {
	c := in.common()
	if c.block == nil {
		panic("removing a detached instruction")
	}
	if v := DefValue(in); v != nil && v.NumUses() != 0 {
		panic(fmt.Sprintf("removing the definition of v%d, which still has %d uses", v.Index, v.NumUses()))
	}
	if c.prev != nil {
		c.prev.common().next = c.next
	} else {
		c.block.first = c.next
	}
	if c.next != nil {
		c.next.common().prev = c.prev
	} else {
		c.block.last = c.prev
	}
	unregisterInstr(in)
	c.block = nil
	c.prev = nil
	c.next = nil
}
