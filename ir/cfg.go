package ir

import "fmt"

// CFNode is a node of the structured control-flow tree: a *Block or an
// *If region.
type CFNode interface {
	cfList() *[]CFNode
	setCFList(*[]CFNode)
}

// Block is an ordered sequence of instructions with no internal control
// transfer.
type Block struct {
	Index uint32

	// Preds and Succs are the control-flow edges of the block.
	Preds []*Block
	Succs []*Block

	first, last Instr
	list        *[]CFNode
	fn          *Function
}

func (b *Block) cfList() *[]CFNode     { return b.list }
func (b *Block) setCFList(l *[]CFNode) { b.list = l }

// First returns the first instruction of the block, or nil if empty.
func (b *Block) First() Instr { return b.first }

// Last returns the last instruction of the block, or nil if empty.
func (b *Block) Last() Instr { return b.last }

// Append adds a detached instruction at the end of the block.
func (b *Block) Append(in Instr) {
	if in.Block() != nil {
		panic("inserting an instruction that is already attached")
	}
	c := in.common()
	c.block = b
	c.prev = b.last
	if b.last != nil {
		b.last.common().next = in
	} else {
		b.first = in
	}
	b.last = in
	registerInstr(in)
}

func (fn *Function) newBlock() *Block {
	b := &Block{Index: fn.nextBlock, fn: fn}
	fn.nextBlock++
	return b
}

// If is a control-flow region: a condition plus then/else lists of CF
// nodes. Both branches always rejoin at the block following the region.
type If struct {
	// Condition is the scalar bool32 the region branches on.
	Condition Src

	// Then and Else alternate blocks and nested regions, starting and
	// ending with a block.
	Then []CFNode
	Else []CFNode

	list *[]CFNode
	fn   *Function
}

func (i *If) cfList() *[]CFNode     { return i.list }
func (i *If) setCFList(l *[]CFNode) { i.list = l }

// LastThenBlock returns the final block of the then branch: the
// predecessor the then path contributes to the merge point.
func (i *If) LastThenBlock() *Block {
	return lastBlockOf(i.Then)
}

// LastElseBlock returns the final block of the else branch.
func (i *If) LastElseBlock() *Block {
	return lastBlockOf(i.Else)
}

func lastBlockOf(nodes []CFNode) *Block {
	b, ok := nodes[len(nodes)-1].(*Block)
	if !ok {
		panic("CF list does not end with a block")
	}
	return b
}

// MergeBlock returns the block the region's branches rejoin at: the
// node following the region in its CF list.
func (i *If) MergeBlock() *Block {
	lst := *i.list
	for idx, n := range lst {
		if n == i {
			b, ok := lst[idx+1].(*Block)
			if !ok {
				panic("if region is not followed by a block")
			}
			return b
		}
	}
	panic("if region is not in its own CF list")
}

// Body is the control-flow tree of a function: an alternating list of
// blocks and if regions, starting and ending with a block.
type Body struct {
	Nodes []CFNode
	fn    *Function
}

// insertIf splits blk at the instruction before (nil splits at the
// end), placing a new if region and its merge block between the two
// halves. Instructions from before onward move into the merge block,
// keeping their identity so snapshotted iteration pointers stay valid.
func insertIf(fn *Function, blk *Block, before Instr, cond *Value) *If {
	if cond.NumComponents != 1 || cond.BitSize != 32 {
		panic(fmt.Sprintf("if condition must be a scalar bool32, got v%d (%dx%d)",
			cond.Index, cond.NumComponents, cond.BitSize))
	}

	iff := &If{fn: fn}
	thenB := fn.newBlock()
	elseB := fn.newBlock()
	mergeB := fn.newBlock()
	iff.Then = []CFNode{thenB}
	iff.Else = []CFNode{elseB}
	thenB.setCFList(&iff.Then)
	elseB.setCFList(&iff.Else)

	// Move the tail of blk into the merge block.
	if before != nil {
		if before.Block() != blk {
			panic("split point is not in the block being split")
		}
		bc := before.common()
		mergeB.first = before
		mergeB.last = blk.last
		blk.last = bc.prev
		if bc.prev != nil {
			bc.prev.common().next = nil
		} else {
			blk.first = nil
		}
		bc.prev = nil
		for in := Instr(before); in != nil; in = in.Next() {
			in.common().block = mergeB
		}
	}

	// Splice [if, merge] after blk in its CF list.
	lst := blk.cfList()
	idx := -1
	for i, n := range *lst {
		if n == blk {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic("block is not in its own CF list")
	}
	rest := append([]CFNode{iff, mergeB}, (*lst)[idx+1:]...)
	*lst = append((*lst)[:idx+1], rest...)
	iff.setCFList(lst)
	mergeB.setCFList(lst)

	// Rewire edges: blk's old successors now follow the merge block.
	mergeB.Succs = blk.Succs
	for _, s := range mergeB.Succs {
		for i, p := range s.Preds {
			if p == blk {
				s.Preds[i] = mergeB
			}
		}
	}
	blk.Succs = []*Block{thenB, elseB}
	thenB.Preds = []*Block{blk}
	thenB.Succs = []*Block{mergeB}
	elseB.Preds = []*Block{blk}
	elseB.Succs = []*Block{mergeB}
	mergeB.Preds = []*Block{thenB, elseB}

	iff.Condition = SrcForSSA(cond)
	registerUse(&iff.Condition)
	return iff
}
