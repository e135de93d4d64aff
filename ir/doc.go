// Package ir defines a graph-structured SSA intermediate representation
// for shader compiler backends.
//
// The IR is designed to be:
//   - Backend-oriented: Shaped like the instruction streams hardware
//     code generators consume, not like source-level expression trees
//   - Mutable in place: Lowering passes splice, clone, and delete
//     instructions while the rest of the function stays live
//   - Explicit about storage: SSA values and mutable registers coexist
//     as distinct operand variants
//
// # Structure
//
// A Module contains Functions. Each Function owns a Body: an alternating
// list of basic Blocks and structured If regions, always starting and
// ending with a Block. Both branches of an If rejoin at the block that
// follows it; Phi instructions at the head of that block merge the
// values flowing out of each branch.
//
// Instructions come in three closed variants: Alu (opcode, swizzled
// sources, write-masked destination), LoadConst (immediate bit
// patterns), and Phi. A destination is either an SSA Value (defined
// exactly once, immutable) or a reference to a Register (mutable,
// possibly written on several control paths). Registers keep owned
// back-reference sets of their defining instructions and their use
// sites, maintained incrementally as instructions are inserted and
// removed.
//
// # Builder
//
// The Builder carries an insertion cursor and provides one constructor
// per opcode, immediate constructors, and the control-flow surface:
// inserting an If region at the cursor (splitting the current block)
// and creating Phi merge values. Lowering passes are written entirely
// against the Builder.
//
// # References
//
// The design follows the NIR representation used by Mesa drivers and
// the SSA form of the Go compiler backend.
package ir
