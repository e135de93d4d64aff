// Package nir provides a graph-structured SSA intermediate
// representation and backend lowering passes for shader compilers
// targeting hardware without full native support for certain
// operations.
//
// The package wraps two passes over the ir representation:
//   - Double-precision lowering — rewrites unsupported 64-bit
//     arithmetic and transcendental operations into supported
//     primitives
//   - Vector lowering — rewrites vector-construction instructions into
//     partial-write moves
//
// Example usage:
//
//	module := ir.NewModule()
//	fn := module.NewFunction("main")
//	b := ir.NewBuilder(fn)
//	// ... build instructions ...
//	nir.LowerDoubles(module, lower.LowerDAll)
//	nir.LowerVecToMovs(module)
//
// The rewritten module keeps the same representation and is handed
// unchanged to subsequent optimization and allocation passes. For
// finer control, use the lower package directly.
package nir

import (
	"github.com/gogpu/nir/ir"
	"github.com/gogpu/nir/lower"
)

// LowerDoubles rewrites the double-precision operations enabled in ops
// throughout the module into sequences of supported primitive
// instructions, inserting control-flow regions and merge values where
// the replacement computation is branchy.
//
// Reports whether any instruction was rewritten.
func LowerDoubles(module *ir.Module, ops lower.DoubleOps) bool {
	return lower.LowerDoubles(module, ops)
}

// LowerVecToMovs rewrites every vector-construction instruction in the
// module into at most one partial-write move per distinct source,
// folding eligible single-use producers directly into the vector's
// destination.
//
// Reports whether any instruction was rewritten.
func LowerVecToMovs(module *ir.Module) bool {
	return lower.LowerVecToMovs(module)
}
