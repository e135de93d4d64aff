// Package lower implements backend lowering passes over the ir
// representation, for hardware without full native support for certain
// operations.
//
// Two passes are provided:
//
//   - LowerDoubles rewrites unsupported double-precision arithmetic and
//     transcendental operations (reciprocal, square root, inverse
//     square root, truncate, floor, ceil, fractional part,
//     round-to-even) into sequences built only from pack/unpack of a
//     double into two 32-bit words, conversion to and from single
//     precision, double add/mul/fma, conditional select, and 32-bit
//     integer and float arithmetic. Branchy replacements insert new
//     if regions and phi merge values.
//
//   - LowerVecToMovs rewrites vector-construction instructions into
//     partial-write moves, folding single-use producer instructions
//     directly into the vector's destination where that is legal.
//
// Both passes run to completion over one function at a time, mutate the
// IR in place, and leave it internally consistent after every
// instruction-level rewrite.
package lower
