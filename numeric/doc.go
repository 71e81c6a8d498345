// Package numeric provides the vector and matrix primitives shared by the
// local and remote halves of the multishot regression protocol.
//
// The primitives fall into three groups:
//
//   - Normalization: column-wise statistics over a data matrix. The default
//     strategy is z-scoring (zero mean, unit variance); alternative
//     strategies can be supplied as a Strategy function.
//
//   - Reductions: column-wise sums and means over a matrix, the l2 norm of
//     a vector, and the arithmetic mean of a vector.
//
//   - Keyed transforms: Zip and Unzip convert between ordered value slices
//     and maps keyed by region-of-interest name. The two are exact inverses
//     for a fixed ordered key set, which is what lets gradient vectors move
//     across the wire as maps without losing their ordering.
//
// Strategy functions rescale their column in place; everything else copies
// its inputs and retains no references to them.
package numeric
