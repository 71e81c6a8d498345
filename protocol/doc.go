// Package protocol implements the multishot decentralized ridge-regression
// protocol: independent sites each hold private predictor/response data, and
// a single aggregator repeatedly merges their partial gradients into one
// shared coefficient vector until convergence or an iteration cap.
//
// # Architecture and Workflow
//
// The protocol splits every round between two pure entry points:
//
//  1. Sites: each site runs LocalStep against the current shared model. The
//     step normalizes the site's predictors and responses, evaluates the
//     ridge gradient and objective at the model, and reports them together
//     with an echo of the model vector it computed against. Raw data never
//     leaves the site.
//
//  2. Aggregator: RemoteStep folds a full, synchronized set of site results
//     into the next model state. It sums objectives, column-sums gradients,
//     averages r2, adapts the learning rate against a best-fit anchor, and
//     takes one descent step.
//
// # Round Transition
//
// Given the previous state S and the round's result set R, RemoteStep:
//
//  1. Returns S marked complete (exhausted) if the iteration cap is reached.
//  2. Seeds an initial state with random coefficients if S does not exist.
//     The seed is an emission, not an aggregation: R is ignored and the
//     iteration count stays at zero.
//  3. Returns a waiting outcome unless R contains exactly the expected
//     number of results and every result's echoed model vector equals
//     S's coefficients by value. A desynchronized or partial set is never
//     aggregated; the caller retries once the orchestrator delivers the
//     rest.
//  4. Aggregates: the global objective is the sum of site objectives, the
//     global gradient the column-wise sum of site gradients, and r2 the mean
//     of site r2 values (diagnostic only).
//  5. Marks the run converged, freezing coefficients and learning rate, when
//     the l2 norm of the aggregated gradient drops below the tolerance.
//  6. Halves the learning rate and keeps the previous best-fit anchor when
//     the round regressed (objective rose above the anchor's); otherwise
//     keeps the rate and promotes S's pre-round fit to be the new anchor.
//  7. Takes one descent step from the selected anchor, not from S's current
//     coefficients.
//  8. Increments the iteration count and appends a history snapshot. The
//     seed emission is excluded from both.
//
// # State Threading
//
// RemoteStep is a pure function of (previous state, result set). Each
// accepted round constructs a new immutable ModelState; the previous state
// is never mutated. Terminal states (converged, exhausted) accept no further
// transitions. All cross-round state is carried by the returned value; there
// is no hidden session.
//
// # Error Boundaries
//
// Anything about one site's contribution is recoverable: a shape mismatch
// fails only that site's round and a result missing required fields is
// dropped, leaving the round pending. Anything about global run
// configuration (empty key set, non-positive tolerance, learning rate or
// iteration cap) is fatal, since it would corrupt every future aggregation.
package protocol
