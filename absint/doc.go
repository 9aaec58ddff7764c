// Package absint performs static analysis of bytecode ahead of native
// code generation.
//
// This package contains:
//   - An abstract value lattice describing what is known about runtime types
//   - Provenance tracking from producing to consuming instructions
//   - A fixed-point abstract interpreter over the bytecode control-flow graph
//   - An instruction dependency graph with escape analysis deciding which
//     operations can run on unboxed native values
//
// The interpreter walks the bytecode updating an abstract model of the
// operand stack and locals. At a branch it merges the current state into
// the target's stored state; if the merge changes the stored state, the
// target is queued for (re)analysis. Analysis is complete when no merge
// changes anything. The result is one state per reachable instruction,
// describing the stack and locals before that instruction executes, plus
// the function's inferred return type.
package absint
