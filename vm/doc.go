// Package vm implements the fern runtime: a dynamically-typed,
// garbage-collected s-expression language designed around a fixed memory
// budget.
//
// Every value is one fixed-size cell in a pool allocated up front;
// cross-cell references are 16-bit compressed pool indices. A mark-and-sweep
// collector traces the operand stack, the globals tree, the lexical binding
// chain, and explicitly registered roots. Source text is parsed by a
// recursive-descent reader, macro-expanded, and either interpreted by the
// tree-walking evaluator or executed as precompiled bytecode by the stack
// machine in exec.go; both paths share one funcall convention, one operand
// stack, and one pool.
//
// All state lives in a Context. Errors are values: operations that fail
// return error cells which propagate through evaluation; only unrecoverable
// conditions (intern arena overflow, init self-test failure) reach the
// host's fatal handler.
package vm
