// Package rql compiles the collection query surface (string predicates
// with $N positional placeholders) to parameterized SQL for the storage
// engine.
//
// Compilation performs full validation up front: unknown properties,
// placeholders without a supplied argument, and comparisons between
// incompatible types are all rejected before any SQL executes. Values are
// never interpolated into the SQL text; every operand becomes a ? parameter.
package rql
