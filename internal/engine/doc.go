// Package engine implements the native storage boundary for meridian on
// top of SQLite.
//
// The engine owns the store file and its sidecar artifacts, a single-writer
// transaction model, per-commit change tracking, and query execution over
// per-type object tables and per-property link tables. It knows nothing
// about the user-facing object model; callers address rows by (table, rid)
// where rid is a stable, never-reused SQLite AUTOINCREMENT row id.
package engine
