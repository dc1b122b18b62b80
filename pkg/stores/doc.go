// Package stores provides the persistence layer for renderstate.
// It includes a SQLite-backed transition journal with WAL mode,
// embedded migrations, frame-based retention pruning, and query
// helpers for inspecting tier transition history.
package stores
