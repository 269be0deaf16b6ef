// Package storage provides the persistence layer for remindd.
//
// It exposes document-oriented CRUD with filter predicates over three
// logical collections: Definitions, CompletionLogs, and the ephemeral
// day-cache (cache rows share the Definition shape). Two drivers exist:
//   - "memory": in-process maps, used by tests and previews
//   - "sqlite": SQLite database file
package storage
