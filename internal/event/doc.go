// Package event holds the canonical reminder event model: the polymorphic
// Definition, the immutable CompletionLog, and the type-tag Registry that
// maps a discriminator string to per-type behavior (extra-field schema and
// the dispatch side effect).
//
// A Definition is either a canonical event (ParentID == ID) or a concrete
// occurrence expanded from one (ParentID set to the defining Definition's
// id). Next-day cache rows share this shape with ID cleared.
package event
