// Package recurrence turns event Definitions into concrete occurrences.
//
// Expansion is a pure function of (definition, window): recurring patterns
// are iterated with a guaranteed bound (an UNTIL is synthesized when the
// stored RRULE lacks one), each candidate is evaluated against the query
// window, and snooze offsets derive secondary occurrences from each valid
// primary one. Completion-log correlation is a second, independent stage
// (DisableCompleted) so both halves stay testable in isolation.
package recurrence
