package event

import (
	"time"
)

// DefaultExpiresIn is the occurrence lifetime applied when a Definition
// does not carry an explicit instanceExpiresIn.
const DefaultExpiresIn = "P1W"

// Definition is the canonical, storage-shaped representation of an event.
//
// Heterogeneous event types share this one shape; type-specific payload
// lives in ExtraFields and is packed/unpacked through the Registry.
type Definition struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// UserID is nil for preview definitions not yet bound to a user.
	UserID *string `json:"userId,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	IsRecurring bool `json:"isRecurring"`
	// RecurrencePattern is an RFC 5545 RRULE string (with DTSTART line),
	// required when IsRecurring is set. Readers enforce an UNTIL bound.
	RecurrencePattern string `json:"recurrencePattern,omitempty"`

	// InstanceExpiresIn is an ISO-8601 duration bounding each occurrence's
	// validity. Empty means DefaultExpiresIn.
	InstanceExpiresIn string `json:"instanceExpiresIn,omitempty"`

	StartDateTime *time.Time `json:"startDateTime,omitempty"`
	EndDateTime   *time.Time `json:"endDateTime,omitempty"`

	Enabled bool `json:"enabled"`

	// ExtraFields carries the type-specific payload envelope.
	ExtraFields map[string]any `json:"extraFields,omitempty"`

	// Snoozing is an ordered list of ISO-8601 offsets for secondary
	// notification attempts derived from each primary occurrence.
	Snoozing []string `json:"snoozing,omitempty"`

	// ParentID back-references the defining Definition for expanded
	// occurrences; equals ID for canonical definitions.
	ParentID string `json:"parentId,omitempty"`

	// Timezone is the IANA zone the recurrence was anchored in.
	// Re-anchoring under a different zone rewrites the RRULE.
	Timezone string `json:"timezone,omitempty"`

	CompleteDateTime *time.Time `json:"completeDateTime,omitempty"`

	CreateDateTime time.Time `json:"createDateTime"`
	UpdateDateTime time.Time `json:"updateDateTime"`
}

// ExpiresInOrDefault returns the effective instanceExpiresIn string.
func (d Definition) ExpiresInOrDefault() string {
	if d.InstanceExpiresIn == "" {
		return DefaultExpiresIn
	}
	return d.InstanceExpiresIn
}

// Occurrence derives a concrete, time-bounded instance of this Definition.
// The result is non-recurring and back-references the canonical id.
func (d Definition) Occurrence(start, end time.Time) Definition {
	occ := d
	occ.IsRecurring = false
	occ.RecurrencePattern = ""
	s, e := start, end
	occ.StartDateTime = &s
	occ.EndDateTime = &e
	occ.ParentID = d.ID
	// Copy reference fields so occurrences never alias the canonical row.
	if d.Snoozing != nil {
		occ.Snoozing = append([]string(nil), d.Snoozing...)
	}
	if d.ExtraFields != nil {
		ef := make(map[string]any, len(d.ExtraFields))
		for k, v := range d.ExtraFields {
			ef[k] = v
		}
		occ.ExtraFields = ef
	}
	return occ
}

// AsCacheRow prepares an occurrence for next-day cache insertion:
// id cleared, parent back-reference kept, so cache rows stay inert and
// re-creatable from the canonical Definitions.
func (d Definition) AsCacheRow() Definition {
	row := d
	row.ID = ""
	return row
}

// CompletionLog records that one occurrence was completed by a user.
// Logs are immutable once created.
type CompletionLog struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	ParentID string `json:"parentId"`
	UserID   string `json:"userId"`

	StartDateTime time.Time `json:"startDateTime"`
	EndDateTime   time.Time `json:"endDateTime"`

	CreateDateTime time.Time `json:"createDateTime"`
	UpdateDateTime time.Time `json:"updateDateTime"`
}
