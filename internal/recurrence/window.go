package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrWindowBounds is returned when a range-style window is missing a bound.
var ErrWindowBounds = errors.New("window requires both start and end bounds")

// Mode selects how a Window gates occurrences.
type Mode int

const (
	// ModeAt keeps occurrences containing a single instant
	// (start <= at <= end).
	ModeAt Mode = iota
	// ModeRange keeps occurrences overlapping [Start, End). With
	// IncludeOngoing, occurrences that started before Start but have not
	// ended yet are kept too.
	ModeRange
	// ModeExpiring keeps occurrences whose end falls within [Start, End),
	// regardless of when they started.
	ModeExpiring
)

// Window is the query window an expansion is evaluated against.
type Window struct {
	Mode Mode

	At time.Time

	Start          time.Time
	End            time.Time
	IncludeOngoing bool
}

// At builds a point-in-time containment window.
func At(now time.Time) Window {
	return Window{Mode: ModeAt, At: now}
}

// Between builds a [start, end) overlap window.
func Between(start, end time.Time, includeOngoing bool) Window {
	return Window{Mode: ModeRange, Start: start, End: end, IncludeOngoing: includeOngoing}
}

// Expiring builds a window keeping occurrences that end within [start, end).
func Expiring(start, end time.Time) Window {
	return Window{Mode: ModeExpiring, Start: start, End: end}
}

func (w Window) validate() error {
	switch w.Mode {
	case ModeAt:
		if w.At.IsZero() {
			return fmt.Errorf("%w: point-in-time window has no instant", ErrWindowBounds)
		}
	case ModeRange, ModeExpiring:
		if w.Start.IsZero() || w.End.IsZero() {
			return ErrWindowBounds
		}
		if w.End.Before(w.Start) {
			return fmt.Errorf("%w: end %v before start %v", ErrWindowBounds, w.End, w.Start)
		}
	default:
		return fmt.Errorf("%w: unknown window mode %d", ErrWindowBounds, w.Mode)
	}
	return nil
}

// Contains reports whether an occurrence spanning [start, end] matches the
// window's semantics.
func (w Window) Contains(start, end time.Time) bool {
	switch w.Mode {
	case ModeAt:
		return !w.At.Before(start) && !w.At.After(end)
	case ModeRange:
		if w.IncludeOngoing {
			return start.Before(w.End) && !end.Before(w.Start)
		}
		return !start.Before(w.Start) && start.Before(w.End)
	case ModeExpiring:
		return !end.Before(w.Start) && end.Before(w.End)
	}
	return false
}

// upperBound returns the instant past which no future candidate start can
// match. ok is false for windows with no finite end (never the case today,
// but kept explicit for the synthesis fallback).
func (w Window) upperBound() (time.Time, bool) {
	switch w.Mode {
	case ModeAt:
		return w.At, true
	case ModeRange, ModeExpiring:
		return w.End, true
	}
	return time.Time{}, false
}

// endBound returns the window's explicit end for UNTIL synthesis; point
// queries have none and fall back to now + instanceExpiresIn.
func (w Window) endBound() (time.Time, bool) {
	if w.Mode == ModeAt {
		return time.Time{}, false
	}
	return w.End, true
}
