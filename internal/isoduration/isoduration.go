// Package isoduration parses and formats ISO-8601 durations
// (PnYnMnWnDTnHnMnS). Event definitions carry these strings for occurrence
// lifetimes and snooze offsets; no library in our dependency set handles
// them, so the parser lives here.
package isoduration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid ISO-8601 duration")

// ErrUnit marks a duration whose unit letter is not one of YMWD (date part)
// or HMS (time part).
var ErrUnit = errors.New("unsupported ISO-8601 duration unit")

// Duration is a parsed ISO-8601 duration. Fields may be fractional; callers
// that need integers truncate explicitly.
type Duration struct {
	Negative bool

	Years  float64
	Months float64
	Weeks  float64
	Days   float64

	Hours   float64
	Minutes float64
	Seconds float64

	// dateUnits records the unit letters present in the date part, in
	// source order. Used to detect ambiguous recurrence durations.
	dateUnits string
}

// Parse decodes an ISO-8601 duration string.
func Parse(s string) (Duration, error) {
	raw := strings.TrimSpace(s)
	var d Duration

	rest := raw
	if strings.HasPrefix(rest, "-") {
		d.Negative = true
		rest = rest[1:]
	} else if strings.HasPrefix(rest, "+") {
		rest = rest[1:]
	}
	if !strings.HasPrefix(rest, "P") {
		return Duration{}, fmt.Errorf("%w: %q missing P designator", ErrInvalid, raw)
	}
	rest = rest[1:]
	if rest == "" {
		return Duration{}, fmt.Errorf("%w: %q has no components", ErrInvalid, raw)
	}

	inTime := false
	sawComponent := false
	for len(rest) > 0 {
		if rest[0] == 'T' {
			if inTime {
				return Duration{}, fmt.Errorf("%w: %q repeats T designator", ErrInvalid, raw)
			}
			inTime = true
			rest = rest[1:]
			continue
		}

		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.' || rest[i] == ',') {
			i++
		}
		if i == 0 || i == len(rest) {
			return Duration{}, fmt.Errorf("%w: %q has a dangling component", ErrInvalid, raw)
		}
		num := strings.ReplaceAll(rest[:i], ",", ".")
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return Duration{}, fmt.Errorf("%w: %q has bad number %q", ErrInvalid, raw, num)
		}
		unit := rest[i]
		rest = rest[i+1:]
		sawComponent = true

		if inTime {
			switch unit {
			case 'H':
				d.Hours = v
			case 'M':
				d.Minutes = v
			case 'S':
				d.Seconds = v
			default:
				return Duration{}, fmt.Errorf("%w: %q in %q", ErrUnit, string(unit), raw)
			}
			continue
		}
		switch unit {
		case 'Y':
			d.Years = v
		case 'M':
			d.Months = v
		case 'W':
			d.Weeks = v
		case 'D':
			d.Days = v
		default:
			return Duration{}, fmt.Errorf("%w: %q in %q", ErrUnit, string(unit), raw)
		}
		d.dateUnits += string(unit)
	}
	if !sawComponent {
		return Duration{}, fmt.Errorf("%w: %q has no components", ErrInvalid, raw)
	}
	return d, nil
}

// MustParse is Parse for compile-time-known strings; it panics on error.
func MustParse(s string) Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateUnits returns the date-part unit letters present in the source, in
// order (e.g. "W" for P2W, "YM" for P1Y6M).
func (d Duration) DateUnits() string { return d.dateUnits }

// IsZero reports whether every component is zero.
func (d Duration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Weeks == 0 && d.Days == 0 &&
		d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0
}

// TimeOfDay extracts the time part as a wall-clock hour/minute pair,
// truncating fractional values.
func (d Duration) TimeOfDay() (hour, minute int) {
	return int(d.Hours), int(d.Minutes)
}

// TimePart returns the H/M/S components as a time.Duration.
func (d Duration) TimePart() time.Duration {
	ns := d.Hours*float64(time.Hour) + d.Minutes*float64(time.Minute) + d.Seconds*float64(time.Second)
	return time.Duration(ns)
}

// AddTo applies the duration to t. Integer year/month/week/day components
// shift the calendar date; fractional remainders and the time part are
// applied as an exact offset.
func (d Duration) AddTo(t time.Time) time.Time {
	sign := 1.0
	if d.Negative {
		sign = -1
	}

	years := int(d.Years)
	months := int(d.Months)
	days := int(d.Weeks)*7 + int(d.Days)
	if d.Negative {
		t = t.AddDate(-years, -months, -days)
	} else {
		t = t.AddDate(years, months, days)
	}

	frac := (d.Years-math.Trunc(d.Years))*365*24 +
		(d.Months-math.Trunc(d.Months))*30*24 +
		(d.Weeks-math.Trunc(d.Weeks))*7*24 +
		(d.Days-math.Trunc(d.Days))*24
	offset := time.Duration(frac*float64(time.Hour)) + d.TimePart()
	return t.Add(time.Duration(sign) * offset)
}

// Scale multiplies every component by k. Used to derive snooze offset
// ladders (1x, 2x, ... nx) from a base interval.
func (d Duration) Scale(k int) Duration {
	f := float64(k)
	out := d
	out.Years *= f
	out.Months *= f
	out.Weeks *= f
	out.Days *= f
	out.Hours *= f
	out.Minutes *= f
	out.Seconds *= f
	return out
}

// String renders the canonical ISO-8601 form. The zero duration renders as
// "PT0S".
func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	writeComp := func(v float64, unit byte) {
		if v == 0 {
			return
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte(unit)
	}
	writeComp(d.Years, 'Y')
	writeComp(d.Months, 'M')
	writeComp(d.Weeks, 'W')
	writeComp(d.Days, 'D')
	if d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 {
		b.WriteByte('T')
		writeComp(d.Hours, 'H')
		writeComp(d.Minutes, 'M')
		writeComp(d.Seconds, 'S')
	}
	s := b.String()
	if s == "P" || s == "-P" {
		return "PT0S"
	}
	return s
}
