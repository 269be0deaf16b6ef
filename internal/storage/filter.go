package storage

import (
	"fmt"
	"time"

	"remindd/internal/event"
)

// definitionField extracts a filterable field from a Definition-shaped
// document (canonical definitions and cache rows alike). A nil result
// means the field is unset on this document.
func definitionField(def event.Definition, field string) (any, error) {
	switch field {
	case "id":
		return def.ID, nil
	case "type":
		return def.Type, nil
	case "userId":
		if def.UserID == nil {
			return nil, nil
		}
		return *def.UserID, nil
	case "parentId":
		return def.ParentID, nil
	case "enabled":
		return def.Enabled, nil
	case "startDateTime":
		if def.StartDateTime == nil {
			return nil, nil
		}
		return *def.StartDateTime, nil
	case "endDateTime":
		if def.EndDateTime == nil {
			return nil, nil
		}
		return *def.EndDateTime, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
}

func logField(lg event.CompletionLog, field string) (any, error) {
	switch field {
	case "id":
		return lg.ID, nil
	case "type":
		return lg.Type, nil
	case "userId":
		return lg.UserID, nil
	case "parentId":
		return lg.ParentID, nil
	case "startDateTime":
		return lg.StartDateTime, nil
	case "endDateTime":
		return lg.EndDateTime, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
}

func matchFilter(got any, f Filter) (bool, error) {
	switch f.Op {
	case OpEq:
		return valuesEqual(got, f.Value), nil
	case OpIn:
		for _, v := range f.Values {
			if valuesEqual(got, v) {
				return true, nil
			}
		}
		return false, nil
	case OpNotIn:
		for _, v := range f.Values {
			if valuesEqual(got, v) {
				return false, nil
			}
		}
		return true, nil
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compareValues(got, f.Value)
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, fmt.Errorf("storage: unknown filter op %d", f.Op)
}

func valuesEqual(a, b any) bool {
	c, ok := compareValues(a, b)
	return ok && c == 0
}

// compareValues orders two scalar document values. ok is false when the
// values are unset or of incomparable kinds.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case at.Equal(bt):
			return 0, true
		case at.Before(bt):
			return -1, true
		default:
			return 1, true
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case as == bs:
			return 0, true
		case as < bs:
			return -1, true
		default:
			return 1, true
		}
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		default:
			return 1, true
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af == bf:
			return 0, true
		case af < bf:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
