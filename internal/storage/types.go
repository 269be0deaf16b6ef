package storage

import (
	"context"
	"errors"
	"time"

	"remindd/internal/event"
)

var (
	// ErrNotFound is returned when a definition id does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrUnknownField is returned for a filter over a field the
	// collection does not index.
	ErrUnknownField = errors.New("storage: unknown filter field")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (tests, previews)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Op is a filter comparison operator.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpNotIn
	OpGt
	OpGte
	OpLt
	OpLte
)

// Filter is one predicate over a named document field. Filterable fields
// use the document names: id, type, userId, parentId, enabled,
// startDateTime, endDateTime.
type Filter struct {
	Field  string
	Op     Op
	Value  any
	Values []any
}

func Eq(field string, v any) Filter  { return Filter{Field: field, Op: OpEq, Value: v} }
func Gt(field string, v any) Filter  { return Filter{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: v} }
func Lt(field string, v any) Filter  { return Filter{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: v} }

func In(field string, vs ...any) Filter    { return Filter{Field: field, Op: OpIn, Values: vs} }
func NotIn(field string, vs ...any) Filter { return Filter{Field: field, Op: OpNotIn, Values: vs} }

// Store is the persistence API used by the scheduling service and the
// dispatch loop.
type Store interface {
	PutDefinition(ctx context.Context, def event.Definition) error
	GetDefinition(ctx context.Context, id string) (event.Definition, error)
	FindDefinitions(ctx context.Context, filters ...Filter) ([]event.Definition, error)
	UpdateDefinition(ctx context.Context, def event.Definition) error
	// DeleteDefinitions removes the given ids and reports how many rows
	// actually existed.
	DeleteDefinitions(ctx context.Context, ids ...string) (int, error)

	PutLog(ctx context.Context, lg event.CompletionLog) error
	FindLogs(ctx context.Context, filters ...Filter) ([]event.CompletionLog, error)

	// InsertCache bulk-inserts day-cache rows (Definition-shaped, id
	// cleared, parentId set).
	InsertCache(ctx context.Context, rows []event.Definition) error
	FindCache(ctx context.Context, filters ...Filter) ([]event.Definition, error)
	// FindCacheDue returns cache rows whose start falls within the given
	// minute (seconds truncated).
	FindCacheDue(ctx context.Context, minute time.Time) ([]event.Definition, error)
	DeleteCacheByParent(ctx context.Context, parentIDs ...string) error
	// DeleteCacheRows removes specific rows, matched by (parentId, start).
	DeleteCacheRows(ctx context.Context, rows []event.Definition) error
	ClearCache(ctx context.Context) error

	Close() error
}
