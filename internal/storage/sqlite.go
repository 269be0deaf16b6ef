package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/event"
	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- filter compilation ----

var defColumns = map[string]string{
	"id":            "id",
	"type":          "type",
	"userId":        "user_id",
	"parentId":      "parent_id",
	"enabled":       "enabled",
	"startDateTime": "start_at",
	"endDateTime":   "end_at",
}

var logColumns = map[string]string{
	"id":            "id",
	"type":          "type",
	"userId":        "user_id",
	"parentId":      "parent_id",
	"startDateTime": "start_at",
	"endDateTime":   "end_at",
}

// compileFilters renders predicates into a WHERE clause. Times are stored
// as fixed-width RFC 3339 UTC strings, so comparison operators order
// correctly as text.
func compileFilters(cols map[string]string, filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	var (
		clauses []string
		args    []any
	)
	for _, f := range filters {
		col, ok := cols[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, f.Field)
		}
		switch f.Op {
		case OpEq:
			clauses = append(clauses, col+" = ?")
			args = append(args, sqlValue(f.Value))
		case OpGt:
			clauses = append(clauses, col+" > ?")
			args = append(args, sqlValue(f.Value))
		case OpGte:
			clauses = append(clauses, col+" >= ?")
			args = append(args, sqlValue(f.Value))
		case OpLt:
			clauses = append(clauses, col+" < ?")
			args = append(args, sqlValue(f.Value))
		case OpLte:
			clauses = append(clauses, col+" <= ?")
			args = append(args, sqlValue(f.Value))
		case OpIn, OpNotIn:
			if len(f.Values) == 0 {
				// IN () never matches; NOT IN () always does.
				if f.Op == OpIn {
					clauses = append(clauses, "1 = 0")
				}
				continue
			}
			ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Values)), ",")
			if f.Op == OpIn {
				clauses = append(clauses, col+" IN ("+ph+")")
			} else {
				clauses = append(clauses, col+" NOT IN ("+ph+")")
			}
			for _, v := range f.Values {
				args = append(args, sqlValue(v))
			}
		default:
			return "", nil, fmt.Errorf("storage: unknown filter op %d", f.Op)
		}
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(timeFormat)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return v
}

// ---- definitions ----

const defCols = `id, type, user_id, title, description, is_recurring, recurrence_pattern,
	instance_expires_in, start_at, end_at, enabled, extra_fields, snoozing,
	parent_id, timezone, complete_at, created_at, updated_at`

func (s *sqliteStore) PutDefinition(ctx context.Context, def event.Definition) error {
	if def.ID == "" {
		return fmt.Errorf("storage: definition has no id")
	}
	args, err := defArgs(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO definitions(`+defCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   type=excluded.type, user_id=excluded.user_id, title=excluded.title,
		   description=excluded.description, is_recurring=excluded.is_recurring,
		   recurrence_pattern=excluded.recurrence_pattern,
		   instance_expires_in=excluded.instance_expires_in,
		   start_at=excluded.start_at, end_at=excluded.end_at, enabled=excluded.enabled,
		   extra_fields=excluded.extra_fields, snoozing=excluded.snoozing,
		   parent_id=excluded.parent_id, timezone=excluded.timezone,
		   complete_at=excluded.complete_at, updated_at=excluded.updated_at`,
		args...)
	return err
}

func (s *sqliteStore) GetDefinition(ctx context.Context, id string) (event.Definition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+defCols+` FROM definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Definition{}, fmt.Errorf("%w: definition %s", ErrNotFound, id)
	}
	return def, err
}

func (s *sqliteStore) FindDefinitions(ctx context.Context, filters ...Filter) ([]event.Definition, error) {
	where, args, err := compileFilters(defColumns, filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+defCols+` FROM definitions`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDefinitions(rows)
}

func (s *sqliteStore) UpdateDefinition(ctx context.Context, def event.Definition) error {
	args, err := defArgs(def)
	if err != nil {
		return err
	}
	// Rotate id to the end for the WHERE clause.
	res, err := s.db.ExecContext(ctx,
		`UPDATE definitions SET
		   type=?, user_id=?, title=?, description=?, is_recurring=?, recurrence_pattern=?,
		   instance_expires_in=?, start_at=?, end_at=?, enabled=?, extra_fields=?, snoozing=?,
		   parent_id=?, timezone=?, complete_at=?, created_at=?, updated_at=?
		 WHERE id=?`,
		append(args[1:], def.ID)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: definition %s", ErrNotFound, def.ID)
	}
	return nil
}

func (s *sqliteStore) DeleteDefinitions(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id IN (`+ph+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- completion logs ----

func (s *sqliteStore) PutLog(ctx context.Context, lg event.CompletionLog) error {
	if lg.ID == "" {
		return fmt.Errorf("storage: completion log has no id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completion_logs(id, type, parent_id, user_id, start_at, end_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		lg.ID, lg.Type, lg.ParentID, lg.UserID,
		fmtTime(lg.StartDateTime), fmtTime(lg.EndDateTime),
		fmtTime(lg.CreateDateTime), fmtTime(lg.UpdateDateTime))
	return err
}

func (s *sqliteStore) FindLogs(ctx context.Context, filters ...Filter) ([]event.CompletionLog, error) {
	where, args, err := compileFilters(logColumns, filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, parent_id, user_id, start_at, end_at, created_at, updated_at
		 FROM completion_logs`+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.CompletionLog
	for rows.Next() {
		var (
			lg                               event.CompletionLog
			startS, endS, createdS, updatedS string
		)
		if err := rows.Scan(&lg.ID, &lg.Type, &lg.ParentID, &lg.UserID, &startS, &endS, &createdS, &updatedS); err != nil {
			return nil, err
		}
		if lg.StartDateTime, err = parseTime(startS); err != nil {
			return nil, err
		}
		if lg.EndDateTime, err = parseTime(endS); err != nil {
			return nil, err
		}
		if lg.CreateDateTime, err = parseTime(createdS); err != nil {
			return nil, err
		}
		if lg.UpdateDateTime, err = parseTime(updatedS); err != nil {
			return nil, err
		}
		out = append(out, lg)
	}
	return out, rows.Err()
}

// ---- day cache ----

const cacheCols = `id, type, user_id, title, description, is_recurring, recurrence_pattern,
	instance_expires_in, start_at, start_unix, end_at, enabled, extra_fields, snoozing,
	parent_id, timezone, complete_at, created_at, updated_at`

func (s *sqliteStore) InsertCache(ctx context.Context, rows []event.Definition) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO day_cache(`+cacheCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		args, err := cacheArgs(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) FindCache(ctx context.Context, filters ...Filter) ([]event.Definition, error) {
	where, args, err := compileFilters(defColumns, filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+defCols+` FROM day_cache`+where+` ORDER BY start_unix`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDefinitions(rows)
}

func (s *sqliteStore) FindCacheDue(ctx context.Context, minute time.Time) ([]event.Definition, error) {
	from := minute.Truncate(time.Minute).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+defCols+` FROM day_cache WHERE start_unix >= ? AND start_unix < ? ORDER BY start_unix`,
		from, from+60)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDefinitions(rows)
}

func (s *sqliteStore) DeleteCacheByParent(ctx context.Context, parentIDs ...string) error {
	if len(parentIDs) == 0 {
		return nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(parentIDs)), ",")
	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM day_cache WHERE parent_id IN (`+ph+`)`, args...)
	return err
}

func (s *sqliteStore) DeleteCacheRows(ctx context.Context, rows []event.Definition) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, row := range rows {
		if row.StartDateTime == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM day_cache WHERE parent_id = ? AND start_unix = ?`,
			row.ParentID, row.StartDateTime.UTC().Unix()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ClearCache(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM day_cache`)
	return err
}

// ---- row mapping ----

func defArgs(def event.Definition) ([]any, error) {
	extra, snooze, err := encodeEnvelope(def)
	if err != nil {
		return nil, err
	}
	return []any{
		def.ID, def.Type, nullableStr(def.UserID), def.Title, def.Description,
		boolInt(def.IsRecurring), def.RecurrencePattern, def.InstanceExpiresIn,
		nullableTime(def.StartDateTime), nullableTime(def.EndDateTime), boolInt(def.Enabled),
		extra, snooze, def.ParentID, def.Timezone, nullableTime(def.CompleteDateTime),
		fmtTime(def.CreateDateTime), fmtTime(def.UpdateDateTime),
	}, nil
}

func cacheArgs(row event.Definition) ([]any, error) {
	extra, snooze, err := encodeEnvelope(row)
	if err != nil {
		return nil, err
	}
	var startUnix int64
	if row.StartDateTime != nil {
		startUnix = row.StartDateTime.UTC().Unix()
	}
	return []any{
		row.ID, row.Type, nullableStr(row.UserID), row.Title, row.Description,
		boolInt(row.IsRecurring), row.RecurrencePattern, row.InstanceExpiresIn,
		nullableTime(row.StartDateTime), startUnix, nullableTime(row.EndDateTime), boolInt(row.Enabled),
		extra, snooze, row.ParentID, row.Timezone, nullableTime(row.CompleteDateTime),
		fmtTime(row.CreateDateTime), fmtTime(row.UpdateDateTime),
	}, nil
}

func encodeEnvelope(def event.Definition) (extra, snooze string, err error) {
	eb, err := json.Marshal(orEmptyMap(def.ExtraFields))
	if err != nil {
		return "", "", fmt.Errorf("storage: encode extra fields: %w", err)
	}
	sb, err := json.Marshal(orEmptySlice(def.Snoozing))
	if err != nil {
		return "", "", fmt.Errorf("storage: encode snoozing: %w", err)
	}
	return string(eb), string(sb), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (event.Definition, error) {
	var (
		def                     event.Definition
		userID                  sql.NullString
		isRecurring, enabled    int
		startS, endS, completeS sql.NullString
		extraS, snoozeS         string
		createdS, updatedS      string
	)
	err := row.Scan(&def.ID, &def.Type, &userID, &def.Title, &def.Description,
		&isRecurring, &def.RecurrencePattern, &def.InstanceExpiresIn,
		&startS, &endS, &enabled, &extraS, &snoozeS,
		&def.ParentID, &def.Timezone, &completeS, &createdS, &updatedS)
	if err != nil {
		return event.Definition{}, err
	}
	if userID.Valid {
		u := userID.String
		def.UserID = &u
	}
	def.IsRecurring = isRecurring != 0
	def.Enabled = enabled != 0
	if def.StartDateTime, err = parseNullTime(startS); err != nil {
		return event.Definition{}, err
	}
	if def.EndDateTime, err = parseNullTime(endS); err != nil {
		return event.Definition{}, err
	}
	if def.CompleteDateTime, err = parseNullTime(completeS); err != nil {
		return event.Definition{}, err
	}
	if def.CreateDateTime, err = parseTime(createdS); err != nil {
		return event.Definition{}, err
	}
	if def.UpdateDateTime, err = parseTime(updatedS); err != nil {
		return event.Definition{}, err
	}
	if extraS != "" && extraS != "{}" {
		if err := json.Unmarshal([]byte(extraS), &def.ExtraFields); err != nil {
			return event.Definition{}, fmt.Errorf("storage: decode extra fields: %w", err)
		}
	}
	if snoozeS != "" && snoozeS != "[]" {
		if err := json.Unmarshal([]byte(snoozeS), &def.Snoozing); err != nil {
			return event.Definition{}, fmt.Errorf("storage: decode snoozing: %w", err)
		}
	}
	return def, nil
}

func collectDefinitions(rows *sql.Rows) ([]event.Definition, error) {
	var out []event.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
