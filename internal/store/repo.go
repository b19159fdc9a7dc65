package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"hhpilot/internal/logging"
	"hhpilot/internal/models"
)

// RepositoryError wraps every store failure, preserving the cause.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: err}
}

// querier abstracts *sql.DB and *sql.Tx so a repository can run inside a
// transactional scope.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// Spec is the class-level repository configuration.
type Spec[T models.Model] struct {
	Table string
	// PrimaryKey defaults to "id"; empty disables the implicit conflict
	// target (composite-key tables set ConflictColumns instead).
	PrimaryKey string
	// ConflictColumns overrides the upsert conflict target.
	ConflictColumns []string
	// UpdateExcludes lists columns never overwritten by an upsert. The
	// default excludes created_at and updated_at; repositories whose source
	// payload carries updated_at narrow this to created_at only.
	UpdateExcludes []string
	FromRow        func(models.Row) T
	// FromAPI converts a raw payload before saving a mapping; nil means the
	// repository only accepts typed models.
	FromAPI func(models.Payload) T
}

// Repository implements find/save/delete over one table.
type Repository[T models.Model] struct {
	q    querier
	spec Spec[T]
}

// NewRepository builds a repository with the spec's defaults filled in.
func NewRepository[T models.Model](q querier, spec Spec[T]) *Repository[T] {
	if spec.PrimaryKey == "" && spec.ConflictColumns == nil {
		spec.PrimaryKey = "id"
	}
	if spec.UpdateExcludes == nil {
		spec.UpdateExcludes = []string{"created_at", "updated_at"}
	}
	return &Repository[T]{q: q, spec: spec}
}

func (r *Repository[T]) withQuerier(q querier) *Repository[T] {
	return &Repository[T]{q: q, spec: r.spec}
}

// Filter operators: field or field__op.
var filterOps = map[string]string{
	"lt":     "<",
	"le":     "<=",
	"gt":     ">",
	"ge":     ">=",
	"ne":     "!=",
	"eq":     "=",
	"like":   "LIKE",
	"is":     "IS",
	"is_not": "IS NOT",
	"in":     "IN",
	"not_in": "NOT IN",
}

func buildWhere(filters models.Row) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []interface{}
	for _, key := range keys {
		field, op := key, "="
		if i := strings.Index(key, "__"); i >= 0 {
			sqlOp, ok := filterOps[key[i+2:]]
			if !ok {
				return "", nil, fmt.Errorf("unknown filter operator %q", key[i+2:])
			}
			field, op = key[:i], sqlOp
		}

		value := filters[key]
		if op == "IN" || op == "NOT IN" {
			list, err := toList(value)
			if err != nil {
				return "", nil, fmt.Errorf("filter %s: %w", key, err)
			}
			for i, item := range list {
				list[i] = bindValue(item)
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(list)), ",")
			clauses = append(clauses, fmt.Sprintf("%q %s (%s)", field, op, placeholders))
			args = append(args, list...)
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%q %s ?", field, op))
		args = append(args, bindValue(value))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// bindValue renders filter values in the stored column format. Datetime
// columns hold RFC3339 UTC text, and SQLite compares text columns as plain
// strings, so a time.Time must be bound in exactly that shape or range
// filters silently misorder.
func bindValue(value interface{}) interface{} {
	if t, ok := value.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return value
}

func toList(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []int64:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, nil
	case []int:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("in/not_in needs a sequence, got %T", value)
	}
}

// Find returns matching rows, newest inserts first.
func (r *Repository[T]) Find(filters models.Row) ([]T, error) {
	return r.FindLimit(filters, 0)
}

// FindLimit is Find with a row cap; zero means no cap.
func (r *Repository[T]) FindLimit(filters models.Row, limit int) ([]T, error) {
	where, args, err := buildWhere(filters)
	if err != nil {
		return nil, wrapErr("find", err)
	}

	query := fmt.Sprintf("SELECT * FROM %q%s ORDER BY rowid DESC", r.spec.Table, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, wrapErr("find", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, wrapErr("find", err)
	}

	var out []T
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrapErr("find", err)
		}
		row := models.Row{}
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, r.spec.FromRow(row))
	}
	return out, wrapErr("find", rows.Err())
}

// Get returns the first row with the given primary key, reporting presence.
func (r *Repository[T]) Get(pk interface{}) (T, bool, error) {
	var zero T
	if r.spec.PrimaryKey == "" {
		return zero, false, wrapErr("get", fmt.Errorf("table %s has no primary key", r.spec.Table))
	}
	found, err := r.FindLimit(models.Row{r.spec.PrimaryKey: pk}, 1)
	if err != nil || len(found) == 0 {
		return zero, false, err
	}
	return found[0], true, nil
}

// Save upserts a typed model.
func (r *Repository[T]) Save(m T) error {
	return r.saveRow(m.ToRow())
}

// SaveBatch upserts a list of typed models.
func (r *Repository[T]) SaveBatch(items []T) error {
	for _, m := range items {
		if err := r.Save(m); err != nil {
			return err
		}
	}
	return nil
}

// SavePayload converts a raw API payload through the model layer and upserts
// the result.
func (r *Repository[T]) SavePayload(data models.Payload) error {
	if r.spec.FromAPI == nil {
		return wrapErr("save", fmt.Errorf("table %s does not accept payloads", r.spec.Table))
	}
	return r.Save(r.spec.FromAPI(data))
}

// saveRow synthesizes
//
//	INSERT INTO t (...) VALUES (...)
//	ON CONFLICT(target) DO UPDATE SET col = excluded.col, ...
//
// The SET list drops the conflict target, the primary key, and the
// UpdateExcludes; when nothing is left it degrades to DO NOTHING.
func (r *Repository[T]) saveRow(row models.Row) error {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]interface{}, len(cols))
	quoted := make([]string, len(cols))
	for i, col := range cols {
		args[i] = row[col]
		quoted[i] = fmt.Sprintf("%q", col)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")

	query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		r.spec.Table, strings.Join(quoted, ","), placeholders)

	target := r.spec.ConflictColumns
	if target == nil && r.spec.PrimaryKey != "" {
		if _, ok := row[r.spec.PrimaryKey]; ok {
			target = []string{r.spec.PrimaryKey}
		}
	}

	if target != nil {
		skip := map[string]bool{r.spec.PrimaryKey: true}
		for _, col := range target {
			skip[col] = true
		}
		for _, col := range r.spec.UpdateExcludes {
			skip[col] = true
		}

		var sets []string
		for _, col := range cols {
			if !skip[col] {
				sets = append(sets, fmt.Sprintf("%q = excluded.%q", col, col))
			}
		}

		quotedTarget := make([]string, len(target))
		for i, col := range target {
			quotedTarget[i] = fmt.Sprintf("%q", col)
		}
		if len(sets) == 0 {
			query += fmt.Sprintf(" ON CONFLICT(%s) DO NOTHING", strings.Join(quotedTarget, ","))
		} else {
			query += fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s",
				strings.Join(quotedTarget, ","), strings.Join(sets, ", "))
		}
	}

	logging.StoreDebug("save %s: %s", r.spec.Table, query)
	_, err := r.q.Exec(query, args...)
	return wrapErr("save", err)
}

// Delete removes a row by primary key.
func (r *Repository[T]) Delete(pk interface{}) error {
	if r.spec.PrimaryKey == "" {
		return wrapErr("delete", fmt.Errorf("table %s has no primary key", r.spec.Table))
	}
	_, err := r.q.Exec(
		fmt.Sprintf("DELETE FROM %q WHERE %q = ?", r.spec.Table, r.spec.PrimaryKey), pk)
	return wrapErr("delete", err)
}

// Clear removes every row.
func (r *Repository[T]) Clear() error {
	_, err := r.q.Exec(fmt.Sprintf("DELETE FROM %q", r.spec.Table))
	return wrapErr("clear", err)
}

// Count returns the number of matching rows.
func (r *Repository[T]) Count(filters models.Row) (int64, error) {
	where, args, err := buildWhere(filters)
	if err != nil {
		return 0, wrapErr("count", err)
	}
	rows, err := r.q.Query(fmt.Sprintf("SELECT COUNT(*) FROM %q%s", r.spec.Table, where), args...)
	if err != nil {
		return 0, wrapErr("count", err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, wrapErr("count", err)
		}
	}
	return n, wrapErr("count", rows.Err())
}
