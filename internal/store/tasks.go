package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"

	"taskcal/internal/model"
)

const taskColumns = `id, user_id, title, description, status, priority, tags, start_at, due_at,
	all_day, estimate_minutes, actual_minutes, recurrence, checklist, created_at, updated_at`

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// TaskFilter narrows ListTasks. Zero fields do not filter.
type TaskFilter struct {
	Status model.Status
	// From keeps tasks starting or due at/after it.
	From mo.Option[time.Time]
	// To keeps tasks starting or due at/before it.
	To mo.Option[time.Time]
	// Query is a case-insensitive substring of title or description.
	Query string
	// Tags keeps tasks carrying any of these tag ids.
	Tags        []string
	MinPriority int
	Limit       int
	// Cursor is the id of the last task of the previous page.
	Cursor string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t                    model.Task
		tags, checklist      string
		startAt, dueAt       sql.NullString
		recurrence           sql.NullString
		estimate             sql.NullInt64
		createdAt, updatedAt string
		status               string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &status, &t.Priority, &tags,
		&startAt, &dueAt, &t.AllDay, &estimate, &t.ActualMinutes, &recurrence, &checklist,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Status = model.Status(status)

	var err error
	if t.StartAt, err = scanOptionalTime(startAt); err != nil {
		return nil, fmt.Errorf("parse start_at: %w", err)
	}
	if t.DueAt, err = scanOptionalTime(dueAt); err != nil {
		return nil, fmt.Errorf("parse due_at: %w", err)
	}
	if estimate.Valid {
		t.EstimateMinutes = mo.Some(int(estimate.Int64))
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(checklist), &t.Checklist); err != nil {
		return nil, fmt.Errorf("decode checklist: %w", err)
	}
	if recurrence.Valid {
		var rec model.Recurrence
		// Legacy or hand-edited rows may hold junk; the expander treats a
		// nil recurrence as a single event.
		if json.Unmarshal([]byte(recurrence.String), &rec) == nil {
			t.Recurrence = &rec
		}
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

// taskArgs returns the column values shared by insert and update.
func taskArgs(t *model.Task) ([]any, error) {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Checklist == nil {
		t.Checklist = []model.ChecklistItem{}
	}
	tags, err := marshalJSON(t.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	checklist, err := marshalJSON(t.Checklist)
	if err != nil {
		return nil, fmt.Errorf("encode checklist: %w", err)
	}

	var recurrence any
	rule := model.RuleNone
	if t.Recurrence != nil {
		enc, err := marshalJSON(t.Recurrence)
		if err != nil {
			return nil, fmt.Errorf("encode recurrence: %w", err)
		}
		recurrence = enc
		if t.Recurrence.Rule != "" {
			rule = t.Recurrence.Rule
		}
	}

	var estimate any
	if v, ok := t.EstimateMinutes.Get(); ok {
		estimate = v
	}

	return []any{
		t.Title, t.Description, string(t.Status), t.Priority, tags,
		optionalTime(t.StartAt), optionalTime(t.DueAt), t.AllDay, estimate, t.ActualMinutes,
		recurrence, string(rule), checklist, formatTime(t.UpdatedAt),
	}, nil
}

// CreateTask assigns an id and timestamps to t and inserts it. Checklist
// items without an id get one.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	now := s.now().UTC()
	t.ID = newID()
	t.CreatedAt = now
	t.UpdatedAt = now
	for i := range t.Checklist {
		if t.Checklist[i].ID == "" {
			t.Checklist[i].ID = newID()
		}
	}

	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	args = append([]any{t.ID, t.UserID}, args...)
	args = append(args, formatTime(t.CreatedAt))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, status, priority, tags, start_at, due_at,
			all_day, estimate_minutes, actual_minutes, recurrence, recurrence_rule, checklist, updated_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns the user's task with the given id.
func (s *Store) GetTask(ctx context.Context, userID, id string) (*model.Task, error) {
	return getTask(ctx, s.db, userID, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q querier, userID, id string) (*model.Task, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites the stored task with t and bumps UpdatedAt.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	return updateTask(ctx, s.db, t, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateTask(ctx context.Context, e execer, t *model.Task, now time.Time) error {
	t.UpdatedAt = now.UTC()
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	args = append(args, t.ID, t.UserID)

	res, err := e.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, tags = ?, start_at = ?,
			due_at = ?, all_day = ?, estimate_minutes = ?, actual_minutes = ?, recurrence = ?,
			recurrence_rule = ?, checklist = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes the user's task.
func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns one page of the user's tasks, newest first, and the
// cursor for the next page ("" when this page is the last).
func (s *Store) ListTasks(ctx context.Context, userID string, f TaskFilter) ([]model.Task, string, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{userID}
	)

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if from, ok := f.From.Get(); ok {
		where = append(where, "(due_at >= ? OR start_at >= ?)")
		args = append(args, formatTime(from), formatTime(from))
	}
	if to, ok := f.To.Get(); ok {
		where = append(where, "(due_at <= ? OR start_at <= ?)")
		args = append(args, formatTime(to), formatTime(to))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(f.Tags) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(tasks.tags) WHERE json_each.value IN ("+placeholders(len(f.Tags))+"))")
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}
	if f.MinPriority > 0 {
		where = append(where, "priority >= ?")
		args = append(args, f.MinPriority)
	}
	if f.Cursor != "" {
		where = append(where, "id < ?")
		args = append(args, f.Cursor)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	args = append(args, limit)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY id DESC LIMIT ?`

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(tasks) == limit {
		next = tasks[len(tasks)-1].ID
	}
	return tasks, next, nil
}

// ListForWindow is the coarse pre-filter for calendar queries: tasks
// whose start/due interval touches [from, to], plus every recurring task.
// The recurrence expander decides what actually falls inside the window.
func (s *Store) ListForWindow(ctx context.Context, userID string, from, to time.Time) ([]model.Task, error) {
	f, t := formatTime(from), formatTime(to)
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND (
			(start_at IS NOT NULL AND start_at <= ? AND (due_at IS NULL OR due_at >= ?))
			OR (due_at IS NOT NULL AND due_at >= ? AND due_at <= ?)
			OR recurrence_rule != 'NONE'
		 )
		 ORDER BY id`,
		userID, t, f, f, t,
	)
}

// ListOpenRecurringOrDue returns the user's not-done tasks that are either
// recurring or due within [from, to]. The reminder scan uses it.
func (s *Store) ListOpenRecurringOrDue(ctx context.Context, userID string, from, to time.Time) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND status != ? AND (
			(due_at IS NOT NULL AND due_at >= ? AND due_at <= ?)
			OR recurrence_rule != 'NONE'
		 )
		 ORDER BY id`,
		userID, string(model.StatusDone), formatTime(from), formatTime(to),
	)
}

// AllTasks returns every task of the user, oldest first.
func (s *Store) AllTasks(ctx context.Context, userID string) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY id`, userID)
}

// ListUsers returns every user id that owns at least one task.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM tasks ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ModifyTask loads the user's task, applies fn and writes the result back
// in one transaction.
func (s *Store) ModifyTask(ctx context.Context, userID, id string, fn func(*model.Task) error) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := getTask(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	// The owner and identity are not editable.
	t.ID, t.UserID = id, userID
	if err := updateTask(ctx, tx, t, s.now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// AddChecklistItem appends a new unchecked item to the task's checklist.
func (s *Store) AddChecklistItem(ctx context.Context, userID, taskID, label string) (*model.Task, error) {
	return s.ModifyTask(ctx, userID, taskID, func(t *model.Task) error {
		t.Checklist = append(t.Checklist, model.ChecklistItem{ID: newID(), Label: label})
		return nil
	})
}

// UpdateChecklistItem changes the label and/or done flag of one item.
func (s *Store) UpdateChecklistItem(ctx context.Context, userID, taskID, itemID string, label mo.Option[string], done mo.Option[bool]) (*model.Task, error) {
	return s.ModifyTask(ctx, userID, taskID, func(t *model.Task) error {
		for i := range t.Checklist {
			if t.Checklist[i].ID != itemID {
				continue
			}
			if v, ok := label.Get(); ok {
				t.Checklist[i].Label = v
			}
			if v, ok := done.Get(); ok {
				t.Checklist[i].Done = v
			}
			return nil
		}
		return ErrNotFound
	})
}

// DeleteChecklistItem removes one item; a missing item is not an error.
func (s *Store) DeleteChecklistItem(ctx context.Context, userID, taskID, itemID string) (*model.Task, error) {
	return s.ModifyTask(ctx, userID, taskID, func(t *model.Task) error {
		kept := t.Checklist[:0]
		for _, item := range t.Checklist {
			if item.ID != itemID {
				kept = append(kept, item)
			}
		}
		t.Checklist = kept
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
