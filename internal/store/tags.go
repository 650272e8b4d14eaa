package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/mo"

	"taskcal/internal/model"
)

// CreateTag inserts a tag. Names are unique per user.
func (s *Store) CreateTag(ctx context.Context, tag *model.Tag) error {
	tag.ID = newID()
	tag.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, user_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)`,
		tag.ID, tag.UserID, tag.Name, tag.Color, formatTime(tag.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTagExists
		}
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

// ListTags returns the user's tags ordered by name.
func (s *Store) ListTags(ctx context.Context, userID string) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, color, created_at FROM tags WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *tag)
	}
	return tags, rows.Err()
}

// GetTag returns one of the user's tags.
func (s *Store) GetTag(ctx context.Context, userID, id string) (*model.Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, color, created_at FROM tags WHERE id = ? AND user_id = ?`, id, userID)
	tag, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tag, err
}

// UpdateTag renames and/or recolors a tag.
func (s *Store) UpdateTag(ctx context.Context, userID, id string, name, color mo.Option[string]) (*model.Tag, error) {
	tag, err := s.GetTag(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if v, ok := name.Get(); ok {
		tag.Name = v
	}
	if v, ok := color.Get(); ok {
		tag.Color = v
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE tags SET name = ?, color = ? WHERE id = ? AND user_id = ?`,
		tag.Name, tag.Color, id, userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTagExists
		}
		return nil, fmt.Errorf("update tag: %w", err)
	}
	return tag, nil
}

// DeleteTag removes a tag and strips its id from every task of the user.
func (s *Store) DeleteTag(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET
			tags = (SELECT coalesce(json_group_array(value), '[]') FROM json_each(tasks.tags) WHERE value != ?),
			updated_at = ?
		 WHERE user_id = ? AND EXISTS (SELECT 1 FROM json_each(tasks.tags) WHERE value = ?)`,
		id, formatTime(s.now()), userID, id,
	)
	if err != nil {
		return fmt.Errorf("strip tag from tasks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanTag(row rowScanner) (*model.Tag, error) {
	var (
		tag       model.Tag
		createdAt string
	)
	if err := row.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.Color, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	tag.CreatedAt = t
	return &tag, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
