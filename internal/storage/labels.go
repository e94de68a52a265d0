package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskmanager/internal/models"
)

// ListLabels retrieves all labels ordered by id.
func (s *Store) ListLabels(ctx context.Context) ([]models.Label, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM labels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var labels []models.Label
	for rows.Next() {
		var l models.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// GetLabel fetches a single label by id.
func (s *Store) GetLabel(ctx context.Context, id int64) (models.Label, error) {
	var l models.Label
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT id, name, created_at FROM labels WHERE id = ?`), id).
		Scan(&l.ID, &l.Name, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Label{}, fmt.Errorf("label %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Label{}, fmt.Errorf("get label: %w", err)
	}
	return l, nil
}

// CreateLabel persists a new label. Duplicate names yield ErrConflict.
func (s *Store) CreateLabel(ctx context.Context, name string) (models.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Label{}, fmt.Errorf("label name must not be empty")
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`INSERT INTO labels(name, created_at) VALUES(?, ?) RETURNING id`), name, time.Now().UTC()).Scan(&id)
	if err != nil {
		return models.Label{}, s.translate("insert label", err, ErrInvalidReference)
	}
	return s.GetLabel(ctx, id)
}

// UpdateLabel renames a label.
func (s *Store) UpdateLabel(ctx context.Context, id int64, name string) (models.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Label{}, fmt.Errorf("label name must not be empty")
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE labels SET name = ? WHERE id = ?`), name, id)
	if err != nil {
		return models.Label{}, s.translate("update label", err, ErrInvalidReference)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Label{}, err
	}
	if affected == 0 {
		return models.Label{}, fmt.Errorf("label %d: %w", id, ErrNotFound)
	}
	return s.GetLabel(ctx, id)
}

// LabelInUse reports whether any task carries the label.
func (s *Store) LabelInUse(ctx context.Context, id int64) (bool, error) {
	var used bool
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT EXISTS(SELECT 1 FROM task_labels WHERE label_id = ?)`), id).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("label usage: %w", err)
	}
	return used, nil
}

// DeleteLabel removes a label unless a task still uses it.
func (s *Store) DeleteLabel(ctx context.Context, id int64) error {
	used, err := s.LabelInUse(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("label %d: %w", id, ErrInUse)
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM labels WHERE id = ?`), id)
	if err != nil {
		return s.translate("delete label", err, ErrInUse)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("label %d: %w", id, ErrNotFound)
	}
	return nil
}
