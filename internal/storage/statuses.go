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

// ListStatuses retrieves all statuses ordered by id.
func (s *Store) ListStatuses(ctx context.Context) ([]models.Status, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM statuses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.Status
	for rows.Next() {
		var st models.Status
		if err := rows.Scan(&st.ID, &st.Name, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// GetStatus fetches a single status by id.
func (s *Store) GetStatus(ctx context.Context, id int64) (models.Status, error) {
	var st models.Status
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT id, name, created_at FROM statuses WHERE id = ?`), id).
		Scan(&st.ID, &st.Name, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Status{}, fmt.Errorf("status %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Status{}, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

// CreateStatus persists a new status. Duplicate names yield ErrConflict.
func (s *Store) CreateStatus(ctx context.Context, name string) (models.Status, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Status{}, fmt.Errorf("status name must not be empty")
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`INSERT INTO statuses(name, created_at) VALUES(?, ?) RETURNING id`), name, time.Now().UTC()).Scan(&id)
	if err != nil {
		return models.Status{}, s.translate("insert status", err, ErrInvalidReference)
	}
	return s.GetStatus(ctx, id)
}

// UpdateStatus renames a status.
func (s *Store) UpdateStatus(ctx context.Context, id int64, name string) (models.Status, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Status{}, fmt.Errorf("status name must not be empty")
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE statuses SET name = ? WHERE id = ?`), name, id)
	if err != nil {
		return models.Status{}, s.translate("update status", err, ErrInvalidReference)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Status{}, err
	}
	if affected == 0 {
		return models.Status{}, fmt.Errorf("status %d: %w", id, ErrNotFound)
	}
	return s.GetStatus(ctx, id)
}

// DeleteStatus removes a status. Statuses referenced by tasks yield ErrInUse.
func (s *Store) DeleteStatus(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM statuses WHERE id = ?`), id)
	if err != nil {
		return s.translate("delete status", err, ErrInUse)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("status %d: %w", id, ErrNotFound)
	}
	return nil
}
