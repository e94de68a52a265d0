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

const taskSelect = `SELECT t.id, t.name, t.description, t.created_at,
        s.id, s.name, s.created_at,
        a.id, a.username, a.first_name, a.last_name, a.created_at,
        e.id, e.username, e.first_name, e.last_name, e.created_at
    FROM tasks t
    JOIN statuses s ON s.id = t.status_id
    JOIN users a ON a.id = t.author_id
    LEFT JOIN users e ON e.id = t.executor_id`

func scanTask(row scanner) (models.Task, error) {
	var (
		t         models.Task
		execID    sql.NullInt64
		execLogin sql.NullString
		execFirst sql.NullString
		execLast  sql.NullString
		execAt    sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt,
		&t.Status.ID, &t.Status.Name, &t.Status.CreatedAt,
		&t.Author.ID, &t.Author.Username, &t.Author.FirstName, &t.Author.LastName, &t.Author.CreatedAt,
		&execID, &execLogin, &execFirst, &execLast, &execAt)
	if err != nil {
		return models.Task{}, err
	}
	if execID.Valid {
		t.Executor = &models.User{
			ID:        execID.Int64,
			Username:  execLogin.String,
			FirstName: execFirst.String,
			LastName:  execLast.String,
			CreatedAt: execAt.Time,
		}
	}
	return t, nil
}

// ListTasks returns the tasks matching the filter ordered by id.
func (s *Store) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.StatusID != 0 {
		where = append(where, "t.status_id = ?")
		args = append(args, f.StatusID)
	}
	if f.ExecutorID != 0 {
		where = append(where, "t.executor_id = ?")
		args = append(args, f.ExecutorID)
	}
	if f.AuthorID != 0 {
		where = append(where, "t.author_id = ?")
		args = append(args, f.AuthorID)
	}
	if f.LabelID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM task_labels tl WHERE tl.task_id = t.id AND tl.label_id = ?)")
		args = append(args, f.LabelID)
	}

	query := taskSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.id"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask retrieves a task with its status, author, executor and labels.
func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, s.dialect.rebind(taskSelect+` WHERE t.id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}

	labels, err := s.taskLabels(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	t.Labels = labels
	return t, nil
}

func (s *Store) taskLabels(ctx context.Context, taskID int64) ([]models.Label, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT l.id, l.name, l.created_at
        FROM labels l JOIN task_labels tl ON tl.label_id = l.id
        WHERE tl.task_id = ? ORDER BY l.id`), taskID)
	if err != nil {
		return nil, fmt.Errorf("task labels: %w", err)
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

// CreateTask inserts a task together with its labels.
func (s *Store) CreateTask(ctx context.Context, in models.TaskInput) (models.Task, error) {
	if strings.TrimSpace(in.Name) == "" {
		return models.Task{}, fmt.Errorf("task name must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.dialect.rebind(`INSERT INTO tasks(name, description, status_id, author_id, executor_id, created_at)
        VALUES(?, ?, ?, ?, ?, ?) RETURNING id`),
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Description), in.StatusID, in.AuthorID, in.ExecutorID, time.Now().UTC()).
		Scan(&id)
	if err != nil {
		return models.Task{}, s.translate("insert task", err, ErrInvalidReference)
	}
	if err := s.setTaskLabels(ctx, tx, id, in.LabelIDs); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, fmt.Errorf("commit: %w", err)
	}
	return s.GetTask(ctx, id)
}

// UpdateTask overwrites the editable fields and replaces the label set. The
// author is never changed.
func (s *Store) UpdateTask(ctx context.Context, id int64, in models.TaskInput) (models.Task, error) {
	if strings.TrimSpace(in.Name) == "" {
		return models.Task{}, fmt.Errorf("task name must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.dialect.rebind(`UPDATE tasks SET name = ?, description = ?, status_id = ?, executor_id = ? WHERE id = ?`),
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Description), in.StatusID, in.ExecutorID, id)
	if err != nil {
		return models.Task{}, s.translate("update task", err, ErrInvalidReference)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Task{}, err
	}
	if affected == 0 {
		return models.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM task_labels WHERE task_id = ?`), id); err != nil {
		return models.Task{}, fmt.Errorf("clear task labels: %w", err)
	}
	if err := s.setTaskLabels(ctx, tx, id, in.LabelIDs); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, fmt.Errorf("commit: %w", err)
	}
	return s.GetTask(ctx, id)
}

func (s *Store) setTaskLabels(ctx context.Context, tx *sql.Tx, taskID int64, labelIDs []int64) error {
	seen := make(map[int64]struct{}, len(labelIDs))
	for _, labelID := range labelIDs {
		if _, dup := seen[labelID]; dup {
			continue
		}
		seen[labelID] = struct{}{}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO task_labels(task_id, label_id) VALUES(?, ?)`), taskID, labelID); err != nil {
			return s.translate("insert task label", err, ErrInvalidReference)
		}
	}
	return nil
}

// DeleteTask removes a task by id. Its label links are removed by cascade.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return s.translate("delete task", err, ErrInUse)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}
