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

const userColumns = `id, username, first_name, last_name, password_hash, created_at`

func scanUser(row scanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

// ListUsers retrieves all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser fetches a single user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername fetches a user for login.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUser persists a new user. PasswordHash must already be hashed.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if strings.TrimSpace(u.Username) == "" {
		return models.User{}, fmt.Errorf("username must not be empty")
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`INSERT INTO users(username, first_name, last_name, password_hash, created_at)
        VALUES(?, ?, ?, ?, ?) RETURNING id`),
		strings.TrimSpace(u.Username), strings.TrimSpace(u.FirstName), strings.TrimSpace(u.LastName), u.PasswordHash, time.Now().UTC()).
		Scan(&id)
	if err != nil {
		return models.User{}, s.translate("insert user", err, ErrInvalidReference)
	}
	return s.GetUser(ctx, id)
}

// UpdateUser overwrites the profile fields and password hash of a user.
func (s *Store) UpdateUser(ctx context.Context, u models.User) (models.User, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE users SET username = ?, first_name = ?, last_name = ?, password_hash = ? WHERE id = ?`),
		strings.TrimSpace(u.Username), strings.TrimSpace(u.FirstName), strings.TrimSpace(u.LastName), u.PasswordHash, u.ID)
	if err != nil {
		return models.User{}, s.translate("update user", err, ErrInvalidReference)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.User{}, err
	}
	if affected == 0 {
		return models.User{}, fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	return s.GetUser(ctx, u.ID)
}

// DeleteUser removes a user. Users that authored or execute tasks are
// protected and yield ErrInUse.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return s.translate("delete user", err, ErrInUse)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}
