package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           string
	Handle       string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  sql.NullTime
}

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, handle, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.New().String(),
		Handle:       handle,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, handle, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Handle, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrHandleTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *UserRepo) GetByHandle(ctx context.Context, handle string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, handle, password_hash, created_at, last_login_at FROM users WHERE handle = ? COLLATE NOCASE`,
		handle))
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, handle, password_hash, created_at, last_login_at FROM users WHERE id = ?`, id))
}

func (r *UserRepo) TouchLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func (r *UserRepo) scanOne(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Handle, &user.PasswordHash, &user.CreatedAt, &user.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}
