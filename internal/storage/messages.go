package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageBase struct {
	ID          string
	Name        string
	Description string
}

type Message struct {
	ID           string
	BaseID       string
	AuthorID     string
	AuthorHandle string
	Body         string
	CreatedAt    time.Time
}

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) ListBases(ctx context.Context) ([]MessageBase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description FROM message_bases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bases: %w", err)
	}
	defer rows.Close()

	var bases []MessageBase
	for rows.Next() {
		var b MessageBase
		if err := rows.Scan(&b.ID, &b.Name, &b.Description); err != nil {
			return nil, fmt.Errorf("failed to scan base: %w", err)
		}
		bases = append(bases, b)
	}
	return bases, rows.Err()
}

func (r *MessageRepo) GetBase(ctx context.Context, id string) (*MessageBase, error) {
	var b MessageBase
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM message_bases WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get base: %w", err)
	}
	return &b, nil
}

// List returns one page of messages, newest first, plus the total count
// for the base.
func (r *MessageRepo) List(ctx context.Context, baseID string, page, limit int) ([]Message, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 25
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE base_id = ?`, baseID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, base_id, author_id, author_handle, body, created_at
		 FROM messages WHERE base_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		baseID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.BaseID, &m.AuthorID, &m.AuthorHandle, &m.Body, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}

func (r *MessageRepo) Create(ctx context.Context, baseID, authorID, authorHandle, body string) (*Message, error) {
	if _, err := r.GetBase(ctx, baseID); err != nil {
		return nil, err
	}
	msg := &Message{
		ID:           uuid.New().String(),
		BaseID:       baseID,
		AuthorID:     authorID,
		AuthorHandle: authorHandle,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, base_id, author_id, author_handle, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.BaseID, msg.AuthorID, msg.AuthorHandle, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return msg, nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*Message, error) {
	var m Message
	err := r.db.QueryRowContext(ctx,
		`SELECT id, base_id, author_id, author_handle, body, created_at
		 FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.BaseID, &m.AuthorID, &m.AuthorHandle, &m.Body, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}
