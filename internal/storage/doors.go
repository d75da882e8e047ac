package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DoorSession is the persisted side of one user's run through a door.
// State is whatever blob the door engine serialized; History is the
// ordered input list. One active row per (user, door).
type DoorSession struct {
	ID        string
	UserID    string
	DoorID    string
	State     json.RawMessage
	History   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DoorSessionRepo struct {
	db *sql.DB
}

func NewDoorSessionRepo(db *sql.DB) *DoorSessionRepo {
	return &DoorSessionRepo{db: db}
}

func (r *DoorSessionRepo) Create(ctx context.Context, userID, doorID string, state json.RawMessage, history []string) (*DoorSession, error) {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	now := time.Now().UTC()
	ds := &DoorSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		DoorID:    doorID,
		State:     state,
		History:   history,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// A crash may leave a row from an earlier run that never exited;
	// entry always resumes through GetActive first, so replacing here
	// only fires for rows the caller has decided to restart. On
	// conflict the surviving row keeps its original id, so read the
	// real id back instead of trusting the one we generated.
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO door_sessions (id, user_id, door_id, state, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, door_id) DO UPDATE SET
			state = excluded.state,
			history = excluded.history,
			updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		ds.ID, ds.UserID, ds.DoorID, string(ds.State), string(historyJSON), ds.CreatedAt, ds.UpdatedAt).
		Scan(&ds.ID, &ds.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create door session: %w", err)
	}
	return ds, nil
}

func (r *DoorSessionRepo) GetActive(ctx context.Context, userID, doorID string) (*DoorSession, error) {
	var (
		ds         DoorSession
		stateRaw   string
		historyRaw string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, door_id, state, history, created_at, updated_at
		 FROM door_sessions WHERE user_id = ? AND door_id = ?`,
		userID, doorID).
		Scan(&ds.ID, &ds.UserID, &ds.DoorID, &stateRaw, &historyRaw, &ds.CreatedAt, &ds.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDoorSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get door session: %w", err)
	}
	ds.State = json.RawMessage(stateRaw)
	if err := json.Unmarshal([]byte(historyRaw), &ds.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return &ds, nil
}

func (r *DoorSessionRepo) Update(ctx context.Context, id string, state json.RawMessage, history []string) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE door_sessions SET state = ?, history = ?, updated_at = ? WHERE id = ?`,
		string(state), string(historyJSON), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update door session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update door session: %w", err)
	}
	if affected == 0 {
		return ErrDoorSessionNotFound
	}
	return nil
}

// Delete removes the row. Deleting an already-deleted session is a
// no-op: explicit exit and timeout-forced exit may race.
func (r *DoorSessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM door_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete door session: %w", err)
	}
	return nil
}
