package door

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentuity/go-common/logger"

	"github.com/lanternbbs/lantern/internal/connection"
	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/notify"
	"github.com/lanternbbs/lantern/internal/session"
	"github.com/lanternbbs/lantern/internal/storage"
)

var (
	ErrUnknownDoor    = errors.New("unknown door")
	ErrNotInDoor      = errors.New("session is not in a door")
	ErrSessionMissing = errors.New("session not found")
	ErrNotSignedIn    = errors.New("session is not authenticated")
)

// Service binds door engines to sessions and persistence. It is the only
// writer of door rows, and every entry point (dispatcher handler, REST)
// goes through the same session-keyed methods, so the two transports can
// never race on one user's door state.
type Service struct {
	logger   logger.Logger
	sessions *session.Manager
	conns    *connection.Manager
	repo     *storage.DoorSessionRepo
	notifier *notify.Service
	engines  []Engine
	byID     map[string]Engine
}

func NewService(log logger.Logger, sessions *session.Manager, conns *connection.Manager, repo *storage.DoorSessionRepo, notifier *notify.Service, engines ...Engine) *Service {
	byID := make(map[string]Engine, len(engines))
	for _, e := range engines {
		byID[e.ID()] = e
	}
	return &Service{
		logger:   log.WithPrefix("[doors]"),
		sessions: sessions,
		conns:    conns,
		repo:     repo,
		notifier: notifier,
		engines:  engines,
		byID:     byID,
	}
}

func (s *Service) Engines() []Engine {
	return s.engines
}

func (s *Service) Engine(doorID string) (Engine, bool) {
	e, ok := s.byID[doorID]
	return e, ok
}

// Enter starts or resumes doorID for the session. A persisted row wins
// over a fresh start; a fresh start is persisted immediately so a crash
// right after entry still leaves a resumable row.
func (s *Service) Enter(ctx context.Context, sessionID, doorID string) (string, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return "", ErrSessionMissing
	}
	if !sess.Authenticated() {
		return "", ErrNotSignedIn
	}
	engine, ok := s.byID[doorID]
	if !ok {
		return "", ErrUnknownDoor
	}
	if sess.Context.Door != nil && sess.Context.Door.DoorID == doorID {
		return engine.Resume(sess.Context.Door.GameState)
	}

	var (
		doorCtx domain.DoorContext
		output  string
	)
	row, err := s.repo.GetActive(ctx, sess.UserID, doorID)
	switch {
	case err == nil:
		output, err = engine.Resume(row.State)
		if err != nil {
			return "", err
		}
		doorCtx = domain.DoorContext{
			DoorID:    doorID,
			PersistID: row.ID,
			GameState: row.State,
			History:   row.History,
		}
	case errors.Is(err, storage.ErrDoorSessionNotFound):
		state, intro, err := engine.NewGame()
		if err != nil {
			return "", err
		}
		output = intro
		doorCtx = domain.DoorContext{DoorID: doorID, GameState: state}
		created, err := s.repo.Create(ctx, sess.UserID, doorID, state, nil)
		if err != nil {
			// In-memory state stays authoritative until the next
			// successful write; the player keeps playing.
			s.logger.Error("failed to persist new %s session for %s: %v", doorID, sess.UserID, err)
		} else {
			doorCtx.PersistID = created.ID
		}
	default:
		return "", fmt.Errorf("failed to look up door session: %w", err)
	}

	s.sessions.Update(sessionID, func(sess *domain.Session) {
		sess.State = domain.StateInActivity
		sess.Context = domain.Context{Door: &doorCtx}
	})
	s.announce(doorID, sess.Handle, "enter")
	return output, nil
}

// ProcessInput runs one line through the engine and writes the updated
// state through to persistence. Write-through after every input bounds
// loss to the in-flight line.
func (s *Service) ProcessInput(ctx context.Context, sessionID, line string) (string, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return "", ErrSessionMissing
	}
	doorCtx := sess.Context.Door
	if doorCtx == nil {
		return "", ErrNotInDoor
	}
	engine, ok := s.byID[doorCtx.DoorID]
	if !ok {
		return "", ErrUnknownDoor
	}

	newState, output, err := engine.Input(doorCtx.GameState, line)
	if err != nil {
		return "", err
	}
	history := append(append([]string(nil), doorCtx.History...), line)
	updated := domain.DoorContext{
		DoorID:    doorCtx.DoorID,
		PersistID: doorCtx.PersistID,
		GameState: newState,
		History:   history,
	}
	s.sessions.Update(sessionID, func(sess *domain.Session) {
		sess.Context = domain.Context{Door: &updated}
	})

	if updated.PersistID != "" {
		if err := s.repo.Update(ctx, updated.PersistID, newState, history); err != nil {
			// Output still goes out; memory is authoritative until the
			// next write lands.
			s.logger.Error("failed to persist %s state for %s: %v", updated.DoorID, sess.UserID, err)
		}
	}
	return output, nil
}

// Exit is the explicit leave: farewell, delete the row, session back to
// the menu.
func (s *Service) Exit(ctx context.Context, sessionID string) (string, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return "", ErrSessionMissing
	}
	doorCtx := sess.Context.Door
	if doorCtx == nil {
		return "", ErrNotInDoor
	}
	engine, ok := s.byID[doorCtx.DoorID]
	if !ok {
		return "", ErrUnknownDoor
	}

	farewell, err := engine.Exit(doorCtx.GameState)
	if err != nil {
		return "", err
	}
	if doorCtx.PersistID != "" {
		if err := s.repo.Delete(ctx, doorCtx.PersistID); err != nil {
			s.logger.Error("failed to delete %s session for %s: %v", doorCtx.DoorID, sess.UserID, err)
		}
	}
	s.sessions.Update(sessionID, func(sess *domain.Session) {
		sess.State = domain.StateAuthenticated
		sess.Context = domain.Context{}
	})
	s.announce(doorCtx.DoorID, sess.Handle, "exit")
	return farewell, nil
}

// ExitOnTimeout is the sweep's graceful eviction hook. Unlike an
// explicit exit it keeps the persisted row, so the player resumes where
// they left off after reconnecting; only the final state write and the
// farewell happen here.
func (s *Service) ExitOnTimeout(sess *domain.Session) {
	doorCtx := sess.Context.Door
	if doorCtx == nil {
		return
	}
	engine, ok := s.byID[doorCtx.DoorID]
	if !ok {
		return
	}

	if doorCtx.PersistID != "" {
		if err := s.repo.Update(context.Background(), doorCtx.PersistID, doorCtx.GameState, doorCtx.History); err != nil {
			s.logger.Error("failed to persist %s state on timeout for %s: %v", doorCtx.DoorID, sess.UserID, err)
		}
	}

	farewell, err := engine.Exit(doorCtx.GameState)
	if err != nil {
		s.logger.Error("exit routine for %s failed on timeout: %v", doorCtx.DoorID, err)
	} else if conn, ok := s.conns.Get(sess.ConnectionID); ok {
		if err := connection.SendText(conn, "\r\nIdle too long; saving your game.\r\n"+farewell); err != nil {
			s.logger.Debug("timeout farewell not delivered to %s: %v", sess.ConnectionID, err)
		}
	}

	s.sessions.Update(sess.ID, func(sess *domain.Session) {
		sess.State = domain.StateAuthenticated
		sess.Context = domain.Context{}
	})
	s.logger.Info("timed out %s in door %s", sess.UserID, doorCtx.DoorID)
}

func (s *Service) announce(doorID, handle, action string) {
	if s.notifier == nil {
		return
	}
	s.notifier.BroadcastToAuthenticated(domain.NewEvent(domain.EventDoorActivity, map[string]any{
		"door_id": doorID,
		"handle":  handle,
		"action":  action,
	}))
}
