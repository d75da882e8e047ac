package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentuity/go-common/logger"

	"github.com/lanternbbs/lantern/internal/auth"
	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/notify"
	"github.com/lanternbbs/lantern/internal/session"
	"github.com/lanternbbs/lantern/internal/storage"
)

var handleRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{1,23}$`)

const minPasswordLen = 6

// WelcomeScreen is pushed to every new connection before any input.
const WelcomeScreen = "\x1b[1;36m" +
	"  _             _\r\n" +
	" | | __ _ _ __ | |_ ___ _ __ _ __\r\n" +
	" | |/ _` | '_ \\| __/ _ \\ '__| '_ \\\r\n" +
	" | | (_| | | | | ||  __/ |  | | | |\r\n" +
	" |_|\\__,_|_| |_|\\__\\___|_|  |_| |_|\r\n" +
	"\x1b[0m\r\n" +
	"Enter your handle, or NEW to register: "

// AuthHandler owns the login and registration dialogue for sessions in
// CONNECTED or AUTHENTICATING state.
type AuthHandler struct {
	logger   logger.Logger
	sessions *session.Manager
	users    *storage.UserRepo
	notifier *notify.Service
}

func NewAuthHandler(log logger.Logger, sessions *session.Manager, users *storage.UserRepo, notifier *notify.Service) *AuthHandler {
	return &AuthHandler{
		logger:   log.WithPrefix("[auth]"),
		sessions: sessions,
		users:    users,
		notifier: notifier,
	}
}

func (h *AuthHandler) Name() string { return "auth" }

func (h *AuthHandler) CanHandle(sess *domain.Session, _ string) bool {
	return sess.State == domain.StateConnected || sess.State == domain.StateAuthenticating
}

func (h *AuthHandler) Handle(ctx context.Context, sess *domain.Session, line string) (string, error) {
	line = strings.TrimSpace(line)
	switch {
	case sess.State == domain.StateConnected:
		return h.handleHandlePrompt(ctx, sess, line)
	case sess.Context.Login != nil:
		return h.handleLoginPassword(ctx, sess, line)
	case sess.Context.Registration != nil:
		return h.handleRegistration(ctx, sess, line)
	default:
		// AUTHENTICATING with no flow context should not happen; restart.
		h.resetToConnected(sess.ID)
		return "Let's start over.\r\n" + WelcomeScreen, nil
	}
}

func (h *AuthHandler) handleHandlePrompt(ctx context.Context, sess *domain.Session, line string) (string, error) {
	if strings.EqualFold(line, "new") {
		h.sessions.Update(sess.ID, func(s *domain.Session) {
			s.State = domain.StateAuthenticating
			s.Context = domain.Context{Registration: &domain.RegistrationContext{Step: domain.RegistrationStepHandle}}
		})
		return "Pick a handle (2-24 chars, letters first): ", nil
	}
	if line == "" {
		return "Enter your handle, or NEW to register: ", nil
	}

	user, err := h.users.GetByHandle(ctx, line)
	if errors.Is(err, storage.ErrUserNotFound) {
		return "No such handle. Enter your handle, or NEW to register: ", nil
	}
	if err != nil {
		return "", err
	}
	h.sessions.Update(sess.ID, func(s *domain.Session) {
		s.State = domain.StateAuthenticating
		s.Context = domain.Context{Login: &domain.LoginContext{Handle: user.Handle, UserID: user.ID}}
	})
	return "Password: ", nil
}

func (h *AuthHandler) handleLoginPassword(ctx context.Context, sess *domain.Session, password string) (string, error) {
	login := sess.Context.Login
	user, err := h.users.GetByID(ctx, login.UserID)
	if err != nil {
		h.resetToConnected(sess.ID)
		return "Login failed. Enter your handle, or NEW to register: ", nil
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		h.logger.Warn("failed login for %s", user.Handle)
		h.resetToConnected(sess.ID)
		return "Login incorrect. Enter your handle, or NEW to register: ", nil
	}

	if err := h.users.TouchLogin(ctx, user.ID); err != nil {
		h.logger.Error("failed to record login for %s: %v", user.Handle, err)
	}
	h.completeLogin(sess, user)
	return h.loggedInScreen(user.Handle), nil
}

func (h *AuthHandler) handleRegistration(ctx context.Context, sess *domain.Session, line string) (string, error) {
	reg := *sess.Context.Registration
	switch reg.Step {
	case domain.RegistrationStepHandle:
		if !handleRegex.MatchString(line) {
			return "Handles are 2-24 characters, letters first. Try again: ", nil
		}
		if _, err := h.users.GetByHandle(ctx, line); err == nil {
			return "That handle is taken. Try another: ", nil
		} else if !errors.Is(err, storage.ErrUserNotFound) {
			return "", err
		}
		reg.Handle = line
		reg.Step = domain.RegistrationStepPassword
		h.storeRegistration(sess.ID, reg)
		return "Password (6+ chars): ", nil

	case domain.RegistrationStepPassword:
		if len(line) < minPasswordLen {
			return fmt.Sprintf("Too short; %d characters minimum. Password: ", minPasswordLen), nil
		}
		reg.Password = line
		reg.Step = domain.RegistrationStepConfirm
		h.storeRegistration(sess.ID, reg)
		return "Confirm password: ", nil

	case domain.RegistrationStepConfirm:
		if line != reg.Password {
			reg.Password = ""
			reg.Step = domain.RegistrationStepPassword
			h.storeRegistration(sess.ID, reg)
			return "Passwords do not match. Password (6+ chars): ", nil
		}
		hash, err := auth.HashPassword(reg.Password)
		if err != nil {
			return "", err
		}
		user, err := h.users.Create(ctx, reg.Handle, hash)
		if errors.Is(err, storage.ErrHandleTaken) {
			h.resetToConnected(sess.ID)
			return "Someone grabbed that handle first. Enter your handle, or NEW to register: ", nil
		}
		if err != nil {
			return "", err
		}
		h.logger.Info("registered new user %s", user.Handle)
		h.completeLogin(sess, user)
		return "Welcome aboard, " + user.Handle + "!\r\n" + h.loggedInScreen(user.Handle), nil

	default:
		h.resetToConnected(sess.ID)
		return "Let's start over.\r\n" + WelcomeScreen, nil
	}
}

func (h *AuthHandler) completeLogin(sess *domain.Session, user *storage.User) {
	h.sessions.Update(sess.ID, func(s *domain.Session) {
		s.State = domain.StateAuthenticated
		s.UserID = user.ID
		s.Handle = user.Handle
		s.CurrentMenu = domain.MenuMain
		s.Context = domain.Context{}
	})
	h.notifier.AuthenticateClient(sess.ConnectionID, user.ID)
	h.notifier.BroadcastToAuthenticated(domain.NewEvent(domain.EventUserJoined, map[string]any{
		"handle": user.Handle,
	}))
}

func (h *AuthHandler) resetToConnected(sessionID string) {
	h.sessions.Update(sessionID, func(s *domain.Session) {
		s.State = domain.StateConnected
		s.Context = domain.Context{}
	})
}

func (h *AuthHandler) storeRegistration(sessionID string, reg domain.RegistrationContext) {
	h.sessions.Update(sessionID, func(s *domain.Session) {
		s.Context = domain.Context{Registration: &reg}
	})
}

func (h *AuthHandler) loggedInScreen(handle string) string {
	return fmt.Sprintf("\x1b[1;32mWelcome, %s.\x1b[0m\r\nType ? for the menu.\r\n", handle)
}
