package domain

import (
	"encoding/json"
	"time"
)

type State int

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateInActivity
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateInActivity:
		return "in_activity"
	default:
		return "unknown"
	}
}

// MenuMain is the context label every new session starts in.
const MenuMain = "main"

// Session is one logical user presence. It outlives transport reconnects
// only indirectly: a reconnect produces a new Session, and activities
// recover their state from persistence, not from the old Session.
type Session struct {
	ID           string
	ConnectionID string
	UserID       string
	Handle       string
	State        State
	CurrentMenu  string
	LastActivity time.Time
	Context      Context
}

// Authenticated reports whether the session has passed login.
func (s *Session) Authenticated() bool {
	return s.State == StateAuthenticated || s.State == StateInActivity
}

// Context is the per-flow scratch state for the session. Exactly one
// variant is non-nil at a time; handlers check the variant they own and
// treat any other shape as "not mine".
type Context struct {
	Login        *LoginContext
	Registration *RegistrationContext
	Door         *DoorContext
}

// LoginContext holds the handle of a returning user between the handle
// prompt and the password prompt.
type LoginContext struct {
	Handle string
	UserID string
}

// RegistrationStep tracks progress through the new-user dialogue.
type RegistrationStep int

const (
	RegistrationStepHandle RegistrationStep = iota
	RegistrationStepPassword
	RegistrationStepConfirm
)

type RegistrationContext struct {
	Step     RegistrationStep
	Handle   string
	Password string
}

// DoorContext is the in-memory side of one active door run. GameState is
// opaque to everything except the door engine that produced it; History
// is the ordered list of inputs the engine has processed.
type DoorContext struct {
	DoorID    string
	PersistID string
	GameState json.RawMessage
	History   []string
}
