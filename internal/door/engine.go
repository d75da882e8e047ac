// Package door hosts the activity engines and the service that binds
// them to sessions and persistence. An engine is a pure state machine
// over an opaque serialized blob; it never touches sessions or storage.
package door

import "encoding/json"

type Engine interface {
	ID() string
	Name() string

	// NewGame returns the initial state and the intro screen.
	NewGame() (json.RawMessage, string, error)

	// Resume returns the banner shown when rejoining existing state.
	Resume(state json.RawMessage) (string, error)

	// Input processes one line and returns the updated state and output.
	Input(state json.RawMessage, line string) (json.RawMessage, string, error)

	// Exit returns the farewell for the current state.
	Exit(state json.RawMessage) (string, error)
}
