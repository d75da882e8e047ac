package domain

import (
	"time"

	"github.com/lanternbbs/lantern/pkg/wire"
)

// Event type catalog. Filters may only reference the fields declared
// here; subscribe requests naming anything else are rejected.
const (
	EventMessageNew         = "message.new"
	EventMessageDeleted     = "message.deleted"
	EventUserJoined         = "user.joined"
	EventUserLeft           = "user.left"
	EventSystemAnnouncement = "system.announcement"
	EventDoorActivity       = "door.activity"
	EventConnectionCount    = "connection.count"
)

var eventFilterFields = map[string][]string{
	EventMessageNew:         {"message_base_id"},
	EventMessageDeleted:     {"message_base_id"},
	EventUserJoined:         {},
	EventUserLeft:           {},
	EventSystemAnnouncement: {},
	EventDoorActivity:       {"door_id"},
	EventConnectionCount:    {},
}

func KnownEventType(eventType string) bool {
	_, ok := eventFilterFields[eventType]
	return ok
}

// FilterableField reports whether field may be used in a subscription
// filter for the given event type.
func FilterableField(eventType, field string) bool {
	for _, f := range eventFilterFields[eventType] {
		if f == field {
			return true
		}
	}
	return false
}

// EventTypes returns the full catalog, for validation messages.
func EventTypes() []string {
	types := make([]string, 0, len(eventFilterFields))
	for t := range eventFilterFields {
		types = append(types, t)
	}
	return types
}

// NewEvent stamps an immutable event envelope. Callers must not mutate
// data after construction; the same envelope is fanned out to every
// recipient.
func NewEvent(eventType string, data map[string]any) wire.Event {
	return wire.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
