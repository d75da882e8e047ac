package wire

import "time"

type ClientMessageType string

const (
	ClientMessageTypeInput        ClientMessageType = "input"
	ClientMessageTypeAuthenticate ClientMessageType = "authenticate"
	ClientMessageTypeSubscribe    ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe  ClientMessageType = "unsubscribe"
	ClientMessageTypePong         ClientMessageType = "pong"
)

type ServerMessageType string

const (
	ServerMessageTypeOutput  ServerMessageType = "output"
	ServerMessageTypeEvent   ServerMessageType = "event"
	ServerMessageTypeError   ServerMessageType = "error"
	ServerMessageTypePing    ServerMessageType = "ping"
	ServerMessageTypeGoodbye ServerMessageType = "goodbye"
)

// SubscriptionRequest is one entry of a subscribe control message.
type SubscriptionRequest struct {
	EventType string            `json:"event_type"`
	Filter    map[string]string `json:"filter,omitempty"`
}

type ClientEnvelope struct {
	Type          ClientMessageType     `json:"type"`
	Data          string                `json:"data,omitempty"`
	Token         string                `json:"token,omitempty"`
	Subscriptions []SubscriptionRequest `json:"subscriptions,omitempty"`
	EventTypes    []string              `json:"event_types,omitempty"`
}

type ServerEnvelope struct {
	Type    ServerMessageType `json:"type"`
	Data    string            `json:"data,omitempty"`
	Event   *Event            `json:"event,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Event is the notification envelope fanned out to subscribers.
// Timestamp marshals as RFC 3339 / ISO-8601.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
