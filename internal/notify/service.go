// Package notify is the fan-out layer. It keeps its own client registry
// keyed by connection id, independent of the session table: a client can
// exist unauthenticated while its session is still mid-login.
package notify

import (
	"fmt"
	"sync"

	"github.com/agentuity/go-common/logger"

	"github.com/lanternbbs/lantern/internal/connection"
	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/pkg/wire"
)

// Subscription error codes, returned synchronously to the requester and
// never thrown into the broadcast path.
const (
	CodeUnknownEventType  = "UNKNOWN_EVENT_TYPE"
	CodeInvalidFilter     = "INVALID_FILTER"
	CodeSubscriptionLimit = "SUBSCRIPTION_LIMIT"
	CodeUnknownClient     = "UNKNOWN_CLIENT"
)

type SubscriptionError struct {
	Code    string
	Message string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DeliveryResult reports one recipient's outcome of a broadcast. Partial
// failure is data, not an exception.
type DeliveryResult struct {
	ConnectionID string
	Err          error
}

type client struct {
	conn          connection.Connection
	userID        string
	authenticated bool
	subscriptions map[string]map[string]string // eventType -> filter (nil = unfiltered)
}

type Service struct {
	logger  logger.Logger
	maxSubs int

	mu      sync.RWMutex
	clients map[string]*client
	index   map[string]map[string]struct{} // eventType -> connection ids
}

func NewService(log logger.Logger, maxSubscriptions int) *Service {
	return &Service{
		logger:  log.WithPrefix("[notify]"),
		maxSubs: maxSubscriptions,
		clients: make(map[string]*client),
		index:   make(map[string]map[string]struct{}),
	}
}

// RegisterClient creates the pub/sub record for a connection. A non-empty
// userID marks the client authenticated from the start (the REST surface
// registers post-login).
func (s *Service) RegisterClient(conn connection.Connection, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[conn.ID()] = &client{
		conn:          conn,
		userID:        userID,
		authenticated: userID != "",
		subscriptions: make(map[string]map[string]string),
	}
}

// AuthenticateClient flips the client to authenticated. Idempotent.
func (s *Service) AuthenticateClient(connectionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[connectionID]
	if !ok {
		return
	}
	c.userID = userID
	c.authenticated = true
}

// UnregisterClient removes the client and all its index entries.
// Unregistering an unknown id is a no-op.
func (s *Service) UnregisterClient(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[connectionID]
	if !ok {
		return
	}
	for eventType := range c.subscriptions {
		s.dropIndex(eventType, connectionID)
	}
	delete(s.clients, connectionID)
}

// Subscribe validates every request before applying any of them, so a
// rejected batch leaves the client's subscriptions untouched.
func (s *Service) Subscribe(connectionID string, reqs []wire.SubscriptionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[connectionID]
	if !ok {
		return &SubscriptionError{Code: CodeUnknownClient, Message: "client not registered"}
	}

	newTypes := make(map[string]struct{})
	for _, req := range reqs {
		if !domain.KnownEventType(req.EventType) {
			return &SubscriptionError{Code: CodeUnknownEventType, Message: "unknown event type: " + req.EventType}
		}
		for field := range req.Filter {
			if !domain.FilterableField(req.EventType, field) {
				return &SubscriptionError{
					Code:    CodeInvalidFilter,
					Message: fmt.Sprintf("field %q is not filterable for %s", field, req.EventType),
				}
			}
		}
		if _, exists := c.subscriptions[req.EventType]; !exists {
			newTypes[req.EventType] = struct{}{}
		}
	}
	if len(c.subscriptions)+len(newTypes) > s.maxSubs {
		return &SubscriptionError{
			Code:    CodeSubscriptionLimit,
			Message: fmt.Sprintf("subscription limit of %d exceeded", s.maxSubs),
		}
	}

	for _, req := range reqs {
		var filter map[string]string
		if len(req.Filter) > 0 {
			filter = make(map[string]string, len(req.Filter))
			for k, v := range req.Filter {
				filter[k] = v
			}
		}
		c.subscriptions[req.EventType] = filter
		idx, ok := s.index[req.EventType]
		if !ok {
			idx = make(map[string]struct{})
			s.index[req.EventType] = idx
		}
		idx[connectionID] = struct{}{}
	}
	return nil
}

func (s *Service) Unsubscribe(connectionID string, eventTypes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[connectionID]
	if !ok {
		return
	}
	for _, eventType := range eventTypes {
		if _, exists := c.subscriptions[eventType]; !exists {
			continue
		}
		delete(c.subscriptions, eventType)
		s.dropIndex(eventType, connectionID)
	}
}

// Broadcast fans event out to every matching subscriber. Each recipient
// is handed the frame independently: a dead or slow connection degrades
// only its own delivery and never aborts the loop. Sends here are queue
// pushes drained by per-connection write pumps, so sequential broadcasts
// reach any one client in order while actual I/O proceeds in parallel.
func (s *Service) Broadcast(event wire.Event) []DeliveryResult {
	return s.fanOut(event, false)
}

// BroadcastToAuthenticated is Broadcast restricted to clients that have
// completed login; pre-login connections never see these events.
func (s *Service) BroadcastToAuthenticated(event wire.Event) []DeliveryResult {
	return s.fanOut(event, true)
}

// BroadcastToClient bypasses subscription matching for targeted system
// messages.
func (s *Service) BroadcastToClient(connectionID string, event wire.Event) error {
	s.mu.RLock()
	c, ok := s.clients[connectionID]
	s.mu.RUnlock()
	if !ok {
		return &SubscriptionError{Code: CodeUnknownClient, Message: "client not registered"}
	}
	err := c.conn.Send(wire.ServerEnvelope{Type: wire.ServerMessageTypeEvent, Event: &event})
	if err != nil {
		s.logger.Debug("direct delivery to %s failed: %v", connectionID, err)
	}
	return err
}

func (s *Service) fanOut(event wire.Event, authenticatedOnly bool) []DeliveryResult {
	s.mu.RLock()
	recipients := make([]*client, 0)
	ids := make([]string, 0)
	for connectionID := range s.index[event.Type] {
		c, ok := s.clients[connectionID]
		if !ok {
			continue
		}
		if authenticatedOnly && !c.authenticated {
			continue
		}
		if !filterMatches(c.subscriptions[event.Type], event.Data) {
			continue
		}
		recipients = append(recipients, c)
		ids = append(ids, connectionID)
	}
	s.mu.RUnlock()

	results := make([]DeliveryResult, len(recipients))
	for i, c := range recipients {
		err := c.conn.Send(wire.ServerEnvelope{Type: wire.ServerMessageTypeEvent, Event: &event})
		results[i] = DeliveryResult{ConnectionID: ids[i], Err: err}
		if err != nil {
			// Delivery failures are logged, not retried; only an explicit
			// close unregisters the client.
			s.logger.Debug("delivery of %s to %s failed: %v", event.Type, ids[i], err)
		}
	}
	return results
}

// filterMatches requires every filter field to equal the corresponding
// event payload field. A field absent from the payload is a non-match,
// not an error.
func filterMatches(filter map[string]string, data map[string]any) bool {
	for field, want := range filter {
		got, ok := data[field]
		if !ok {
			return false
		}
		if s, ok := got.(string); ok {
			if s != want {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// dropIndex removes connectionID from one event type's candidate set.
// Callers hold the write lock.
func (s *Service) dropIndex(eventType, connectionID string) {
	idx, ok := s.index[eventType]
	if !ok {
		return
	}
	delete(idx, connectionID)
	if len(idx) == 0 {
		delete(s.index, eventType)
	}
}

// ClientCount is bookkeeping for the status endpoint.
func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
