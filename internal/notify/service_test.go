package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/agentuity/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/pkg/wire"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   []wire.ServerEnvelope
	broken bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env wire.ServerEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, env := range c.sent {
		if env.Event != nil {
			types = append(types, env.Event.Type)
		}
	}
	return types
}

func newTestService(maxSubs int) *Service {
	return NewService(logger.NewTestLogger(), maxSubs)
}

func TestBroadcastDeliversOnlyToSubscribers(t *testing.T) {
	svc := newTestService(8)
	subscribed := newFakeConn("a")
	bystander := newFakeConn("b")
	svc.RegisterClient(subscribed, "user-a")
	svc.RegisterClient(bystander, "user-b")

	require.NoError(t, svc.Subscribe("a", []wire.SubscriptionRequest{{EventType: domain.EventMessageNew}}))

	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"message_base_id": "general"}))

	assert.Equal(t, []string{domain.EventMessageNew}, subscribed.events())
	assert.Empty(t, bystander.events())
}

func TestBroadcastFilterMatching(t *testing.T) {
	svc := newTestService(8)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")
	require.NoError(t, svc.Subscribe("a", []wire.SubscriptionRequest{{
		EventType: domain.EventMessageNew,
		Filter:    map[string]string{"message_base_id": "general"},
	}}))

	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"message_base_id": "tech"}))
	assert.Empty(t, conn.events(), "mismatched filter value must not deliver")

	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"message_base_id": "general"}))
	assert.Equal(t, []string{domain.EventMessageNew}, conn.events())
}

func TestBroadcastFilterAbsentFieldIsNoMatch(t *testing.T) {
	svc := newTestService(8)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")
	require.NoError(t, svc.Subscribe("a", []wire.SubscriptionRequest{{
		EventType: domain.EventMessageNew,
		Filter:    map[string]string{"message_base_id": "general"},
	}}))

	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"handle": "crashoverride"}))
	assert.Empty(t, conn.events())
}

func TestBroadcastTwoFilteredClients(t *testing.T) {
	svc := newTestService(8)
	general := newFakeConn("general-reader")
	tech := newFakeConn("tech-reader")
	svc.RegisterClient(general, "u1")
	svc.RegisterClient(tech, "u2")
	require.NoError(t, svc.Subscribe("general-reader", []wire.SubscriptionRequest{{
		EventType: domain.EventMessageNew,
		Filter:    map[string]string{"message_base_id": "general"},
	}}))
	require.NoError(t, svc.Subscribe("tech-reader", []wire.SubscriptionRequest{{
		EventType: domain.EventMessageNew,
		Filter:    map[string]string{"message_base_id": "tech"},
	}}))

	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"message_base_id": "general"}))

	assert.Equal(t, []string{domain.EventMessageNew}, general.events())
	assert.Empty(t, tech.events())
}

func TestBroadcastToAuthenticatedSkipsPreLoginClients(t *testing.T) {
	svc := newTestService(8)
	preLogin := newFakeConn("pre")
	loggedIn := newFakeConn("in")
	svc.RegisterClient(preLogin, "")
	svc.RegisterClient(loggedIn, "user-b")
	require.NoError(t, svc.Subscribe("pre", []wire.SubscriptionRequest{{EventType: domain.EventUserJoined}}))
	require.NoError(t, svc.Subscribe("in", []wire.SubscriptionRequest{{EventType: domain.EventUserJoined}}))

	svc.BroadcastToAuthenticated(domain.NewEvent(domain.EventUserJoined, map[string]any{"handle": "zero-cool"}))

	assert.Empty(t, preLogin.events(), "pre-login client must never see authenticated-only events")
	assert.Equal(t, []string{domain.EventUserJoined}, loggedIn.events())

	svc.AuthenticateClient("pre", "user-a")
	svc.BroadcastToAuthenticated(domain.NewEvent(domain.EventUserJoined, map[string]any{"handle": "acid-burn"}))
	assert.Equal(t, []string{domain.EventUserJoined}, preLogin.events())
}

func TestBroadcastIsolatesFailedRecipients(t *testing.T) {
	svc := newTestService(8)
	broken := newFakeConn("broken")
	broken.broken = true
	healthy := newFakeConn("healthy")
	svc.RegisterClient(broken, "u1")
	svc.RegisterClient(healthy, "u2")
	require.NoError(t, svc.Subscribe("broken", []wire.SubscriptionRequest{{EventType: domain.EventSystemAnnouncement}}))
	require.NoError(t, svc.Subscribe("healthy", []wire.SubscriptionRequest{{EventType: domain.EventSystemAnnouncement}}))

	results := svc.Broadcast(domain.NewEvent(domain.EventSystemAnnouncement, map[string]any{"text": "hi"}))

	require.Len(t, results, 2)
	failures := 0
	for _, res := range results {
		if res.Err != nil {
			failures++
			assert.Equal(t, "broken", res.ConnectionID)
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, []string{domain.EventSystemAnnouncement}, healthy.events())

	// A failed send does not unregister the client.
	assert.Equal(t, 2, svc.ClientCount())
}

func TestSubscribeValidation(t *testing.T) {
	svc := newTestService(2)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")

	err := svc.Subscribe("a", []wire.SubscriptionRequest{{EventType: "message.bogus"}})
	var subErr *SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, CodeUnknownEventType, subErr.Code)

	err = svc.Subscribe("a", []wire.SubscriptionRequest{{
		EventType: domain.EventMessageNew,
		Filter:    map[string]string{"author_shoe_size": "44"},
	}})
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, CodeInvalidFilter, subErr.Code)

	err = svc.Subscribe("a", []wire.SubscriptionRequest{
		{EventType: domain.EventMessageNew},
		{EventType: domain.EventUserJoined},
		{EventType: domain.EventUserLeft},
	})
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, CodeSubscriptionLimit, subErr.Code)

	// The rejected batch left nothing behind.
	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"message_base_id": "general"}))
	assert.Empty(t, conn.events())
}

func TestSubscribeCountsRepeatedTypeOnce(t *testing.T) {
	svc := newTestService(1)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")

	// Two requests for the same event type replace one another; against
	// the cap they are one subscription, not two.
	err := svc.Subscribe("a", []wire.SubscriptionRequest{
		{EventType: domain.EventMessageNew},
		{EventType: domain.EventMessageNew, Filter: map[string]string{"message_base_id": "general"}},
	})
	require.NoError(t, err)

	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"message_base_id": "general"}))
	svc.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{"message_base_id": "tech"}))
	assert.Equal(t, []string{domain.EventMessageNew}, conn.events(), "last request in the batch wins")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc := newTestService(8)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")
	require.NoError(t, svc.Subscribe("a", []wire.SubscriptionRequest{{EventType: domain.EventUserJoined}}))

	svc.Unsubscribe("a", []string{domain.EventUserJoined})
	svc.Broadcast(domain.NewEvent(domain.EventUserJoined, map[string]any{"handle": "x"}))
	assert.Empty(t, conn.events())
}

func TestUnregisterClientIsIdempotent(t *testing.T) {
	svc := newTestService(8)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")
	require.NoError(t, svc.Subscribe("a", []wire.SubscriptionRequest{{EventType: domain.EventUserJoined}}))

	svc.UnregisterClient("a")
	svc.UnregisterClient("a")

	assert.Equal(t, 0, svc.ClientCount())
	svc.Broadcast(domain.NewEvent(domain.EventUserJoined, map[string]any{"handle": "x"}))
	assert.Empty(t, conn.events())
}

func TestBroadcastToClientBypassesSubscriptions(t *testing.T) {
	svc := newTestService(8)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")

	require.NoError(t, svc.BroadcastToClient("a", domain.NewEvent(domain.EventSystemAnnouncement, map[string]any{"text": "psst"})))
	assert.Equal(t, []string{domain.EventSystemAnnouncement}, conn.events())

	err := svc.BroadcastToClient("ghost", domain.NewEvent(domain.EventSystemAnnouncement, map[string]any{"text": "hello?"}))
	var subErr *SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, CodeUnknownClient, subErr.Code)
}

func TestSequentialBroadcastsKeepPerRecipientOrder(t *testing.T) {
	svc := newTestService(8)
	conn := newFakeConn("a")
	svc.RegisterClient(conn, "user-a")
	require.NoError(t, svc.Subscribe("a", []wire.SubscriptionRequest{
		{EventType: domain.EventUserJoined},
		{EventType: domain.EventUserLeft},
	}))

	svc.Broadcast(domain.NewEvent(domain.EventUserJoined, map[string]any{"handle": "x"}))
	svc.Broadcast(domain.NewEvent(domain.EventUserLeft, map[string]any{"handle": "x"}))

	assert.Equal(t, []string{domain.EventUserJoined, domain.EventUserLeft}, conn.events())
}
