package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentuity/go-common/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternbbs/lantern/internal/auth"
	"github.com/lanternbbs/lantern/internal/connection"
	"github.com/lanternbbs/lantern/internal/dispatch"
	"github.com/lanternbbs/lantern/internal/door"
	"github.com/lanternbbs/lantern/internal/notify"
	"github.com/lanternbbs/lantern/internal/session"
	"github.com/lanternbbs/lantern/internal/storage"
)

type testEnv struct {
	handler  *Handler
	sessions *session.Manager
	conns    *connection.Manager
	notifier *notify.Service
}

// newTestEnv wires the whole dependency graph on in-memory storage, the
// same shape main builds for the daemon.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, session.Config{
		IdleTimeout:   time.Hour,
		SweepInterval: time.Hour,
	})
}

func newTestEnvWith(t *testing.T, sessCfg session.Config) *testEnv {
	t.Helper()
	log := logger.NewTestLogger()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := storage.NewUserRepo(db)
	messages := storage.NewMessageRepo(db)
	doorRepo := storage.NewDoorSessionRepo(db)
	tokens := auth.NewTokens("test-secret", time.Hour)
	conns := connection.NewManager(log)
	notifier := notify.NewService(log, 8)
	sessions := session.NewManager(log, sessCfg)
	doors := door.NewService(log, sessions, conns, doorRepo, notifier, door.NewHiLo(), door.NewOracle())
	sessions.SetTimeoutExiter(doors)
	dispatcher := dispatch.NewDispatcher(log, sessions,
		dispatch.NewAuthHandler(log, sessions, users, notifier),
		dispatch.NewDoorHandler(log, doors),
		dispatch.NewMenuHandler(log, sessions, doors, messages, notifier, nil),
	)
	handler := NewHandler(log, tokens, users, messages, doors, sessions, conns, notifier, dispatcher)
	return &testEnv{handler: handler, sessions: sessions, conns: conns, notifier: notifier}
}

func (env *testEnv) router() http.Handler {
	r := chi.NewRouter()
	env.handler.Mount(r)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func registerUser(t *testing.T, handler http.Handler, handle, password string) tokenResponse {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", "",
		credentialsRequest{Handle: handle, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[tokenResponse](t, rec)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()

	created := registerUser(t, r, "phantom", "hunter22")
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, "phantom", created.Handle)

	rec := doJSON(t, r, http.MethodPost, "/api/auth/register", "",
		credentialsRequest{Handle: "Phantom", Password: "hunter23"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/auth/login", "",
		credentialsRequest{Handle: "phantom", Password: "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)
	logged := decode[tokenResponse](t, rec)
	assert.Equal(t, created.UserID, logged.UserID)

	rec = doJSON(t, r, http.MethodPost, "/api/auth/login", "",
		credentialsRequest{Handle: "phantom", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()

	rec := doJSON(t, r, http.MethodPost, "/api/auth/register", "",
		credentialsRequest{Handle: "", Password: "hunter22"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/auth/register", "",
		credentialsRequest{Handle: "phantom", Password: "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthedRoutesRejectBadTokens(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()

	rec := doJSON(t, r, http.MethodGet, "/api/bases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/bases", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMessagesEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()
	token := registerUser(t, r, "phantom", "hunter22").Token

	rec := doJSON(t, r, http.MethodGet, "/api/bases", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bases := decode[map[string][]map[string]string](t, rec)
	assert.Len(t, bases["bases"], 3)

	rec = doJSON(t, r, http.MethodPost, "/api/bases/general/messages", token,
		map[string]string{"body": "first post!"})
	require.Equal(t, http.StatusCreated, rec.Code)
	posted := decode[messageDTO](t, rec)
	assert.Equal(t, "phantom", posted.AuthorHandle)

	rec = doJSON(t, r, http.MethodGet, "/api/bases/general/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[messagePage](t, rec)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "first post!", page.Messages[0].Body)

	rec = doJSON(t, r, http.MethodGet, "/api/bases/warez/messages", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/bases/general/messages", token,
		map[string]string{"body": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()
	author := registerUser(t, r, "phantom", "hunter22")
	other := registerUser(t, r, "lurker", "hunter23")

	rec := doJSON(t, r, http.MethodPost, "/api/bases/general/messages", author.Token,
		map[string]string{"body": "delete me later"})
	require.Equal(t, http.StatusCreated, rec.Code)
	posted := decode[messageDTO](t, rec)

	rec = doJSON(t, r, http.MethodDelete, "/api/messages/"+posted.ID, other.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the author may delete")

	rec = doJSON(t, r, http.MethodDelete, "/api/messages/"+posted.ID, author.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, r, http.MethodDelete, "/api/messages/"+posted.ID, author.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/bases/general/messages", author.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[messagePage](t, rec).Total)
}

func TestDoorsOverREST(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()
	token := registerUser(t, r, "phantom", "hunter22").Token

	rec := doJSON(t, r, http.MethodGet, "/api/doors", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/doors/tradewars/enter", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/input", token,
		map[string]string{"input": "hello?"})
	assert.Equal(t, http.StatusConflict, rec.Code, "input before enter")

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entered := decode[doorResponse](t, rec)
	assert.Contains(t, entered.Output, "The Oracle")
	require.NotEmpty(t, entered.SessionID)

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/input", token,
		map[string]string{"input": "will the test pass?"})
	require.Equal(t, http.StatusOK, rec.Code)
	answered := decode[doorResponse](t, rec)
	assert.NotEmpty(t, answered.Output)
	assert.Equal(t, entered.SessionID, answered.SessionID, "every call lands on the same session")

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/exit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exited := decode[doorResponse](t, rec)
	assert.True(t, exited.Exited)
	assert.Contains(t, exited.Output, "1 question(s)")

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/exit", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDoorRoutesRejectWrongDoor(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()
	token := registerUser(t, r, "phantom", "hunter22").Token

	rec := doJSON(t, r, http.MethodPost, "/api/doors/oracle/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The URL names the door the line is addressed to. A line for hilo
	// must not leak into the oracle run.
	rec = doJSON(t, r, http.MethodPost, "/api/doors/hilo/input", token,
		map[string]string{"input": "50"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "oracle")

	rec = doJSON(t, r, http.MethodPost, "/api/doors/hilo/exit", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/input", token,
		map[string]string{"input": "still with me?"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/exit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[doorResponse](t, rec).Output, "1 question(s)")
}

func TestSweepReleasesLoopbackConnections(t *testing.T) {
	env := newTestEnvWith(t, session.Config{
		IdleTimeout:   10 * time.Millisecond,
		SweepInterval: time.Hour,
	})
	r := env.router()
	token := registerUser(t, r, "phantom", "hunter22").Token

	rec := doJSON(t, r, http.MethodPost, "/api/doors/oracle/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.conns.Count())
	require.Equal(t, 1, env.notifier.ClientCount())

	time.Sleep(20 * time.Millisecond)
	env.sessions.Sweep()

	assert.Equal(t, 0, env.sessions.Count(), "idle session evicted")
	assert.Equal(t, 0, env.conns.Count(), "loopback connection released with its session")
	assert.Equal(t, 0, env.notifier.ClientCount(), "notify registration released with its session")
}

func TestDoorStateSurvivesAcrossTokens(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()
	token := registerUser(t, r, "phantom", "hunter22").Token

	rec := doJSON(t, r, http.MethodPost, "/api/doors/oracle/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/input", token,
		map[string]string{"input": "remember me?"})
	require.Equal(t, http.StatusOK, rec.Code)

	// A fresh login gets a fresh token but the same persisted run.
	rec = doJSON(t, r, http.MethodPost, "/api/auth/login", "",
		credentialsRequest{Handle: "phantom", Password: "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)
	newToken := decode[tokenResponse](t, rec).Token

	// Simulate the old session being swept.
	sess, ok := env.sessions.GetByConnection("rest:" + registeredUserID(t, env, "phantom"))
	require.True(t, ok)
	env.sessions.Remove(sess.ID)

	rec = doJSON(t, r, http.MethodPost, "/api/doors/oracle/enter", newToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resumed := decode[doorResponse](t, rec)
	assert.Contains(t, resumed.Output, "asked 1 question(s)")
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()

	rec := doJSON(t, r, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]int](t, rec)
	assert.Equal(t, 0, status["connections"])
	assert.Equal(t, 0, status["sessions"])

	token := registerUser(t, r, "phantom", "hunter22").Token
	doJSON(t, r, http.MethodPost, "/api/doors/oracle/enter", token, nil)

	rec = doJSON(t, r, http.MethodGet, "/api/status", "", nil)
	status = decode[map[string]int](t, rec)
	assert.Equal(t, 1, status["connections"], "REST caller gets a loopback connection")
	assert.Equal(t, 1, status["sessions"])
}

func registeredUserID(t *testing.T, env *testEnv, handle string) string {
	t.Helper()
	user, err := env.handler.users.GetByHandle(t.Context(), handle)
	require.NoError(t, err)
	return user.ID
}
