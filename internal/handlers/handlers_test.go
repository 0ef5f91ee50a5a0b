package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/gradecall/config"
	"github.com/mossy-p/gradecall/internal/middleware"
	"github.com/mossy-p/gradecall/internal/models"
	"github.com/mossy-p/gradecall/internal/redis"
	"github.com/mossy-p/gradecall/internal/signaling"
)

const testSecret = "test-secret"

type failingBus struct {
	signaling.Transport
}

func (failingBus) Publish(context.Context, string, string, []byte) error {
	return errors.New("broker down")
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"*"},
		JWTSecret:      testSecret,
		SignalBackend:  config.BackendMemory,
		ICE: config.ICEConfig{
			URLs:           []string{config.DefaultSTUN, "turn:turn.example.com:3478"},
			TURNUsername:   "u",
			TURNCredential: "p",
		},
	}
}

func setup(t *testing.T, bus signaling.Transport) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	require.NoError(t, redis.Connect(config.RedisConfig{Host: mr.Host(), Port: mr.Port()}))
	t.Cleanup(func() { _ = redis.Close() })

	return NewRouter(testConfig(), bus), mr
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(router http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		tok, _ := middleware.IssueToken(testSecret, userID, time.Hour)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func listen(t *testing.T, ch *signaling.Channel) <-chan models.SignalPayload {
	t.Helper()
	out := make(chan models.SignalPayload, 8)
	release, err := ch.Subscribe(context.Background(), func(p models.SignalPayload) { out <- p })
	require.NoError(t, err)
	t.Cleanup(release)
	return out
}

func receive(t *testing.T, ch <-chan models.SignalPayload) models.SignalPayload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return models.SignalPayload{}
	}
}

func createCall(t *testing.T, router http.Handler, caller, callee string) string {
	t.Helper()
	w := do(router, http.MethodPost, "/api/calls", caller, models.CreateCallRequest{CalleeID: callee})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp models.CreateCallResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CallID)
	return resp.CallID
}

func TestHealth(t *testing.T) {
	router, _ := setup(t, signaling.NewMemoryTransport())
	w := do(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLogin(t *testing.T) {
	router, _ := setup(t, signaling.NewMemoryTransport())

	w := do(router, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.UserID)

	claims, err := middleware.ParseToken(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)

	for _, bad := range []string{"", "call:1", "a b", "x/y", "m#n"} {
		w = do(router, http.MethodPost, "/api/auth/login", "", map[string]string{"username": bad})
		assert.Equal(t, http.StatusBadRequest, w.Code, "username %q", bad)
	}
}

func TestICEServers(t *testing.T) {
	router, _ := setup(t, signaling.NewMemoryTransport())

	w := do(router, http.MethodGet, "/api/ice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ICEServers []models.ICEServer `json:"iceServers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.ICEServers, 2)
	assert.Empty(t, resp.ICEServers[0].Username)
	assert.Equal(t, "u", resp.ICEServers[1].Username)
	assert.Equal(t, "p", resp.ICEServers[1].Credential)
}

func TestOriginFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OriginFilter([]string{"http://ok.example"}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://ok.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://ok.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateCallRingsCallee(t *testing.T) {
	bus := signaling.NewMemoryTransport()
	router, _ := setup(t, bus)
	rings := listen(t, signaling.NewUserChannel(bus, "bob"))

	callID := createCall(t, router, "alice", "bob")

	ring := receive(t, rings)
	assert.Equal(t, models.SignalTypeRing, ring.Type)
	assert.Equal(t, "alice", ring.From)
	assert.Equal(t, "bob", ring.To)
	assert.Equal(t, callID, ring.CallID)

	call, err := redis.LoadCall(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, "alice", call.CreatorID)
	assert.Equal(t, "bob", call.CalleeID)
}

func TestCreateCallValidation(t *testing.T) {
	router, mr := setup(t, signaling.NewMemoryTransport())

	tests := []struct {
		name   string
		userID string
		body   interface{}
		code   int
	}{
		{"unauthenticated", "", models.CreateCallRequest{CalleeID: "bob"}, http.StatusUnauthorized},
		{"missing callee", "alice", map[string]string{}, http.StatusBadRequest},
		{"self call", "alice", models.CreateCallRequest{CalleeID: "alice"}, http.StatusBadRequest},
		{"callee with path separator", "alice", models.CreateCallRequest{CalleeID: "bob/notify"}, http.StatusBadRequest},
		{"callee with wildcard", "alice", models.CreateCallRequest{CalleeID: "bob/#"}, http.StatusBadRequest},
		{"callee with plus", "alice", models.CreateCallRequest{CalleeID: "a+b"}, http.StatusBadRequest},
		{"callee with topic prefix", "alice", models.CreateCallRequest{CalleeID: "call:1"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/calls", tt.userID, tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Empty(t, mr.Keys())
		})
	}
}

func TestCreateCallRingFailureRemovesRecord(t *testing.T) {
	router, mr := setup(t, failingBus{Transport: signaling.NewMemoryTransport()})

	w := do(router, http.MethodPost, "/api/calls", "alice", models.CreateCallRequest{CalleeID: "bob"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, mr.Keys())
}

func TestGetCall(t *testing.T) {
	router, _ := setup(t, signaling.NewMemoryTransport())
	callID := createCall(t, router, "alice", "bob")
	require.NoError(t, redis.JoinCall(context.Background(), callID, "alice"))

	w := do(router, http.MethodGet, "/api/calls/"+callID, "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var call models.CallMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &call))
	assert.Equal(t, callID, call.ID)
	assert.Equal(t, 1, call.ParticipantCount)

	w = do(router, http.MethodGet, "/api/calls/missing", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/calls/"+callID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEndCall(t *testing.T) {
	bus := signaling.NewMemoryTransport()
	router, _ := setup(t, bus)
	callID := createCall(t, router, "alice", "bob")
	signals := listen(t, signaling.NewCallChannel(bus, callID))

	w := do(router, http.MethodDelete, "/api/calls/"+callID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, http.MethodDelete, "/api/calls/"+callID, "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)

	hangup := receive(t, signals)
	assert.Equal(t, models.SignalTypeHangup, hangup.Type)
	assert.Equal(t, "bob", hangup.From)

	_, err := redis.LoadCall(context.Background(), callID)
	assert.ErrorIs(t, err, redis.ErrCallNotFound)

	w = do(router, http.MethodDelete, "/api/calls/"+callID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
