package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/gradecall/config"
	"github.com/mossy-p/gradecall/internal/handlers"
	"github.com/mossy-p/gradecall/internal/redis"
	"github.com/mossy-p/gradecall/internal/signaling"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	require.NoError(t, redis.Connect(config.RedisConfig{Host: mr.Host(), Port: mr.Port()}))
	t.Cleanup(func() { _ = redis.Close() })

	cfg := &config.Config{
		AllowedOrigins: []string{"*"},
		JWTSecret:      "secret",
		ICE: config.ICEConfig{
			URLs:           []string{config.DefaultSTUN, "turn:turn.example.com"},
			TURNUsername:   "user",
			TURNCredential: "pass",
		},
	}
	server := httptest.NewServer(handlers.NewRouter(cfg, signaling.NewMemoryTransport()))
	t.Cleanup(server.Close)
	return server
}

func TestSignalURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws/signal", newAPIClient("http://localhost:8080/").signalURL())
	assert.Equal(t, "wss://calls.example.com/ws/signal", newAPIClient("https://calls.example.com").signalURL())
}

func TestAPIClient(t *testing.T) {
	server := newGateway(t)
	ctx := context.Background()

	api := newAPIClient(server.URL)
	_, err := api.createCall(ctx, "bob")
	assert.Error(t, err, "calls require a login")

	require.NoError(t, api.login(ctx, "alice"))
	assert.Equal(t, "alice", api.userID)
	assert.NotEmpty(t, api.token)

	ice, err := api.iceServers(ctx)
	require.NoError(t, err)
	require.Len(t, ice, 2)
	assert.Equal(t, []string{config.DefaultSTUN}, ice[0].URLs)
	assert.EqualValues(t, "pass", ice[1].Credential)
	assert.Equal(t, "user", ice[1].Username)

	callID, err := api.createCall(ctx, "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, callID)

	_, err = api.createCall(ctx, "alice")
	assert.ErrorContains(t, err, "Cannot call yourself")

	require.NoError(t, api.endCall(ctx, callID))
	assert.Error(t, api.endCall(ctx, callID))
}
