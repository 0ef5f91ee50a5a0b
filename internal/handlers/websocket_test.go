package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/gradecall/internal/models"
	"github.com/mossy-p/gradecall/internal/redis"
	"github.com/mossy-p/gradecall/internal/signaling"
)

func dialGateway(t *testing.T, server *httptest.Server, userID string) *signaling.WebSocketTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/signal"
	ws, err := signaling.DialWebSocket(ctx, endpoint, token(t, userID))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestGatewayRequiresToken(t *testing.T) {
	router, _ := setup(t, signaling.NewMemoryTransport())
	server := httptest.NewServer(router)
	defer server.Close()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/signal"
	_, err := signaling.DialWebSocket(context.Background(), endpoint, "garbage")
	assert.Error(t, err)
}

func TestGatewayUserTopics(t *testing.T) {
	bus := signaling.NewMemoryTransport()
	router, _ := setup(t, bus)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx := context.Background()
	alice := dialGateway(t, server, "alice")
	bob := dialGateway(t, server, "bob")

	rings := make(chan models.SignalPayload, 1)
	_, err := signaling.NewUserChannel(bob, "bob").Subscribe(ctx, func(p models.SignalPayload) { rings <- p })
	require.NoError(t, err)

	_, err = signaling.NewUserChannel(alice, "bob").Subscribe(ctx, func(models.SignalPayload) {})
	assert.ErrorIs(t, err, signaling.ErrForbidden)

	_, err = alice.Subscribe(ctx, "lobby", "chat", func([]byte) {})
	assert.ErrorIs(t, err, signaling.ErrForbidden)

	// The gateway stamps the authenticated sender over whatever was claimed
	err = signaling.NewUserChannel(alice, "bob").Send(ctx, models.SignalPayload{
		Type:   models.SignalTypeRing,
		From:   "someone-else",
		CallID: "c1",
	})
	require.NoError(t, err)

	ring := receive(t, rings)
	assert.Equal(t, "alice", ring.From)
	assert.Equal(t, "c1", ring.CallID)
}

func TestGatewayCallTopics(t *testing.T) {
	bus := signaling.NewMemoryTransport()
	router, _ := setup(t, bus)
	server := httptest.NewServer(router)
	defer server.Close()

	callID := createCall(t, router, "alice", "bob")
	ctx := context.Background()

	alice := dialGateway(t, server, "alice")
	bob := dialGateway(t, server, "bob")
	mallory := dialGateway(t, server, "mallory")

	_, err := signaling.NewCallChannel(mallory, callID).Subscribe(ctx, func(models.SignalPayload) {})
	assert.ErrorIs(t, err, signaling.ErrForbidden)

	_, err = signaling.NewCallChannel(alice, "no-such-call").Subscribe(ctx, func(models.SignalPayload) {})
	assert.ErrorIs(t, err, signaling.ErrForbidden)

	signals := make(chan models.SignalPayload, 4)
	release, err := signaling.NewCallChannel(bob, callID).Subscribe(ctx, func(p models.SignalPayload) { signals <- p })
	require.NoError(t, err)

	call, err := redis.LoadCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, 1, call.ParticipantCount)

	err = signaling.NewCallChannel(alice, callID).Send(ctx, models.SignalPayload{Type: models.SignalTypeOffer, From: "alice"})
	require.NoError(t, err)
	offer := receive(t, signals)
	assert.Equal(t, models.SignalTypeOffer, offer.Type)
	assert.Equal(t, "alice", offer.From)

	release()
	assert.Eventually(t, func() bool {
		call, err := redis.LoadCall(ctx, callID)
		return err == nil && call.ParticipantCount == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayDisconnectReleasesSubscriptions(t *testing.T) {
	bus := signaling.NewMemoryTransport()
	router, _ := setup(t, bus)
	server := httptest.NewServer(router)
	defer server.Close()

	bob := dialGateway(t, server, "bob")
	_, err := signaling.NewUserChannel(bob, "bob").Subscribe(context.Background(), func(models.SignalPayload) {})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("user:bob", signaling.EventNotify))

	require.NoError(t, bob.Close())
	assert.Eventually(t, func() bool {
		return bus.Subscribers("user:bob", signaling.EventNotify) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayResubscribeWhileReleasing(t *testing.T) {
	bus := signaling.NewMemoryTransport()
	router, _ := setup(t, bus)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx := context.Background()
	alice := dialGateway(t, server, "alice")
	bob := dialGateway(t, server, "bob")
	topic := signaling.UserTopic("bob")

	for i := 0; i < 20; i++ {
		first, err := bob.Subscribe(ctx, topic, signaling.EventNotify, func([]byte) {})
		require.NoError(t, err)

		got := make(chan []byte, 1)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = first.Unsubscribe()
		}()
		second, err := bob.Subscribe(ctx, topic, signaling.EventNotify, func(p []byte) {
			select {
			case got <- p:
			default:
			}
		})
		require.NoError(t, err)
		<-done

		err = signaling.NewUserChannel(alice, "bob").Send(ctx, models.SignalPayload{Type: models.SignalTypeRing, From: "alice", CallID: "c"})
		require.NoError(t, err)

		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: listener lost its gateway subscription", i)
		}
		require.NoError(t, second.Unsubscribe())
	}
}
