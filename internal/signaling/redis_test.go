package signaling

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/gradecall/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTransportRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	bus := NewRedisTransport(client)

	got := make(chan models.SignalPayload, 1)
	release, err := NewCallChannel(bus, "c9").Subscribe(ctx, func(p models.SignalPayload) { got <- p })
	require.NoError(t, err)
	defer release()

	require.NoError(t, NewCallChannel(bus, "c9").Send(ctx, models.SignalPayload{
		Type:   models.SignalTypeHangup,
		From:   "alice",
		CallID: "c9",
	}))

	p := receive(t, got)
	assert.Equal(t, models.SignalTypeHangup, p.Type)
	assert.Equal(t, "c9", p.CallID)
}
