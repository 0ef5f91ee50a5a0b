package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mossy-p/gradecall/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTransport struct {
	Transport
}

func (failingTransport) Publish(context.Context, string, string, []byte) error {
	return errors.New("socket gone")
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

func TestTopicNames(t *testing.T) {
	bus := NewMemoryTransport()

	call := NewCallChannel(bus, "c1")
	assert.Equal(t, "call:c1", call.Topic())
	assert.Equal(t, EventSignal, call.Event())

	user := NewUserChannel(bus, "u1")
	assert.Equal(t, "user:u1", user.Topic())
	assert.Equal(t, EventNotify, user.Event())
}

func TestChannelBroadcast(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryTransport()

	a := make(chan models.SignalPayload, 4)
	b := make(chan models.SignalPayload, 4)

	releaseA, err := NewCallChannel(bus, "c1").Subscribe(ctx, func(p models.SignalPayload) { a <- p })
	require.NoError(t, err)
	defer releaseA()
	releaseB, err := NewCallChannel(bus, "c1").Subscribe(ctx, func(p models.SignalPayload) { b <- p })
	require.NoError(t, err)
	defer releaseB()

	sent, err := models.SignalPayload{Type: models.SignalTypeOffer, From: "alice", CallID: "c1"}.
		WithData(map[string]string{"type": "offer", "sdp": "v=0"})
	require.NoError(t, err)
	require.NoError(t, NewCallChannel(bus, "c1").Send(ctx, sent))

	for _, ch := range []chan models.SignalPayload{a, b} {
		got := receive(t, ch)
		assert.Equal(t, models.SignalTypeOffer, got.Type)
		assert.Equal(t, "alice", got.From)
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(got.Data))
	}
}

func TestChannelTopicsAreIsolated(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryTransport()

	got := make(chan models.SignalPayload, 1)
	release, err := NewCallChannel(bus, "c1").Subscribe(ctx, func(p models.SignalPayload) { got <- p })
	require.NoError(t, err)
	defer release()

	require.NoError(t, NewCallChannel(bus, "c2").Send(ctx, models.SignalPayload{Type: models.SignalTypeHangup, From: "bob"}))
	require.NoError(t, NewUserChannel(bus, "c1").Send(ctx, models.SignalPayload{Type: models.SignalTypeRing, From: "bob"}))

	select {
	case p := <-got:
		t.Fatalf("unexpected delivery %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReleaseStopsDeliveryAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryTransport()
	ch := NewUserChannel(bus, "bob")

	got := make(chan models.SignalPayload, 4)
	release, err := ch.Subscribe(ctx, func(p models.SignalPayload) { got <- p })
	require.NoError(t, err)

	release()
	release()

	require.NoError(t, ch.Send(ctx, models.SignalPayload{Type: models.SignalTypeRing, From: "alice", CallID: "c1"}))
	select {
	case p := <-got:
		t.Fatalf("delivered after release: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Eventually(t, func() bool {
		return bus.Subscribers(ch.Topic(), ch.Event()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNoBacklogForLateSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryTransport()
	ch := NewCallChannel(bus, "c1")

	require.NoError(t, ch.Send(ctx, models.SignalPayload{Type: models.SignalTypeHangup, From: "alice"}))

	got := make(chan models.SignalPayload, 1)
	release, err := ch.Subscribe(ctx, func(p models.SignalPayload) { got <- p })
	require.NoError(t, err)
	defer release()

	select {
	case p := <-got:
		t.Fatalf("late subscriber received %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedSignalsAreDropped(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryTransport()
	ch := NewCallChannel(bus, "c1")

	got := make(chan models.SignalPayload, 4)
	release, err := ch.Subscribe(ctx, func(p models.SignalPayload) { got <- p })
	require.NoError(t, err)
	defer release()

	require.NoError(t, bus.Publish(ctx, ch.Topic(), ch.Event(), []byte("{not json")))
	bad, _ := json.Marshal(map[string]string{"type": "dance", "from": "alice"})
	require.NoError(t, bus.Publish(ctx, ch.Topic(), ch.Event(), bad))
	anon, _ := json.Marshal(map[string]string{"type": "offer"})
	require.NoError(t, bus.Publish(ctx, ch.Topic(), ch.Event(), anon))

	require.NoError(t, ch.Send(ctx, models.SignalPayload{Type: models.SignalTypeHangup, From: "alice"}))

	p := receive(t, got)
	assert.Equal(t, models.SignalTypeHangup, p.Type)
}

func TestSendFailuresWrapErrDelivery(t *testing.T) {
	ctx := context.Background()

	err := NewCallChannel(failingTransport{}, "c1").Send(ctx, models.SignalPayload{Type: models.SignalTypeOffer, From: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelivery))

	err = NewCallChannel(NewMemoryTransport(), "c1").Send(ctx, models.SignalPayload{Type: models.SignalTypeOffer})
	assert.True(t, errors.Is(err, ErrDelivery))
}

func TestClosedMemoryTransport(t *testing.T) {
	bus := NewMemoryTransport()
	require.NoError(t, bus.Close())

	_, err := bus.Subscribe(context.Background(), "call:x", EventSignal, func([]byte) {})
	assert.ErrorIs(t, err, ErrClosed)

	err = NewCallChannel(bus, "x").Send(context.Background(), models.SignalPayload{Type: models.SignalTypeHangup, From: "a"})
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestMQTTPathMapping(t *testing.T) {
	tr := newMQTTTransport(nil)
	assert.Equal(t, "gradecall/call/abc/signal", tr.path(CallTopic("abc"), EventSignal))
	assert.Equal(t, "gradecall/user/u1/notify", tr.path(UserTopic("u1"), EventNotify))
}
