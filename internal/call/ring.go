package call

import (
	"context"

	"github.com/mossy-p/gradecall/internal/models"
	"github.com/mossy-p/gradecall/internal/signaling"
)

// Incoming is a ring addressed to the local user.
type Incoming struct {
	CallID string
	From   string
}

// RingListener watches the local user's topic for incoming calls.
type RingListener struct {
	release func()
}

// ListenForRings subscribes to userID's topic and calls onRing for every
// ring that names a call. Rings sent by userID itself are ignored.
func ListenForRings(ctx context.Context, t signaling.Transport, userID string, onRing func(Incoming)) (*RingListener, error) {
	ch := signaling.NewUserChannel(t, userID)
	release, err := ch.Subscribe(ctx, func(msg models.SignalPayload) {
		if msg.Type != models.SignalTypeRing || msg.CallID == "" || msg.From == userID {
			return
		}
		if msg.To != "" && msg.To != userID {
			return
		}
		onRing(Incoming{CallID: msg.CallID, From: msg.From})
	})
	if err != nil {
		return nil, err
	}
	return &RingListener{release: release}, nil
}

// Close stops listening.
func (l *RingListener) Close() {
	l.release()
}

// Ring notifies to that from is calling on callID.
func Ring(ctx context.Context, t signaling.Transport, from, to, callID string) error {
	return signaling.NewUserChannel(t, to).Send(ctx, models.SignalPayload{
		Type:   models.SignalTypeRing,
		From:   from,
		To:     to,
		CallID: callID,
	})
}
