package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/gradecall/internal/models"
	"github.com/redis/go-redis/v9"
)

// CallTTL is how long a call record lives without being ended explicitly
const CallTTL = 24 * time.Hour

// ErrCallNotFound is returned when no record exists for a call id
var ErrCallNotFound = errors.New("call not found")

func callKey(callID string) string {
	return "call:" + callID
}

func participantsKey(callID string) string {
	return "call:" + callID + ":peers"
}

// SaveCall stores call metadata under call:{id}
func SaveCall(ctx context.Context, call *models.CallMetadata) error {
	data, err := json.Marshal(call)
	if err != nil {
		return err
	}
	if err := client.Set(ctx, callKey(call.ID), data, CallTTL).Err(); err != nil {
		return fmt.Errorf("store call %s: %w", call.ID, err)
	}
	return nil
}

// LoadCall returns call metadata with the number of participants currently
// connected to the call topic
func LoadCall(ctx context.Context, callID string) (*models.CallMetadata, error) {
	data, err := client.Get(ctx, callKey(callID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load call %s: %w", callID, err)
	}

	var call models.CallMetadata
	if err := json.Unmarshal([]byte(data), &call); err != nil {
		return nil, fmt.Errorf("failed to parse call data: %w", err)
	}

	count, err := client.SCard(ctx, participantsKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("count participants of %s: %w", callID, err)
	}
	call.ParticipantCount = int(count)
	return &call, nil
}

// DeleteCall removes a call and its participant set
func DeleteCall(ctx context.Context, callID string) error {
	return client.Del(ctx, callKey(callID), participantsKey(callID)).Err()
}

// JoinCall marks userID as connected to the call topic
func JoinCall(ctx context.Context, callID, userID string) error {
	pipe := client.TxPipeline()
	pipe.SAdd(ctx, participantsKey(callID), userID)
	pipe.Expire(ctx, participantsKey(callID), CallTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// LeaveCall marks userID as no longer connected to the call topic
func LeaveCall(ctx context.Context, callID, userID string) error {
	return client.SRem(ctx, participantsKey(callID), userID).Err()
}
