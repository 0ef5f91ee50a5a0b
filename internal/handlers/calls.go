package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	callpkg "github.com/mossy-p/gradecall/internal/call"
	"github.com/mossy-p/gradecall/internal/middleware"
	"github.com/mossy-p/gradecall/internal/models"
	"github.com/mossy-p/gradecall/internal/redis"
	"github.com/mossy-p/gradecall/internal/signaling"
	"github.com/sirupsen/logrus"
)

// CreateCall places a call: it stores the call record and rings the callee
// on their user topic. If the ring cannot be submitted the record is
// removed again.
func CreateCall(bus signaling.Transport) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.CreateCallRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !validUserID(req.CalleeID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid callee"})
			return
		}
		if req.CalleeID == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot call yourself"})
			return
		}

		ctx := c.Request.Context()
		call := models.CallMetadata{
			ID:        uuid.New().String(),
			CreatorID: userID,
			CalleeID:  req.CalleeID,
			CreatedAt: time.Now().UTC(),
		}

		if err := redis.SaveCall(ctx, &call); err != nil {
			logrus.WithError(err).Error("Failed to store call in Redis")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create call"})
			return
		}

		if err := callpkg.Ring(ctx, bus, userID, req.CalleeID, call.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"call_id": call.ID,
				"callee":  req.CalleeID,
			}).WithError(err).Warn("Failed to ring callee")
			if derr := redis.DeleteCall(ctx, call.ID); derr != nil {
				logrus.WithError(derr).Warn("Failed to remove unrung call")
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to ring callee"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"call_id": call.ID,
			"caller":  userID,
			"callee":  req.CalleeID,
		}).Info("Call created")

		c.JSON(http.StatusCreated, models.CreateCallResponse{CallID: call.ID})
	}
}

// GetCall returns call metadata with the live participant count
func GetCall(c *gin.Context) {
	call, err := redis.LoadCall(c.Request.Context(), c.Param("callId"))
	if errors.Is(err, redis.ErrCallNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
		return
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to load call")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load call"})
		return
	}

	c.JSON(http.StatusOK, call)
}

// EndCall hangs up a call on behalf of one of its participants and removes
// its record
func EndCall(bus signaling.Transport) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		ctx := c.Request.Context()
		callID := c.Param("callId")

		call, err := redis.LoadCall(ctx, callID)
		if errors.Is(err, redis.ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
			return
		}
		if err != nil {
			logrus.WithError(err).Error("Failed to load call")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load call"})
			return
		}

		if !call.IsParticipant(userID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only call participants can end the call"})
			return
		}

		hangup := models.SignalPayload{Type: models.SignalTypeHangup, From: userID, CallID: callID}
		if err := signaling.NewCallChannel(bus, callID).Send(ctx, hangup); err != nil {
			logrus.WithField("call_id", callID).WithError(err).Warn("Failed to publish hangup")
		}

		if err := redis.DeleteCall(ctx, callID); err != nil {
			logrus.WithError(err).Error("Failed to delete call")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end call"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"call_id": callID,
			"user_id": userID,
		}).Info("Call ended")

		c.JSON(http.StatusOK, gin.H{"message": "Call ended"})
	}
}
