package handlers

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/enochaseks/sideeye/internal/middleware"
	"github.com/enochaseks/sideeye/internal/models"
	"github.com/enochaseks/sideeye/internal/realtime"
	"github.com/enochaseks/sideeye/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	roomCodeLength         = 6
	roomTTL                = 24 * time.Hour
	codeChars              = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
	defaultMaxParticipants = 2
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

func roomKey(roomID string) string { return "room:" + roomID }
func codeKey(code string) string   { return "code:" + code }

// PresencePath is the realtime store path listing the peers of a room.
func PresencePath(roomID string) string {
	return realtime.Join("rooms", roomID, "presence")
}

// CreateRoom creates a new call room (requires authentication)
func (h *Handler) CreateRoom(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	// An empty body creates a room with defaults.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = defaultMaxParticipants
	}

	code, err := generateRoomCode()
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate room code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	room := models.RoomMetadata{
		ID:              uuid.New().String(),
		Code:            code,
		CreatorID:       userID,
		Name:            req.Name,
		CreatedAt:       time.Now().UTC(),
		MaxParticipants: req.MaxParticipants,
	}

	roomData, err := json.Marshal(room)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	ctx := c.Request.Context()
	// Store room metadata and the code-to-ID mapping together
	_, err = h.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), roomData, roomTTL)
		pipe.Set(ctx, codeKey(room.Code), room.ID, roomTTL)
		return nil
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to store room in Redis")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"room": room.ID,
		"code": room.Code,
		"user": userID,
	}).Info("Room created")

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID: room.ID,
		Code:   room.Code,
	})
}

// GetRoom gets room information by code or ID (public)
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.lookupRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom deletes a room with its presence and signaling data
// (requires authentication and creator)
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx := c.Request.Context()
	room, err := h.lookupRoom(ctx, c.Param("roomId"))
	if err != nil {
		h.roomError(c, err)
		return
	}

	// Verify user is the creator
	if room.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := h.redis.Del(ctx, roomKey(room.ID), codeKey(room.Code)).Err(); err != nil {
		h.logger.WithError(err).WithField("room", room.ID).Error("Failed to delete room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}
	if err := h.store.Clear(ctx, PresencePath(room.ID)); err != nil {
		h.logger.WithError(err).WithField("room", room.ID).Warn("Failed to clear presence")
	}
	if err := signaling.Clear(ctx, h.store, room.ID); err != nil {
		h.logger.WithError(err).WithField("room", room.ID).Warn("Failed to clear signaling records")
	}

	h.logger.WithFields(logrus.Fields{
		"room": room.ID,
		"user": userID,
	}).Info("Room deleted")

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// lookupRoom resolves a room code or ID and fills in the live participant count.
func (h *Handler) lookupRoom(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	roomID := identifier

	// Check if it's a code (6 chars) vs UUID
	if len(identifier) == roomCodeLength {
		id, err := h.redis.Get(ctx, codeKey(identifier)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoomNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolving room code: %w", err)
		}
		roomID = id
	}

	roomData, err := h.redis.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading room: %w", err)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal(roomData, &room); err != nil {
		return nil, fmt.Errorf("parsing room data: %w", err)
	}

	peers, err := h.store.Get(ctx, PresencePath(room.ID))
	if err != nil {
		return nil, fmt.Errorf("counting participants: %w", err)
	}
	room.ParticipantCount = len(peers)

	return &room, nil
}

func (h *Handler) roomError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, ErrRoomFull):
		c.JSON(http.StatusConflict, gin.H{"error": "Room is full"})
	default:
		h.logger.WithError(err).Error("Room lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
	}
}

// generateRoomCode generates a random room code
func generateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", err
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}
