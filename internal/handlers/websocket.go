package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/enochaseks/sideeye/internal/middleware"
	"github.com/enochaseks/sideeye/internal/models"
	"github.com/enochaseks/sideeye/internal/realtime"
	"github.com/enochaseks/sideeye/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is a browser peer connected over WebSocket. It is registered in the
// room's presence, and its offers, answers and candidates go through the
// room's signaling channel like those of any other peer.
type Client struct {
	ID     string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte

	channel *signaling.Channel
	store   realtime.Store
	logger  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	peers        map[string]struct{}
	seenPresence bool
	unwatch      realtime.Unsubscribe
}

// HandleSignaling upgrades to a WebSocket and bridges the connection to the
// room's presence and signaling records.
func (h *Handler) HandleSignaling(c *gin.Context) {
	room, err := h.lookupRoom(c.Request.Context(), c.Param("roomId"))
	if err == nil && room.Full() {
		err = ErrRoomFull
	}
	if err != nil {
		h.roomError(c, err)
		return
	}

	userID, _ := middleware.UserID(c)
	displayName := c.Query("displayName")
	if displayName == "" {
		displayName = userID
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	peerID := uuid.New().String()
	logger := h.logger.WithFields(logrus.Fields{
		"room": room.ID,
		"peer": peerID,
		"user": userID,
	})

	client := &Client{
		ID:     peerID,
		RoomID: room.ID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		channel: signaling.NewChannel(h.store, room.ID,
			signaling.WithTTL(h.cfg.Signaling.RecordTTL),
			signaling.WithLogger(logger),
		),
		store:  h.store,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	presence, err := json.Marshal(models.Presence{
		PeerID:      peerID,
		DisplayName: displayName,
		JoinedAt:    time.Now().UnixMilli(),
	})
	if err == nil {
		err = h.store.Set(ctx, PresencePath(room.ID), peerID, presence)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to register presence")
		cancel()
		conn.WriteJSON(models.SignalMessage{Type: models.SignalTypeError, RoomID: room.ID, Error: "Failed to join room"})
		conn.Close()
		return
	}

	// Peers joining at the same moment can all pass the full check above.
	admitted, err := h.admitted(ctx, room, peerID)
	if err != nil || !admitted {
		if err != nil {
			logger.WithError(err).Error("Failed to confirm room capacity")
		} else {
			logger.WithField("max", room.MaxParticipants).Info("Room filled while joining")
		}
		if err := h.store.Delete(ctx, PresencePath(room.ID), peerID); err != nil {
			logger.WithError(err).Warn("Failed to remove presence")
		}
		cancel()
		text := "Room is full"
		if err != nil {
			text = "Failed to join room"
		}
		conn.WriteJSON(models.SignalMessage{Type: models.SignalTypeError, RoomID: room.ID, Error: text})
		conn.Close()
		return
	}

	// Send join confirmation
	client.sendMessage(models.SignalMessage{
		Type:   models.SignalTypeJoin,
		From:   peerID,
		RoomID: room.ID,
	})

	if err := client.listen(); err != nil {
		logger.WithError(err).Error("Failed to subscribe to room")
		client.close()
		return
	}

	logger.WithFields(logrus.Fields{
		"code":         room.Code,
		"participants": room.ParticipantCount + 1,
		"max":          room.MaxParticipants,
	}).Info("Peer joined room")

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// admitted reports whether peerID holds one of the room's places. Peers are
// ranked by join time, then ID, so concurrent joiners agree on who backs out.
func (h *Handler) admitted(ctx context.Context, room *models.RoomMetadata, peerID string) (bool, error) {
	snap, err := h.store.Get(ctx, PresencePath(room.ID))
	if err != nil {
		return false, err
	}

	peers := make([]models.Presence, 0, len(snap))
	for key, data := range snap {
		var p models.Presence
		if err := json.Unmarshal(data, &p); err != nil {
			h.logger.WithError(err).WithField("peer", key).Warn("Ignoring undecodable presence")
			continue
		}
		p.PeerID = key
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].JoinedAt != peers[j].JoinedAt {
			return peers[i].JoinedAt < peers[j].JoinedAt
		}
		return peers[i].PeerID < peers[j].PeerID
	})

	for i, p := range peers {
		if p.PeerID == peerID {
			return i < room.MaxParticipants, nil
		}
	}
	return false, nil
}

func (c *Client) listen() error {
	unwatch, err := c.store.Watch(c.ctx, PresencePath(c.RoomID), c.onPresence)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.unwatch = unwatch
	c.mu.Unlock()

	for _, kind := range models.Kinds {
		if _, err := c.channel.Listen(c.ctx, kind, c.deliver); err != nil {
			return err
		}
	}
	return nil
}

// onPresence turns presence snapshots into a peers list on the first
// snapshot and join/leave events afterwards.
func (c *Client) onPresence(snap realtime.Snapshot) {
	current := make(map[string]struct{}, len(snap))
	for id := range snap {
		if id != c.ID {
			current[id] = struct{}{}
		}
	}

	c.mu.Lock()
	previous := c.peers
	first := !c.seenPresence
	c.peers = current
	c.seenPresence = true
	c.mu.Unlock()

	if first {
		c.sendMessage(models.SignalMessage{
			Type:   models.SignalTypePeers,
			RoomID: c.RoomID,
			Peers:  sortedKeys(current),
		})
		return
	}

	for _, id := range sortedKeys(current) {
		if _, ok := previous[id]; !ok {
			c.sendMessage(models.SignalMessage{Type: models.SignalTypeJoin, From: id, RoomID: c.RoomID})
		}
	}
	for _, id := range sortedKeys(previous) {
		if _, ok := current[id]; !ok {
			c.sendMessage(models.SignalMessage{Type: models.SignalTypeLeave, From: id, RoomID: c.RoomID})
		}
	}
}

// deliver pushes a record addressed to this peer and consumes it.
func (c *Client) deliver(record models.SignalingRecord) {
	if record.RecipientID != c.ID {
		return
	}
	queued := c.sendMessage(models.SignalMessage{
		Type:    models.SignalType(record.Kind),
		ID:      record.ID,
		From:    record.SenderID,
		To:      record.RecipientID,
		RoomID:  c.RoomID,
		Payload: record.Payload,
	})
	if !queued {
		return
	}
	if err := c.channel.Consume(c.ctx, record); err != nil {
		c.logger.WithError(err).WithField("id", record.ID).Debug("Failed to consume record")
	}
}

func (c *Client) otherPeers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.peers)
}

func (c *Client) readPump() {
	defer c.close()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.WithError(err).Debug("Failed to parse message")
			c.sendError("Invalid message")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate, models.SignalTypeRenegotiate:
		payload := msg.Payload
		if len(payload) == 0 {
			if msg.Type != models.SignalTypeRenegotiate {
				c.sendError("Payload is required")
				return
			}
			payload = json.RawMessage(`{}`)
		}
		// Without a recipient the message goes to every other peer
		targets := []string{msg.To}
		if msg.To == "" {
			targets = c.otherPeers()
		}
		for _, to := range targets {
			if _, err := c.channel.Send(c.ctx, models.SignalKind(msg.Type), payload, to, c.ID); err != nil {
				c.logger.WithError(err).WithField("to", to).Warn("Failed to relay message")
				c.sendError("Failed to relay " + string(msg.Type))
			}
		}
	default:
		c.logger.WithField("type", msg.Type).Debug("Unknown message type")
		c.sendError("Unknown message type: " + string(msg.Type))
	}
}

// close removes the peer from the room. It runs once, when readPump exits.
func (c *Client) close() {
	c.channel.Cleanup()
	c.mu.Lock()
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.store.Delete(ctx, PresencePath(c.RoomID), c.ID); err != nil {
		c.logger.WithError(err).Warn("Failed to remove presence")
	}

	c.cancel()
	close(c.done)
	c.Conn.Close()
	c.logger.Info("Peer left room")
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WithError(err).Debug("Failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// sendMessage queues msg for the writer and reports whether it was queued.
func (c *Client) sendMessage(msg models.SignalMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal message")
		return false
	}

	select {
	case c.Send <- data:
		return true
	default:
		c.logger.Warn("Failed to send message, buffer full")
		return false
	}
}

func (c *Client) sendError(text string) {
	c.sendMessage(models.SignalMessage{
		Type:   models.SignalTypeError,
		RoomID: c.RoomID,
		Error:  text,
	})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
