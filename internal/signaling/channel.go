// Package signaling relays offers, answers and ICE candidates between the
// two peers of a call through the realtime store.
//
// Every message is a SignalingRecord written under
// rooms/<room>/signaling/<kind> with a random key. There is no
// acknowledgment protocol: records live for a fixed TTL and are deleted by
// their sender after it, by readers that find them expired, or by the
// recipient once it has acted on them (Consume). Delivery is therefore
// best-effort, and listeners see each live record at most once.
//
// The sender's expiry timers run on wall time. The clock set by WithClock
// only drives the expiry checks readers make.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enochaseks/sideeye/internal/models"
	"github.com/enochaseks/sideeye/internal/realtime"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a record remains deliverable.
const DefaultTTL = 30 * time.Second

const cleanupTimeout = 5 * time.Second

// ErrUnknownKind is returned for record kinds outside models.Kinds.
var ErrUnknownKind = errors.New("signaling: unknown record kind")

// Listener receives live records of one kind.
type Listener func(models.SignalingRecord)

// Option configures a Channel.
type Option func(*Channel)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Channel) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Channel) { c.logger = logger }
}

// Channel is the room-scoped signaling relay.
type Channel struct {
	store  realtime.Store
	roomID string
	ttl    time.Duration
	now    func() time.Time
	logger logrus.FieldLogger

	mu        sync.Mutex
	listeners map[uint64]realtime.Unsubscribe
	nextID    uint64
	// Expiry timers of the records this channel published, by record ID.
	expiries map[string]expiry
}

type expiry struct {
	path  string
	timer *time.Timer
}

// NewChannel creates a channel for roomID on store.
func NewChannel(store realtime.Store, roomID string, opts ...Option) *Channel {
	c := &Channel{
		store:     store,
		roomID:    roomID,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
		listeners: make(map[uint64]realtime.Unsubscribe),
		expiries:  make(map[string]expiry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logrus.Fields{
		"component": "signaling",
		"room":      roomID,
	})
	return c
}

// RoomID returns the room this channel relays for.
func (c *Channel) RoomID() string {
	return c.roomID
}

// TTL returns the record time-to-live.
func (c *Channel) TTL() time.Duration {
	return c.ttl
}

// Path returns the store path holding records of kind.
func (c *Channel) Path(kind models.SignalKind) string {
	return Path(c.roomID, kind)
}

// Path returns the store path holding records of kind for roomID.
func Path(roomID string, kind models.SignalKind) string {
	return realtime.Join("rooms", roomID, "signaling", string(kind))
}

// RoomPaths returns every signaling path of roomID.
func RoomPaths(roomID string) []string {
	paths := make([]string, 0, len(models.Kinds))
	for _, kind := range models.Kinds {
		paths = append(paths, Path(roomID, kind))
	}
	return paths
}

// SendOffer publishes an SDP offer from senderID to recipientID.
func (c *Channel) SendOffer(ctx context.Context, offer webrtc.SessionDescription, recipientID, senderID string) error {
	_, err := c.Send(ctx, models.KindOffer, offer, recipientID, senderID)
	return err
}

// SendAnswer publishes an SDP answer from senderID to recipientID.
func (c *Channel) SendAnswer(ctx context.Context, answer webrtc.SessionDescription, recipientID, senderID string) error {
	_, err := c.Send(ctx, models.KindAnswer, answer, recipientID, senderID)
	return err
}

// SendIceCandidate publishes an ICE candidate from senderID to recipientID.
func (c *Channel) SendIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit, recipientID, senderID string) error {
	_, err := c.Send(ctx, models.KindCandidate, candidate, recipientID, senderID)
	return err
}

// SendRenegotiation asks recipientID, the offering peer, for a new offer.
func (c *Channel) SendRenegotiation(ctx context.Context, request models.Renegotiation, recipientID, senderID string) error {
	_, err := c.Send(ctx, models.KindRenegotiate, request, recipientID, senderID)
	return err
}

// Send writes a record of kind with payload (marshalled to JSON unless it is
// already a json.RawMessage) and schedules its deletion after the TTL.
func (c *Channel) Send(ctx context.Context, kind models.SignalKind, payload any, recipientID, senderID string) (models.SignalingRecord, error) {
	if !kind.Valid() {
		return models.SignalingRecord{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	raw, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return models.SignalingRecord{}, fmt.Errorf("encoding %s payload: %w", kind, err)
		}
	}

	record := models.SignalingRecord{
		ID:              uuid.New().String(),
		Kind:            kind,
		Payload:         raw,
		SenderID:        senderID,
		RecipientID:     recipientID,
		CreatedAtMillis: c.now().UnixMilli(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return models.SignalingRecord{}, fmt.Errorf("encoding %s record: %w", kind, err)
	}

	path := c.Path(kind)
	if err := c.store.Set(ctx, path, record.ID, data); err != nil {
		return models.SignalingRecord{}, fmt.Errorf("publishing %s: %w", kind, err)
	}

	c.mu.Lock()
	timer := time.AfterFunc(c.ttl, func() { c.expire(path, record.ID) })
	c.expiries[record.ID] = expiry{path: path, timer: timer}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"kind": kind,
		"id":   record.ID,
		"from": senderID,
		"to":   recipientID,
	}).Debug("Record published")

	return record, nil
}

// expire deletes a record whose TTL has run out, unless Cleanup got to it
// first.
func (c *Channel) expire(path, id string) {
	c.mu.Lock()
	_, ok := c.expiries[id]
	delete(c.expiries, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.store.Delete(context.Background(), path, id); err != nil {
		c.logger.WithFields(logrus.Fields{
			"path":  path,
			"id":    id,
			"error": err,
		}).Warn("Failed to delete expired record")
	}
}

// ListenForOffer subscribes fn to live offers.
func (c *Channel) ListenForOffer(ctx context.Context, fn Listener) (func(), error) {
	return c.Listen(ctx, models.KindOffer, fn)
}

// ListenForAnswer subscribes fn to live answers.
func (c *Channel) ListenForAnswer(ctx context.Context, fn Listener) (func(), error) {
	return c.Listen(ctx, models.KindAnswer, fn)
}

// ListenForIceCandidate subscribes fn to live ICE candidates.
func (c *Channel) ListenForIceCandidate(ctx context.Context, fn Listener) (func(), error) {
	return c.Listen(ctx, models.KindCandidate, fn)
}

// ListenForRenegotiation subscribes fn to live renegotiation requests.
func (c *Channel) ListenForRenegotiation(ctx context.Context, fn Listener) (func(), error) {
	return c.Listen(ctx, models.KindRenegotiate, fn)
}

// Listen subscribes fn to records of kind. On every change it walks all
// records present, oldest first: expired records are deleted, live records
// not yet seen by this listener are passed to fn. The returned function
// unsubscribes; it is safe to call more than once.
func (c *Channel) Listen(ctx context.Context, kind models.SignalKind, fn Listener) (func(), error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	path := c.Path(kind)
	delivered := make(map[string]struct{})

	unwatch, err := c.store.Watch(ctx, path, func(snap realtime.Snapshot) {
		c.dispatch(ctx, kind, snap, delivered, fn)
	})
	if err != nil {
		return nil, fmt.Errorf("listening for %s: %w", kind, err)
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = unwatch
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
		unwatch()
	}, nil
}

// dispatch handles one snapshot for one listener. delivered is owned by the
// listener; the store never runs a watch callback concurrently with itself.
func (c *Channel) dispatch(ctx context.Context, kind models.SignalKind, snap realtime.Snapshot, delivered map[string]struct{}, fn Listener) {
	// Forget records that have left the store.
	for id := range delivered {
		if _, ok := snap[id]; !ok {
			delete(delivered, id)
		}
	}

	now := c.now()
	path := c.Path(kind)
	records := make([]models.SignalingRecord, 0, len(snap))

	for key, data := range snap {
		var record models.SignalingRecord
		if err := json.Unmarshal(data, &record); err != nil {
			c.logger.WithFields(logrus.Fields{
				"kind":  kind,
				"id":    key,
				"error": err,
			}).Warn("Dropping undecodable record")
			c.delete(ctx, path, key)
			continue
		}
		record.ID = key

		if record.Expired(now, c.ttl) {
			c.logger.WithFields(logrus.Fields{
				"kind": kind,
				"id":   key,
				"age":  now.Sub(record.CreatedAt()).String(),
			}).Debug("Purging expired record")
			c.delete(ctx, path, key)
			continue
		}

		if _, seen := delivered[key]; seen {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAtMillis != records[j].CreatedAtMillis {
			return records[i].CreatedAtMillis < records[j].CreatedAtMillis
		}
		return records[i].ID < records[j].ID
	})

	for _, record := range records {
		delivered[record.ID] = struct{}{}
		fn(record)
	}
}

func (c *Channel) delete(ctx context.Context, path, key string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := c.store.Delete(ctx, path, key); err != nil {
		c.logger.WithFields(logrus.Fields{
			"path":  path,
			"id":    key,
			"error": err,
		}).Warn("Failed to delete record")
	}
}

// Consume deletes a record its recipient has acted on.
func (c *Channel) Consume(ctx context.Context, record models.SignalingRecord) error {
	if !record.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, record.Kind)
	}
	if err := c.store.Delete(ctx, c.Path(record.Kind), record.ID); err != nil {
		return fmt.Errorf("consuming %s %s: %w", record.Kind, record.ID, err)
	}
	return nil
}

// Cleanup removes every listener registered through this channel, stops the
// expiry timers of its records and deletes those records.
func (c *Channel) Cleanup() {
	c.mu.Lock()
	listeners := c.listeners
	c.listeners = make(map[uint64]realtime.Unsubscribe)
	expiries := c.expiries
	c.expiries = make(map[string]expiry)
	c.mu.Unlock()

	for _, unwatch := range listeners {
		unwatch()
	}

	if len(expiries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for id, e := range expiries {
		e.timer.Stop()
		c.delete(ctx, e.path, id)
	}
}

// Clear deletes every record of the room, for room teardown.
func Clear(ctx context.Context, store realtime.Store, roomID string) error {
	for _, path := range RoomPaths(roomID) {
		if err := store.Clear(ctx, path); err != nil {
			return err
		}
	}
	return nil
}
