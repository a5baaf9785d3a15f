// Package rtc coordinates one WebRTC peer connection with a remote peer over
// a signaling channel. It serialises offer/answer rounds, keeps offers to one
// side of the call, buffers early ICE candidates and restarts ICE after
// failures.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/enochaseks/sideeye/internal/media"
	"github.com/enochaseks/sideeye/internal/models"
	"github.com/enochaseks/sideeye/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNegotiationInProgress is returned by CreateOffer while another
	// offer/answer round holds the negotiation lock.
	ErrNegotiationInProgress = errors.New("rtc: negotiation in progress")

	// ErrClosed is returned once Cleanup has run.
	ErrClosed = errors.New("rtc: coordinator closed")
)

// Signaler carries descriptions, candidates and renegotiation requests to
// the remote peer. *signaling.Channel implements it.
type Signaler interface {
	SendOffer(ctx context.Context, offer webrtc.SessionDescription, recipientID, senderID string) error
	SendAnswer(ctx context.Context, answer webrtc.SessionDescription, recipientID, senderID string) error
	SendIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit, recipientID, senderID string) error
	SendRenegotiation(ctx context.Context, request models.Renegotiation, recipientID, senderID string) error

	ListenForOffer(ctx context.Context, fn signaling.Listener) (func(), error)
	ListenForAnswer(ctx context.Context, fn signaling.Listener) (func(), error)
	ListenForIceCandidate(ctx context.Context, fn signaling.Listener) (func(), error)
	ListenForRenegotiation(ctx context.Context, fn signaling.Listener) (func(), error)

	Consume(ctx context.Context, record models.SignalingRecord) error
}

var _ Signaler = (*signaling.Channel)(nil)

// Config holds the dependencies of a Coordinator.
type Config struct {
	SelfID   string
	RemoteID string

	Signaler       Signaler
	PeerConnection PeerConnection
	Logger         logrus.FieldLogger

	// Restart bounds ICE restarts. Zero values take DefaultRestartPolicy.
	Restart RestartPolicy

	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnStateChange func(webrtc.PeerConnectionState)
	// OnFailed is called once the restart attempts are used up.
	OnFailed func()
}

// Coordinator owns one peer connection to RemoteID.
//
// The peer with the lexicographically smaller ID is impolite and is the
// only one that offers. The polite peer answers, and when it needs a round
// of its own (CreateOffer, a new stream, an ICE restart) it sends the
// impolite peer a renegotiation request instead. Local offers therefore
// never collide, and no side has to roll one back, which pion cannot do.
// An offer that still reaches a peer holding a local offer, say from a
// browser client, is ignored.
//
// Automatic rounds start only once the first exchange has completed; the
// first offer is made explicitly with CreateOffer.
type Coordinator struct {
	selfID   string
	remoteID string
	polite   bool

	signaler Signaler
	pc       PeerConnection
	logger   logrus.FieldLogger
	restart  RestartPolicy

	onRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onStateChange func(webrtc.PeerConnectionState)
	onFailed      func()

	// ctx scopes automatic rounds and candidate publishing; Cleanup cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// opMu serialises everything that changes pc's descriptions, candidates
	// or tracks. It is taken before mu, and never in a pc callback.
	opMu sync.Mutex

	// mu guards the fields below. It is never held across calls into pc,
	// which may run callbacks synchronously.
	mu              sync.Mutex
	neg             negotiation
	established     bool
	remoteSet       bool
	candidates      []webrtc.ICECandidateInit
	senders         []*webrtc.RTPSender
	stream          *media.Stream
	state           webrtc.PeerConnectionState
	restartAttempts int
	restartTimer    *time.Timer
	exhausted       bool
	unsubscribe     []func()
	closed          bool
}

// New creates a Coordinator and registers its peer connection callbacks.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.SelfID == "" || cfg.RemoteID == "":
		return nil, errors.New("rtc: self and remote IDs are required")
	case cfg.SelfID == cfg.RemoteID:
		return nil, fmt.Errorf("rtc: self and remote ID are both %q", cfg.SelfID)
	case cfg.Signaler == nil:
		return nil, errors.New("rtc: signaler is required")
	case cfg.PeerConnection == nil:
		return nil, errors.New("rtc: peer connection is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		selfID:        cfg.SelfID,
		remoteID:      cfg.RemoteID,
		polite:        cfg.SelfID > cfg.RemoteID,
		signaler:      cfg.Signaler,
		pc:            cfg.PeerConnection,
		restart:       cfg.Restart.withDefaults(),
		onRemoteTrack: cfg.OnRemoteTrack,
		onStateChange: cfg.OnStateChange,
		onFailed:      cfg.OnFailed,
		ctx:           ctx,
		cancel:        cancel,
		state:         cfg.PeerConnection.ConnectionState(),
	}
	c.logger = logger.WithFields(logrus.Fields{
		"component": "rtc",
		"self":      c.selfID,
		"remote":    c.remoteID,
		"polite":    c.polite,
	})

	c.pc.OnSignalingStateChange(c.handleSignalingState)
	c.pc.OnICECandidate(c.handleLocalCandidate)
	c.pc.OnConnectionStateChange(c.handleConnectionState)
	c.pc.OnICEConnectionStateChange(c.handleICEConnectionState)
	c.pc.OnNegotiationNeeded(c.handleNegotiationNeeded)
	c.pc.OnTrack(c.handleTrack)

	// Offers always ask for audio and video, even before local media exists.
	// The negotiationneeded these raise is ignored until the first exchange.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			c.logger.WithError(err).WithField("kind", kind).Warn("Failed to add receive transceiver")
		}
	}

	return c, nil
}

// Polite reports whether this peer answers rather than offers.
func (c *Coordinator) Polite() bool {
	return c.polite
}

// IsNegotiating reports whether an offer/answer round holds the lock.
func (c *Coordinator) IsNegotiating() bool {
	stable := c.pc.SignalingState() == webrtc.SignalingStateStable

	c.mu.Lock()
	defer c.mu.Unlock()
	if stable {
		c.neg.settle()
	}
	return c.neg.active()
}

// ConnectionState returns the last reported peer connection state.
func (c *Coordinator) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start subscribes to the records the remote peer addresses to us. Each
// record is handled, then consumed.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	subscriptions := []struct {
		listen func(context.Context, signaling.Listener) (func(), error)
		handle func(context.Context, models.SignalingRecord) error
	}{
		{c.signaler.ListenForOffer, c.receiveOffer},
		{c.signaler.ListenForAnswer, c.receiveAnswer},
		{c.signaler.ListenForIceCandidate, c.receiveCandidate},
		{c.signaler.ListenForRenegotiation, c.receiveRenegotiation},
	}

	unsubscribe := make([]func(), 0, len(subscriptions))
	for _, s := range subscriptions {
		unsub, err := s.listen(ctx, c.dispatch(ctx, s.handle))
		if err != nil {
			for _, u := range unsubscribe {
				u()
			}
			return fmt.Errorf("subscribing to signaling: %w", err)
		}
		unsubscribe = append(unsubscribe, unsub)
	}

	c.mu.Lock()
	c.unsubscribe = append(c.unsubscribe, unsubscribe...)
	c.mu.Unlock()

	c.logger.Info("Listening for signaling")
	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, handle func(context.Context, models.SignalingRecord) error) signaling.Listener {
	return func(record models.SignalingRecord) {
		if record.RecipientID != c.selfID || record.SenderID != c.remoteID {
			return
		}
		logger := c.logger.WithFields(logrus.Fields{
			"kind": record.Kind,
			"id":   record.ID,
		})
		if err := handle(ctx, record); err != nil {
			logger.WithError(err).Warn("Failed to handle signaling record")
		}
		if err := c.signaler.Consume(ctx, record); err != nil {
			logger.WithError(err).Debug("Failed to consume signaling record")
		}
	}
}

func (c *Coordinator) receiveOffer(ctx context.Context, record models.SignalingRecord) error {
	offer, err := signaling.SessionDescription(record)
	if err != nil {
		return err
	}
	return c.HandleOffer(ctx, offer)
}

func (c *Coordinator) receiveAnswer(ctx context.Context, record models.SignalingRecord) error {
	answer, err := signaling.SessionDescription(record)
	if err != nil {
		return err
	}
	return c.HandleAnswer(ctx, answer)
}

func (c *Coordinator) receiveCandidate(ctx context.Context, record models.SignalingRecord) error {
	candidate, err := signaling.ICECandidate(record)
	if err != nil {
		return err
	}
	return c.HandleIceCandidate(ctx, candidate)
}

func (c *Coordinator) receiveRenegotiation(ctx context.Context, record models.SignalingRecord) error {
	request, err := signaling.Renegotiation(record)
	if err != nil {
		return err
	}
	if c.polite {
		c.logger.Debug("Ignoring renegotiation request, the remote peer offers")
		return nil
	}
	c.logger.WithField("restart", request.ICERestart).Info("Remote peer asked for an offer")
	c.negotiate(ctx, request.ICERestart)
	return nil
}

// AddStream replaces the local tracks with those of stream. Once the first
// exchange has happened it renegotiates, now if the connection is stable or
// when the current round settles. Before that the first offer or answer
// carries the tracks.
func (c *Coordinator) AddStream(ctx context.Context, stream *media.Stream) error {
	c.opMu.Lock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.opMu.Unlock()
		return ErrClosed
	}
	previous := c.senders
	c.senders = nil
	c.mu.Unlock()

	for _, sender := range previous {
		if err := c.pc.RemoveTrack(sender); err != nil {
			c.logger.WithError(err).Warn("Failed to remove local track")
		}
	}

	added := make([]*webrtc.RTPSender, 0, len(stream.Tracks()))
	for _, track := range stream.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			c.mu.Lock()
			c.senders = added
			c.mu.Unlock()
			c.opMu.Unlock()
			return fmt.Errorf("adding %s track: %w", track.Kind(), err)
		}
		added = append(added, sender)
	}

	c.mu.Lock()
	c.senders = added
	c.stream = stream
	renegotiate := c.established || c.neg.active()
	c.mu.Unlock()
	c.opMu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"stream": stream.ID(),
		"tracks": len(added),
	}).Info("Local stream attached")

	if renegotiate {
		c.negotiate(ctx, false)
	}
	return nil
}

// CreateOffer starts an offer/answer round. On the impolite peer it creates,
// applies and publishes an offer, and returns it. The polite peer publishes
// a renegotiation request and returns an empty description; the offer comes
// from the remote peer. ErrNegotiationInProgress is returned while another
// round holds the lock.
func (c *Coordinator) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	round, err := c.begin(false)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if c.polite {
		return webrtc.SessionDescription{}, c.request(ctx, round, false)
	}
	return c.offer(ctx, round, false)
}

// negotiate runs an automatic round, or records it as pending while another
// round holds the lock. Failures are logged.
func (c *Coordinator) negotiate(ctx context.Context, restart bool) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	round, err := c.begin(restart)
	if errors.Is(err, ErrNegotiationInProgress) {
		c.mu.Lock()
		c.neg.request(restart)
		c.mu.Unlock()
		c.logger.WithField("restart", restart).Debug("Renegotiation deferred")
		return
	}
	if err != nil {
		return
	}

	if c.polite {
		err = c.request(ctx, round, restart)
	} else {
		_, err = c.offer(ctx, round, restart)
	}
	if err != nil {
		c.logger.WithError(err).WithField("restart", restart).Warn("Renegotiation failed")
	}
}

// begin takes the negotiation lock for a round that makes or requests an
// offer. A round whose stable report has not arrived yet is settled first.
// Callers hold opMu.
func (c *Coordinator) begin(restart bool) (uint64, error) {
	stable := c.pc.SignalingState() == webrtc.SignalingStateStable

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if stable {
		c.neg.settle()
	}
	round, ok := c.neg.begin()
	if !ok {
		return 0, ErrNegotiationInProgress
	}
	c.neg.cover(restart)
	return round, nil
}

// owns reports whether round still holds the lock. Only Cleanup takes it
// away, since rounds are serialised by opMu.
func (c *Coordinator) owns(round uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.neg.round == round
}

func (c *Coordinator) offer(ctx context.Context, round uint64, restart bool) (webrtc.SessionDescription, error) {
	// pion cannot roll back, so an offer left unanswered by an earlier
	// round is published again instead of replaced.
	var offer webrtc.SessionDescription
	if local := c.pc.LocalDescription(); local != nil && c.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		offer = *local
		c.logger.WithField("round", round).Info("Resending unanswered offer")
	} else {
		var err error
		offer, err = c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: restart})
		if err != nil {
			return offer, c.fail(round, fmt.Errorf("creating offer: %w", err))
		}
		if !c.owns(round) {
			return offer, ErrClosed
		}
		if err := c.pc.SetLocalDescription(offer); err != nil {
			return offer, c.fail(round, fmt.Errorf("setting local offer: %w", err))
		}
	}

	c.mu.Lock()
	c.neg.applied(round)
	c.mu.Unlock()

	if !c.owns(round) {
		return offer, ErrClosed
	}
	if err := c.signaler.SendOffer(ctx, offer, c.remoteID, c.selfID); err != nil {
		return offer, c.fail(round, fmt.Errorf("publishing offer: %w", err))
	}

	c.logger.WithFields(logrus.Fields{
		"round":   round,
		"restart": restart,
	}).Info("Offer sent")
	return offer, nil
}

// request asks the impolite peer for an offer. The round ends once the
// request is published.
func (c *Coordinator) request(ctx context.Context, round uint64, restart bool) error {
	if err := c.signaler.SendRenegotiation(ctx, models.Renegotiation{ICERestart: restart}, c.remoteID, c.selfID); err != nil {
		return c.fail(round, fmt.Errorf("publishing renegotiation request: %w", err))
	}
	c.logger.WithFields(logrus.Fields{
		"round":   round,
		"restart": restart,
	}).Info("Asked remote peer for an offer")
	c.release(round)
	return nil
}

// HandleOffer answers a remote offer. An offer arriving while this peer
// holds a local offer is dropped. The offer an earlier attempt applied but
// failed to answer is answered again when it is resent.
func (c *Coordinator) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	if offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("rtc: expected offer, got %s", offer.Type)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	state := c.pc.SignalingState()
	resent := false
	if remote := c.pc.RemoteDescription(); state == webrtc.SignalingStateHaveRemoteOffer && remote != nil {
		resent = remote.SDP == offer.SDP
	}
	if state != webrtc.SignalingStateStable && !resent {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return ErrClosed
		}
		c.logger.WithField("signaling_state", state).Info("Ignoring colliding offer")
		return nil
	}

	round, err := c.begin(false)
	if err != nil {
		return err
	}

	if resent {
		c.logger.WithField("round", round).Info("Answering resent offer")
	} else if err := c.applyRemote(offer); err != nil {
		return c.fail(round, fmt.Errorf("setting remote offer: %w", err))
	}

	c.mu.Lock()
	c.neg.applied(round)
	c.mu.Unlock()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return c.fail(round, fmt.Errorf("creating answer: %w", err))
	}
	if !c.owns(round) {
		return ErrClosed
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return c.fail(round, fmt.Errorf("setting local answer: %w", err))
	}
	if !c.owns(round) {
		return ErrClosed
	}
	if err := c.signaler.SendAnswer(ctx, answer, c.remoteID, c.selfID); err != nil {
		return c.fail(round, fmt.Errorf("publishing answer: %w", err))
	}

	c.logger.WithField("round", round).Info("Answer sent")
	c.release(round)
	return nil
}

// HandleAnswer applies the remote answer to our offer. Answers arriving
// without an outstanding offer are ignored. The lock is released once the
// connection reports stable.
func (c *Coordinator) HandleAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("rtc: expected answer, got %s", answer.Type)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, round := c.closed, c.neg.round
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if state := c.pc.SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
		c.logger.WithField("signaling_state", state).Info("Ignoring answer without a pending offer")
		return nil
	}

	if err := c.applyRemote(answer); err != nil {
		return c.fail(round, fmt.Errorf("setting remote answer: %w", err))
	}
	c.logger.WithField("round", round).Info("Answer applied")
	return nil
}

// HandleIceCandidate adds a remote candidate, or buffers it until a remote
// description is set.
func (c *Coordinator) HandleIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.remoteSet {
		c.candidates = append(c.candidates, candidate)
		buffered := len(c.candidates)
		c.mu.Unlock()
		c.logger.WithField("buffered", buffered).Debug("Buffered ICE candidate")
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// applyRemote sets desc and replays the buffered candidates in arrival
// order. Callers hold opMu.
func (c *Coordinator) applyRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteSet = true
	c.established = true
	buffered := c.candidates
	c.candidates = nil
	c.mu.Unlock()

	for _, candidate := range buffered {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.logger.WithError(err).Warn("Failed to add buffered ICE candidate")
		}
	}
	if len(buffered) > 0 {
		c.logger.WithField("count", len(buffered)).Debug("Flushed buffered ICE candidates")
	}
	return nil
}

// fail logs err and releases the lock held by round.
func (c *Coordinator) fail(round uint64, err error) error {
	c.logger.WithError(err).WithField("round", round).Warn("Negotiation failed")
	c.release(round)
	return err
}

// release ends round and replays a renegotiation requested while it ran.
func (c *Coordinator) release(round uint64) {
	c.mu.Lock()
	c.neg.abort(round)
	pending, restart := c.neg.takePending()
	closed := c.closed
	c.mu.Unlock()

	if pending && !closed {
		c.logger.WithField("restart", restart).Info("Replaying pending renegotiation")
		go c.negotiate(c.ctx, restart)
	}
}

func (c *Coordinator) handleSignalingState(state webrtc.SignalingState) {
	c.logger.WithField("signaling_state", state).Debug("Signaling state changed")
	if state != webrtc.SignalingStateStable {
		return
	}
	// Reports are asynchronous with pion; ignore one that is already stale.
	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		return
	}

	c.mu.Lock()
	settled := c.neg.settle()
	round := c.neg.round
	pending, restart := c.neg.takePending()
	closed := c.closed
	c.mu.Unlock()

	if settled {
		c.logger.WithField("round", round).Debug("Negotiation settled")
	}
	if pending && !closed {
		c.logger.WithField("restart", restart).Info("Replaying pending renegotiation")
		go c.negotiate(c.ctx, restart)
	}
}

// handleNegotiationNeeded runs on pion's operations goroutine, which a
// round waits on, so the round is started on its own goroutine.
func (c *Coordinator) handleNegotiationNeeded() {
	c.mu.Lock()
	skip := c.closed || !c.established || c.neg.active() || c.neg.pending
	c.mu.Unlock()

	// A running or pending round offers the current tracks anyway.
	if skip {
		return
	}
	go c.negotiate(c.ctx, false)
}

func (c *Coordinator) handleLocalCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if err := c.signaler.SendIceCandidate(c.ctx, candidate.ToJSON(), c.remoteID, c.selfID); err != nil {
		c.logger.WithError(err).Warn("Failed to publish ICE candidate")
	}
}

func (c *Coordinator) handleConnectionState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	c.state = state
	if state == webrtc.PeerConnectionStateConnected {
		c.restartAttempts = 0
		c.exhausted = false
		if c.restartTimer != nil {
			c.restartTimer.Stop()
			c.restartTimer = nil
		}
	}
	c.mu.Unlock()

	c.logger.WithField("state", state).Info("Connection state changed")
	if c.onStateChange != nil {
		c.onStateChange(state)
	}
	if state == webrtc.PeerConnectionStateFailed {
		c.scheduleRestart()
	}
}

func (c *Coordinator) handleICEConnectionState(state webrtc.ICEConnectionState) {
	c.logger.WithField("ice_state", state).Debug("ICE connection state changed")
	if state == webrtc.ICEConnectionStateFailed {
		c.scheduleRestart()
	}
}

// scheduleRestart arms the next ICE restart, or reports failure once the
// policy is exhausted. Only one restart is armed at a time.
func (c *Coordinator) scheduleRestart() {
	c.mu.Lock()
	if c.closed || c.restartTimer != nil {
		c.mu.Unlock()
		return
	}
	if c.restartAttempts >= c.restart.MaxAttempts {
		reported := c.exhausted
		c.exhausted = true
		attempts := c.restartAttempts
		c.mu.Unlock()

		if !reported {
			c.logger.WithField("attempts", attempts).Error("ICE restart attempts exhausted")
			if c.onFailed != nil {
				c.onFailed()
			}
		}
		return
	}
	c.restartAttempts++
	attempt := c.restartAttempts
	delay := c.restart.Delay(attempt)
	c.restartTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.restartTimer = nil
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.negotiate(c.ctx, true)
		}
	})
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Warn("Scheduling ICE restart")
}

func (c *Coordinator) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	c.logger.WithFields(logrus.Fields{
		"kind":  track.Kind(),
		"track": track.ID(),
	}).Info("Remote track received")
	if c.onRemoteTrack != nil {
		c.onRemoteTrack(track, receiver)
	}
}

// Cleanup stops local media, closes the peer connection and removes the
// signaling listeners. It waits for a running SDP operation, which sees the
// coordinator closed and publishes nothing further. Calls after the first do
// nothing.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	c.candidates = nil
	c.neg = negotiation{}
	c.mu.Unlock()

	c.cancel()
	for _, unsub := range unsubscribe {
		unsub()
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	senders := c.senders
	c.senders = nil
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.logger.WithError(err).Warn("Failed to stop local stream")
		}
	}
	for _, sender := range senders {
		if err := c.pc.RemoveTrack(sender); err != nil {
			c.logger.WithError(err).Debug("Failed to remove local track")
		}
	}
	if err := c.pc.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close peer connection")
	}
	c.logger.Info("Coordinator closed")
}
