package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// fakePC simulates the signaling state machine of a pion peer connection,
// including its transition table: there is no rollback. Signaling callbacks
// run synchronously, outside the fake's lock. Adding tracks or transceivers
// raises negotiationneeded on another goroutine, as pion does, once the
// connection is stable.
type fakePC struct {
	mu sync.Mutex

	state      webrtc.SignalingState
	connState  webrtc.PeerConnectionState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	offers     int
	restarts   int
	answers    int
	rollbacks  int
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	removed    int
	kinds      []webrtc.RTPCodecType
	closed     int
	remoteSets int
	failures   map[string]error
	holds      map[string]*hold

	onSignaling  func(webrtc.SignalingState)
	onCandidate  func(*webrtc.ICECandidate)
	onConnection func(webrtc.PeerConnectionState)
	onICE        func(webrtc.ICEConnectionState)
	onNegotiate  func()
	onTrack      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func newFakePC() *fakePC {
	return &fakePC{
		state:     webrtc.SignalingStateStable,
		connState: webrtc.PeerConnectionStateNew,
		failures:  make(map[string]error),
		holds:     make(map[string]*hold),
	}
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// holdOnce parks the next call of method until release is closed. entered
// is closed once the call is parked.
func (f *fakePC) holdOnce(method string) (entered <-chan struct{}, release chan<- struct{}) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.holds[method] = h
	f.mu.Unlock()
	return h.entered, h.release
}

func (f *fakePC) park(method string) {
	f.mu.Lock()
	h := f.holds[method]
	delete(f.holds, method)
	f.mu.Unlock()
	if h != nil {
		close(h.entered)
		<-h.release
	}
}

// failOnce makes the next call of method return err.
func (f *fakePC) failOnce(method string, err error) {
	f.mu.Lock()
	f.failures[method] = err
	f.mu.Unlock()
}

// takeFailure must be called with f.mu held.
func (f *fakePC) takeFailure(method string) error {
	err := f.failures[method]
	delete(f.failures, method)
	return err
}

func (f *fakePC) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.park("CreateOffer")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("CreateOffer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	f.offers++
	if options != nil && options.ICERestart {
		f.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", f.offers)}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("CreateAnswer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if f.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("fake: no remote offer in %s", f.state)
	}
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", f.answers)}, nil
}

func (f *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	if err := f.takeFailure("SetLocalDescription"); err != nil {
		f.mu.Unlock()
		return err
	}
	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.state = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveRemoteOffer:
		f.state = webrtc.SignalingStateStable
	default:
		if desc.Type == webrtc.SDPTypeRollback {
			f.rollbacks++
		}
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("fake: invalid transition %s->SetLocal(%s)", state, desc.Type)
	}
	f.local = &desc
	state, cb := f.state, f.onSignaling
	f.mu.Unlock()

	if cb != nil {
		cb(state)
	}
	return nil
}

func (f *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	if err := f.takeFailure("SetRemoteDescription"); err != nil {
		f.mu.Unlock()
		return err
	}
	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveLocalOffer:
		f.state = webrtc.SignalingStateStable
	default:
		if desc.Type == webrtc.SDPTypeRollback {
			f.rollbacks++
		}
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("fake: invalid transition %s->SetRemote(%s)", state, desc.Type)
	}
	f.remote = &desc
	f.remoteSets++
	state, cb := f.state, f.onSignaling
	f.mu.Unlock()

	if cb != nil {
		cb(state)
	}
	return nil
}

func (f *fakePC) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakePC) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakePC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return fmt.Errorf("fake: no remote description")
	}
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakePC) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("AddTrack"); err != nil {
		return nil, err
	}
	f.tracks = append(f.tracks, track)
	go f.negotiationNeeded()
	return &webrtc.RTPSender{}, nil
}

func (f *fakePC) RemoveTrack(*webrtc.RTPSender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	if err := f.takeFailure("RemoveTrack"); err != nil {
		return err
	}
	go f.negotiationNeeded()
	return nil
}

func (f *fakePC) AddTransceiverFromKind(kind webrtc.RTPCodecType, _ ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	go f.negotiationNeeded()
	return &webrtc.RTPTransceiver{}, nil
}

// negotiationNeeded fires the callback the way pion's operation queue does:
// only while the connection is stable.
func (f *fakePC) negotiationNeeded() {
	f.mu.Lock()
	cb := f.onNegotiate
	stable := f.state == webrtc.SignalingStateStable
	f.mu.Unlock()
	if cb != nil && stable {
		cb()
	}
}

func (f *fakePC) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePC) ConnectionState() webrtc.PeerConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connState
}

func (f *fakePC) OnSignalingStateChange(fn func(webrtc.SignalingState)) {
	f.mu.Lock()
	f.onSignaling = fn
	f.mu.Unlock()
}

func (f *fakePC) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onConnection = fn
	f.mu.Unlock()
}

func (f *fakePC) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.mu.Lock()
	f.onICE = fn
	f.mu.Unlock()
}

func (f *fakePC) OnNegotiationNeeded(fn func()) {
	f.mu.Lock()
	f.onNegotiate = fn
	f.mu.Unlock()
}

func (f *fakePC) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.state = webrtc.SignalingStateClosed
	return nil
}

func (f *fakePC) fireConnectionState(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	f.connState = state
	cb := f.onConnection
	f.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

func (f *fakePC) fireICEConnectionState(state webrtc.ICEConnectionState) {
	f.mu.Lock()
	cb := f.onICE
	f.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

func (f *fakePC) fireCandidate(candidate *webrtc.ICECandidate) {
	f.mu.Lock()
	cb := f.onCandidate
	f.mu.Unlock()
	if cb != nil {
		cb(candidate)
	}
}

func (f *fakePC) fireNegotiationNeeded() {
	f.mu.Lock()
	cb := f.onNegotiate
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakePC) snapshot() fakeCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeCounts{
		state:      f.state,
		offers:     f.offers,
		restarts:   f.restarts,
		answers:    f.answers,
		rollbacks:  f.rollbacks,
		candidates: append([]webrtc.ICECandidateInit(nil), f.candidates...),
		tracks:     len(f.tracks),
		removed:    f.removed,
		kinds:      append([]webrtc.RTPCodecType(nil), f.kinds...),
		closed:     f.closed,
		remoteSets: f.remoteSets,
		hasRemote:  f.remote != nil,
	}
}

type fakeCounts struct {
	state      webrtc.SignalingState
	offers     int
	restarts   int
	answers    int
	rollbacks  int
	candidates []webrtc.ICECandidateInit
	tracks     int
	removed    int
	kinds      []webrtc.RTPCodecType
	closed     int
	remoteSets int
	hasRemote  bool
}

type fakeTrack struct {
	*webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	closed int
}

func newFakeTrack(kind webrtc.RTPCodecType, id string) *fakeTrack {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, "local")
	if err != nil {
		panic(err)
	}
	return &fakeTrack{TrackLocalStaticSample: local}
}

func (t *fakeTrack) OnEnded(func(error)) {}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
