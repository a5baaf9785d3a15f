package rtc

import (
	"fmt"
	"time"

	"github.com/enochaseks/sideeye/config"
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of *webrtc.PeerConnection the Coordinator uses.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)

	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState

	OnSignalingStateChange(f func(webrtc.SignalingState))
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnNegotiationNeeded(f func())
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// Option adjusts the pion setting engine of a new peer connection.
type Option func(*webrtc.SettingEngine)

// WithLoopbackCandidates gathers loopback candidates too, so two peer
// connections in one process can reach each other without a network.
func WithLoopbackCandidates() Option {
	return func(se *webrtc.SettingEngine) {
		se.SetIncludeLoopbackCandidate(true)
	}
}

// NewPeerConnection builds a pion peer connection for cfg. Codecs come from
// codecs when it is set, pion's defaults otherwise.
func NewPeerConnection(cfg config.ICEConfig, codecs *mediadevices.CodecSelector, opts ...Option) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if codecs != nil {
		codecs.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("registering interceptors: %w", err)
	}

	// A relay hiccup should not end the call before an ICE restart can run.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
	for _, opt := range opts {
		opt(&se)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: ICEServers(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	return pc, nil
}

// ICEServers converts the configured STUN and TURN URLs.
func ICEServers(cfg config.ICEConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}
	if len(cfg.TURNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:           cfg.TURNURLs,
			Username:       cfg.TURNUsername,
			Credential:     cfg.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}
