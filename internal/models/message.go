package models

import (
	"encoding/json"
	"time"
)

// SignalType represents the type of a WebSocket signaling message
type SignalType string

const (
	SignalTypeJoin        SignalType = "join"
	SignalTypeLeave       SignalType = "leave"
	SignalTypePeers       SignalType = "peers"
	SignalTypeOffer       SignalType = "offer"
	SignalTypeAnswer      SignalType = "answer"
	SignalTypeCandidate   SignalType = "candidate"
	SignalTypeRenegotiate SignalType = "renegotiate"
	SignalTypeError       SignalType = "error"
)

// SignalMessage is the WebSocket frame exchanged with browser peers
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	ID      string          `json:"id,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	RoomID  string          `json:"roomId"`
	Peers   []string        `json:"peers,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SignalKind is the kind of a signaling record stored in the realtime store
type SignalKind string

const (
	KindOffer       SignalKind = "offer"
	KindAnswer      SignalKind = "answer"
	KindCandidate   SignalKind = "candidate"
	// KindRenegotiate asks the offering peer for a new offer.
	KindRenegotiate SignalKind = "renegotiate"
)

// Kinds lists every signaling record kind.
var Kinds = []SignalKind{KindOffer, KindAnswer, KindCandidate, KindRenegotiate}

// Valid reports whether k is a known record kind.
func (k SignalKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindRenegotiate:
		return true
	}
	return false
}

// Renegotiation is the payload of a renegotiate record.
type Renegotiation struct {
	ICERestart bool `json:"iceRestart,omitempty"`
}

// SignalingRecord is one offer, answer, ICE candidate or renegotiation request published under a
// room-scoped path. Records carry no consumption marker; they expire once
// they are older than the channel TTL.
type SignalingRecord struct {
	ID              string          `json:"id"`
	Kind            SignalKind      `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	SenderID        string          `json:"senderId"`
	RecipientID     string          `json:"recipientId"`
	CreatedAtMillis int64           `json:"createdAtMillis"`
}

// CreatedAt returns the creation time of the record.
func (r SignalingRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedAtMillis)
}

// Expired reports whether the record is at or past ttl at time now.
func (r SignalingRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-r.CreatedAtMillis >= ttl.Milliseconds()
}

// Presence is the value stored for a peer connected to a room
type Presence struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName,omitempty"`
	JoinedAt    int64  `json:"joinedAt"`
}
