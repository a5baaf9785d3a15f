package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/enochaseks/sideeye/internal/models"
	"github.com/pion/webrtc/v4"
)

// SessionDescription decodes the payload of an offer or answer record.
func SessionDescription(record models.SignalingRecord) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if record.Kind != models.KindOffer && record.Kind != models.KindAnswer {
		return desc, fmt.Errorf("%w: %q carries no session description", ErrUnknownKind, record.Kind)
	}
	if err := json.Unmarshal(record.Payload, &desc); err != nil {
		return desc, fmt.Errorf("decoding %s %s: %w", record.Kind, record.ID, err)
	}
	return desc, nil
}

// ICECandidate decodes the payload of a candidate record.
func ICECandidate(record models.SignalingRecord) (webrtc.ICECandidateInit, error) {
	var candidate webrtc.ICECandidateInit
	if record.Kind != models.KindCandidate {
		return candidate, fmt.Errorf("%w: %q carries no candidate", ErrUnknownKind, record.Kind)
	}
	if err := json.Unmarshal(record.Payload, &candidate); err != nil {
		return candidate, fmt.Errorf("decoding candidate %s: %w", record.ID, err)
	}
	return candidate, nil
}

// Renegotiation decodes the payload of a renegotiate record.
func Renegotiation(record models.SignalingRecord) (models.Renegotiation, error) {
	var request models.Renegotiation
	if record.Kind != models.KindRenegotiate {
		return request, fmt.Errorf("%w: %q carries no renegotiation request", ErrUnknownKind, record.Kind)
	}
	if len(record.Payload) == 0 {
		return request, nil
	}
	if err := json.Unmarshal(record.Payload, &request); err != nil {
		return request, fmt.Errorf("decoding renegotiation %s: %w", record.ID, err)
	}
	return request, nil
}
