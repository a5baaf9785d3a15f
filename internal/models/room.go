package models

import "time"

// RoomMetadata stores information about a call room
type RoomMetadata struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`      // Short, shareable room code (e.g., "K7MPQ2")
	CreatorID        string    `json:"creatorId"` // User ID from JWT who created the room
	Name             string    `json:"name,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants"`
	ParticipantCount int       `json:"participantCount"`
}

// Full reports whether no further participant may join.
func (r RoomMetadata) Full() bool {
	return r.ParticipantCount >= r.MaxParticipants
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name            string `json:"name,omitempty" binding:"max=80"`
	MaxParticipants int    `json:"maxParticipants" binding:"omitempty,min=2,max=16"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}
