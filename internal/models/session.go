package models

// SourceKind is where an inbound event was posted.
type SourceKind string

const (
	SourceDirect SourceKind = "direct"
	SourceGroup  SourceKind = "group"
	SourceRoom   SourceKind = "room"
)

// Source identifies the sender of an event. GroupID and RoomID are only set
// for group and room sources.
type Source struct {
	Kind    SourceKind `json:"kind"`
	UserID  string     `json:"user_id"`
	GroupID string     `json:"group_id,omitempty"`
	RoomID  string     `json:"room_id,omitempty"`
}
