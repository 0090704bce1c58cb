// Package session derives conversation keys from event sources.
package session

import "github.com/EXCurryBar/mybot/internal/models"

// Key returns the conversation key for src. The same source always yields
// the same key, and a user's direct chat never shares a key with the same
// user inside a group or room.
func Key(src models.Source) string {
	switch {
	case src.Kind == models.SourceDirect:
		return "user:" + src.UserID
	case src.Kind == models.SourceGroup && src.GroupID != "":
		return "group:" + src.GroupID + ":user:" + src.UserID
	case src.Kind == models.SourceRoom && src.RoomID != "":
		return "room:" + src.RoomID + ":user:" + src.UserID
	default:
		return "default:" + src.UserID
	}
}
