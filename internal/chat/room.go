package chat

import "strings"

// Room names a broadcast scope. Rooms have no existence beyond their
// membership in the Registry.
type Room string

// GlobalRoom is the scope of unscoped messages: every registered connection
// receives them whether or not it joined any room. It is never a key in the
// registry's room arena.
const GlobalRoom Room = "*"

const (
	identityRoomPrefix = "identity:"
	projectRoomPrefix  = "project:"
)

// IdentityRoom is the personal room every admitted connection is joined to.
func IdentityRoom(identityID string) Room {
	return Room(identityRoomPrefix + identityID)
}

// ProjectRoom is the room for a single project.
func ProjectRoom(projectID string) Room {
	return Room(projectRoomPrefix + projectID)
}

// ResolveScope maps an optional project id to the room a message is delivered
// to. An absent project id selects GlobalRoom.
func ResolveScope(projectID string) Room {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return GlobalRoom
	}
	return ProjectRoom(projectID)
}

// IsGlobal reports whether r is the global broadcast scope.
func (r Room) IsGlobal() bool {
	return r == GlobalRoom
}

// Scope returns the metrics label for r.
func (r Room) Scope() string {
	switch {
	case r.IsGlobal():
		return "global"
	case strings.HasPrefix(string(r), projectRoomPrefix):
		return "project"
	case strings.HasPrefix(string(r), identityRoomPrefix):
		return "identity"
	default:
		return "other"
	}
}

func (r Room) String() string {
	return string(r)
}
