package session

import (
	"time"

	"github.com/offcast/offcast/internal/database"
)

// Session identifies which server, user and base URL are currently active
type Session struct {
	ServerID  string
	UserID    string
	ServerURL string
	User      *database.User
	Server    *database.Server
}

// StateKind enumerates the connection-state variants
type StateKind string

const (
	StateOnline       StateKind = "online"
	StateOffline      StateKind = "offline"
	StateDisconnected StateKind = "disconnected"
)

// ConnectionState is the tagged union Online(session) | Offline(session,
// lastSync) | Disconnected. It is derived from session operations, never
// mutated directly.
type ConnectionState struct {
	Kind         StateKind
	Session      *Session
	LastSyncTime time.Time
}

// Online builds the online variant
func Online(s *Session) ConnectionState {
	return ConnectionState{Kind: StateOnline, Session: s}
}

// Offline builds the offline variant, recording when the session last synced
func Offline(s *Session, lastSync time.Time) ConnectionState {
	return ConnectionState{Kind: StateOffline, Session: s, LastSyncTime: lastSync}
}

// Disconnected builds the disconnected variant
func Disconnected() ConnectionState {
	return ConnectionState{Kind: StateDisconnected}
}
