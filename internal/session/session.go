// Package session tracks which identity, if any, a connection has logged in as.
package session

import "fmt"

// State of a session.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session belongs to exactly one connection and is only touched by that
// connection's worker, so it carries no lock.
type Session struct {
	connID string
	state  State
	userID int64
	token  string
}

// New returns an anonymous session for the connection.
func New(connID string) *Session {
	return &Session{connID: connID}
}

// ConnID returns the owning connection's ID.
func (s *Session) ConnID() string { return s.connID }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Login moves the session to Authenticated. Logging in again replaces the identity.
func (s *Session) Login(userID int64, token string) {
	s.state = Authenticated
	s.userID = userID
	s.token = token
}

// Logout moves the session back to Anonymous and returns the user it was bound to.
func (s *Session) Logout() (userID int64, ok bool) {
	if s.state != Authenticated {
		return 0, false
	}
	userID = s.userID
	s.state = Anonymous
	s.userID = 0
	s.token = ""
	return userID, true
}

// UserID returns the logged in user, if any.
func (s *Session) UserID() (int64, bool) {
	return s.userID, s.state == Authenticated
}

// Token returns the token issued at login, or "" when anonymous.
func (s *Session) Token() string { return s.token }
