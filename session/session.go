package session

import "github.com/jrsteele09/membership-session/users"

// Phase is the lifecycle position of a Session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseRehydrating
	PhaseAuthenticated
	PhaseAnonymous
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "UNINITIALIZED"
	case PhaseRehydrating:
		return "REHYDRATING"
	case PhaseAuthenticated:
		return "AUTHENTICATED"
	case PhaseAnonymous:
		return "ANONYMOUS"
	default:
		return "UNKNOWN"
	}
}

// Session is an immutable snapshot of the authentication state.
// IsAuthenticated implies User is non-nil.
type Session struct {
	User            *users.Profile
	IsAuthenticated bool
	IsLoading       bool
	Error           *Error
	Phase           Phase
}

// Settled reports whether observers should act on the snapshot.
func (s Session) Settled() bool {
	return !s.IsLoading && s.Phase != PhaseUninitialized
}

func (s Session) clone() Session {
	c := s
	c.User = s.User.Clone()
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return c
}

func anonymous() Session {
	return Session{Phase: PhaseAnonymous}
}

func authenticated(user users.Profile) Session {
	return Session{User: &user, IsAuthenticated: true, Phase: PhaseAuthenticated}
}
