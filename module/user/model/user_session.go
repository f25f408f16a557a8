package model

import "time"

// SessionContext is derived once from a bearer token and threaded into
// everything that needs the caller's identity or credentials.
type SessionContext struct {
	Token     string    `json:"-"`          // raw bearer token, sent as Authorization
	Identity  Identity  `json:"identity"`   // decoded user
	ExpiresAt time.Time `json:"expires_at"` // zero when the token carries no exp
}

func (s SessionContext) UserID() int64 {
	return s.Identity.ID
}

func (s SessionContext) IsAnonymous() bool {
	return s.Token == "" || s.Identity.IsZero()
}

// Expired reports whether exp has passed at now. Tokens without exp never expire here.
func (s SessionContext) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}
