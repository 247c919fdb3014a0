package refresh

import (
	"time"
)

// StoredRefreshToken represents the server-side storage of refresh token metadata.
// The client only receives the Token field (a random string); the rest binds it to
// one login session.
type StoredRefreshToken struct {
	Token     string    // The actual random token string (sent to client)
	SessionID string    // Login session the token renews
	UserID    string    // Owner of the session
	Iat       time.Time // Issued at time
	ExpiresAt time.Time // After this the token cannot renew the session
}

// Repo manages server-side storage of refresh token metadata keyed by the token
// string. Each session holds at most one live token.
type Repo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	GetBySessionID(sessionID string) (*StoredRefreshToken, error)
}
