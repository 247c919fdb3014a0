package loginsession

import "time"

// Session is one login on the session service. Its ID is the session_id clients
// present on refresh and logout.
type Session struct {
	ID       string
	UserID   string
	Username string

	// Session management
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Repo interface {
	Upsert(session Session) error
	Get(sessionID string) (Session, error)
	Delete(sessionID string) error
	ListByUser(userID string) ([]Session, error)
}
