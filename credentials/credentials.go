// Package credentials persists the token set of one session across the two storage tiers.
//
// Access token, session id, user id and access expiry live in the tab-scoped namespace.
// Refresh token and refresh expiry live in the shared namespace so that a new tab, or a
// new process on a file-backed origin, can silently re-establish the session.
package credentials

import (
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiryBuffer is the margin used for ambient expiry checks.
	DefaultExpiryBuffer = 60 * time.Second
	// WarnExpiryBuffer is the margin used to warn a user that the session is about to end.
	WarnExpiryBuffer = 300 * time.Second

	DefaultKeyPrefix = "auth."
)

// Slot names, relative to the key prefix.
const (
	AccessTokenKey      = "access_token"
	SessionIDKey        = "session_id"
	UserIDKey           = "user_id"
	AccessExpiresAtKey  = "access_expires_at"
	RefreshTokenKey     = "refresh_token"
	RefreshExpiresAtKey = "refresh_expires_at"
)

// NowTimeFunc returns the current time. It can be overridden per store with WithNowFunc.
type NowTimeFunc func() time.Time

// Record is the full credential set of one session.
type Record struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	UserID           string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Complete reports whether every token and id field is set.
func (r Record) Complete() bool {
	return r.AccessToken != "" && r.RefreshToken != "" && r.SessionID != "" && r.UserID != ""
}

// Store reads and writes the Record through a storage area.
type Store struct {
	mu     sync.Mutex
	area   storage.Area
	prefix string
	now    NowTimeFunc
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every slot key.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithNowFunc overrides the clock used for expiry checks.
func WithNowFunc(now NowTimeFunc) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for storage failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a credential store over area.
func NewStore(area storage.Area, options ...Option) *Store {
	s := &Store{
		area:   area,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Key returns the storage key of a slot.
func (s *Store) Key(slot string) string {
	return s.prefix + slot
}

// Prefix returns the key prefix shared by every slot.
func (s *Store) Prefix() string {
	return s.prefix
}

// Save replaces the stored record. The clear and the write are one storage transaction,
// so observers in other tabs only ever see the net change.
func (s *Store) Save(r Record) error {
	if !r.Complete() {
		return fmt.Errorf("[Store Save] incomplete credential record: %w", errors.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.area.Update(func(tx *storage.Tx) error {
		s.removeAll(tx)
		tx.Set(storage.Session, s.Key(AccessTokenKey), r.AccessToken)
		tx.Set(storage.Session, s.Key(SessionIDKey), r.SessionID)
		tx.Set(storage.Session, s.Key(UserIDKey), r.UserID)
		if !r.AccessExpiresAt.IsZero() {
			tx.Set(storage.Session, s.Key(AccessExpiresAtKey), formatTime(r.AccessExpiresAt))
		}
		tx.Set(storage.Local, s.Key(RefreshTokenKey), r.RefreshToken)
		if !r.RefreshExpiresAt.IsZero() {
			tx.Set(storage.Local, s.Key(RefreshExpiresAtKey), formatTime(r.RefreshExpiresAt))
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to save credentials")
		return fmt.Errorf("[Store Save] %w: %v", errors.ErrStorage, err)
	}
	return nil
}

// Get returns the stored record. A partial record reads as absent.
func (s *Store) Get() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get()
}

// Clear removes the record from both tiers. Failures are logged, never returned.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.area.Update(func(tx *storage.Tx) error {
		s.removeAll(tx)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear credentials")
	}
}

// IsAccessExpired reports whether the access token expires within buffer. An unknown
// expiry counts as expired.
func (s *Store) IsAccessExpired(buffer time.Duration) bool {
	expiresAt, ok := s.readTime(storage.Session, AccessExpiresAtKey)
	if !ok {
		return true
	}
	return !s.now().Add(buffer).Before(expiresAt)
}

// IsAccessExpiringSoon reports whether the access token expires within WarnExpiryBuffer.
func (s *Store) IsAccessExpiringSoon() bool {
	return s.IsAccessExpired(WarnExpiryBuffer)
}

// IsRefreshExpired reports whether the refresh token has passed its expiry. An unknown
// expiry counts as expired.
func (s *Store) IsRefreshExpired() bool {
	expiresAt, ok := s.readTime(storage.Local, RefreshExpiresAtKey)
	if !ok {
		return true
	}
	return !s.now().Before(expiresAt)
}

// Shared is the cross-session tier on its own, as seen by a tab that holds no record.
type Shared struct {
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SharedRefresh returns the shared refresh token while it is unexpired.
func (s *Store) SharedRefresh() (Shared, bool) {
	token, ok, err := s.area.Get(storage.Local, s.Key(RefreshTokenKey))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read shared refresh token")
		return Shared{}, false
	}
	if !ok || token == "" || s.IsRefreshExpired() {
		return Shared{}, false
	}
	expiresAt, _ := s.readTime(storage.Local, RefreshExpiresAtKey)
	return Shared{RefreshToken: token, RefreshExpiresAt: expiresAt}, true
}

// TimeRemaining returns the access token lifetime left, or 0.
func (s *Store) TimeRemaining() time.Duration {
	expiresAt, ok := s.readTime(storage.Session, AccessExpiresAtKey)
	if !ok {
		return 0
	}
	remaining := expiresAt.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot describes the stored credentials without exposing token values.
type Snapshot struct {
	Present          bool          `json:"present"`
	SessionID        string        `json:"session_id,omitempty"`
	UserID           string        `json:"user_id,omitempty"`
	AccessToken      string        `json:"access_token,omitempty"`
	RefreshToken     string        `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time     `json:"access_expires_at,omitempty"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at,omitempty"`
	AccessRemaining  time.Duration `json:"access_remaining"`
	AccessExpired    bool          `json:"access_expired"`
	RefreshExpired   bool          `json:"refresh_expired"`
}

// Snapshot returns a redacted view of the stored credentials for diagnostics.
func (s *Store) Snapshot() Snapshot {
	r, ok := s.Get()
	if !ok {
		return Snapshot{AccessExpired: true, RefreshExpired: true}
	}
	return Snapshot{
		Present:          true,
		SessionID:        r.SessionID,
		UserID:           r.UserID,
		AccessToken:      Redact(r.AccessToken),
		RefreshToken:     Redact(r.RefreshToken),
		AccessExpiresAt:  r.AccessExpiresAt,
		RefreshExpiresAt: r.RefreshExpiresAt,
		AccessRemaining:  s.TimeRemaining(),
		AccessExpired:    s.IsAccessExpired(DefaultExpiryBuffer),
		RefreshExpired:   s.IsRefreshExpired(),
	}
}

// Redact keeps only enough of a token to tell two tokens apart.
func Redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}

func (s *Store) get() (Record, bool) {
	var r Record
	fields := []struct {
		ns   storage.Namespace
		slot string
		dst  *string
	}{
		{storage.Session, AccessTokenKey, &r.AccessToken},
		{storage.Session, SessionIDKey, &r.SessionID},
		{storage.Session, UserIDKey, &r.UserID},
		{storage.Local, RefreshTokenKey, &r.RefreshToken},
	}
	for _, f := range fields {
		v, ok, err := s.area.Get(f.ns, s.Key(f.slot))
		if err != nil {
			s.logger.Error().Err(err).Str("slot", f.slot).Msg("Failed to read credentials")
			return Record{}, false
		}
		if !ok || v == "" {
			return Record{}, false
		}
		*f.dst = v
	}
	r.AccessExpiresAt, _ = s.readTime(storage.Session, AccessExpiresAtKey)
	r.RefreshExpiresAt, _ = s.readTime(storage.Local, RefreshExpiresAtKey)
	return r, true
}

func (s *Store) readTime(ns storage.Namespace, slot string) (time.Time, bool) {
	v, ok, err := s.area.Get(ns, s.Key(slot))
	if err != nil {
		s.logger.Error().Err(err).Str("slot", slot).Msg("Failed to read credential expiry")
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		s.logger.Warn().Err(err).Str("slot", slot).Msg("Ignoring malformed credential expiry")
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) removeAll(tx *storage.Tx) {
	for _, slot := range []string{AccessTokenKey, SessionIDKey, UserIDKey, AccessExpiresAtKey} {
		tx.Remove(storage.Session, s.Key(slot))
	}
	for _, slot := range []string{RefreshTokenKey, RefreshExpiresAtKey} {
		tx.Remove(storage.Local, s.Key(slot))
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
