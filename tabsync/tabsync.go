// Package tabsync turns storage changes made by other tabs into login and logout events
// on the local bus.
package tabsync

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/storage"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MarkerTTL bounds how long a broadcast marker stays in the shared namespace.
const MarkerTTL = 10 * time.Second

const (
	markerSegment = "sync."
	kindLogin     = "login"
	kindLogout    = "logout"
)

// Area is the part of a storage tab the synchronizer needs.
type Area interface {
	ID() string
	Watch(fn func(storage.Change)) (stop func())
	Update(fn func(tx *storage.Tx) error) error
	Keys(ns storage.Namespace, prefix string) []string
}

type marker struct {
	Kind   string                `json:"kind"`
	Tab    string                `json:"tab"`
	Login  *events.LoginPayload  `json:"login,omitempty"`
	Logout *events.LogoutPayload `json:"logout,omitempty"`
}

// Synchronizer mirrors sessions between tabs. Tabs of the same process observe each
// other's access token slot directly; tabs in other processes only see the shared
// namespace, so broadcasts also drop a marker there.
type Synchronizer struct {
	area      Area
	bus       *events.Bus
	prefix    string
	accessKey string
	now       func() time.Time
	logger    zerolog.Logger

	mu   sync.Mutex
	stop func()
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithKeyPrefix must match the credential store's prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Synchronizer) {
		s.prefix = prefix
	}
}

// WithNowFunc overrides the clock used to stamp and prune markers.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// New creates a synchronizer. Call Init to start watching.
func New(area Area, bus *events.Bus, options ...Option) *Synchronizer {
	s := &Synchronizer{
		area:   area,
		bus:    bus,
		prefix: credentials.DefaultKeyPrefix,
		now:    time.Now,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.accessKey = s.prefix + credentials.AccessTokenKey
	return s
}

// Init starts watching storage. Calling it twice has no effect.
func (s *Synchronizer) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	if s.area == nil || s.bus == nil {
		return fmt.Errorf("[Synchronizer Init] storage area and event bus are required")
	}
	s.stop = s.area.Watch(s.handleChange)
	s.logger.Debug().Str("tab", s.area.ID()).Msg("Tab synchronizer started")
	return nil
}

// Stop ends watching.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// BroadcastLogin tells other tabs that this tab logged in.
func (s *Synchronizer) BroadcastLogin(p events.LoginPayload) error {
	return s.broadcast(marker{Kind: kindLogin, Tab: s.area.ID(), Login: &p})
}

// BroadcastLogout tells other tabs that this tab logged out.
func (s *Synchronizer) BroadcastLogout(p events.LogoutPayload) error {
	return s.broadcast(marker{Kind: kindLogout, Tab: s.area.ID(), Logout: &p})
}

func (s *Synchronizer) broadcast(m marker) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("[Synchronizer broadcast] encode %s marker: %w", m.Kind, err)
	}
	now := s.now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return fmt.Errorf("[Synchronizer broadcast] marker id: %w", err)
	}
	markerPrefix := s.prefix + markerSegment
	stale := s.staleMarkers(s.area.Keys(storage.Local, markerPrefix), now)

	err = s.area.Update(func(tx *storage.Tx) error {
		for _, k := range stale {
			tx.Remove(storage.Local, k)
		}
		tx.Set(storage.Local, markerPrefix+m.Kind+"."+id.String(), string(value))
		return nil
	})
	if err != nil {
		return fmt.Errorf("[Synchronizer broadcast] write %s marker: %w", m.Kind, err)
	}
	return nil
}

func (s *Synchronizer) staleMarkers(keys []string, now time.Time) []string {
	var stale []string
	for _, k := range keys {
		id, ok := s.markerID(k)
		if !ok {
			continue
		}
		if now.Sub(ulid.Time(id.Time())) > MarkerTTL {
			stale = append(stale, k)
		}
	}
	return stale
}

func (s *Synchronizer) markerID(key string) (ulid.ULID, bool) {
	rest := strings.TrimPrefix(key, s.prefix+markerSegment)
	dot := strings.LastIndexByte(rest, '.')
	if dot < 0 {
		return ulid.ULID{}, false
	}
	id, err := ulid.ParseStrict(rest[dot+1:])
	if err != nil {
		return ulid.ULID{}, false
	}
	return id, true
}

func (s *Synchronizer) handleChange(c storage.Change) {
	switch {
	case c.Namespace == storage.Session && c.Key == s.accessKey:
		s.handleSlotChange(c)
	case c.Namespace == storage.Local && strings.HasPrefix(c.Key, s.prefix+markerSegment):
		s.handleMarker(c)
	}
}

func (s *Synchronizer) handleSlotChange(c storage.Change) {
	switch {
	case !c.HadOld && c.HasNew:
		s.logger.Debug().Str("from", c.Source).Msg("Remote tab logged in")
		s.bus.Emit(events.Login, events.LoginPayload{Remote: true})
	case c.HadOld && !c.HasNew:
		s.logger.Debug().Str("from", c.Source).Msg("Remote tab logged out")
		s.bus.Emit(events.Logout, events.LogoutPayload{Remote: true})
	}
}

// Markers from this process are redundant with the slot change and are ignored.
func (s *Synchronizer) handleMarker(c storage.Change) {
	if c.Source != storage.ExternalSource || !c.HasNew {
		return
	}
	id, ok := s.markerID(c.Key)
	if ok && s.now().Sub(ulid.Time(id.Time())) > MarkerTTL {
		return
	}
	var m marker
	if err := json.Unmarshal([]byte(c.NewValue), &m); err != nil {
		s.logger.Warn().Err(err).Str("key", c.Key).Msg("Ignoring malformed sync marker")
		return
	}
	if m.Tab == s.area.ID() {
		return
	}
	switch {
	case m.Kind == kindLogin && m.Login != nil:
		p := *m.Login
		p.Remote = true
		s.bus.Emit(events.Login, p)
	case m.Kind == kindLogout && m.Logout != nil:
		p := *m.Logout
		p.Remote = true
		s.bus.Emit(events.Logout, p)
	default:
		s.logger.Warn().Str("kind", m.Kind).Msg("Ignoring unknown sync marker")
	}
}
