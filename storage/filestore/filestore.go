// Package filestore persists the shared storage namespace as one file per key
// and watches the directory with fsnotify, so that separate processes sharing
// the directory behave like tabs of the same origin.
package filestore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/go-session-keeper/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	fileSuffix = ".val"
	tmpPrefix  = ".tmp-"
)

// Store is a storage.Persister backed by a directory.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

var _ storage.Persister = (*Store)(nil)

// New creates the directory with owner-only permissions if needed.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("[filestore New] create storage directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Open returns an origin whose Local namespace lives in dir and which observes
// writes made to dir by other processes until ctx is done.
func Open(ctx context.Context, dir string) (*storage.Origin, *Store, error) {
	fs, err := New(dir, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	origin, err := storage.NewOrigin(storage.WithPersister(fs))
	if err != nil {
		return nil, nil, err
	}
	if err := fs.Watch(ctx, origin); err != nil {
		return nil, nil, err
	}
	return origin, fs, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads every key file in the directory.
func (s *Store) Load() (map[string]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("[filestore Load] read directory: %w", err)
	}
	values := make(map[string]string)
	for _, entry := range entries {
		key, ok := keyFromFile(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		value, present, err := s.read(key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable storage file")
			continue
		}
		if present {
			values[key] = value
		}
	}
	return values, nil
}

// Put writes the value atomically via a temp file and rename.
func (s *Store) Put(key, value string) error {
	tmp, err := os.CreateTemp(s.dir, tmpPrefix)
	if err != nil {
		return fmt.Errorf("[filestore Put] create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("[filestore Put] write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("[filestore Put] close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("[filestore Put] chmod %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("[filestore Put] rename %s: %w", key, err)
	}
	return nil
}

// Delete removes the key file. Missing files are not an error.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("[filestore Delete] %s: %w", key, err)
	}
	return nil
}

// Watch starts forwarding directory changes to origin.ApplyExternal. The origin
// ignores values it already knows, so this process's own writes stay silent.
func (s *Store) Watch(ctx context.Context, origin *storage.Origin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("[filestore Watch] create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("[filestore Watch] watch %s: %w", s.dir, err)
	}
	s.watcher = watcher
	s.stopCh = make(chan struct{})

	go s.processEvents(ctx, watcher, s.stopCh, origin)
	s.logger.Debug().Str("dir", s.dir).Msg("Watching shared storage directory")
	return nil
}

// Stop ends the directory watch.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return
	}
	close(s.stopCh)
	s.watcher.Close()
	s.watcher = nil
}

func (s *Store) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh chan struct{}, origin *storage.Origin) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleFsEvent(event, origin)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Shared storage watcher error")
		}
	}
}

func (s *Store) handleFsEvent(event fsnotify.Event, origin *storage.Origin) {
	key, ok := keyFromFile(filepath.Base(event.Name))
	if !ok {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	// Re-read rather than trusting the op: renames and coalesced events make the
	// file's current content the only reliable state.
	value, present, err := s.read(key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to read changed storage file")
		return
	}
	origin.ApplyExternal(key, value, present)
}

func (s *Store) read(key string) (string, bool, error) {
	// #nosec G304 -- path is built from an escaped key inside the storage directory
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

func keyFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}
