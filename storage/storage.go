package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Namespace selects one of the two storage tiers.
type Namespace int

const (
	// Session is tab-scoped: values are private to the tab and dropped when it closes.
	Session Namespace = iota
	// Local is shared by all tabs of an origin and outlives them.
	Local
)

func (n Namespace) String() string {
	switch n {
	case Session:
		return "session"
	case Local:
		return "local"
	default:
		return "unknown"
	}
}

// ExternalSource is the Change.Source of mutations made outside this process.
const ExternalSource = "external"

// Change describes the net effect of a transaction on one key, as seen by another tab.
// Session namespace values never cross tabs: for those only the presence flags are set.
type Change struct {
	Namespace Namespace
	Key       string
	OldValue  string
	NewValue  string
	HadOld    bool
	HasNew    bool
	Source    string
}

// Area is the read/transaction surface the credential store depends on.
type Area interface {
	Get(ns Namespace, key string) (string, bool, error)
	Update(fn func(tx *Tx) error) error
}

// Persister keeps the Local namespace somewhere durable. A nil Persister keeps it in memory.
type Persister interface {
	Load() (map[string]string, error)
	Put(key, value string) error
	Delete(key string) error
}

const watcherBufferSize = 1024

type watcher struct {
	tabID string
	ch    chan Change
	done  chan struct{}
}

// Origin is the storage shared by the tabs of one application origin.
type Origin struct {
	mu        sync.Mutex
	local     map[string]string
	sessions  map[string]map[string]string // tabID -> key -> value
	watchers  map[*watcher]struct{}
	persister Persister
	logger    zerolog.Logger
}

// OriginOption configures an Origin.
type OriginOption func(*Origin)

// WithPersister backs the Local namespace with p.
func WithPersister(p Persister) OriginOption {
	return func(o *Origin) {
		o.persister = p
	}
}

// WithLogger sets the logger used for dropped notifications and persistence failures.
func WithLogger(logger zerolog.Logger) OriginOption {
	return func(o *Origin) {
		o.logger = logger
	}
}

// NewOrigin creates an origin, loading the Local namespace from the persister if one is set.
func NewOrigin(options ...OriginOption) (*Origin, error) {
	o := &Origin{
		local:    make(map[string]string),
		sessions: make(map[string]map[string]string),
		watchers: make(map[*watcher]struct{}),
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(o)
	}
	if o.persister != nil {
		values, err := o.persister.Load()
		if err != nil {
			return nil, fmt.Errorf("[storage NewOrigin] load local namespace: %w", err)
		}
		for k, v := range values {
			o.local[k] = v
		}
	}
	return o, nil
}

// NewMemoryOrigin creates an origin that lives only in this process.
func NewMemoryOrigin() *Origin {
	o, _ := NewOrigin()
	return o
}

// OpenTab attaches a new tab with an empty Session namespace.
func (o *Origin) OpenTab() *Tab {
	id := uuid.New().String()
	o.mu.Lock()
	o.sessions[id] = make(map[string]string)
	o.mu.Unlock()
	return &Tab{id: id, origin: o}
}

// ApplyExternal records mutations of the Local namespace made by another process
// and notifies every tab. Values equal to the known ones are ignored.
func (o *Origin) ApplyExternal(key, value string, present bool) {
	o.mu.Lock()
	old, had := o.local[key]
	if had == present && old == value {
		o.mu.Unlock()
		return
	}
	if present {
		o.local[key] = value
	} else {
		delete(o.local, key)
	}
	watchers := o.watchersExcept("")
	o.mu.Unlock()

	change := Change{Namespace: Local, Key: key, OldValue: old, HadOld: had, NewValue: value, HasNew: present, Source: ExternalSource}
	o.deliver(watchers, []Change{change})
}

// KnownLocal reports the value this origin currently holds for a Local key.
func (o *Origin) KnownLocal(key string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.local[key]
	return v, ok
}

func (o *Origin) watchersExcept(tabID string) []*watcher {
	out := make([]*watcher, 0, len(o.watchers))
	for w := range o.watchers {
		if tabID == "" || w.tabID != tabID {
			out = append(out, w)
		}
	}
	return out
}

func (o *Origin) deliver(watchers []*watcher, changes []Change) {
	for _, w := range watchers {
		for _, c := range changes {
			select {
			case <-w.done:
			case w.ch <- c:
			default:
				o.logger.Warn().Str("key", c.Key).Str("namespace", c.Namespace.String()).
					Msg("Storage watcher queue full, dropping change")
			}
		}
	}
}

// Tab is one client instance's view of an origin.
type Tab struct {
	id     string
	origin *Origin
	closed bool
}

var _ Area = (*Tab)(nil)

// ID identifies the tab as the Source of the changes it makes.
func (t *Tab) ID() string {
	return t.id
}

// Get reads a key. A closed tab reads nothing from its Session namespace.
func (t *Tab) Get(ns Namespace, key string) (string, bool, error) {
	o := t.origin
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ns {
	case Session:
		v, ok := o.sessions[t.id][key]
		return v, ok, nil
	case Local:
		v, ok := o.local[key]
		return v, ok, nil
	}
	return "", false, fmt.Errorf("[Tab Get] unknown namespace %d", ns)
}

// Keys lists the keys of ns starting with prefix, sorted.
func (t *Tab) Keys(ns Namespace, prefix string) []string {
	o := t.origin
	o.mu.Lock()
	defer o.mu.Unlock()
	src := o.local
	if ns == Session {
		src = o.sessions[t.id]
	}
	var keys []string
	for k := range src {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Update runs fn as one transaction. Nothing is applied if fn fails or the
// persister rejects a Local write; Local keys persisted before the rejected one are
// restored. Other tabs are notified of the net changes.
func (t *Tab) Update(fn func(tx *Tx) error) error {
	o := t.origin
	o.mu.Lock()
	if t.closed {
		o.mu.Unlock()
		return fmt.Errorf("[Tab Update] tab %s is closed", t.id)
	}
	tx := &Tx{tab: t, pending: make(map[txKey]*string)}
	if err := fn(tx); err != nil {
		o.mu.Unlock()
		return err
	}

	changes := make([]Change, 0, len(tx.pending))
	for _, k := range tx.order {
		next := tx.pending[k]
		src := o.local
		if k.ns == Session {
			src = o.sessions[t.id]
		}
		old, had := src[k.key]
		hasNew := next != nil
		newValue := ""
		if hasNew {
			newValue = *next
		}
		if had == hasNew && old == newValue {
			continue
		}
		changes = append(changes, Change{Namespace: k.ns, Key: k.key, OldValue: old, HadOld: had, NewValue: newValue, HasNew: hasNew, Source: t.id})
	}
	if err := o.persist(changes); err != nil {
		o.mu.Unlock()
		return err
	}
	for _, c := range changes {
		src := o.local
		if c.Namespace == Session {
			src = o.sessions[t.id]
		}
		if c.HasNew {
			src[c.Key] = c.NewValue
		} else {
			delete(src, c.Key)
		}
	}
	watchers := o.watchersExcept(t.id)
	o.mu.Unlock()

	for i := range changes {
		if changes[i].Namespace == Session {
			changes[i].OldValue, changes[i].NewValue = "", ""
		}
	}
	o.deliver(watchers, changes)
	return nil
}

// persist writes the Local changes in order. When one fails, the keys already written
// are restored to their previous values so the backing store matches memory again.
func (o *Origin) persist(changes []Change) error {
	if o.persister == nil {
		return nil
	}
	var written []Change
	for _, c := range changes {
		if c.Namespace != Local {
			continue
		}
		if err := o.write(c.Key, c.NewValue, c.HasNew); err != nil {
			for i := len(written) - 1; i >= 0; i-- {
				w := written[i]
				if uerr := o.write(w.Key, w.OldValue, w.HadOld); uerr != nil {
					o.logger.Error().Err(uerr).Str("key", w.Key).Msg("Failed to restore persisted value")
				}
			}
			return fmt.Errorf("[Tab Update] persist %s: %w", c.Key, err)
		}
		written = append(written, c)
	}
	return nil
}

func (o *Origin) write(key, value string, present bool) error {
	if present {
		return o.persister.Put(key, value)
	}
	return o.persister.Delete(key)
}

// Watch delivers changes made by other tabs, in order, on a dedicated goroutine.
// The returned function stops delivery.
func (t *Tab) Watch(fn func(Change)) (stop func()) {
	w := &watcher{tabID: t.id, ch: make(chan Change, watcherBufferSize), done: make(chan struct{})}
	o := t.origin
	o.mu.Lock()
	o.watchers[w] = struct{}{}
	o.mu.Unlock()

	go func() {
		for {
			select {
			case <-w.done:
				return
			case c := <-w.ch:
				fn(c)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if _, ok := o.watchers[w]; ok {
				delete(o.watchers, w)
				close(w.done)
			}
		})
	}
}

// Close drops the tab's Session namespace without notifying other tabs: closing a
// tab is not a logout.
func (t *Tab) Close() error {
	o := t.origin
	o.mu.Lock()
	defer o.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	delete(o.sessions, t.id)
	for w := range o.watchers {
		if w.tabID == t.id {
			delete(o.watchers, w)
			close(w.done)
		}
	}
	return nil
}

type txKey struct {
	ns  Namespace
	key string
}

// Tx buffers the writes of one Update call.
type Tx struct {
	tab     *Tab
	pending map[txKey]*string
	order   []txKey
}

// Set writes key in ns.
func (tx *Tx) Set(ns Namespace, key, value string) {
	tx.record(txKey{ns, key}, &value)
}

// Remove deletes key from ns.
func (tx *Tx) Remove(ns Namespace, key string) {
	tx.record(txKey{ns, key}, nil)
}

// Get reads through the pending writes of this transaction.
func (tx *Tx) Get(ns Namespace, key string) (string, bool) {
	k := txKey{ns, key}
	if v, ok := tx.pending[k]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	o := tx.tab.origin
	src := o.local
	if ns == Session {
		src = o.sessions[tx.tab.id]
	}
	v, ok := src[key]
	return v, ok
}

func (tx *Tx) record(k txKey, v *string) {
	if _, seen := tx.pending[k]; !seen {
		tx.order = append(tx.order, k)
	}
	tx.pending[k] = v
}
