package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxSessions = 10000
)

// Builder creates a fresh session for id.
type Builder func(id string) (*Session, error)

type StoreOption func(*Store)

// WithIdleTimeout sets how long a session may go unused before Sweep
// drops it.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(st *Store) {
		if d > 0 {
			st.idle = d
		}
	}
}

// WithMaxSessions caps the number of live sessions. Opening one more
// evicts the least recently used.
func WithMaxSessions(n int) StoreOption {
	return func(st *Store) {
		if n > 0 {
			st.max = n
		}
	}
}

type entry struct {
	sess     *Session
	lastSeen atomic.Int64 // unix nanos
}

// Store keeps live sessions by id. Sessions idle past the timeout are
// dropped by Sweep; their persisted totals come back from the ledger on
// the next Open.
type Store struct {
	build  Builder
	logger *slog.Logger
	idle   time.Duration
	max    int
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
	onEvict  []func(id string)
}

func NewStore(build Builder, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	if build == nil {
		return nil, errors.New("session: builder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	st := &Store{
		build:    build,
		logger:   logger,
		idle:     DefaultIdleTimeout,
		max:      DefaultMaxSessions,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

// OnEvict registers fn to run, outside the store lock, for every session
// the store drops.
func (st *Store) OnEvict(fn func(id string)) {
	if fn == nil {
		return
	}
	st.mu.Lock()
	st.onEvict = append(st.onEvict, fn)
	st.mu.Unlock()
}

// Open returns the session for id, creating it when unknown. An empty id
// gets a new random one. Newly created sessions are restored from the
// ledger; a restore failure starts the session from zero.
func (st *Store) Open(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		if s, ok := st.Get(id); ok {
			return s, nil
		}
	} else {
		id = uuid.NewString()
	}

	st.mu.Lock()
	if e, ok := st.sessions[id]; ok {
		e.lastSeen.Store(st.now().UnixNano())
		st.mu.Unlock()
		return e.sess, nil
	}
	s, err := st.build(id)
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}
	var evicted []string
	if len(st.sessions) >= st.max {
		evicted = st.expireLocked()
		if len(st.sessions) >= st.max {
			evicted = append(evicted, st.evictOldestLocked())
		}
	}
	e := &entry{sess: s}
	e.lastSeen.Store(st.now().UnixNano())
	st.sessions[id] = e
	hooks := st.onEvict
	st.mu.Unlock()

	st.notify(hooks, evicted)

	if err := s.Restore(ctx); err != nil {
		st.logger.WarnContext(ctx, "failed to restore session usage", "session_id", id, "err", err)
	}
	st.logger.Info("session created", "session_id", id)
	return s, nil
}

// Get returns a live session and marks it as used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen.Store(st.now().UnixNano())
	return e.sess, true
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep drops every session idle longer than the timeout and returns how
// many it dropped.
func (st *Store) Sweep() int {
	st.mu.Lock()
	evicted := st.expireLocked()
	hooks := st.onEvict
	st.mu.Unlock()

	st.notify(hooks, evicted)
	if len(evicted) > 0 {
		st.logger.Debug("idle sessions evicted", "count", len(evicted))
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = st.idle / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

func (st *Store) expireLocked() []string {
	cutoff := st.now().Add(-st.idle).UnixNano()
	var evicted []string
	for id, e := range st.sessions {
		if e.lastSeen.Load() < cutoff {
			delete(st.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (st *Store) evictOldestLocked() string {
	var (
		oldestID string
		oldest   int64
	)
	for id, e := range st.sessions {
		seen := e.lastSeen.Load()
		if oldestID == "" || seen < oldest {
			oldestID, oldest = id, seen
		}
	}
	delete(st.sessions, oldestID)
	return oldestID
}

func (st *Store) notify(hooks []func(string), ids []string) {
	for _, id := range ids {
		for _, fn := range hooks {
			fn(id)
		}
	}
}
