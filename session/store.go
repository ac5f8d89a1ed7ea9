package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/membership-session/prefs"
	"github.com/jrsteele09/membership-session/users"
)

// snapshot is the display cache entry. It never carries tokens.
type snapshot struct {
	User            *users.Profile `json:"user"`
	IsAuthenticated bool           `json:"isAuthenticated"`
}

// Store owns the current Session and fans commits out to subscribers in order.
// Callbacks run synchronously on the committing goroutine; they may call Current
// but must not call back into the Manager or Subscribe.
type Store struct {
	deliver     sync.Mutex
	lock        sync.RWMutex
	state       Session
	subscribers map[int]func(Session)
	nextID      int
	cache       prefs.Store
	logger      zerolog.Logger
}

func NewStore(cache prefs.Store, logger zerolog.Logger) *Store {
	return &Store{
		subscribers: make(map[int]func(Session)),
		cache:       cache,
		logger:      logger,
	}
}

func (s *Store) Current() Session {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state.clone()
}

// Subscribe registers fn and immediately hands it the current snapshot.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.lock.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	current := s.state.clone()
	s.lock.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lock.Lock()
			delete(s.subscribers, id)
			s.lock.Unlock()
		})
	}
}

// Restore loads the cached snapshot into an uninitialized store so the first frame
// can render without waiting for rehydration.
func (s *Store) Restore(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	raw, ok, err := s.cache.Load(ctx, prefs.SessionSnapshotKey)
	if err != nil {
		return errors.Wrap(err, "[Store.Restore] load snapshot")
	}
	if !ok {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.Warn().Err(err).Msg("[Store.Restore] discarding unreadable snapshot")
		return nil
	}

	s.lock.RLock()
	phase := s.state.Phase
	s.lock.RUnlock()
	if phase != PhaseUninitialized {
		return nil
	}
	return s.commit(ctx, Session{
		User:            snap.User,
		IsAuthenticated: snap.IsAuthenticated && snap.User != nil,
		Phase:           PhaseRehydrating,
	})
}

// commit validates and publishes next. Subscribers see commits in the order they happen.
func (s *Store) commit(ctx context.Context, next Session) error {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.lock.Lock()
	if err := checkTransition(s.state.Phase, next.Phase); err != nil {
		s.lock.Unlock()
		return err
	}
	prev := s.state
	s.state = next.clone()
	published := s.state.clone()
	subs := make([]func(Session), 0, len(s.subscribers))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subscribers[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.lock.Unlock()

	s.logger.Debug().
		Stringer("from", prev.Phase).
		Stringer("to", published.Phase).
		Bool("authenticated", published.IsAuthenticated).
		Bool("loading", published.IsLoading).
		Msg("session commit")

	if snapshotChanged(prev, published) {
		s.persist(ctx, published)
	}
	for _, fn := range subs {
		fn(published.clone())
	}
	return nil
}

func (s *Store) persist(ctx context.Context, state Session) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snapshot{User: state.User, IsAuthenticated: state.IsAuthenticated})
	if err != nil {
		s.logger.Err(err).Msg("[Store.persist] encode snapshot")
		return
	}
	if err := s.cache.Save(ctx, prefs.SessionSnapshotKey, raw); err != nil {
		s.logger.Warn().Err(err).Msg("[Store.persist] save snapshot")
	}
}

func snapshotChanged(prev, next Session) bool {
	if prev.IsAuthenticated != next.IsAuthenticated {
		return true
	}
	if (prev.User == nil) != (next.User == nil) {
		return true
	}
	return prev.User != nil && *prev.User != *next.User
}
