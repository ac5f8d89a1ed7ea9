package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/membership-session/authapi"
	"github.com/jrsteele09/membership-session/credentials"
	apperrors "github.com/jrsteele09/membership-session/internal/errors"
	"github.com/jrsteele09/membership-session/internal/redact"
	"github.com/jrsteele09/membership-session/prefs"
	"github.com/jrsteele09/membership-session/users"
)

const defaultExpiryLeeway = 30 * time.Second

// Gateway is the subset of the identity backend the Manager drives.
type Gateway interface {
	Login(ctx context.Context, creds users.Credentials) (*authapi.AuthResult, error)
	Register(ctx context.Context, reg users.Registration) (*authapi.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	GetProfile(ctx context.Context, accessToken string) (*users.Profile, error)
	Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error)
}

// SignOutHook runs during Logout while the outgoing credentials are still valid.
type SignOutHook func(ctx context.Context, pair credentials.Pair)

// Manager orchestrates the session lifecycle. Every operation takes a sequence number
// when it starts; a completion older than the last terminal commit is dropped without
// touching credentials or state.
type Manager struct {
	gateway      Gateway
	creds        credentials.Store
	store        *Store
	logger       zerolog.Logger
	nowTime      func() time.Time
	expiryLeeway time.Duration
	signOutHooks []SignOutHook

	lock         sync.Mutex
	nextSeq      uint64
	committedSeq uint64
	// intentSeq is the newest committed login, register or logout.
	intentSeq   uint64
	rehydrating int

	refreshLock sync.Mutex
}

type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithNowTime(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = now
	}
}

// WithExpiryLeeway sets how long before exp an access token is treated as expired.
func WithExpiryLeeway(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.expiryLeeway = d
	}
}

func WithSignOutHook(hook SignOutHook) ManagerOption {
	return func(m *Manager) {
		m.signOutHooks = append(m.signOutHooks, hook)
	}
}

// WithCache persists the non-confidential session snapshot.
func WithCache(cache prefs.Store) ManagerOption {
	return func(m *Manager) {
		m.store.cache = cache
	}
}

func NewManager(gateway Gateway, creds credentials.Store, options ...ManagerOption) (*Manager, error) {
	if gateway == nil {
		return nil, errors.New("[NewManager] gateway is required")
	}
	if creds == nil {
		return nil, errors.New("[NewManager] credential store is required")
	}

	m := &Manager{
		gateway:      gateway,
		creds:        creds,
		store:        NewStore(nil, log.Logger),
		logger:       log.Logger,
		nowTime:      time.Now,
		expiryLeeway: defaultExpiryLeeway,
	}
	for _, opt := range options {
		opt(m)
	}
	m.store.logger = m.logger
	return m, nil
}

// AddSignOutHook registers a hook after construction, for observers built from the Manager.
func (m *Manager) AddSignOutHook(hook SignOutHook) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.signOutHooks = append(m.signOutHooks, hook)
}

func (m *Manager) Current() Session {
	return m.store.Current()
}

func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	return m.store.Subscribe(fn)
}

// Restore publishes the cached snapshot ahead of LoadUser.
func (m *Manager) Restore(ctx context.Context) error {
	return m.store.Restore(ctx)
}

func (m *Manager) begin() uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.nextSeq++
	return m.nextSeq
}

// stale must be called with m.lock held.
func (m *Manager) stale(seq uint64) bool {
	return seq < m.committedSeq
}

// commitTerminal must be called with m.lock held. The committed sequence never moves
// backwards.
func (m *Manager) commitTerminal(ctx context.Context, seq uint64, next Session) error {
	if err := m.store.commit(ctx, next); err != nil {
		return err
	}
	if seq > m.committedSeq {
		m.committedSeq = seq
	}
	return nil
}

// commitIntent records a terminal commit the user asked for. Called with m.lock held.
func (m *Manager) commitIntent(ctx context.Context, seq uint64, next Session) error {
	if err := m.commitTerminal(ctx, seq, next); err != nil {
		return err
	}
	if seq > m.intentSeq {
		m.intentSeq = seq
	}
	return nil
}

// endIfCredentialsLost runs after a failed credential write. A write that got as far
// as removing the access token leaves nothing behind an authenticated session, so the
// session ends with failure attached. Called with m.lock held.
func (m *Manager) endIfCredentialsLost(ctx context.Context, seq uint64, failure *Error) bool {
	if _, ok, err := m.creds.Get(ctx); err == nil && ok {
		return false
	}
	m.creds.Clear(ctx)
	if !m.store.Current().IsAuthenticated {
		return false
	}
	m.logger.Warn().Err(failure.Err).Msg("credentials lost during write, ending session")
	next := anonymous()
	next.Error = failure
	if err := m.commitTerminal(ctx, seq, next); err != nil {
		m.logger.Err(err).Msg("[Manager] commit after storage failure")
	}
	return true
}

func (m *Manager) Login(ctx context.Context, creds users.Credentials) (Session, error) {
	m.logger.Info().Str("email", redact.Email(creds.Email)).Msg("login")
	return m.authenticate(ctx, opLogin, func(ctx context.Context) (*authapi.AuthResult, error) {
		return m.gateway.Login(ctx, creds)
	})
}

func (m *Manager) Register(ctx context.Context, reg users.Registration) (Session, error) {
	m.logger.Info().Str("email", redact.Email(reg.Email)).Msg("register")
	return m.authenticate(ctx, opRegister, func(ctx context.Context) (*authapi.AuthResult, error) {
		return m.gateway.Register(ctx, reg)
	})
}

// authenticate runs a credential exchange. On success the pair is stored before the
// AUTHENTICATED commit; on failure only the error is committed.
func (m *Manager) authenticate(ctx context.Context, op operation, call func(context.Context) (*authapi.AuthResult, error)) (Session, error) {
	seq := m.begin()
	m.markLoading(ctx, seq)

	res, err := call(ctx)

	m.lock.Lock()
	defer m.lock.Unlock()

	if err != nil {
		failure := classify(op, err)
		m.logger.Warn().Err(err).Str("op", string(op)).Str("kind", string(failure.Kind)).Msg("credential exchange failed")
		if m.stale(seq) {
			return m.store.Current(), failure
		}
		return m.commitError(ctx, failure), failure
	}

	if m.stale(seq) {
		m.logger.Debug().Str("op", string(op)).Uint64("seq", seq).Msg("dropping superseded result")
		return m.store.Current(), nil
	}

	current := m.store.Current()
	if err := checkTransition(current.Phase, PhaseAuthenticated); err != nil {
		return current, errors.Wrapf(err, "[Manager.%s]", op)
	}
	if err := m.creds.Set(ctx, res.Pair); err != nil {
		m.logger.Err(err).Str("op", string(op)).Msg("storing credentials failed")
		failure := newError(StorageFailure, "", err)
		if !m.endIfCredentialsLost(ctx, seq, failure) {
			m.commitError(ctx, failure)
		}
		return m.store.Current(), failure
	}
	if err := m.commitIntent(ctx, seq, authenticated(res.User)); err != nil {
		return m.store.Current(), errors.Wrapf(err, "[Manager.%s]", op)
	}
	return m.store.Current(), nil
}

// markLoading publishes isLoading for an operation that is still current.
func (m *Manager) markLoading(ctx context.Context, seq uint64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stale(seq) {
		return
	}
	next := m.store.Current()
	next.IsLoading = true
	next.Error = nil
	if err := m.store.commit(ctx, next); err != nil {
		m.logger.Debug().Err(err).Msg("loading commit skipped")
	}
}

// commitError publishes failure without changing authentication. Called with m.lock held.
func (m *Manager) commitError(ctx context.Context, failure *Error) Session {
	next := m.store.Current()
	next.Error = failure
	next.IsLoading = m.rehydrating > 0
	if err := m.store.commit(ctx, next); err != nil {
		m.logger.Debug().Err(err).Msg("error commit skipped")
	}
	return m.store.Current()
}

// Logout always ends with an empty session and no stored credentials. Sign-out hooks
// run first, while the backend still accepts the outgoing access token. Only a newer
// login, register or logout supersedes it; a rehydration that lands first does not.
func (m *Manager) Logout(ctx context.Context) {
	seq := m.begin()

	pair, ok, err := m.creds.Get(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("[Manager.Logout] reading credentials failed")
	}

	m.lock.Lock()
	if seq < m.intentSeq {
		m.lock.Unlock()
		m.logger.Debug().Uint64("seq", seq).Msg("dropping superseded logout")
		return
	}
	if ok {
		for _, hook := range m.signOutHooks {
			hook(ctx, pair)
		}
	}
	m.lock.Unlock()

	if ok {
		if err := m.gateway.Logout(ctx, pair.AccessToken); err != nil {
			m.logger.Info().Err(err).Msg("[Manager.Logout] remote logout failed, continuing")
		}
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if seq < m.intentSeq {
		m.logger.Debug().Uint64("seq", seq).Msg("dropping superseded logout")
		return
	}
	m.creds.Clear(ctx)
	if err := m.commitIntent(ctx, seq, anonymous()); err != nil {
		m.logger.Err(err).Msg("[Manager.Logout] commit failed")
	}
	m.logger.Info().Msg("logged out")
}

// LoadUser rehydrates from stored credentials. Any failure clears them and settles
// ANONYMOUS without publishing an error.
func (m *Manager) LoadUser(ctx context.Context) Session {
	seq := m.begin()

	pair, ok, err := m.creds.Get(ctx)
	if err != nil {
		m.logger.Err(err).Msg("[Manager.LoadUser] credential store unavailable")
		m.settleAnonymous(ctx, seq, true)
		return m.store.Current()
	}
	if !ok {
		m.settleAnonymous(ctx, seq, false)
		return m.store.Current()
	}

	m.lock.Lock()
	if m.stale(seq) {
		m.lock.Unlock()
		return m.store.Current()
	}
	current := m.store.Current()
	if current.Phase == PhaseUninitialized || current.Phase == PhaseRehydrating {
		current.Phase = PhaseRehydrating
		current.IsLoading = true
		if err := m.store.commit(ctx, current); err != nil {
			m.logger.Debug().Err(err).Msg("rehydrating commit skipped")
		}
	}
	m.rehydrating++
	m.lock.Unlock()

	profile, err := m.gateway.GetProfile(ctx, pair.AccessToken)

	m.lock.Lock()
	defer m.lock.Unlock()
	m.rehydrating--
	if m.stale(seq) {
		m.logger.Debug().Uint64("seq", seq).Msg("dropping superseded rehydration")
		return m.store.Current()
	}
	if err != nil {
		failure := classify(opRehydrate, err)
		m.logger.Info().Err(err).Str("kind", string(failure.Kind)).Msg("rehydration rejected, clearing credentials")
		m.creds.Clear(ctx)
		if err := m.commitTerminal(ctx, seq, anonymous()); err != nil {
			m.logger.Err(err).Msg("[Manager.LoadUser] commit failed")
		}
		return m.store.Current()
	}
	// An older logout may have cleared the pair while the profile call was out.
	if _, still, err := m.creds.Get(ctx); err != nil || !still {
		if err := m.commitTerminal(ctx, seq, anonymous()); err != nil {
			m.logger.Err(err).Msg("[Manager.LoadUser] commit failed")
		}
		return m.store.Current()
	}
	if err := m.commitTerminal(ctx, seq, authenticated(*profile)); err != nil {
		m.logger.Err(err).Msg("[Manager.LoadUser] commit failed")
	}
	return m.store.Current()
}

func (m *Manager) settleAnonymous(ctx context.Context, seq uint64, clear bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stale(seq) {
		return
	}
	if clear {
		m.creds.Clear(ctx)
	}
	if err := m.commitTerminal(ctx, seq, anonymous()); err != nil {
		m.logger.Err(err).Msg("[Manager.LoadUser] commit failed")
	}
}

// UpdateUser applies a local profile patch. It takes no sequence number, so an
// in-flight LoadUser replaces the patched profile when it lands.
func (m *Manager) UpdateUser(ctx context.Context, patch users.ProfilePatch) Session {
	m.lock.Lock()
	defer m.lock.Unlock()

	current := m.store.Current()
	if current.User == nil || patch.Empty() {
		return current
	}
	patched := current.User.Apply(patch)
	current.User = &patched
	if err := m.store.commit(ctx, current); err != nil {
		m.logger.Debug().Err(err).Msg("profile patch skipped")
	}
	return m.store.Current()
}

func (m *Manager) ClearError(ctx context.Context) Session {
	m.lock.Lock()
	defer m.lock.Unlock()

	current := m.store.Current()
	if current.Error == nil {
		return current
	}
	current.Error = nil
	if err := m.store.commit(ctx, current); err != nil {
		m.logger.Debug().Err(err).Msg("clear error skipped")
	}
	return m.store.Current()
}

// Refresh rotates the stored pair. A rejected refresh token purges credentials and
// ends the session.
func (m *Manager) Refresh(ctx context.Context) (credentials.Pair, error) {
	m.refreshLock.Lock()
	defer m.refreshLock.Unlock()
	return m.refresh(ctx)
}

// refresh must be called with m.refreshLock held.
func (m *Manager) refresh(ctx context.Context) (credentials.Pair, error) {
	seq := m.begin()

	pair, ok, err := m.creds.Get(ctx)
	if err != nil {
		return credentials.Pair{}, newError(StorageFailure, "", err)
	}
	if !ok {
		return credentials.Pair{}, apperrors.ErrNoCredentials
	}

	next, err := m.gateway.Refresh(ctx, pair.RefreshToken)

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stale(seq) {
		return credentials.Pair{}, apperrors.ErrStaleOperation
	}
	if err != nil {
		failure := classify(opRefresh, err)
		if failure.Kind == SessionExpired {
			m.logger.Info().Err(err).Msg("refresh token rejected, ending session")
			m.creds.Clear(ctx)
			if err := m.commitTerminal(ctx, seq, anonymous()); err != nil {
				m.logger.Err(err).Msg("[Manager.Refresh] commit failed")
			}
		}
		return credentials.Pair{}, failure
	}
	if err := m.creds.Set(ctx, next); err != nil {
		m.logger.Err(err).Msg("[Manager.Refresh] storing rotated credentials failed")
		failure := newError(StorageFailure, "", err)
		m.endIfCredentialsLost(ctx, seq, failure)
		return credentials.Pair{}, failure
	}
	m.logger.Debug().Msg("credentials rotated")
	return next, nil
}

// validPair returns stored credentials, refreshing first when the access token is
// about to expire.
func (m *Manager) validPair(ctx context.Context) (credentials.Pair, error) {
	m.refreshLock.Lock()
	defer m.refreshLock.Unlock()

	pair, ok, err := m.creds.Get(ctx)
	if err != nil {
		return credentials.Pair{}, newError(StorageFailure, "", err)
	}
	if !ok {
		return credentials.Pair{}, apperrors.ErrNoCredentials
	}
	if !pair.Expired(m.nowTime(), m.expiryLeeway) {
		return pair, nil
	}
	return m.refresh(ctx)
}

// FetchProfile reads the profile with the stored credentials without committing it.
func (m *Manager) FetchProfile(ctx context.Context) (*users.Profile, error) {
	pair, err := m.validPair(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := m.gateway.GetProfile(ctx, pair.AccessToken)
	if err != nil {
		return nil, classify(opProfile, err)
	}
	return profile, nil
}
