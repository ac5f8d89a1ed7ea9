package session_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jrsteele09/membership-session/authapi"
	"github.com/jrsteele09/membership-session/authapi/fakebackend"
	"github.com/jrsteele09/membership-session/credentials"
	credentialsfake "github.com/jrsteele09/membership-session/credentials/repofake"
	prefsfake "github.com/jrsteele09/membership-session/prefs/repofake"
	"github.com/jrsteele09/membership-session/session"
	"github.com/jrsteele09/membership-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "jane.doe@example.com"
	testPassword = "Passw0rdX"
	testName     = "Jane Doe"
)

// testFixture wires a Manager to the in-process backend over HTTP.
type testFixture struct {
	backend  *fakebackend.Backend
	server   *httptest.Server
	gateway  *authapi.Gateway
	secrets  *credentialsfake.FakeSecretBackend
	creds    *credentials.KeyedStore
	cache    *prefsfake.FakePrefsRepo
	manager  *session.Manager
	recorder *recorder
}

func setupTestFixture(t *testing.T, options ...session.ManagerOption) *testFixture {
	t.Helper()

	backend := fakebackend.New()
	require.NoError(t, backend.AddAccount(users.Profile{
		ID:               "42",
		Email:            testEmail,
		Name:             testName,
		MembershipStatus: "Active",
	}, testPassword))
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	gateway, err := authapi.New(server.URL, authapi.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	f := &testFixture{
		backend: backend,
		server:  server,
		gateway: gateway,
		secrets: credentialsfake.NewFakeSecretBackend(),
		cache:   prefsfake.NewFakePrefsRepo(),
	}
	f.creds, err = credentials.NewKeyedStore(f.secrets, credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	opts := append([]session.ManagerOption{
		session.WithLogger(zerolog.Nop()),
		session.WithCache(f.cache),
	}, options...)
	f.manager, err = session.NewManager(gateway, f.creds, opts...)
	require.NoError(t, err)

	f.recorder = newRecorder(f.creds)
	unsubscribe := f.manager.Subscribe(f.recorder.observe)
	t.Cleanup(unsubscribe)
	return f
}

func (f *testFixture) login(t *testing.T) session.Session {
	t.Helper()
	s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.True(t, s.IsAuthenticated)
	return s
}

func (f *testFixture) storedPair(t *testing.T) (credentials.Pair, bool) {
	t.Helper()
	pair, ok, err := f.creds.Get(context.Background())
	require.NoError(t, err)
	return pair, ok
}

// recorder keeps every published snapshot and checks, at delivery time, that an
// authenticated snapshot always has credentials behind it.
type recorder struct {
	creds    credentials.Store
	lock     sync.Mutex
	seen     []session.Session
	unbacked int
}

func newRecorder(creds credentials.Store) *recorder {
	return &recorder{creds: creds}
}

func (r *recorder) observe(s session.Session) {
	if s.IsAuthenticated && s.Phase == session.PhaseAuthenticated {
		if _, ok, _ := r.creds.Get(context.Background()); !ok {
			r.lock.Lock()
			r.unbacked++
			r.lock.Unlock()
		}
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.seen = append(r.seen, s)
}

func (r *recorder) phases() []session.Phase {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]session.Phase, 0, len(r.seen))
	for _, s := range r.seen {
		out = append(out, s.Phase)
	}
	return out
}

func (r *recorder) unbackedAuthenticated() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.unbacked
}

// scriptedGateway lets a test hold a call open until it decides the outcome.
type scriptedGateway struct {
	login      func(ctx context.Context, creds users.Credentials) (*authapi.AuthResult, error)
	register   func(ctx context.Context, reg users.Registration) (*authapi.AuthResult, error)
	logout     func(ctx context.Context, accessToken string) error
	getProfile func(ctx context.Context, accessToken string) (*users.Profile, error)
	refresh    func(ctx context.Context, refreshToken string) (credentials.Pair, error)
}

var _ session.Gateway = (*scriptedGateway)(nil)

func (g *scriptedGateway) Login(ctx context.Context, creds users.Credentials) (*authapi.AuthResult, error) {
	return g.login(ctx, creds)
}

func (g *scriptedGateway) Register(ctx context.Context, reg users.Registration) (*authapi.AuthResult, error) {
	return g.register(ctx, reg)
}

func (g *scriptedGateway) Logout(ctx context.Context, accessToken string) error {
	if g.logout == nil {
		return nil
	}
	return g.logout(ctx, accessToken)
}

func (g *scriptedGateway) GetProfile(ctx context.Context, accessToken string) (*users.Profile, error) {
	return g.getProfile(ctx, accessToken)
}

func (g *scriptedGateway) Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	return g.refresh(ctx, refreshToken)
}

type scriptedFixture struct {
	gateway *scriptedGateway
	secrets *credentialsfake.FakeSecretBackend
	creds   *credentials.KeyedStore
	manager *session.Manager
}

func setupScriptedFixture(t *testing.T, gateway *scriptedGateway) *scriptedFixture {
	t.Helper()
	secrets := credentialsfake.NewFakeSecretBackend()
	creds, err := credentials.NewKeyedStore(secrets, credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	manager, err := session.NewManager(gateway, creds, session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return &scriptedFixture{gateway: gateway, secrets: secrets, creds: creds, manager: manager}
}

func (f *scriptedFixture) seed(t *testing.T, pair credentials.Pair) {
	t.Helper()
	require.NoError(t, f.creds.Set(context.Background(), pair))
}

func (f *scriptedFixture) storedPair(t *testing.T) (credentials.Pair, bool) {
	t.Helper()
	pair, ok, err := f.creds.Get(context.Background())
	require.NoError(t, err)
	return pair, ok
}

// blockingCall parks callers until release is called.
type blockingCall struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingCall() *blockingCall {
	return &blockingCall{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (b *blockingCall) wait() {
	b.started <- struct{}{}
	<-b.release
}

func (b *blockingCall) awaitStart(t *testing.T) {
	t.Helper()
	<-b.started
}

func (b *blockingCall) unblock() {
	close(b.release)
}
