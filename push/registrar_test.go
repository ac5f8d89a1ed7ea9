package push_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/membership-session/authapi"
	"github.com/jrsteele09/membership-session/authapi/fakebackend"
	"github.com/jrsteele09/membership-session/credentials"
	credentialsfake "github.com/jrsteele09/membership-session/credentials/repofake"
	"github.com/jrsteele09/membership-session/prefs"
	prefsfake "github.com/jrsteele09/membership-session/prefs/repofake"
	"github.com/jrsteele09/membership-session/push"
	"github.com/jrsteele09/membership-session/session"
	"github.com/jrsteele09/membership-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testPushToken = "ExponentPushToken[test-device]"
	testAccess    = "access-token-1"
)

type fakeDevices struct {
	lock         sync.Mutex
	registered   []authapi.Device
	unregistered []string
	registerErr  error

	// When set, RegisterDevice signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func (d *fakeDevices) RegisterDevice(_ context.Context, accessToken string, device authapi.Device) error {
	if d.started != nil {
		d.started <- struct{}{}
		<-d.release
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.registerErr != nil {
		return d.registerErr
	}
	d.registered = append(d.registered, device)
	return nil
}

func (d *fakeDevices) UnregisterDevice(_ context.Context, accessToken string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.unregistered = append(d.unregistered, accessToken)
	return nil
}

type recordingNavigator struct {
	lock   sync.Mutex
	routes []string
}

func (n *recordingNavigator) Push(route string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) pushed() []string {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]string(nil), n.routes...)
}

type testFixture struct {
	provider  *push.StaticProvider
	devices   *fakeDevices
	prefs     *prefsfake.FakePrefsRepo
	nav       *recordingNavigator
	registrar *push.Registrar
	received  chan push.Notification
}

func setupTestFixture(t *testing.T, pushToken string) *testFixture {
	t.Helper()
	f := &testFixture{
		provider: push.NewStaticProvider(pushToken),
		devices:  &fakeDevices{},
		prefs:    prefsfake.NewFakePrefsRepo(),
		nav:      &recordingNavigator{},
		received: make(chan push.Notification, 1),
	}
	registrar, err := push.NewRegistrar(
		f.provider,
		f.devices,
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: testAccess}),
		f.prefs,
		f.nav,
		push.WithPlatform("ios"),
		push.WithLogger(zerolog.Nop()),
		push.WithForegroundHandler(func(n push.Notification) { f.received <- n }),
	)
	require.NoError(t, err)
	t.Cleanup(registrar.Close)
	f.registrar = registrar
	return f
}

func authenticatedSession() session.Session {
	return session.Session{User: &users.Profile{ID: "1"}, IsAuthenticated: true, Phase: session.PhaseAuthenticated}
}

func TestNewRegistrarRequiresDependencies(t *testing.T) {
	_, err := push.NewRegistrar(nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestBindsWhenAuthenticated(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, testPushToken)

	f.registrar.Observe(session.Session{Phase: session.PhaseAnonymous})
	f.registrar.Wait()
	_, ok := f.registrar.Binding()
	require.False(t, ok)

	f.registrar.Observe(authenticatedSession())
	f.registrar.Wait()

	binding, ok := f.registrar.Binding()
	require.True(t, ok)
	require.Equal(t, testPushToken, binding.PushToken)
	require.Equal(t, "ios", binding.Platform)
	require.True(t, binding.Registered)
	require.NotEmpty(t, binding.InstallID)
	require.Len(t, f.devices.registered, 1)
	require.Equal(t, binding.InstallID, f.devices.registered[0].DeviceID)
	require.Equal(t, 2, f.provider.Listeners())

	v, ok, err := f.prefs.Load(ctx, prefs.PushTokenKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testPushToken, string(v))

	// Repeated authenticated commits do not rebind.
	f.registrar.Observe(authenticatedSession())
	f.registrar.Wait()
	require.Len(t, f.devices.registered, 1)
}

func TestDropsBindingOnAnonymous(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, testPushToken)
	f.registrar.Observe(authenticatedSession())
	f.registrar.Wait()

	f.registrar.Observe(session.Session{Phase: session.PhaseAnonymous})

	_, ok := f.registrar.Binding()
	require.False(t, ok)
	require.Equal(t, 0, f.provider.Listeners())
	_, ok, err := f.prefs.Load(ctx, prefs.PushTokenKey)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, f.devices.unregistered, "server-side unregister belongs to the sign-out hook")
}

func TestUnbindUnregistersWithOutgoingToken(t *testing.T) {
	f := setupTestFixture(t, testPushToken)
	f.registrar.Observe(authenticatedSession())
	f.registrar.Wait()

	f.registrar.Unbind(context.Background(), credentials.Pair{AccessToken: "outgoing"})

	require.Equal(t, []string{"outgoing"}, f.devices.unregistered)
	_, ok := f.registrar.Binding()
	require.False(t, ok)
}

func TestUnbindDuringRegistrationUndoesIt(t *testing.T) {
	f := setupTestFixture(t, testPushToken)
	f.devices.started = make(chan struct{}, 1)
	f.devices.release = make(chan struct{})

	f.registrar.Observe(authenticatedSession())
	<-f.devices.started

	f.registrar.Unbind(context.Background(), credentials.Pair{AccessToken: "outgoing"})
	require.Empty(t, f.devices.unregistered, "nothing is registered yet")

	close(f.devices.release)
	f.registrar.Wait()

	require.Len(t, f.devices.registered, 1)
	require.Equal(t, []string{testAccess}, f.devices.unregistered)
	_, ok := f.registrar.Binding()
	require.False(t, ok)
	require.Equal(t, 0, f.provider.Listeners())
}

func TestCloseDuringRegistrationKeepsBackendBinding(t *testing.T) {
	f := setupTestFixture(t, testPushToken)
	f.devices.started = make(chan struct{}, 1)
	f.devices.release = make(chan struct{})

	f.registrar.Observe(authenticatedSession())
	<-f.devices.started
	go func() {
		<-time.After(10 * time.Millisecond)
		close(f.devices.release)
	}()
	f.registrar.Close()

	require.Len(t, f.devices.registered, 1)
	require.Empty(t, f.devices.unregistered)
	_, ok := f.registrar.Binding()
	require.False(t, ok)
}

func TestNoPushTokenMeansNoBinding(t *testing.T) {
	f := setupTestFixture(t, "")
	f.registrar.Observe(authenticatedSession())
	f.registrar.Wait()

	_, ok := f.registrar.Binding()
	require.False(t, ok)
	require.Empty(t, f.devices.registered)
}

func TestBackendRegistrationFailureStillListens(t *testing.T) {
	f := setupTestFixture(t, testPushToken)
	f.devices.registerErr = errors.New("503")
	f.registrar.Observe(authenticatedSession())
	f.registrar.Wait()

	binding, ok := f.registrar.Binding()
	require.True(t, ok)
	require.False(t, binding.Registered)
	require.Equal(t, 2, f.provider.Listeners())

	f.registrar.Unbind(context.Background(), credentials.Pair{AccessToken: "outgoing"})
	require.Empty(t, f.devices.unregistered)
}

func TestNotificationHandling(t *testing.T) {
	f := setupTestFixture(t, testPushToken)
	f.registrar.Observe(authenticatedSession())
	f.registrar.Wait()

	f.provider.Deliver(push.Notification{Title: "Service due"})
	select {
	case n := <-f.received:
		require.Equal(t, "Service due", n.Title)
	case <-time.After(time.Second):
		t.Fatal("foreground handler not called")
	}

	f.provider.Tap(push.Response{Notification: push.Notification{Data: map[string]any{"type": "offer"}}})
	f.provider.Tap(push.Response{Notification: push.Notification{Data: map[string]any{"type": "appointment"}}})
	require.Equal(t, []string{push.RouteOffers}, f.nav.pushed())

	f.registrar.Observe(session.Session{Phase: session.PhaseAnonymous})
	f.provider.Tap(push.Response{Notification: push.Notification{Data: map[string]any{"type": "chat"}}})
	require.Equal(t, []string{push.RouteOffers}, f.nav.pushed())
}

func TestFollowsManagedSession(t *testing.T) {
	ctx := context.Background()
	backend := fakebackend.New()
	require.NoError(t, backend.AddAccount(users.Profile{Email: "jane@example.com", Name: "Jane"}, "Passw0rdX"))
	server := httptest.NewServer(backend)
	defer server.Close()

	gateway, err := authapi.New(server.URL, authapi.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	creds, err := credentials.NewKeyedStore(credentialsfake.NewFakeSecretBackend())
	require.NoError(t, err)
	manager, err := session.NewManager(gateway, creds, session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	provider := push.NewStaticProvider(testPushToken)
	registrar, err := push.NewRegistrar(provider, gateway, manager.TokenSource(ctx), prefsfake.NewFakePrefsRepo(), &recordingNavigator{}, push.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer registrar.Close()
	manager.AddSignOutHook(registrar.Unbind)
	manager.Subscribe(registrar.Observe)

	manager.LoadUser(ctx)
	_, err = manager.Login(ctx, users.Credentials{Email: "jane@example.com", Password: "Passw0rdX"})
	require.NoError(t, err)
	registrar.Wait()

	device, ok := backend.Device("jane@example.com")
	require.True(t, ok)
	require.Equal(t, testPushToken, device.PushToken)

	manager.Logout(ctx)
	registrar.Wait()

	_, ok = backend.Device("jane@example.com")
	require.False(t, ok)
	_, ok = registrar.Binding()
	require.False(t, ok)
	require.Equal(t, 0, provider.Listeners())
}
