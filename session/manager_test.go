package session_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jrsteele09/membership-session/authapi"
	"github.com/jrsteele09/membership-session/credentials"
	"github.com/jrsteele09/membership-session/internal/utils"
	"github.com/jrsteele09/membership-session/session"
	"github.com/jrsteele09/membership-session/users"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := session.NewManager(nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway is required")

	_, err = session.NewManager(&scriptedGateway{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "credential store is required")
}

func TestLoadUserWithoutTokenMakesNoNetworkCall(t *testing.T) {
	f := setupTestFixture(t)

	s := f.manager.LoadUser(context.Background())

	require.Equal(t, session.PhaseAnonymous, s.Phase)
	require.False(t, s.IsAuthenticated)
	require.False(t, s.IsLoading)
	require.Nil(t, s.Error)
	require.Equal(t, 0, f.backend.TotalCalls())
	require.Equal(t, []session.Phase{session.PhaseUninitialized, session.PhaseAnonymous}, f.recorder.phases())
}

func TestLoadUserWithValidToken(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)

	cold, err := session.NewManager(f.gateway, f.creds)
	require.NoError(t, err)

	s := cold.LoadUser(context.Background())
	require.Equal(t, session.PhaseAuthenticated, s.Phase)
	require.True(t, s.IsAuthenticated)
	require.Equal(t, testName, s.User.Name)
	require.Equal(t, 1, f.backend.Calls(authapi.RouteProfile))
}

func TestLoadUserPublishesLoadingThenAuthenticated(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)

	// A fresh manager over the same stores plays the role of a cold start.
	cold, err := session.NewManager(f.gateway, f.creds)
	require.NoError(t, err)
	rec := newRecorder(f.creds)
	cold.Subscribe(rec.observe)

	cold.LoadUser(context.Background())

	require.Equal(t, []session.Phase{
		session.PhaseUninitialized,
		session.PhaseRehydrating,
		session.PhaseAuthenticated,
	}, rec.phases())
	require.True(t, rec.seen[1].IsLoading)
	require.False(t, rec.seen[2].IsLoading)
}

func TestLoadUserWithExpiredTokenPurgesCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	f.backend.RevokeAccessTokens()

	s := f.manager.LoadUser(context.Background())

	require.Equal(t, session.PhaseAnonymous, s.Phase)
	require.False(t, s.IsAuthenticated)
	require.Nil(t, s.User)
	require.Nil(t, s.Error, "rehydration failures are not published")
	_, ok := f.storedPair(t)
	require.False(t, ok)
	require.Equal(t, 0, f.recorder.unbackedAuthenticated())
}

func TestLoadUserFailsClosed(t *testing.T) {
	cases := map[string]error{
		"network": &authapi.TransportError{Route: authapi.RouteProfile, Err: errors.New("connection refused")},
		"server":  &authapi.StatusError{Route: authapi.RouteProfile, StatusCode: http.StatusBadGateway},
		"expired": &authapi.StatusError{Route: authapi.RouteProfile, StatusCode: http.StatusUnauthorized},
	}
	for name, failure := range cases {
		t.Run(name, func(t *testing.T) {
			f := setupScriptedFixture(t, &scriptedGateway{
				getProfile: func(context.Context, string) (*users.Profile, error) { return nil, failure },
			})
			f.seed(t, credentials.Pair{AccessToken: "a", RefreshToken: "r"})

			s := f.manager.LoadUser(context.Background())

			require.Equal(t, session.PhaseAnonymous, s.Phase)
			require.Nil(t, s.Error)
			_, ok := f.storedPair(t)
			require.False(t, ok)
		})
	}
}

func TestLoadUserStorageFailure(t *testing.T) {
	f := setupScriptedFixture(t, &scriptedGateway{})
	f.secrets.FailGets(errors.New("keychain locked"))

	s := f.manager.LoadUser(context.Background())

	require.Equal(t, session.PhaseAnonymous, s.Phase)
	require.False(t, s.IsAuthenticated)
}

func TestLoginStoresCredentialsBeforeCommit(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())

	s := f.login(t)

	require.Equal(t, session.PhaseAuthenticated, s.Phase)
	require.Equal(t, testEmail, s.User.Email)
	require.Nil(t, s.Error)
	require.False(t, s.IsLoading)
	pair, ok := f.storedPair(t)
	require.True(t, ok)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, 0, f.recorder.unbackedAuthenticated())
}

func TestRegisterAuthenticates(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())

	s, err := f.manager.Register(context.Background(), users.Registration{
		Name: "New Member", Email: "new@example.com", Password: testPassword,
	})
	require.NoError(t, err)
	require.True(t, s.IsAuthenticated)
	require.Equal(t, users.NoActiveMembership, s.User.MembershipStatus)
	require.Equal(t, 0, f.recorder.unbackedAuthenticated())
}

func TestLoginRejectedUsesBackendMessage(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.backend.Override(authapi.RouteLogin, http.StatusUnauthorized, map[string]string{"message": "Invalid email or password"})

	s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: "wrong"})

	require.ErrorIs(t, err, session.ErrInvalidCredentials)
	require.False(t, s.IsAuthenticated)
	require.False(t, s.IsLoading)
	require.NotNil(t, s.Error)
	require.Equal(t, session.InvalidCredentials, s.Error.Kind)
	require.Equal(t, "Invalid email or password", s.Error.Message)
	_, ok := f.storedPair(t)
	require.False(t, ok)
}

func TestLoginFailureKinds(t *testing.T) {
	cases := map[string]struct {
		err     error
		kind    session.ErrorKind
		message string
	}{
		"network": {
			err:     &authapi.TransportError{Route: authapi.RouteLogin, Err: errors.New("dial tcp: no route to host")},
			kind:    session.NetworkUnreachable,
			message: session.DefaultMessage(session.NetworkUnreachable),
		},
		"server": {
			err:     &authapi.StatusError{Route: authapi.RouteLogin, StatusCode: http.StatusInternalServerError},
			kind:    session.ServerError,
			message: session.DefaultMessage(session.ServerError),
		},
		"bad request": {
			err:     &authapi.StatusError{Route: authapi.RouteLogin, StatusCode: http.StatusBadRequest, Message: "Email is required."},
			kind:    session.InvalidCredentials,
			message: "Email is required.",
		},
		"forbidden": {
			err:     &authapi.StatusError{Route: authapi.RouteLogin, StatusCode: http.StatusForbidden},
			kind:    session.InvalidCredentials,
			message: session.DefaultMessage(session.InvalidCredentials),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := setupScriptedFixture(t, &scriptedGateway{
				login: func(context.Context, users.Credentials) (*authapi.AuthResult, error) { return nil, tc.err },
			})
			f.manager.LoadUser(context.Background())

			s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: "x"})

			var sessErr *session.Error
			require.ErrorAs(t, err, &sessErr)
			require.Equal(t, tc.kind, sessErr.Kind)
			require.Equal(t, tc.message, sessErr.Message)
			require.Equal(t, tc.kind, s.Error.Kind)
			require.Equal(t, session.PhaseAnonymous, s.Phase)
		})
	}
}

func TestLoginFailureLeavesAuthenticatedSessionIntact(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	before, _ := f.storedPair(t)

	s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: "wrong"})

	require.Error(t, err)
	require.True(t, s.IsAuthenticated)
	require.Equal(t, session.PhaseAuthenticated, s.Phase)
	after, ok := f.storedPair(t)
	require.True(t, ok)
	require.Equal(t, before, after)
}

func TestLoginStorageFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.secrets.FailPuts(errors.New("keychain locked"))

	s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: testPassword})

	require.ErrorIs(t, err, session.ErrStorageFailure)
	require.False(t, s.IsAuthenticated)
	require.Equal(t, session.StorageFailure, s.Error.Kind)
	require.Equal(t, "Secure storage is unavailable.", s.Error.Message)
}

func TestLoginStorageFailureEndsAuthenticatedSession(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	f.secrets.FailPuts(errors.New("keychain locked"))

	s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: testPassword})

	require.ErrorIs(t, err, session.ErrStorageFailure)
	require.False(t, s.IsAuthenticated)
	require.Equal(t, session.PhaseAnonymous, s.Phase)
	require.Equal(t, session.StorageFailure, s.Error.Kind)
	_, ok := f.storedPair(t)
	require.False(t, ok)
	require.Zero(t, f.recorder.unbackedAuthenticated())
}

func TestLoginStorageFailureKeepsIntactSession(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	before, _ := f.storedPair(t)
	f.secrets.FailDeletes(errors.New("keychain locked"))

	s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: testPassword})

	require.ErrorIs(t, err, session.ErrStorageFailure)
	require.True(t, s.IsAuthenticated)
	require.Equal(t, session.PhaseAuthenticated, s.Phase)
	require.Equal(t, session.StorageFailure, s.Error.Kind)
	after, ok := f.storedPair(t)
	require.True(t, ok)
	require.Equal(t, before, after)
}

func TestLoginBeforeRehydrationIsRejected(t *testing.T) {
	f := setupTestFixture(t)

	s, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: testPassword})

	require.Error(t, err)
	require.Equal(t, session.PhaseUninitialized, s.Phase)
	_, ok := f.storedPair(t)
	require.False(t, ok, "an illegal transition must not write credentials")
}

func TestClearError(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	_, err := f.manager.Login(context.Background(), users.Credentials{Email: testEmail, Password: "wrong"})
	require.Error(t, err)
	require.NotNil(t, f.manager.Current().Error)

	s := f.manager.ClearError(context.Background())
	require.Nil(t, s.Error)
	require.Equal(t, session.PhaseAnonymous, s.Phase)
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)

	f.manager.Logout(context.Background())

	s := f.manager.Current()
	require.Equal(t, session.PhaseAnonymous, s.Phase)
	require.False(t, s.IsAuthenticated)
	require.Nil(t, s.User)
	require.Nil(t, s.Error)
	_, ok := f.storedPair(t)
	require.False(t, ok)
	require.Equal(t, 1, f.backend.Calls(authapi.RouteLogout))
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("without a prior session", func(t *testing.T) {
		require.NotPanics(t, func() { f.manager.Logout(context.Background()) })
		require.Equal(t, session.PhaseAnonymous, f.manager.Current().Phase)
		require.Equal(t, 0, f.backend.Calls(authapi.RouteLogout))
	})

	t.Run("twice in a row", func(t *testing.T) {
		f.login(t)
		f.manager.Logout(context.Background())
		f.manager.Logout(context.Background())
		require.Equal(t, session.PhaseAnonymous, f.manager.Current().Phase)
		require.Equal(t, 1, f.backend.Calls(authapi.RouteLogout))
	})
}

func TestLogoutSwallowsRemoteFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	f.backend.Override(authapi.RouteLogout, http.StatusInternalServerError, map[string]string{"message": "boom"})

	f.manager.Logout(context.Background())

	require.Equal(t, session.PhaseAnonymous, f.manager.Current().Phase)
	_, ok := f.storedPair(t)
	require.False(t, ok)
}

func TestLogoutRunsSignOutHooksWithLiveToken(t *testing.T) {
	var hookPair credentials.Pair
	var hookSawStoredToken bool
	var hookProfileErr error
	var f *testFixture
	f = setupTestFixture(t, session.WithSignOutHook(func(ctx context.Context, pair credentials.Pair) {
		hookPair = pair
		_, hookSawStoredToken, _ = f.creds.Get(ctx)
		_, hookProfileErr = f.gateway.GetProfile(ctx, pair.AccessToken)
	}))
	f.manager.LoadUser(context.Background())
	f.login(t)
	stored, _ := f.storedPair(t)

	f.manager.Logout(context.Background())

	require.Equal(t, stored, hookPair)
	require.True(t, hookSawStoredToken)
	require.NoError(t, hookProfileErr, "the backend must still accept the outgoing token inside sign-out hooks")

	// The remote logout still revokes it afterwards.
	_, err := f.gateway.GetProfile(context.Background(), stored.AccessToken)
	require.Error(t, err)
}

func TestUpdateUser(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())

	t.Run("no-op while anonymous", func(t *testing.T) {
		s := f.manager.UpdateUser(context.Background(), users.ProfilePatch{Name: utils.Ptr("Nobody")})
		require.Nil(t, s.User)
	})

	t.Run("patches the cached profile", func(t *testing.T) {
		f.login(t)
		saves := f.cache.Saves()
		s := f.manager.UpdateUser(context.Background(), users.ProfilePatch{Phone: utils.Ptr("555-0100")})
		require.Equal(t, "555-0100", s.User.Phone)
		require.Equal(t, testName, s.User.Name)
		require.True(t, s.IsAuthenticated)
		require.Greater(t, f.cache.Saves(), saves)
	})
}

func TestRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	before, _ := f.storedPair(t)

	pair, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, before.AccessToken, pair.AccessToken)
	stored, _ := f.storedPair(t)
	require.Equal(t, pair, stored)
	require.True(t, f.manager.Current().IsAuthenticated)
}

func TestRefreshRejectedEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	f.backend.RevokeRefreshTokens()

	_, err := f.manager.Refresh(context.Background())

	require.ErrorIs(t, err, session.ErrSessionExpired)
	require.Equal(t, session.PhaseAnonymous, f.manager.Current().Phase)
	_, ok := f.storedPair(t)
	require.False(t, ok)
}

func TestRefreshStorageFailureEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)
	f.secrets.FailPuts(errors.New("keychain locked"))

	_, err := f.manager.Refresh(context.Background())

	require.ErrorIs(t, err, session.ErrStorageFailure)
	s := f.manager.Current()
	require.False(t, s.IsAuthenticated)
	require.Equal(t, session.PhaseAnonymous, s.Phase)
	_, ok := f.storedPair(t)
	require.False(t, ok)
	require.Zero(t, f.recorder.unbackedAuthenticated())
}

func TestRefreshNetworkFailureKeepsSession(t *testing.T) {
	f := setupScriptedFixture(t, &scriptedGateway{
		getProfile: func(context.Context, string) (*users.Profile, error) { return &users.Profile{ID: "1"}, nil },
		refresh: func(context.Context, string) (credentials.Pair, error) {
			return credentials.Pair{}, &authapi.TransportError{Route: authapi.RouteRefresh, Err: errors.New("offline")}
		},
	})
	f.seed(t, credentials.Pair{AccessToken: "a", RefreshToken: "r"})
	f.manager.LoadUser(context.Background())

	_, err := f.manager.Refresh(context.Background())

	require.ErrorIs(t, err, session.ErrNetworkUnreachable)
	require.True(t, f.manager.Current().IsAuthenticated)
	_, ok := f.storedPair(t)
	require.True(t, ok)
}

func TestRestoreFromCache(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	f.login(t)

	raw, ok, err := f.cache.Load(context.Background(), "user_data")
	require.NoError(t, err)
	require.True(t, ok)
	pair, _ := f.storedPair(t)
	require.NotContains(t, string(raw), pair.AccessToken)
	require.NotContains(t, string(raw), pair.RefreshToken)

	cold, err := session.NewManager(f.gateway, f.creds, session.WithCache(f.cache))
	require.NoError(t, err)
	require.NoError(t, cold.Restore(context.Background()))

	s := cold.Current()
	require.Equal(t, session.PhaseRehydrating, s.Phase)
	require.True(t, s.IsAuthenticated)
	require.Equal(t, testEmail, s.User.Email)

	s = cold.LoadUser(context.Background())
	require.Equal(t, session.PhaseAuthenticated, s.Phase)
}

func TestSubscribeDeliversSnapshotsInOrder(t *testing.T) {
	f := setupTestFixture(t)
	var got []session.Phase
	unsubscribe := f.manager.Subscribe(func(s session.Session) { got = append(got, s.Phase) })

	f.manager.LoadUser(context.Background())
	f.login(t)
	unsubscribe()
	f.manager.Logout(context.Background())

	require.Equal(t, session.PhaseUninitialized, got[0])
	require.Equal(t, session.PhaseAnonymous, got[1])
	require.Equal(t, session.PhaseAuthenticated, got[len(got)-1])
	for _, p := range got {
		require.NotEqual(t, session.PhaseRehydrating, p)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.LoadUser(context.Background())
	s := f.login(t)

	s.User.Name = "Mallory"
	require.Equal(t, testName, f.manager.Current().User.Name)
}
