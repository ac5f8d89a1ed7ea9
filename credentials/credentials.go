package credentials

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jrsteele09/membership-session/internal/errors"
)

// Backend slot names.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Pair is a bearer access token with the refresh token that renews it.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// String keeps tokens out of logs and fmt output.
func (p Pair) String() string {
	return "credentials.Pair{[REDACTED]}"
}

func (p Pair) GoString() string {
	return p.String()
}

// ExpiresAt reads the exp claim of a JWT access token without verifying it.
// Opaque tokens report false.
func ExpiresAt(accessToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the access token expires within leeway of now.
// Tokens without a readable expiry are never considered expired.
func (p Pair) Expired(now time.Time, leeway time.Duration) bool {
	exp, ok := ExpiresAt(p.AccessToken)
	if !ok {
		return false
	}
	return !now.Add(leeway).Before(exp)
}

var _ Store = (*KeyedStore)(nil)

// KeyedStore maps a Pair onto two backend slots. The access slot is written last and
// removed first, so its presence marks a complete pair.
type KeyedStore struct {
	backend SecretBackend
	logger  zerolog.Logger
}

type Option func(*KeyedStore)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *KeyedStore) {
		s.logger = logger
	}
}

func NewKeyedStore(backend SecretBackend, options ...Option) (*KeyedStore, error) {
	if backend == nil {
		return nil, errors.New("[NewKeyedStore] secret backend is required")
	}
	s := &KeyedStore{
		backend: backend,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *KeyedStore) Set(ctx context.Context, pair Pair) error {
	if pair.AccessToken == "" {
		return apperrors.ErrEmptyAccessToken
	}

	// Drop the marker first so a failure part way through never pairs a new refresh
	// token with an old access token.
	if err := s.backend.Delete(ctx, AccessTokenKey); err != nil {
		return errors.Wrap(err, "[KeyedStore.Set] delete access token")
	}

	if pair.RefreshToken == "" {
		if err := s.backend.Delete(ctx, RefreshTokenKey); err != nil {
			return errors.Wrap(err, "[KeyedStore.Set] delete refresh token")
		}
	} else if err := s.backend.Put(ctx, RefreshTokenKey, []byte(pair.RefreshToken)); err != nil {
		return errors.Wrap(err, "[KeyedStore.Set] put refresh token")
	}

	if err := s.backend.Put(ctx, AccessTokenKey, []byte(pair.AccessToken)); err != nil {
		return errors.Wrap(err, "[KeyedStore.Set] put access token")
	}
	return nil
}

func (s *KeyedStore) Get(ctx context.Context) (Pair, bool, error) {
	access, ok, err := s.backend.Get(ctx, AccessTokenKey)
	if err != nil {
		return Pair{}, false, errors.Wrap(err, "[KeyedStore.Get] get access token")
	}
	if !ok || len(access) == 0 {
		return Pair{}, false, nil
	}

	refresh, _, err := s.backend.Get(ctx, RefreshTokenKey)
	if err != nil {
		return Pair{}, false, errors.Wrap(err, "[KeyedStore.Get] get refresh token")
	}
	return Pair{AccessToken: string(access), RefreshToken: string(refresh)}, true, nil
}

// Clear is best effort. Backend failures are logged and not returned.
func (s *KeyedStore) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx, AccessTokenKey); err != nil {
		s.logger.Err(err).Str("key", AccessTokenKey).Msg("[KeyedStore.Clear] delete failed")
	}
	if err := s.backend.Delete(ctx, RefreshTokenKey); err != nil {
		s.logger.Err(err).Str("key", RefreshTokenKey).Msg("[KeyedStore.Clear] delete failed")
	}
}
