package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/membership-session/credentials"
	apperrors "github.com/jrsteele09/membership-session/internal/errors"
	"github.com/jrsteele09/membership-session/users"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// AuthResult is the outcome of a successful login or registration.
type AuthResult struct {
	User users.Profile
	Pair credentials.Pair
}

// Gateway is the HTTP client for the identity backend.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
	requestID  func() string
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// WithTimeout bounds each request. A client passed with WithHTTPClient is copied, not
// modified.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithRequestIDFunc(f func() string) Option {
	return func(g *Gateway) {
		g.requestID = f
	}
}

func New(baseURL string, options ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[authapi.New] invalid base URL %q", baseURL)
	}
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.Logger,
		requestID:  uuid.NewString,
	}
	for _, opt := range options {
		opt(g)
	}
	if g.timeout > 0 {
		c := *g.httpClient
		c.Timeout = g.timeout
		g.httpClient = &c
	}
	return g, nil
}

func (g *Gateway) Login(ctx context.Context, creds users.Credentials) (*AuthResult, error) {
	return g.authenticate(ctx, RouteLogin, creds)
}

func (g *Gateway) Register(ctx context.Context, reg users.Registration) (*AuthResult, error) {
	return g.authenticate(ctx, RouteRegister, reg)
}

func (g *Gateway) authenticate(ctx context.Context, route string, body any) (*AuthResult, error) {
	raw, err := g.do(ctx, http.MethodPost, route, "", body)
	if err != nil {
		return nil, err
	}

	var resp wireAuth
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrapf(apperrors.ErrMalformedResponse, "[Gateway.authenticate] %s: %v", route, err)
	}
	pair := resp.pair()
	if pair.AccessToken == "" {
		return nil, errors.Wrapf(apperrors.ErrMalformedResponse, "[Gateway.authenticate] %s: no access token", route)
	}

	profileJSON := raw
	if len(resp.User) > 0 && !bytes.Equal(resp.User, []byte("null")) {
		profileJSON = resp.User
	}
	profile, err := decodeProfile(profileJSON)
	if err != nil {
		return nil, errors.Wrapf(err, "[Gateway.authenticate] %s", route)
	}
	return &AuthResult{User: profile, Pair: pair}, nil
}

// Logout tells the backend to end the session. The response body is ignored.
func (g *Gateway) Logout(ctx context.Context, accessToken string) error {
	_, err := g.do(ctx, http.MethodPost, RouteLogout, accessToken, nil)
	return err
}

func (g *Gateway) GetProfile(ctx context.Context, accessToken string) (*users.Profile, error) {
	raw, err := g.do(ctx, http.MethodGet, RouteProfile, accessToken, nil)
	if err != nil {
		return nil, err
	}
	profile, err := decodeProfile(raw)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.GetProfile]")
	}
	return &profile, nil
}

func (g *Gateway) UpdateProfile(ctx context.Context, accessToken string, patch users.ProfilePatch) (*users.Profile, error) {
	raw, err := g.do(ctx, http.MethodPut, RouteProfile, accessToken, patch)
	if err != nil {
		return nil, err
	}
	profile, err := decodeProfile(raw)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.UpdateProfile]")
	}
	return &profile, nil
}

// Refresh exchanges a refresh token for a new pair. A response without a rotated
// refresh token keeps the old one.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	if refreshToken == "" {
		return credentials.Pair{}, apperrors.ErrEmptyRefreshToken
	}
	raw, err := g.do(ctx, http.MethodPost, RouteRefresh, "", refreshRequest{Refresh: refreshToken})
	if err != nil {
		return credentials.Pair{}, err
	}
	var resp wireTokens
	if err := json.Unmarshal(raw, &resp); err != nil {
		return credentials.Pair{}, errors.Wrapf(apperrors.ErrMalformedResponse, "[Gateway.Refresh] %v", err)
	}
	pair := resp.pair()
	if pair.AccessToken == "" {
		return credentials.Pair{}, errors.Wrap(apperrors.ErrMalformedResponse, "[Gateway.Refresh] no access token")
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func (g *Gateway) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) (string, error) {
	return g.message(ctx, RouteChangePassword, accessToken, changePasswordRequest{OldPassword: currentPassword, NewPassword: newPassword})
}

func (g *Gateway) ForgotPassword(ctx context.Context, email string) (string, error) {
	return g.message(ctx, RouteForgotPassword, "", forgotPasswordRequest{Email: email})
}

func (g *Gateway) ResetPassword(ctx context.Context, email, code, newPassword string) (string, error) {
	return g.message(ctx, RouteResetPassword, "", resetPasswordRequest{Email: email, Code: code, NewPassword: newPassword})
}

func (g *Gateway) RegisterDevice(ctx context.Context, accessToken string, device Device) error {
	_, err := g.do(ctx, http.MethodPost, RouteDeviceRegister, accessToken, device)
	return err
}

func (g *Gateway) UnregisterDevice(ctx context.Context, accessToken string) error {
	_, err := g.do(ctx, http.MethodPost, RouteDeviceUnregister, accessToken, nil)
	return err
}

func (g *Gateway) message(ctx context.Context, route, accessToken string, body any) (string, error) {
	raw, err := g.do(ctx, http.MethodPost, route, accessToken, body)
	if err != nil {
		return "", err
	}
	var resp wireMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", errors.Wrapf(apperrors.ErrMalformedResponse, "[Gateway.message] %s: %v", route, err)
		}
	}
	return resp.text(), nil
}

func decodeProfile(raw []byte) (users.Profile, error) {
	var w wireProfile
	if err := json.Unmarshal(raw, &w); err != nil {
		return users.Profile{}, errors.Wrapf(apperrors.ErrMalformedResponse, "profile: %v", err)
	}
	return w.profile(), nil
}

// do sends one request and returns the body of a 2xx response.
func (g *Gateway) do(ctx context.Context, method, route, accessToken string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "[Gateway.do] encode %s", route)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+route, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "[Gateway.do] build %s", route)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	}
	requestID := g.requestID()
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Debug().Err(err).Str("route", route).Str("request_id", requestID).Msg("request failed")
		return nil, &TransportError{Route: route, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Route: route, Err: err}
	}

	g.logger.Debug().
		Str("method", method).
		Str("route", route).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("elapsed", time.Since(start)).
		Msg("gateway response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Route: route, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	return raw, nil
}
