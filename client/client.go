package client

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/membership-session/authapi"
	"github.com/jrsteele09/membership-session/credentials"
	"github.com/jrsteele09/membership-session/credentials/filevault"
	"github.com/jrsteele09/membership-session/internal/config"
	"github.com/jrsteele09/membership-session/internal/redact"
	"github.com/jrsteele09/membership-session/membership"
	"github.com/jrsteele09/membership-session/prefs/sqlitestore"
	"github.com/jrsteele09/membership-session/push"
	"github.com/jrsteele09/membership-session/routeguard"
	"github.com/jrsteele09/membership-session/session"
	"github.com/jrsteele09/membership-session/users"
)

const vaultFolder = "vault"

// Navigator drives the app's surfaces. Replace is used for session redirects and Push
// for notification taps.
type Navigator interface {
	routeguard.Navigator
	push.Navigator
}

// Client owns the session and everything that observes it.
type Client struct {
	Gateway   *authapi.Gateway
	Manager   *session.Manager
	Guard     *routeguard.Guard
	Gate      *membership.Gate
	Registrar *push.Registrar

	prefs   *sqlitestore.Store
	logger  zerolog.Logger
	closers []func()
}

type options struct {
	httpClient *http.Client
	provider   push.Provider
	logger     zerolog.Logger
	hooks      []session.SignOutHook
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithPushProvider replaces the default provider, which reports push as unavailable.
func WithPushProvider(p push.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSignOutHook runs hook during logout after push unbinding.
func WithSignOutHook(hook session.SignOutHook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hook)
	}
}

// New builds the client stack from configuration. Call Start to rehydrate.
func New(cfg config.Config, nav Navigator, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("[client.New] config is required")
	}
	if nav == nil {
		return nil, errors.New("[client.New] navigator is required")
	}
	o := options{
		provider: push.NewStaticProvider(""),
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{logger: o.logger}
	if err := c.build(cfg, nav, o); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) build(cfg config.Config, nav Navigator, o options) error {
	gatewayOpts := []authapi.Option{authapi.WithLogger(o.logger)}
	if o.httpClient != nil {
		gatewayOpts = append(gatewayOpts, authapi.WithHTTPClient(o.httpClient))
	}
	gatewayOpts = append(gatewayOpts, authapi.WithTimeout(cfg.GetAPITimeout()))
	gateway, err := authapi.New(cfg.GetAPIBaseURL(), gatewayOpts...)
	if err != nil {
		return errors.Wrap(err, "[client.New] gateway")
	}
	c.Gateway = gateway

	vault, err := filevault.Open(filepath.Join(cfg.GetDataFolder(), vaultFolder), cfg.GetCredentialsPassphrase())
	if err != nil {
		return errors.Wrap(err, "[client.New] credential vault")
	}
	creds, err := credentials.NewKeyedStore(vault, credentials.WithLogger(o.logger))
	if err != nil {
		return errors.Wrap(err, "[client.New] credential store")
	}

	c.prefs, err = sqlitestore.Open(cfg.GetPrefsDBPath())
	if err != nil {
		return errors.Wrap(err, "[client.New] preference store")
	}
	c.closers = append(c.closers, func() {
		if err := c.prefs.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("closing preference store")
		}
	})

	c.Manager, err = session.NewManager(gateway, creds,
		session.WithLogger(o.logger),
		session.WithCache(c.prefs),
	)
	if err != nil {
		return errors.Wrap(err, "[client.New] session manager")
	}

	c.Guard, err = routeguard.New(nav, routeguard.WithLogger(o.logger))
	if err != nil {
		return errors.Wrap(err, "[client.New] route guard")
	}
	c.closers = append(c.closers, c.Manager.Subscribe(c.Guard.Observe))

	c.Gate, err = membership.NewGate(c.Manager, c.Manager, c.prefs, membership.WithLogger(o.logger))
	if err != nil {
		return errors.Wrap(err, "[client.New] membership gate")
	}
	c.closers = append(c.closers, c.Gate.Close)

	c.Registrar, err = push.NewRegistrar(o.provider, gateway, c.Manager.TokenSource(context.Background()), c.prefs, nav,
		push.WithPlatform(cfg.GetPushPlatform()),
		push.WithLogger(o.logger),
	)
	if err != nil {
		return errors.Wrap(err, "[client.New] push registrar")
	}
	c.closers = append(c.closers, c.Registrar.Close, c.Manager.Subscribe(c.Registrar.Observe))
	c.Manager.AddSignOutHook(c.Registrar.Unbind)
	for _, hook := range o.hooks {
		c.Manager.AddSignOutHook(hook)
	}
	return nil
}

// Start restores the cached snapshot and reconciles it against stored credentials.
func (c *Client) Start(ctx context.Context) session.Session {
	if err := c.Manager.Restore(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("restoring cached session")
	}
	return c.Manager.LoadUser(ctx)
}

// ChangePassword changes the signed-in member's password.
func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) (string, error) {
	if err := users.ValidatePasswordStrength(newPassword); err != nil {
		return "", err
	}
	tok, err := c.Manager.TokenSource(ctx).Token()
	if err != nil {
		return "", errors.Wrap(err, "[Client.ChangePassword]")
	}
	return c.Gateway.ChangePassword(ctx, tok.AccessToken, currentPassword, newPassword)
}

// ForgotPassword asks the backend to send a reset code.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	c.logger.Info().Str("email", redact.Email(email)).Msg("password reset requested")
	return c.Gateway.ForgotPassword(ctx, email)
}

func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) (string, error) {
	if err := users.ValidatePasswordStrength(newPassword); err != nil {
		return "", err
	}
	return c.Gateway.ResetPassword(ctx, email, code, newPassword)
}

// Close detaches observers in reverse order and releases storage.
func (c *Client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
