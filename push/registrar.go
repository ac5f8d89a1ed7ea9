package push

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/membership-session/authapi"
	"github.com/jrsteele09/membership-session/credentials"
	"github.com/jrsteele09/membership-session/internal/redact"
	"github.com/jrsteele09/membership-session/prefs"
	"github.com/jrsteele09/membership-session/session"
)

const defaultTimeout = 15 * time.Second

// DeviceAPI is the backend side of push registration.
type DeviceAPI interface {
	RegisterDevice(ctx context.Context, accessToken string, device authapi.Device) error
	UnregisterDevice(ctx context.Context, accessToken string) error
}

// Navigator opens an app surface.
type Navigator interface {
	Push(route string)
}

// Binding is the device's push association with the signed-in user.
type Binding struct {
	PushToken  string
	Platform   string
	InstallID  string
	Registered bool
	BoundAt    time.Time
}

// Registrar follows the session: it binds the device while AUTHENTICATED and
// drops the binding on ANONYMOUS.
type Registrar struct {
	provider     Provider
	devices      DeviceAPI
	tokens       oauth2.TokenSource
	prefs        prefs.Store
	nav          Navigator
	platform     string
	timeout      time.Duration
	onForeground func(Notification)
	nowTime      func() time.Time
	logger       zerolog.Logger

	lock    sync.Mutex
	active  bool
	closed  bool
	gen     uint64
	binding *Binding
	subs    []Subscription
	wg      sync.WaitGroup
}

type Option func(*Registrar)

func WithPlatform(platform string) Option {
	return func(r *Registrar) {
		r.platform = platform
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Registrar) {
		r.timeout = d
	}
}

// WithForegroundHandler receives notifications that arrive while the app is open.
func WithForegroundHandler(fn func(Notification)) Option {
	return func(r *Registrar) {
		r.onForeground = fn
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(r *Registrar) {
		r.nowTime = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registrar) {
		r.logger = logger
	}
}

func NewRegistrar(provider Provider, devices DeviceAPI, tokens oauth2.TokenSource, store prefs.Store, nav Navigator, options ...Option) (*Registrar, error) {
	switch {
	case provider == nil:
		return nil, errors.New("[NewRegistrar] push provider is required")
	case devices == nil:
		return nil, errors.New("[NewRegistrar] device API is required")
	case tokens == nil:
		return nil, errors.New("[NewRegistrar] token source is required")
	case store == nil:
		return nil, errors.New("[NewRegistrar] preference store is required")
	case nav == nil:
		return nil, errors.New("[NewRegistrar] navigator is required")
	}

	r := &Registrar{
		provider: provider,
		devices:  devices,
		tokens:   tokens,
		prefs:    store,
		nav:      nav,
		platform: "android",
		timeout:  defaultTimeout,
		nowTime:  time.Now,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	if r.onForeground == nil {
		r.onForeground = func(n Notification) {
			r.logger.Info().Str("title", n.Title).Msg("notification received")
		}
	}
	return r, nil
}

// Observe is the session subscriber. Network work runs on a tracked goroutine so the
// committing goroutine is never blocked on the backend.
func (r *Registrar) Observe(s session.Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	switch {
	case s.Phase == session.PhaseAuthenticated && !r.active && !r.closed:
		r.active = true
		r.gen++
		gen := r.gen
		r.wg.Add(1)
		go r.bind(gen)
	case s.Phase == session.PhaseAnonymous && r.active:
		r.active = false
		r.gen++
		r.dropLocked()
	}
}

// Unbind removes the backend registration. It is a session.SignOutHook and runs while
// the outgoing access token is still valid.
func (r *Registrar) Unbind(ctx context.Context, pair credentials.Pair) {
	r.lock.Lock()
	registered := r.binding != nil && r.binding.Registered
	r.gen++
	r.active = false
	r.dropLocked()
	r.lock.Unlock()

	if !registered {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.devices.UnregisterDevice(ctx, pair.AccessToken); err != nil {
		r.logger.Warn().Err(err).Msg("device unregister failed")
	}
}

func (r *Registrar) bind(gen uint64) {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	pushToken, err := r.provider.RegisterForPush(ctx)
	if err != nil || pushToken == "" {
		r.logger.Warn().Err(err).Msg("push registration unavailable")
		return
	}

	installID, err := r.installID(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("install id unavailable")
	}

	registered := false
	accessToken := ""
	tok, err := r.tokens.Token()
	if err == nil {
		accessToken = tok.AccessToken
		err = r.devices.RegisterDevice(ctx, accessToken, authapi.Device{
			Platform:  r.platform,
			PushToken: pushToken,
			DeviceID:  installID,
		})
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("backend device registration failed")
	} else {
		registered = true
	}

	r.lock.Lock()
	if gen != r.gen {
		closed := r.closed
		r.lock.Unlock()
		r.logger.Debug().Msg("session changed during push binding, discarding")
		// Unbind saw no registration to remove, so undo the one that just landed.
		if registered && !closed {
			if err := r.devices.UnregisterDevice(ctx, accessToken); err != nil {
				r.logger.Warn().Err(err).Msg("device unregister after discarded binding failed")
			}
		}
		return
	}
	defer r.lock.Unlock()
	r.binding = &Binding{
		PushToken:  pushToken,
		Platform:   r.platform,
		InstallID:  installID,
		Registered: registered,
		BoundAt:    r.nowTime(),
	}
	r.subs = append(r.subs,
		r.provider.AddNotificationReceivedListener(r.onForeground),
		r.provider.AddNotificationResponseReceivedListener(r.handleResponse),
	)
	if err := r.prefs.Save(ctx, prefs.PushTokenKey, []byte(pushToken)); err != nil {
		r.logger.Warn().Err(err).Msg("saving push token")
	}
	r.logger.Info().Str("push_token", redact.Token(pushToken)).Bool("registered", registered).Msg("push bound")
}

// dropLocked detaches listeners and forgets the binding. Called with r.lock held.
func (r *Registrar) dropLocked() {
	for _, sub := range r.subs {
		sub.Remove()
	}
	r.subs = nil
	if r.binding == nil {
		return
	}
	r.binding = nil
	if err := r.prefs.Delete(context.Background(), prefs.PushTokenKey); err != nil {
		r.logger.Warn().Err(err).Msg("deleting push token")
	}
}

func (r *Registrar) handleResponse(resp Response) {
	route := RouteFor(resp.Notification.Data)
	if route == "" {
		return
	}
	r.nav.Push(route)
}

func (r *Registrar) installID(ctx context.Context) (string, error) {
	v, ok, err := r.prefs.Load(ctx, prefs.InstallIDKey)
	if err != nil {
		return "", err
	}
	if ok && len(v) > 0 {
		return string(v), nil
	}
	id := uuid.NewString()
	if err := r.prefs.Save(ctx, prefs.InstallIDKey, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// Binding reports the current binding, if any.
func (r *Registrar) Binding() (Binding, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.binding == nil {
		return Binding{}, false
	}
	return *r.binding, true
}

// Wait blocks until in-flight binding work has finished.
func (r *Registrar) Wait() {
	r.wg.Wait()
}

// Close drops any binding and waits for background work.
func (r *Registrar) Close() {
	r.lock.Lock()
	r.closed = true
	r.active = false
	r.gen++
	r.dropLocked()
	r.lock.Unlock()
	r.Wait()
}
