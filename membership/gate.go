package membership

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/membership-session/prefs"
	"github.com/jrsteele09/membership-session/session"
	"github.com/jrsteele09/membership-session/users"
)

var dismissedValue = []byte("true")

// SessionSource publishes session commits.
type SessionSource interface {
	Subscribe(fn func(session.Session)) (unsubscribe func())
}

// ProfileFetcher reads the profile without changing session state.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context) (*users.Profile, error)
}

// Gate decides whether to show the premium upsell banner.
type Gate struct {
	fetcher ProfileFetcher
	prefs   prefs.Store
	logger  zerolog.Logger

	lock          sync.Mutex
	profile       *users.Profile
	authenticated bool
	loading       bool
	fetched       bool
	unsubscribe   func()
}

type Option func(*Gate)

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func NewGate(source SessionSource, fetcher ProfileFetcher, store prefs.Store, options ...Option) (*Gate, error) {
	if source == nil {
		return nil, errors.New("[NewGate] session source is required")
	}
	if store == nil {
		return nil, errors.New("[NewGate] preference store is required")
	}
	g := &Gate{fetcher: fetcher, prefs: store, logger: log.Logger}
	for _, opt := range options {
		opt(g)
	}
	g.unsubscribe = source.Subscribe(g.observe)
	return g, nil
}

func (g *Gate) observe(s session.Session) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.authenticated = s.IsAuthenticated
	g.loading = s.IsLoading
	if s.User != nil {
		g.profile = s.User.Clone()
		return
	}
	if s.Phase == session.PhaseAnonymous {
		g.profile = nil
		g.fetched = false
	}
}

// ShowUpsell is true only for a member whose status is exactly "No Active Membership"
// and who has not dismissed the banner. Lookup failures hide the banner.
func (g *Gate) ShowUpsell(ctx context.Context) bool {
	if g.Dismissed(ctx) {
		return false
	}
	profile, ok := g.resolveProfile(ctx)
	if !ok {
		return false
	}
	return !profile.HasActiveMembership()
}

func (g *Gate) resolveProfile(ctx context.Context) (users.Profile, bool) {
	g.lock.Lock()
	if g.profile != nil {
		p := *g.profile
		g.lock.Unlock()
		return p, true
	}
	canFetch := g.fetcher != nil && !g.fetched && (g.authenticated || g.loading)
	g.fetched = g.fetched || canFetch
	g.lock.Unlock()
	if !canFetch {
		return users.Profile{}, false
	}

	profile, err := g.fetcher.FetchProfile(ctx)
	if err != nil {
		g.logger.Debug().Err(err).Msg("membership lookup failed, hiding banner")
		return users.Profile{}, false
	}

	g.lock.Lock()
	defer g.lock.Unlock()
	if g.profile == nil {
		g.profile = profile.Clone()
	}
	return *g.profile, true
}

func (g *Gate) Dismissed(ctx context.Context) bool {
	v, ok, err := g.prefs.Load(ctx, prefs.BannerDismissedKey)
	if err != nil {
		g.logger.Warn().Err(err).Msg("reading banner dismissal")
		return false
	}
	return ok && string(v) == string(dismissedValue)
}

func (g *Gate) Dismiss(ctx context.Context) error {
	if err := g.prefs.Save(ctx, prefs.BannerDismissedKey, dismissedValue); err != nil {
		return errors.Wrap(err, "[Gate.Dismiss]")
	}
	return nil
}

// ResetDismissal shows the banner again on the next check.
func (g *Gate) ResetDismissal(ctx context.Context) error {
	if err := g.prefs.Delete(ctx, prefs.BannerDismissedKey); err != nil {
		return errors.Wrap(err, "[Gate.ResetDismissal]")
	}
	return nil
}

func (g *Gate) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}
