package routeguard

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/membership-session/session"
)

// Route roots. Every surface lives under exactly one of them.
const (
	AuthenticatedRoot = "/(authenticated)"
	AnonymousRoot     = "/(guest)"
)

// Navigator swaps the visible surface without keeping history.
type Navigator interface {
	Replace(route string)
}

// Guard keeps the visible surface on the side of the session it belongs to.
type Guard struct {
	nav    Navigator
	logger zerolog.Logger

	lock    sync.Mutex
	current string
	session session.Session
}

type Option func(*Guard)

// WithCurrent seeds the surface already on screen.
func WithCurrent(route string) Option {
	return func(g *Guard) {
		g.current = route
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func New(nav Navigator, options ...Option) (*Guard, error) {
	if nav == nil {
		return nil, errors.New("[routeguard.New] navigator is required")
	}
	g := &Guard{
		nav:    nav,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Observe is the session subscriber.
func (g *Guard) Observe(s session.Session) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.session = s

	if s.IsLoading || s.Phase == session.PhaseUninitialized || s.Phase == session.PhaseRehydrating {
		return
	}

	target := AnonymousRoot
	if s.IsAuthenticated {
		target = AuthenticatedRoot
	}
	if within(g.current, target) {
		return
	}

	g.logger.Debug().Str("from", g.current).Str("to", target).Msg("redirect")
	g.current = target
	g.nav.Replace(target)
}

// Allow reports whether route may render for the last observed session.
// Authenticated surfaces need an authenticated session; everything else is public.
func (g *Guard) Allow(route string) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	if within(route, AuthenticatedRoot) {
		return g.session.IsAuthenticated
	}
	return true
}

// Current is the surface the guard believes is on screen.
func (g *Guard) Current() string {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.current
}

// SetCurrent records navigation made outside the guard.
func (g *Guard) SetCurrent(route string) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.current = route
}

func within(route, root string) bool {
	return route == root || strings.HasPrefix(route, root+"/")
}
