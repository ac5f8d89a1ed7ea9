package push

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Notification is a delivered push message.
type Notification struct {
	Title string
	Body  string
	Data  map[string]any
}

// Response is the user acting on a notification.
type Response struct {
	Notification     Notification
	ActionIdentifier string
}

type Subscription interface {
	Remove()
}

// Provider is the platform push service.
type Provider interface {
	RegisterForPush(ctx context.Context) (string, error)
	AddNotificationReceivedListener(fn func(Notification)) Subscription
	AddNotificationResponseReceivedListener(fn func(Response)) Subscription
}

var ErrPushUnavailable = errors.New("push notifications are unavailable on this device")

var _ Provider = (*StaticProvider)(nil)

// StaticProvider hands out a fixed token and dispatches notifications injected with
// Deliver and Tap. It serves headless clients and tests.
type StaticProvider struct {
	token     string
	lock      sync.Mutex
	nextID    int
	received  map[int]func(Notification)
	responses map[int]func(Response)
}

// NewStaticProvider returns a provider for token. An empty token reports ErrPushUnavailable.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{
		token:     token,
		received:  make(map[int]func(Notification)),
		responses: make(map[int]func(Response)),
	}
}

func (p *StaticProvider) RegisterForPush(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.token == "" {
		return "", ErrPushUnavailable
	}
	return p.token, nil
}

func (p *StaticProvider) AddNotificationReceivedListener(fn func(Notification)) Subscription {
	p.lock.Lock()
	defer p.lock.Unlock()
	id := p.nextID
	p.nextID++
	p.received[id] = fn
	return subscription(func() {
		p.lock.Lock()
		defer p.lock.Unlock()
		delete(p.received, id)
	})
}

func (p *StaticProvider) AddNotificationResponseReceivedListener(fn func(Response)) Subscription {
	p.lock.Lock()
	defer p.lock.Unlock()
	id := p.nextID
	p.nextID++
	p.responses[id] = fn
	return subscription(func() {
		p.lock.Lock()
		defer p.lock.Unlock()
		delete(p.responses, id)
	})
}

// Deliver simulates a notification arriving while the app is in the foreground.
func (p *StaticProvider) Deliver(n Notification) {
	p.lock.Lock()
	fns := make([]func(Notification), 0, len(p.received))
	for _, fn := range p.received {
		fns = append(fns, fn)
	}
	p.lock.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// Tap simulates the user opening a notification.
func (p *StaticProvider) Tap(r Response) {
	p.lock.Lock()
	fns := make([]func(Response), 0, len(p.responses))
	for _, fn := range p.responses {
		fns = append(fns, fn)
	}
	p.lock.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

// Listeners counts attached listeners of both kinds.
func (p *StaticProvider) Listeners() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.received) + len(p.responses)
}

type subscription func()

func (s subscription) Remove() {
	s()
}
