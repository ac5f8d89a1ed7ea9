package credentialsfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/membership-session/credentials"
)

var _ credentials.SecretBackend = (*FakeSecretBackend)(nil)

// FakeSecretBackend is an in-memory backend with injectable failures.
type FakeSecretBackend struct {
	values    map[string][]byte
	putErr    error
	getErr    error
	deleteErr error
	writes    []string
	lock      sync.RWMutex
}

func NewFakeSecretBackend() *FakeSecretBackend {
	return &FakeSecretBackend{values: make(map[string][]byte)}
}

func (b *FakeSecretBackend) Put(_ context.Context, key string, value []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.values[key] = append([]byte(nil), value...)
	b.writes = append(b.writes, "put:"+key)
	return nil
}

func (b *FakeSecretBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if b.getErr != nil {
		return nil, false, b.getErr
	}
	v, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *FakeSecretBackend) Delete(_ context.Context, key string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	if _, ok := b.values[key]; ok {
		b.writes = append(b.writes, "delete:"+key)
	}
	delete(b.values, key)
	return nil
}

func (b *FakeSecretBackend) FailPuts(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.putErr = err
}

func (b *FakeSecretBackend) FailGets(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.getErr = err
}

func (b *FakeSecretBackend) FailDeletes(err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.deleteErr = err
}

// Writes lists successful mutations in order, as "put:<key>" or "delete:<key>".
func (b *FakeSecretBackend) Writes() []string {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return append([]string(nil), b.writes...)
}

func (b *FakeSecretBackend) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.values)
}
