package prefsfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/membership-session/prefs"
)

var _ prefs.Store = (*FakePrefsRepo)(nil)

type FakePrefsRepo struct {
	values map[string][]byte
	saves  int
	lock   sync.RWMutex
}

func NewFakePrefsRepo() *FakePrefsRepo {
	return &FakePrefsRepo{values: make(map[string][]byte)}
}

func (r *FakePrefsRepo) Load(_ context.Context, key string) ([]byte, bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (r *FakePrefsRepo) Save(_ context.Context, key string, value []byte) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.values[key] = append([]byte(nil), value...)
	r.saves++
	return nil
}

func (r *FakePrefsRepo) Delete(_ context.Context, key string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.values, key)
	return nil
}

func (r *FakePrefsRepo) Saves() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.saves
}
