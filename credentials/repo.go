package credentials

import "context"

// SecretBackend is a confidential keyed store such as an OS keychain or an encrypted file vault.
type SecretBackend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// Store holds the single credential pair of the signed-in user.
type Store interface {
	Set(ctx context.Context, pair Pair) error
	Get(ctx context.Context) (Pair, bool, error)
	Clear(ctx context.Context)
}
