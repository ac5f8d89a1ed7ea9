package prefs

import "context"

// Keys of the non-confidential preference store.
const (
	SessionSnapshotKey = "user_data"
	BannerDismissedKey = "premium_banner_dismissed"
	PushTokenKey       = "push_token"
	InstallIDKey       = "install_id"
)

// Store is a small key-value store for values that are safe to keep unencrypted.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
