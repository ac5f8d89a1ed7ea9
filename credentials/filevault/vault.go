package filevault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jrsteele09/membership-session/credentials"
	apperrors "github.com/jrsteele09/membership-session/internal/errors"
)

const (
	saltFile   = ".salt"
	saltSize   = 16
	fileSuffix = ".sealed"

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var _ credentials.SecretBackend = (*Vault)(nil)

// Vault keeps each slot in its own file, sealed with XChaCha20-Poly1305 under a key
// derived from a passphrase with Argon2id. The slot name is bound as additional data
// so a file renamed to another slot fails to open.
type Vault struct {
	dir  string
	aead cipher.AEAD
	lock sync.Mutex
}

func Open(dir, passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("[filevault.Open] passphrase is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "[filevault.Open] create directory")
	}

	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "[filevault.Open] new aead")
	}
	return &Vault{dir: dir, aead: aead}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, errors.Errorf("[filevault.Open] salt file has %d bytes", len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "[filevault.Open] read salt")
	}

	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "[filevault.Open] generate salt")
	}
	if err := writeAtomic(path, salt); err != nil {
		return nil, errors.Wrap(err, "[filevault.Open] write salt")
	}
	return salt, nil
}

func (v *Vault) Put(_ context.Context, key string, value []byte) error {
	path, err := v.path(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return errors.Wrap(err, "[Vault.Put] read nonce")
	}
	sealed := v.aead.Seal(nonce, nonce, value, []byte(key))
	encoded := base64.RawStdEncoding.EncodeToString(sealed)

	v.lock.Lock()
	defer v.lock.Unlock()
	if err := writeAtomic(path, []byte(encoded)); err != nil {
		return errors.Wrapf(err, "[Vault.Put] write %s", key)
	}
	return nil
}

func (v *Vault) Get(_ context.Context, key string) ([]byte, bool, error) {
	path, err := v.path(key)
	if err != nil {
		return nil, false, err
	}

	v.lock.Lock()
	encoded, err := os.ReadFile(path)
	v.lock.Unlock()
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "[Vault.Get] read %s", key)
	}

	payload, err := base64.RawStdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, false, errors.Wrapf(apperrors.ErrSecretCorrupted, "[Vault.Get] decode %s", key)
	}
	nonceSize := v.aead.NonceSize()
	if len(payload) < nonceSize {
		return nil, false, errors.Wrapf(apperrors.ErrSecretCorrupted, "[Vault.Get] %s too short", key)
	}
	plain, err := v.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], []byte(key))
	if err != nil {
		return nil, false, errors.Wrapf(apperrors.ErrSecretCorrupted, "[Vault.Get] open %s", key)
	}
	return plain, true, nil
}

func (v *Vault) Delete(_ context.Context, key string) error {
	path, err := v.path(key)
	if err != nil {
		return err
	}

	v.lock.Lock()
	defer v.lock.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "[Vault.Delete] remove %s", key)
	}
	return nil
}

func (v *Vault) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", errors.Wrapf(apperrors.ErrInvalidKey, "[Vault] %q", key)
	}
	return filepath.Join(v.dir, key+fileSuffix), nil
}

// writeAtomic replaces path through a synced temp file so readers never see a partial write.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
