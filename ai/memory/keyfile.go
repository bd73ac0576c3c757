package memory

import (
	"crypto/rand"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// LoadOrCreateKey reads the memory encryption key from path. When the
// file is missing and freshInstall is true a new key is generated with
// owner-only permissions; when freshInstall is false a missing key is an
// error, so a wiped volume cannot silently produce undecryptable rows.
func LoadOrCreateKey(path string, freshInstall bool) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, errors.Errorf("key file %s has wrong size: %d", path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read key file %s", path)
	}
	if !freshInstall {
		return nil, errors.Errorf("key file %s missing; refusing to generate one over existing data", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create key directory")
	}
	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, errors.Wrapf(err, "failed to write key file %s", path)
	}
	return key, nil
}
