package collab

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hrygo/valet/internal/errkind"
)

// FileSecretStore resolves secrets from files under a base directory.
// Paths are relative; traversal outside the base is refused.
type FileSecretStore struct {
	base string
}

func NewFileSecretStore(base string) *FileSecretStore {
	return &FileSecretStore{base: base}
}

func (s *FileSecretStore) Get(_ context.Context, path string) ([]byte, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, errkind.Newf(errkind.Validation, "invalid secret path %q", path)
	}
	data, err := os.ReadFile(filepath.Join(s.base, clean))
	if os.IsNotExist(err) {
		return nil, errkind.Newf(errkind.NotFound, "secret %q not found", path)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamUnavailable, err, "secret read failed")
	}
	return []byte(strings.TrimSpace(string(data))), nil
}
