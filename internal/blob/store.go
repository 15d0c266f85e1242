// Package blob stores uploaded client files addressed by generated names.
package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/diewo77/go-clients/internal/sentinel"
)

// Store is the blob boundary used by document ingestion and downloads.
// Paths returned by Move are the public paths persisted on records.
type Store interface {
	Move(src io.Reader, name string) (string, error)
	Delete(storedPath string) error
	Exists(storedPath string) bool
	Open(storedPath string) (io.ReadCloser, error)
}

// LocalStore keeps files flat in one directory on the local filesystem.
type LocalStore struct {
	dir    string
	prefix string
}

// NewLocalStore creates dir if needed. Stored paths are publicPrefix + "/" + name.
func NewLocalStore(dir, publicPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload dir: %v", sentinel.ErrStorage, err)
	}
	return &LocalStore{dir: dir, prefix: strings.TrimRight(publicPrefix, "/")}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

// Move copies src into the store under name. The file is written to a
// temporary name first so a partial write is never visible under name.
func (s *LocalStore) Move(src io.Reader, name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: invalid blob name %q", sentinel.ErrStorage, name)
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", sentinel.ErrStorage, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: write %s: %v", sentinel.ErrStorage, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: close %s: %v", sentinel.ErrStorage, name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: move %s: %v", sentinel.ErrStorage, name, err)
	}
	return s.prefix + "/" + name, nil
}

// Delete removes the file behind storedPath. A missing file wraps
// sentinel.ErrNotFound so callers can tolerate it.
func (s *LocalStore) Delete(storedPath string) error {
	full, err := s.resolve(storedPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob %s: %w", storedPath, sentinel.ErrNotFound)
		}
		return fmt.Errorf("%w: delete %s: %v", sentinel.ErrStorage, storedPath, err)
	}
	return nil
}

func (s *LocalStore) Exists(storedPath string) bool {
	full, err := s.resolve(storedPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

func (s *LocalStore) Open(storedPath string) (io.ReadCloser, error) {
	full, err := s.resolve(storedPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", sentinel.ErrStorage, storedPath, err)
	}
	return f, nil
}

// resolve maps a stored path back to a file inside dir. Only paths under the
// public prefix with a plain base name are accepted.
func (s *LocalStore) resolve(storedPath string) (string, error) {
	dir, name := path.Split(storedPath)
	if strings.TrimRight(dir, "/") != s.prefix || !validName(name) {
		return "", fmt.Errorf("%w: path %q outside store", sentinel.ErrStorage, storedPath)
	}
	return filepath.Join(s.dir, name), nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}
