package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/wildlife-reid/internal/errors"
)

const localTempPattern = ".blob-*.tmp"

// WriteFileAtomic writes targetPath through a temporary file in the same directory,
// so readers observe either the previous content or the complete new content.
func WriteFileAtomic(targetPath string, perm os.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, PermDir); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, localTempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := write(tempFile); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	success = true
	return nil
}

// LocalStore keeps blobs as files under a root directory
type LocalStore struct {
	root string
}

// NewLocal creates the root directory if needed
func NewLocal(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.Newf("local blob store path is required").
			Component("blobstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, storageError(err, "local", "init", root)
	}
	if err := os.MkdirAll(abs, PermDir); err != nil {
		return nil, storageError(err, "local", "init", root)
	}
	return &LocalStore{root: abs}, nil
}

// Name returns the backend name
func (s *LocalStore) Name() string {
	return "local"
}

// Root returns the absolute root directory
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) path(key string) (string, string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// List walks the directory holding prefix and returns matching keys
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(filepath.ToSlash(prefix), "/")

	// walk the deepest directory fully contained in the prefix
	walkRoot := s.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		walkRoot = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	var keys []string
	err := filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".blob-") && strings.HasSuffix(name, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err, s.Name(), "list", prefix)
	}

	slices.Sort(keys)
	return keys, nil
}

// Upload copies a local file into the store
func (s *LocalStore) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath) //nolint:gosec // caller supplied source path
	if err != nil {
		return storageError(err, s.Name(), "upload", key)
	}
	defer func() { _ = f.Close() }()
	return s.Put(ctx, key, f)
}

// Put writes r to key atomically
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, target, err := s.path(key)
	if err != nil {
		return err
	}
	err = WriteFileAtomic(target, PermFile, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
	return storageError(err, s.Name(), "put", cleaned)
}

// Download reads key
func (s *LocalStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target) //nolint:gosec // path is confined to the store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFoundError(s.Name(), cleaned)
		}
		return nil, storageError(err, s.Name(), "download", cleaned)
	}
	return data, nil
}

// Delete removes key and prunes empty parent directories up to the root
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageError(err, s.Name(), "delete", cleaned)
	}

	for dir := filepath.Dir(target); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}
