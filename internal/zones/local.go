package zones

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"learner-analytics-pipeline/internal/model"
)

// LocalStore persists zone objects on disk, one directory per zone. It backs
// tests and standalone runs without a MinIO endpoint.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir, creating it if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "learner-zones")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create zone root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the base directory of the store.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) objectPath(zone Zone, path string) string {
	return filepath.Join(s.root, string(zone), filepath.FromSlash(path))
}

// Put writes the object atomically: to a temp file in the target directory,
// then renamed into place so readers never observe a partial object.
func (s *LocalStore) Put(ctx context.Context, zone Zone, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !zone.IsValid() {
		return fmt.Errorf("put: unknown zone %q", zone)
	}
	full := s.objectPath(zone, path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("put %s/%s: %w", zone, path, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", zone, path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("put %s/%s: %w", zone, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("put %s/%s: %w", zone, path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("put %s/%s: %w", zone, path, err)
	}
	return nil
}

// Get reads an object, wrapping model.ErrNotFound on a miss.
func (s *LocalStore) Get(ctx context.Context, zone Zone, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.objectPath(zone, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get %s/%s: %w", zone, path, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", zone, path, err)
	}
	return data, nil
}

// List returns sorted object paths under prefix. A missing prefix yields an
// empty listing, not an error: the raw zone contract is append-only with no
// fixed file count.
func (s *LocalStore) List(ctx context.Context, zone Zone, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zoneRoot := filepath.Join(s.root, string(zone))
	var paths []string
	err := filepath.WalkDir(zoneRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, relErr := filepath.Rel(zoneRoot, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", zone, prefix, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Exists reports whether the object is present.
func (s *LocalStore) Exists(ctx context.Context, zone Zone, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.objectPath(zone, path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("exists %s/%s: %w", zone, path, err)
	}
	return !info.IsDir(), nil
}
