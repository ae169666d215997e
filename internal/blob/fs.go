package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem stores snapshots as plain files under a root directory. Keys
// map to relative paths; writes are create-only so concurrent archivers
// cannot clobber each other.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem archive rooted at path, creating it if
// needed. An empty root defaults to ./archive.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./archive"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// sanitizeKey forbids absolute paths and traversal out of the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key")
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key traversal")
	}
	return clean, nil
}

func (f *Filesystem) path(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	path, err := f.path(key)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Info{}, err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
		}
		return Info{}, err
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(path)
		return Info{}, err
	}
	if err := file.Close(); err != nil {
		return Info{}, err
	}
	return f.stat(key, path)
}

func (f *Filesystem) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	path, err := f.path(key)
	if err != nil {
		return Info{}, nil, err
	}
	info, err := f.stat(key, path)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Info{}, nil, err
	}
	return info, file, nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) (bool, error) {
	path, err := f.path(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *Filesystem) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := f.stat(key, path)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (f *Filesystem) stat(key, path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	return Info{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}, nil
}
