package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
)

// LocalStore keeps question prefixes as directories under a base path.
// Writes go to a temp file in the destination directory and are renamed
// into place, so readers never see partial content.
type LocalStore struct {
	log  *logger.Logger
	base string
}

func NewLocalStore(log *logger.Logger, basePath string) (*LocalStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("basePath required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &LocalStore{log: log.With("store", "LocalStore"), base: abs}, nil
}

func (s *LocalStore) Kind() string { return "local" }

func (s *LocalStore) BasePath() string { return s.base }

func (s *LocalStore) prefixDir(prefix string) (string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return "", err
	}
	return filepath.Join(s.base, prefix), nil
}

func (s *LocalStore) filePath(prefix, name string) (string, error) {
	dir, err := s.prefixDir(prefix)
	if err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}

func (s *LocalStore) EnsurePrefix(_ context.Context, prefix string) error {
	dir, err := s.prefixDir(prefix)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *LocalStore) PrefixExists(_ context.Context, prefix string) (bool, error) {
	dir, err := s.prefixDir(prefix)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *LocalStore) ListPrefixes(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, fmt.Errorf("list base path: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *LocalStore) RenamePrefix(_ context.Context, oldPrefix, newPrefix string) error {
	oldDir, err := s.prefixDir(oldPrefix)
	if err != nil {
		return err
	}
	newDir, err := s.prefixDir(newPrefix)
	if err != nil {
		return err
	}
	if _, err := os.Stat(oldDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("rename %q: %w", oldPrefix, ErrNotExist)
		}
		return err
	}
	if _, err := os.Stat(newDir); err == nil {
		return fmt.Errorf("rename target %q already exists", newPrefix)
	}
	return os.Rename(oldDir, newDir)
}

func (s *LocalStore) DeletePrefix(_ context.Context, prefix string) error {
	dir, err := s.prefixDir(prefix)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("delete %q: %w", prefix, ErrNotExist)
	}
	return os.RemoveAll(dir)
}

func (s *LocalStore) WriteFile(_ context.Context, prefix, name string, data []byte) error {
	path, err := s.filePath(prefix, name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (s *LocalStore) ReadFile(_ context.Context, prefix, name string) ([]byte, error) {
	path, err := s.filePath(prefix, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s/%s: %w", prefix, name, ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalStore) ListFiles(_ context.Context, prefix string) ([]string, error) {
	dir, err := s.prefixDir(prefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("list %q: %w", prefix, ErrNotExist)
	}
	var names []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *LocalStore) DeleteFile(_ context.Context, prefix, name string) error {
	path, err := s.filePath(prefix, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete %s/%s: %w", prefix, name, ErrNotExist)
		}
		return err
	}
	return nil
}

func (s *LocalStore) StatFile(_ context.Context, prefix, name string) (*ObjectAttrs, error) {
	path, err := s.filePath(prefix, name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s/%s: %w", prefix, name, ErrNotExist)
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	ct := ""
	if mt := mimetype.Detect(data); mt != nil {
		ct = mt.String()
	}
	return &ObjectAttrs{
		Size:        info.Size(),
		ContentType: ct,
		Updated:     info.ModTime(),
		MD5:         hex.EncodeToString(sum[:]),
	}, nil
}
