package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotExist is returned when a prefix or file is absent. Callers translate
// it into a not_found at the service boundary.
var ErrNotExist = errors.New("storage: does not exist")

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	MD5         string
}

// Store abstracts the per-question artifact storage: a directory tree under
// a base path (local backend) or a key prefix inside a bucket (cloud
// backend). Implementations must be safe for concurrent use on disjoint
// prefixes, and WriteFile must be atomic — a reader never observes a
// half-written file.
type Store interface {
	Kind() string

	EnsurePrefix(ctx context.Context, prefix string) error
	PrefixExists(ctx context.Context, prefix string) (bool, error)
	ListPrefixes(ctx context.Context) ([]string, error)
	RenamePrefix(ctx context.Context, oldPrefix, newPrefix string) error
	DeletePrefix(ctx context.Context, prefix string) error

	WriteFile(ctx context.Context, prefix, name string, data []byte) error
	ReadFile(ctx context.Context, prefix, name string) ([]byte, error)
	ListFiles(ctx context.Context, prefix string) ([]string, error)
	DeleteFile(ctx context.Context, prefix, name string) error
	StatFile(ctx context.Context, prefix, name string) (*ObjectAttrs, error)
}

// ValidateName rejects path components that could escape a prefix. Nested
// names like clientFiles/figure.png are allowed.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty file name")
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("file name %q must be relative", name)
	}
	for _, part := range strings.Split(name, "/") {
		switch part {
		case "", ".", "..":
			return fmt.Errorf("file name %q contains an invalid path component", name)
		}
	}
	return nil
}

// ValidatePrefix rejects empty or nested prefixes: a question prefix is a
// single top-level component under the base.
func ValidatePrefix(prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("empty prefix")
	}
	if strings.ContainsAny(prefix, "/\\") {
		return fmt.Errorf("prefix %q must be a single path component", prefix)
	}
	if prefix == "." || prefix == ".." {
		return fmt.Errorf("prefix %q is invalid", prefix)
	}
	return nil
}
