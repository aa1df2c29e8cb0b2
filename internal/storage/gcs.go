package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
)

// GCSStore keeps question prefixes as key prefixes inside one bucket:
// <base>/<prefix>/<name>. Object writes are atomic by GCS semantics
// (an object version becomes visible only on a successful writer close).
// Renames are copy-then-delete; a partial copy without delete is repaired
// by the next sync sweep.
type GCSStore struct {
	log    *logger.Logger
	client *gcs.Client
	bucket string
	base   string
}

func NewGCSStore(ctx context.Context, log *logger.Logger, bucket, base string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket required")
	}
	var opts []option.ClientOption
	if host := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); host != "" {
		opts = append(opts, option.WithoutAuthentication())
	} else if creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds), option.WithScopes(gcs.ScopeReadWrite))
	} else {
		opts = append(opts, option.WithScopes(gcs.ScopeReadWrite))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{
		log:    log.With("store", "GCSStore"),
		client: client,
		bucket: bucket,
		base:   strings.Trim(strings.TrimSpace(base), "/"),
	}, nil
}

func (s *GCSStore) Kind() string { return "cloud" }

func (s *GCSStore) Bucket() string { return s.bucket }

func (s *GCSStore) key(prefix, name string) string {
	parts := []string{}
	if s.base != "" {
		parts = append(parts, s.base)
	}
	parts = append(parts, prefix)
	if name != "" {
		parts = append(parts, name)
	}
	return strings.Join(parts, "/")
}

// markerObject keeps an otherwise-empty prefix visible in listings; GCS has
// no real directories.
const markerObject = ".keep"

func (s *GCSStore) EnsurePrefix(ctx context.Context, prefix string) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}
	exists, err := s.PrefixExists(ctx, prefix)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.WriteFile(ctx, prefix, markerObject, []byte{})
}

func (s *GCSStore) PrefixExists(ctx context.Context, prefix string) (bool, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return false, err
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: s.key(prefix, "") + "/"})
	_, err := it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe prefix %q: %w", prefix, err)
	}
	return true, nil
}

func (s *GCSStore) ListPrefixes(ctx context.Context) ([]string, error) {
	q := &gcs.Query{Delimiter: "/"}
	if s.base != "" {
		q.Prefix = s.base + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, q)
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefixes: %w", err)
		}
		if attrs.Prefix == "" {
			continue
		}
		p := strings.TrimSuffix(attrs.Prefix, "/")
		if q.Prefix != "" {
			p = strings.TrimPrefix(p, q.Prefix)
		}
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *GCSStore) RenamePrefix(ctx context.Context, oldPrefix, newPrefix string) error {
	if err := ValidatePrefix(oldPrefix); err != nil {
		return err
	}
	if err := ValidatePrefix(newPrefix); err != nil {
		return err
	}
	names, err := s.ListFiles(ctx, oldPrefix)
	if err != nil {
		return err
	}
	bkt := s.client.Bucket(s.bucket)
	for _, name := range names {
		src := bkt.Object(s.key(oldPrefix, name))
		dst := bkt.Object(s.key(newPrefix, name))
		if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
			return fmt.Errorf("copy %s -> %s: %w", oldPrefix, newPrefix, err)
		}
	}
	// Copies landed; delete the old objects.
	for _, name := range names {
		if err := bkt.Object(s.key(oldPrefix, name)).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("delete old object %s/%s: %w", oldPrefix, name, err)
		}
	}
	return nil
}

func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	names, err := s.ListFiles(ctx, prefix)
	if err != nil {
		return err
	}
	bkt := s.client.Bucket(s.bucket)
	for _, name := range names {
		if err := bkt.Object(s.key(prefix, name)).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("delete object %s/%s: %w", prefix, name, err)
		}
	}
	return nil
}

func (s *GCSStore) WriteFile(ctx context.Context, prefix, name string, data []byte) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}
	if name != markerObject {
		if err := ValidateName(name); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(s.key(prefix, name)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s/%s: %w", prefix, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %s/%s: %w", prefix, name, err)
	}
	return nil
}

func (s *GCSStore) ReadFile(ctx context.Context, prefix, name string) ([]byte, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(s.key(prefix, name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("read %s/%s: %w", prefix, name, ErrNotExist)
		}
		return nil, fmt.Errorf("open object %s/%s: %w", prefix, name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", prefix, name, err)
	}
	return data, nil
}

func (s *GCSStore) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	root := s.key(prefix, "") + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: root})
	names := []string{}
	seen := false
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		seen = true
		name := strings.TrimPrefix(attrs.Name, root)
		if name == "" || name == markerObject {
			continue
		}
		names = append(names, name)
	}
	if !seen {
		return nil, fmt.Errorf("list %q: %w", prefix, ErrNotExist)
	}
	sort.Strings(names)
	return names, nil
}

func (s *GCSStore) DeleteFile(ctx context.Context, prefix, name string) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	err := s.client.Bucket(s.bucket).Object(s.key(prefix, name)).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete %s/%s: %w", prefix, name, ErrNotExist)
	}
	return err
}

func (s *GCSStore) StatFile(ctx context.Context, prefix, name string) (*ObjectAttrs, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	attrs, err := s.client.Bucket(s.bucket).Object(s.key(prefix, name)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("stat %s/%s: %w", prefix, name, ErrNotExist)
		}
		return nil, fmt.Errorf("stat object %s/%s: %w", prefix, name, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		MD5:         hex.EncodeToString(attrs.MD5),
	}, nil
}
