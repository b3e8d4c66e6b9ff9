// Package objectstore gives the query engine uniform access to files on the
// local filesystem, Amazon S3, Google Cloud Storage and Azure Blob Storage.
//
// Paths are plain filesystem paths or URLs: s3://bucket/key, gs://bucket/key,
// az://container/key. Remote reads are buffered in memory and retried on
// transient failures; writes are uploaded when the writer is closed.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config holds the credentials and endpoints of the remote stores.
type Config struct {
	S3Region          string `mapstructure:"s3_region" yaml:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id" yaml:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key" yaml:"s3_secret_access_key"`
	// S3URLStyle is "path" (default) or "vhost".
	S3URLStyle string `mapstructure:"s3_url_style" yaml:"s3_url_style"`

	GCSCredentialsFile string `mapstructure:"gcs_credentials_file" yaml:"gcs_credentials_file"`

	AzureConnectionString string `mapstructure:"azure_connection_string" yaml:"azure_connection_string"`
	AzureAccountName      string `mapstructure:"azure_account_name" yaml:"azure_account_name"`
	AzureAccountKey       string `mapstructure:"azure_account_key" yaml:"azure_account_key"`
}

// File is an open, seekable object.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// Store is implemented by every backend.
type Store interface {
	// Open opens an object for reading.
	Open(ctx context.Context, path string) (File, error)
	// Create opens an object for writing. The object is complete once Close returns nil.
	Create(ctx context.Context, path string) (io.WriteCloser, error)
	// List returns all objects below prefix, recursively, sorted by path.
	List(ctx context.Context, prefix string) ([]string, error)
	// IsDir reports whether path names a directory or a non-empty prefix.
	IsDir(ctx context.Context, path string) (bool, error)
}

// Router dispatches paths to stores by URL scheme. Remote clients are created
// on first use.
type Router struct {
	cfg     Config
	retries int
	logger  *slog.Logger

	mu     sync.Mutex
	stores map[string]Store
}

// New creates a router. retries bounds the attempts for transient remote failures.
func New(cfg Config, retries int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		cfg:     cfg,
		retries: retries,
		logger:  logger,
		stores:  map[string]Store{"": NewLocal()},
	}
}

// Register installs a store for a scheme, replacing any existing one.
func (r *Router) Register(scheme string, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[scheme] = s
}

func (r *Router) store(ctx context.Context, p string) (Store, error) {
	scheme := Scheme(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[scheme]; ok {
		return s, nil
	}
	var (
		s   Store
		err error
	)
	switch scheme {
	case "s3", "s3a":
		s = NewS3(r.cfg, r.retries, r.logger)
	case "gs", "gcs":
		s, err = NewGCS(ctx, r.cfg, r.retries, r.logger)
	case "az", "azure", "abfs", "abfss":
		s, err = NewAzure(r.cfg, r.retries, r.logger)
	default:
		return nil, fmt.Errorf("unsupported object store scheme %q in %s", scheme, p)
	}
	if err != nil {
		return nil, err
	}
	r.stores[scheme] = s
	return s, nil
}

func (r *Router) Open(ctx context.Context, p string) (File, error) {
	s, err := r.store(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, p)
}

func (r *Router) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	s, err := r.store(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, p)
}

func (r *Router) List(ctx context.Context, prefix string) ([]string, error) {
	s, err := r.store(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, prefix)
}

func (r *Router) IsDir(ctx context.Context, p string) (bool, error) {
	s, err := r.store(ctx, p)
	if err != nil {
		return false, err
	}
	return s.IsDir(ctx, p)
}

// Close releases remote clients.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, s := range r.stores {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Scheme returns the URL scheme of p, or "" for local paths.
func Scheme(p string) string {
	idx := strings.Index(p, "://")
	if idx <= 0 {
		return ""
	}
	scheme := strings.ToLower(p[:idx])
	if scheme == "file" {
		return ""
	}
	return scheme
}

// IsRemote reports whether p is an object store URL.
func IsRemote(p string) bool {
	return Scheme(p) != ""
}

// Join appends path elements to a local path or URL.
func Join(base string, elem ...string) string {
	if !IsRemote(base) {
		return filepath.Join(append([]string{localPath(base)}, elem...)...)
	}
	return strings.TrimSuffix(base, "/") + "/" + path.Join(elem...)
}

// Rel returns target relative to base, using forward slashes.
func Rel(base string, target string) string {
	if !IsRemote(base) {
		rel, err := filepath.Rel(localPath(base), localPath(target))
		if err != nil {
			return target
		}
		return filepath.ToSlash(rel)
	}
	return strings.TrimPrefix(strings.TrimPrefix(target, strings.TrimSuffix(base, "/")), "/")
}

// HasGlob reports whether p contains glob metacharacters.
func HasGlob(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// Glob expands a pattern. Wildcards do not cross "/" boundaries.
func Glob(ctx context.Context, s Store, pattern string) ([]string, error) {
	meta := strings.IndexAny(pattern, "*?[")
	if meta < 0 {
		return []string{pattern}, nil
	}
	dir := pattern[:meta]
	if slash := strings.LastIndex(dir, "/"); slash >= 0 {
		dir = dir[:slash]
	} else {
		dir = "."
	}
	candidates, err := s.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range candidates {
		ok, err := path.Match(filepath.ToSlash(localPath(pattern)), filepath.ToSlash(c))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

func localPath(p string) string {
	return strings.TrimPrefix(p, "file://")
}

// splitBucketKey splits "scheme://bucket/key" into bucket and key.
func splitBucketKey(p string) (string, string, error) {
	idx := strings.Index(p, "://")
	if idx < 0 {
		return "", "", fmt.Errorf("not an object store URL: %s", p)
	}
	rest := p[idx+3:]
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %s", p)
	}
	return bucket, key, nil
}

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error {
	return nil
}

func newMemFile(data []byte) File {
	return memFile{Reader: bytes.NewReader(data)}
}

// uploadWriter buffers writes and uploads them on Close.
type uploadWriter struct {
	buf    bytes.Buffer
	upload func(data []byte) error
	closed bool
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed object writer")
	}
	return w.buf.Write(p)
}

func (w *uploadWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.upload(w.buf.Bytes())
}
