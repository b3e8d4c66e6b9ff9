package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores objects in Google Cloud Storage.
type GCS struct {
	client  *storage.Client
	retries int
	logger  *slog.Logger
}

// NewGCS creates a GCS store from a service account key file, or from
// application default credentials when no file is configured.
func NewGCS(ctx context.Context, cfg Config, retries int, logger *slog.Logger) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCS{client: client, retries: retries, logger: logger}, nil
}

func (g *GCS) Open(ctx context.Context, p string) (File, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = withRetry(ctx, g.retries, g.logger, "get", p, func(ctx context.Context) error {
		r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
		if err != nil {
			return mapGCSError(p, err)
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newMemFile(data), nil
}

func (g *GCS) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	return &uploadWriter{upload: func(data []byte) error {
		return withRetry(ctx, g.retries, g.logger, "put", p, func(ctx context.Context) error {
			w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/octet-stream"
			if _, err := w.Write(data); err != nil {
				_ = w.Close()
				return mapGCSError(p, err)
			}
			return mapGCSError(p, w.Close())
		})
	}}, nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := splitBucketKey(prefix)
	if err != nil {
		return nil, err
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	var out []string
	err = withRetry(ctx, g.retries, g.logger, "list", prefix, func(ctx context.Context) error {
		out = out[:0]
		it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: key})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return mapGCSError(prefix, err)
			}
			if strings.HasSuffix(attrs.Name, "/") {
				continue
			}
			out = append(out, fmt.Sprintf("%s://%s/%s", Scheme(prefix), bucket, attrs.Name))
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (g *GCS) IsDir(ctx context.Context, p string) (bool, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return false, err
	}
	if key == "" {
		return true, nil
	}
	found := false
	err = withRetry(ctx, g.retries, g.logger, "list", p, func(ctx context.Context) error {
		it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: strings.TrimSuffix(key, "/") + "/"})
		_, err := it.Next()
		switch {
		case errors.Is(err, iterator.Done):
			found = false
			return nil
		case err != nil:
			return mapGCSError(p, err)
		}
		found = true
		return nil
	})
	return found, err
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func mapGCSError(p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return notExist(p, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return notExist(p, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return permission(p, err)
		}
	}
	return err
}
