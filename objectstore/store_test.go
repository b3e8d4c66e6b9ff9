package objectstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, p string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestScheme(t *testing.T) {
	require.Equal(t, "", Scheme("/tmp/a.parquet"))
	require.Equal(t, "", Scheme("file:///tmp/a.parquet"))
	require.Equal(t, "s3", Scheme("s3://bucket/key"))
	require.Equal(t, "gs", Scheme("GS://bucket/key"))
	require.True(t, IsRemote("az://container/blob"))
	require.False(t, IsRemote("relative/path"))
}

func TestJoinAndRel(t *testing.T) {
	require.Equal(t, "s3://bucket/dir/a=1/part.parquet", Join("s3://bucket/dir/", "a=1", "part.parquet"))
	require.Equal(t, filepath.Join("out", "a=1", "part.parquet"), Join("out", "a=1", "part.parquet"))
	require.Equal(t, "a=1/part.parquet", Rel("s3://bucket/dir", "s3://bucket/dir/a=1/part.parquet"))
	require.Equal(t, "a=1/part.parquet", Rel("out", filepath.Join("out", "a=1", "part.parquet")))
}

func TestSplitBucketKey(t *testing.T) {
	bucket, key, err := splitBucketKey("s3://bucket/a/b.parquet")
	require.NoError(t, err)
	require.Equal(t, "bucket", bucket)
	require.Equal(t, "a/b.parquet", key)

	_, _, err = splitBucketKey("s3:///a")
	require.Error(t, err)
	_, _, err = splitBucketKey("/local")
	require.Error(t, err)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := NewLocal()

	w, err := local.Create(ctx, filepath.Join(dir, "nested", "x.txt"))
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	files, err := local.List(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "nested", "x.txt")}, files)

	f, err := local.Open(ctx, filepath.Join(dir, "nested", "x.txt"))
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	isDir, err := local.IsDir(ctx, filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.True(t, isDir)

	_, err = local.Open(ctx, filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestGlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.parquet"), "")
	writeFile(t, filepath.Join(dir, "b.parquet"), "")
	writeFile(t, filepath.Join(dir, "c.csv"), "")
	writeFile(t, filepath.Join(dir, "sub", "d.parquet"), "")

	matches, err := Glob(ctx, NewLocal(), filepath.ToSlash(dir)+"/*.parquet")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches, err = Glob(ctx, NewLocal(), filepath.ToSlash(dir)+"/*/*.parquet")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.True(t, HasGlob("x/*.parquet"))
	require.False(t, HasGlob("x/y.parquet"))
}

func TestRouterUnknownScheme(t *testing.T) {
	r := New(Config{}, 0, nil)
	_, err := r.Open(context.Background(), "ftp://host/file")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported object store scheme")
}

func TestRouterRegister(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "k.txt"), "v")

	r := New(Config{}, 0, nil)
	r.Register("mem", prefixStore{root: dir})
	f, err := r.Open(context.Background(), "mem://k.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "v", string(data))
	require.NoError(t, f.Close())
	require.NoError(t, r.Close())
}

type prefixStore struct {
	root string
}

func (s prefixStore) rewrite(p string) string {
	return filepath.Join(s.root, p[len("mem://"):])
}

func (s prefixStore) Open(ctx context.Context, p string) (File, error) {
	return NewLocal().Open(ctx, s.rewrite(p))
}

func (s prefixStore) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	return NewLocal().Create(ctx, s.rewrite(p))
}

func (s prefixStore) List(ctx context.Context, p string) ([]string, error) {
	return NewLocal().List(ctx, s.rewrite(p))
}

func (s prefixStore) IsDir(ctx context.Context, p string) (bool, error) {
	return NewLocal().IsDir(ctx, s.rewrite(p))
}

func TestWithRetry(t *testing.T) {
	retryBase = time.Millisecond
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	t.Run("transient errors are retried", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 3, logger, "get", "x", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 2, logger, "get", "x", func(context.Context) error {
			calls++
			return errors.New("timeout")
		})
		require.EqualError(t, err, "timeout")
		require.Equal(t, 3, calls)
	})

	t.Run("not found is not retried", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 5, logger, "get", "x", func(context.Context) error {
			calls++
			return notExist("x", errors.New("NoSuchKey"))
		})
		require.ErrorIs(t, err, fs.ErrNotExist)
		require.Equal(t, 1, calls)
	})

	t.Run("permission is not retried", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 5, logger, "get", "x", func(context.Context) error {
			calls++
			return permission("x", errors.New("AccessDenied"))
		})
		require.ErrorIs(t, err, fs.ErrPermission)
		require.Equal(t, 1, calls)
	})
}

func TestUploadWriter(t *testing.T) {
	var uploaded []byte
	w := &uploadWriter{upload: func(data []byte) error {
		uploaded = append([]byte(nil), data...)
		return nil
	}}
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	require.Nil(t, uploaded)
	require.NoError(t, w.Close())
	require.Equal(t, "abc", string(uploaded))
	require.NoError(t, w.Close())
	_, err = w.Write([]byte("x"))
	require.Error(t, err)
}
